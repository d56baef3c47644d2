package arena

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// SegmentDump is the JSON-serializable diagnostic record for one segment,
// used by Dump to produce a support bundle without requiring a reader to
// understand the packed on-disk layout.
type SegmentDump struct {
	ID         uint32  `json:"id"`
	Tier       string  `json:"tier"`
	Cursor     uint32  `json:"cursor"`
	Sealed     bool    `json:"sealed"`
	LiveBytes  uint64  `json:"live_bytes"`
	DeadRatio  float64 `json:"dead_ratio"`
	InnerCount uint64  `json:"inner_count"`
	ValueCount uint64  `json:"value_count"`
}

// Dump writes a zstd-compressed JSON snapshot of every segment's header
// to w. It takes no locks on object payloads and is safe to run
// concurrently with normal operation; the numbers it reports are a
// best-effort point-in-time view, not a consistent snapshot.
func (a *Allocator) Dump(w io.Writer) error {
	a.mu.Lock()
	dumps := make([]SegmentDump, 0, len(a.segments))
	for _, s := range a.segments {
		dumps = append(dumps, SegmentDump{
			ID:         s.hdr.ID,
			Tier:       s.tier.String(),
			Cursor:     s.hdr.Cursor,
			Sealed:     s.hdr.Sealed,
			LiveBytes:  s.hdr.LiveBytes,
			DeadRatio:  s.deadRatio(),
			InnerCount: s.hdr.InnerCount,
			ValueCount: s.hdr.ValueCount,
		})
	}
	a.mu.Unlock()

	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("arena: new zstd writer: %w", err)
	}
	defer zw.Close()

	enc := json.NewEncoder(zw)
	if err := enc.Encode(dumps); err != nil {
		return fmt.Errorf("arena: encode dump: %w", err)
	}
	return nil
}

// LoadDump decodes a snapshot produced by Dump, for tooling that inspects
// a store offline.
func LoadDump(r io.Reader) ([]SegmentDump, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("arena: new zstd reader: %w", err)
	}
	defer zr.Close()

	var dumps []SegmentDump
	if err := json.NewDecoder(zr).Decode(&dumps); err != nil {
		return nil, fmt.Errorf("arena: decode dump: %w", err)
	}
	return dumps, nil
}
