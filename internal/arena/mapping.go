package arena

import (
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"

	"github.com/raditree/raditree/log"
)

var mappingLog = log.Component("arena.mapping")

// Mode selects whether a Mapping is writable.
type Mode int

const (
	ReadOnly Mode = iota
	ReadWrite
)

// Mapping owns a file-backed virtual address region. It is the only
// component in the arena that talks to the operating system's mmap
// facility; everything above it addresses storage through byte-slice
// views this type hands out.
type Mapping struct {
	file *os.File
	mm   mmap.MMap
	mode Mode
	path string
}

// OpenMapping mmaps path, growing the underlying file to size bytes first
// if it is shorter (read-write mode only).
func OpenMapping(path string, size int64, mode Mode) (*Mapping, error) {
	flag := os.O_RDWR
	if mode == ReadOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("arena: open %s: %w", path, err)
	}

	if mode == ReadWrite {
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("arena: stat %s: %w", path, err)
		}
		if info.Size() < size {
			if err := f.Truncate(size); err != nil {
				f.Close()
				return nil, fmt.Errorf("arena: truncate %s: %w", path, err)
			}
		}
	}

	mmapMode := mmap.RDONLY
	if mode == ReadWrite {
		mmapMode = mmap.RDWR
	}
	mm, err := mmap.MapRegion(f, int(size), mmapMode, 0, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("arena: mmap %s: %w", path, err)
	}

	m := &Mapping{file: f, mm: mm, mode: mode, path: path}
	mappingLog.Debug().Str("path", path).Int64("size", size).Str("mode", modeName(mode)).Msg("mapped store file")
	return m, nil
}

func modeName(m Mode) string {
	if m == ReadWrite {
		return "rw"
	}
	return "ro"
}

// Bytes returns the full mapped region. Callers must not retain slices of
// it past a Resize, which may invalidate the backing address.
func (m *Mapping) Bytes() []byte { return m.mm }

// Slice returns the mapped bytes in [off, off+n).
func (m *Mapping) Slice(off, n int64) []byte {
	return m.mm[off : off+n]
}

// AdviseHot hints to the kernel that [off, off+n) will be accessed
// frequently. The allocator does not call it: promote only changes the
// tier recorded in the object's index entry. See mapping_linux.go /
// mapping_other.go for the platform-specific madvise call.
func (m *Mapping) AdviseHot(off, n int64) {
	if m.mode != ReadWrite {
		return
	}
	adviseWillNeed(m.mm[off : off+n])
}

// AdviseCold hints to the kernel that [off, off+n) is unlikely to be
// accessed soon. Compaction does not call it when it moves objects to a
// colder tier.
func (m *Mapping) AdviseCold(off, n int64) {
	adviseDontNeed(m.mm[off : off+n])
}

// Flush synchronously writes dirty pages back to the file. The allocator
// calls this from SetTopRoot, after writing the new top-root cell, and
// from Close.
func (m *Mapping) Flush() error {
	if m.mode != ReadWrite {
		return nil
	}
	if err := m.mm.Flush(); err != nil {
		return fmt.Errorf("arena: flush %s: %w", m.path, err)
	}
	return nil
}

// Resize grows the mapping to newSize, remapping the file. Existing
// pinned slices obtained via Slice become invalid; callers must hold no
// pins across a Resize. The allocator only calls this between node
// visits, never while a caller holds a borrowed slice.
func (m *Mapping) Resize(newSize int64) error {
	if m.mode != ReadWrite {
		return fmt.Errorf("arena: cannot resize read-only mapping %s", m.path)
	}
	if err := m.mm.Unmap(); err != nil {
		return fmt.Errorf("arena: unmap %s: %w", m.path, err)
	}
	if err := m.file.Truncate(newSize); err != nil {
		return fmt.Errorf("arena: truncate %s: %w", m.path, err)
	}
	mm, err := mmap.MapRegion(m.file, int(newSize), mmap.RDWR, 0, 0)
	if err != nil {
		return fmt.Errorf("arena: remap %s: %w", m.path, err)
	}
	m.mm = mm
	mappingLog.Info().Str("path", m.path).Int64("new_size", newSize).Msg("resized store mapping")
	return nil
}

// Close unmaps and closes the underlying file.
func (m *Mapping) Close() error {
	if err := m.mm.Unmap(); err != nil {
		return err
	}
	return m.file.Close()
}
