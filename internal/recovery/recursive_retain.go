package recovery

import (
	"github.com/raditree/raditree/internal/arena"
	"github.com/raditree/raditree/internal/radix"
	"github.com/raditree/raditree/log"
)

var recoveryLog = log.Component("recovery")

// Report summarizes the outcome of a Run.
type Report struct {
	Visited   int // distinct reachable objects found
	Retained  int // reachable index entries, each reset to its walked edge count and kept
	Reclaimed int // index entries that turned out unreachable and were freed
}

// Run rebuilds every object's refcount from scratch by walking root: it
// counts actual live edges in memory rather than mutating the packed
// index in two passes, since the on-disk refcount field is only 16 bits
// wide and would saturate partway through a naive "add a large sentinel,
// then subtract it back" pass on any heavily shared subtree. Anything the
// walk never reaches is freed.
func Run(a *arena.Allocator, e *radix.Engine, root arena.ObjectID) (Report, error) {
	counts := make(map[arena.ObjectID]uint32)
	if err := walk(e, root, counts); err != nil {
		return Report{}, err
	}

	var report Report
	report.Visited = len(counts)
	a.Index().ForEachLive(func(id arena.ObjectID, _ arena.Location) {
		if want, ok := counts[id]; ok {
			a.Index().SetRefcount(id, want)
			report.Retained++
			return
		}
		a.ReclaimOrphan(id)
		report.Reclaimed++
	})

	recoveryLog.Info().Int("visited", report.Visited).Int("retained", report.Retained).Int("reclaimed", report.Reclaimed).Msg("recovery pass complete")
	if m := a.Metrics(); m != nil {
		m.RecoveryRuns.Inc()
		m.RecoveryVisited.Set(float64(report.Visited))
		m.RecoveryReclaimed.Set(float64(report.Reclaimed))
	}
	return report, nil
}

// walk counts every edge reachable from id, descending into a node's own
// children only the first time that id is discovered — a shared subtree
// referenced by many parents is still visited once, matching the cost of
// a mark-and-count GC rather than a naive recursive retain that would
// revisit it once per incoming edge.
func walk(e *radix.Engine, id arena.ObjectID, counts map[arena.ObjectID]uint32) error {
	if id.Null() {
		return nil
	}
	counts[id]++
	if counts[id] > 1 {
		return nil
	}
	children, err := e.Edges(id)
	if err != nil {
		return err
	}
	for _, c := range children {
		if err := walk(e, c, counts); err != nil {
			return err
		}
	}
	return nil
}
