//go:build !linux

package arena

// adviseWillNeed and adviseDontNeed are no-ops outside Linux: madvise
// hints are a performance tuning detail, not a correctness requirement.
func adviseWillNeed(b []byte) {}

func adviseDontNeed(b []byte) {}
