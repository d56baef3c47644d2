//go:build linux

package arena

import "golang.org/x/sys/unix"

func adviseWillNeed(b []byte) {
	if len(b) == 0 {
		return
	}
	_ = unix.Madvise(b, unix.MADV_WILLNEED)
}

func adviseDontNeed(b []byte) {
	if len(b) == 0 {
		return
	}
	_ = unix.Madvise(b, unix.MADV_DONTNEED)
}
