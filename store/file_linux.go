//go:build linux

package store

import (
	"os"

	"golang.org/x/sys/unix"
)

// applyReadAheadHint tells the kernel that the output file will be accessed
// non-sequentially: block writes land at scattered offsets determined by
// scheduling order, not file order.
func applyReadAheadHint(f *os.File) {
	_ = unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_RANDOM)
}
