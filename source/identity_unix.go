//go:build linux || darwin || solaris || netbsd || openbsd || freebsd

package source

import (
	"os"

	"golang.org/x/sys/unix"
)

// fileIdentity returns the inode of an open file, or 0 if it cannot be
// determined.
func fileIdentity(f *os.File) uint64 {
	var st unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &st); err != nil {
		return 0
	}
	return uint64(st.Ino)
}
