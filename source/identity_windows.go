//go:build windows

package source

import (
	"os"

	"golang.org/x/sys/windows"
)

// fileIdentity returns the NTFS file index of an open file, or 0 if it
// cannot be determined.
func fileIdentity(f *os.File) uint64 {
	var info windows.ByHandleFileInformation
	if err := windows.GetFileInformationByHandle(windows.Handle(f.Fd()), &info); err != nil {
		return 0
	}
	return uint64(info.FileIndexHigh)<<32 | uint64(info.FileIndexLow)
}
