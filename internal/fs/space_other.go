//go:build !linux && !darwin

package fs

import "errors"

// ErrFreeSpaceUnknown is returned where the platform offers no statfs.
var ErrFreeSpaceUnknown = errors.New("free space unknown on this platform")

func FreeSpace(path string) (uint64, error) {
	return 0, ErrFreeSpaceUnknown
}
