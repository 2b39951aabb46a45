//go:build unix

package fs

import (
	"fmt"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// IsMountPoint reports whether path is a filesystem root or sits on a
// different device than its parent.
func IsMountPoint(path string) (bool, error) {
	path = filepath.Clean(path)
	parent := filepath.Dir(path)
	if parent == path {
		return true, nil
	}

	var self, up unix.Stat_t
	if err := unix.Lstat(path, &self); err != nil {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	if err := unix.Lstat(parent, &up); err != nil {
		return false, fmt.Errorf("stat %s: %w", parent, err)
	}
	if self.Dev != up.Dev {
		return true, nil
	}
	return self.Ino == up.Ino, nil
}
