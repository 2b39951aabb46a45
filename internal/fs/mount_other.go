//go:build !unix

package fs

import "path/filepath"

// IsMountPoint only recognises volume roots on platforms without device ids.
func IsMountPoint(path string) (bool, error) {
	path = filepath.Clean(path)
	return filepath.Dir(path) == path, nil
}
