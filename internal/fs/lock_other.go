//go:build !unix

package fs

import (
	"fmt"
	"os"
)

// Lock only creates the lock file on platforms without flock.
func Lock(path string) (func() error, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}
	return f.Close, nil
}
