package fs

import "errors"

// ErrInUse is returned by Lock when another process holds the lock.
var ErrInUse = errors.New("directory is in use by another fg process")
