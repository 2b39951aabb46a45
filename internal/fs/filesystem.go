package fs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"fg-go/internal/fg"
)

// OSFilesystemManager is the real filesystem implementation of fg.FilesystemManager.
type OSFilesystemManager struct{}

// NewOSFilesystemManager creates a new filesystem manager that operates on the real filesystem.
func NewOSFilesystemManager() *OSFilesystemManager {
	return &OSFilesystemManager{}
}

// Resolve validates a raw path and returns a Path object.
func (m *OSFilesystemManager) Resolve(rawPath string) (*fg.Path, error) {
	if rawPath == "" {
		return nil, fmt.Errorf("empty path: %w", fg.ErrInvalidPath)
	}

	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return nil, fmt.Errorf("resolving absolute path: %w", err)
	}

	info, err := os.Lstat(absPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", absPath, fg.ErrPathNotFound)
		}
		return nil, fmt.Errorf("stat path: %w", err)
	}

	// Symlinked parents are resolved so one directory always has one path.
	parent, err := filepath.EvalSymlinks(filepath.Dir(absPath))
	if err != nil {
		return nil, fmt.Errorf("resolving parent of %s: %w", absPath, err)
	}
	absPath = filepath.Join(parent, filepath.Base(absPath))

	mode := info.Mode()
	if mode&os.ModeSymlink != 0 {
		return nil, fmt.Errorf("symlinks not supported: %s: %w", absPath, fg.ErrInvalidPath)
	}
	if mode&(os.ModeDevice|os.ModeNamedPipe|os.ModeSocket) != 0 {
		return nil, fmt.Errorf("special files not supported: %s: %w", absPath, fg.ErrInvalidPath)
	}

	mount := false
	if info.IsDir() {
		mount, err = IsMountPoint(absPath)
		if err != nil {
			return nil, fmt.Errorf("checking mount point: %w", err)
		}
	}

	return fg.NewPath(absPath, info.IsDir(), mount, info), nil
}

// TreeSize sums the sizes of the regular files below path. Symlinks are not followed.
func (m *OSFilesystemManager) TreeSize(path string) (int64, error) {
	var total int64
	err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", p, err)
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walking directory: %w", err)
	}
	return total, nil
}

var _ fg.FilesystemManager = (*OSFilesystemManager)(nil)
