package testutil

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"fg-go/internal/fg"
)

type mockEntry struct {
	size       int64
	isDir      bool
	mountPoint bool
}

// MockFilesystemManager is an in-memory fg.FilesystemManager. Paths must be absolute.
type MockFilesystemManager struct {
	mu      sync.Mutex
	entries map[string]*mockEntry

	// TreeSizeErr, when set, is returned by TreeSize.
	TreeSizeErr error
}

func NewMockFilesystemManager() *MockFilesystemManager {
	return &MockFilesystemManager{entries: make(map[string]*mockEntry)}
}

// AddDirectory registers a directory and its parents.
func (m *MockFilesystemManager) AddDirectory(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for p := filepath.Clean(path); ; p = filepath.Dir(p) {
		if _, ok := m.entries[p]; !ok {
			m.entries[p] = &mockEntry{isDir: true}
		}
		if p == filepath.Dir(p) {
			return
		}
	}
}

// AddMountPoint registers a directory that resolves as a partition.
func (m *MockFilesystemManager) AddMountPoint(path string) {
	m.AddDirectory(path)
	m.mu.Lock()
	m.entries[filepath.Clean(path)].mountPoint = true
	m.mu.Unlock()
}

// AddFile registers a regular file of the given size.
func (m *MockFilesystemManager) AddFile(path string, size int64) {
	m.AddDirectory(filepath.Dir(path))
	m.mu.Lock()
	m.entries[filepath.Clean(path)] = &mockEntry{size: size}
	m.mu.Unlock()
}

// Remove deletes path and everything below it.
func (m *MockFilesystemManager) Remove(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	path = filepath.Clean(path)
	for p := range m.entries {
		if p == path || strings.HasPrefix(p, path+"/") {
			delete(m.entries, p)
		}
	}
}

func (m *MockFilesystemManager) Resolve(rawPath string) (*fg.Path, error) {
	if rawPath == "" {
		return nil, fmt.Errorf("empty path: %w", fg.ErrInvalidPath)
	}
	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", rawPath, fg.ErrInvalidPath)
	}

	m.mu.Lock()
	e, ok := m.entries[absPath]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", absPath, fg.ErrPathNotFound)
	}

	info := &mockFileInfo{name: filepath.Base(absPath), size: e.size, isDir: e.isDir}
	return fg.NewPath(absPath, e.isDir, e.mountPoint, info), nil
}

func (m *MockFilesystemManager) TreeSize(path string) (int64, error) {
	if m.TreeSizeErr != nil {
		return 0, m.TreeSizeErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	path = filepath.Clean(path)
	if _, ok := m.entries[path]; !ok {
		return 0, fmt.Errorf("%s: %w", path, fg.ErrPathNotFound)
	}
	var total int64
	for p, e := range m.entries {
		if !e.isDir && strings.HasPrefix(p, path+"/") {
			total += e.size
		}
	}
	return total, nil
}

var _ fg.FilesystemManager = (*MockFilesystemManager)(nil)

type mockFileInfo struct {
	name  string
	size  int64
	isDir bool
}

func (fi *mockFileInfo) Name() string { return fi.name }
func (fi *mockFileInfo) Size() int64  { return fi.size }
func (fi *mockFileInfo) Mode() fs.FileMode {
	if fi.isDir {
		return fs.ModeDir | 0o755
	}
	return 0o644
}
func (fi *mockFileInfo) ModTime() time.Time { return time.Time{} }
func (fi *mockFileInfo) IsDir() bool        { return fi.isDir }
func (fi *mockFileInfo) Sys() any           { return nil }
