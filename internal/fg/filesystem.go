package fg

// FilesystemManager abstracts the filesystem queries the engine needs
// so it can be tested without touching the real filesystem.
type FilesystemManager interface {
	// Resolve makes rawPath absolute and clean, stats it without following a
	// final symlink, and returns a Path. Missing paths yield ErrPathNotFound.
	Resolve(rawPath string) (*Path, error)

	// TreeSize returns the total size in bytes of the regular files below path.
	TreeSize(path string) (int64, error)
}
