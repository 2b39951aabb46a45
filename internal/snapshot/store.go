// Package snapshot keeps captured copies of target trees on local disk.
//
// Layout:
//
//	<root>/
//	  <targetId>_<unixMillis>/
//	    metadata.json   (written last; its absence marks an incomplete snapshot)
//	    content/        (the captured tree, passed through the content transform)
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"fg-go/internal/fg"
	fgfs "fg-go/internal/fs"
	"fg-go/internal/transform"
)

const (
	metadataFile = "metadata.json"
	contentDir   = "content"

	// headroom is added to the source size before comparing with free space.
	headroom = 0.05
)

// Stager swaps a restored tree into place.
type Stager interface {
	Swap(ctx context.Context, dest string, fill func(dir string) error) error
}

// Options configures a Store. Root and FS are required.
type Options struct {
	Root      string
	FS        fg.FilesystemManager
	Transform fg.ContentTransform
	Stager    Stager
	Logger    fg.Logger
	Clock     fg.Clock

	// VerifyRestore recomputes the restored tree digest and compares it to the snapshot checksum.
	VerifyRestore bool
	// MaxSize refuses sources larger than this many bytes. Zero means unlimited.
	MaxSize int64
	// FreeSpace reports available bytes for a path; defaults to fs.FreeSpace.
	FreeSpace func(path string) (uint64, error)
}

// Store is the on-disk fg.SnapshotStore.
type Store struct {
	opts Options

	// mu serialises snapshot ID allocation.
	mu sync.Mutex
}

var _ fg.SnapshotStore = (*Store)(nil)

// NewStore creates the snapshot root if needed and returns a Store.
func NewStore(opts Options) (*Store, error) {
	if opts.Root == "" {
		return nil, errors.New("snapshot root is required")
	}
	if opts.FS == nil {
		return nil, errors.New("filesystem manager is required")
	}
	if opts.Transform == nil {
		opts.Transform = transform.Identity{}
	}
	if opts.Logger == nil {
		opts.Logger = fg.NewNopLogger()
	}
	if opts.Clock == nil {
		opts.Clock = fg.RealClock{}
	}
	if opts.FreeSpace == nil {
		opts.FreeSpace = fgfs.FreeSpace
	}

	if err := os.MkdirAll(opts.Root, 0o755); err != nil {
		return nil, fmt.Errorf("creating snapshot root: %w", err)
	}
	return &Store{opts: opts}, nil
}

// Root returns the directory holding all snapshots.
func (s *Store) Root() string {
	return s.opts.Root
}

// Create captures sourcePath into a new snapshot. On failure nothing of the
// new snapshot is left behind.
func (s *Store) Create(ctx context.Context, targetID, sourcePath string) (*fg.Snapshot, error) {
	size, err := s.opts.FS.TreeSize(sourcePath)
	if err != nil {
		return nil, &fg.SnapshotError{Op: "create", Err: fmt.Errorf("reading source %s: %w", sourcePath, err)}
	}
	if s.opts.MaxSize > 0 && size > s.opts.MaxSize {
		return nil, &fg.SnapshotError{Op: "create", Err: fmt.Errorf("source is %d bytes, over the %d byte limit", size, s.opts.MaxSize)}
	}
	if err := s.checkSpace(size); err != nil {
		return nil, &fg.SnapshotError{Op: "create", Err: err}
	}

	id, dir, err := s.allocate(targetID)
	if err != nil {
		return nil, &fg.SnapshotError{Op: "create", Err: err}
	}

	snap, err := s.capture(ctx, id, dir, targetID, sourcePath)
	if err != nil {
		if derr := fgfs.DeleteTree(dir); derr != nil {
			s.opts.Logger.Warn("removing partial snapshot failed", "snapshot", id, "error", derr)
		}
		return nil, &fg.SnapshotError{Op: "create", Err: err}
	}

	s.opts.Logger.Info("snapshot created", "snapshot", id, "files", snap.FileCount, "size", snap.SizeBytes, "transform", snap.Transform)
	return snap, nil
}

func (s *Store) capture(ctx context.Context, id, dir, targetID, sourcePath string) (*fg.Snapshot, error) {
	manifest, err := fgfs.CopyTree(ctx, sourcePath, filepath.Join(dir, contentDir), fgfs.CopyOptions{
		Encode: s.opts.Transform.Encode,
	})
	if err != nil {
		return nil, err
	}
	for _, w := range manifest.Warnings {
		s.opts.Logger.Warn("snapshot warning", "snapshot", id, "warning", w)
	}

	snap := &fg.Snapshot{
		ID:         id,
		TargetID:   targetID,
		TargetPath: sourcePath,
		CreatedAt:  s.opts.Clock.Now(),
		SizeBytes:  manifest.Bytes,
		FileCount:  manifest.Files,
		DirCount:   manifest.Dirs,
		LinkCount:  manifest.Links,
		Checksum:   manifest.Digest,
		Transform:  s.opts.Transform.Name(),
		Warnings:   manifest.Warnings,
	}
	if err := writeMetadata(dir, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// TargetOf returns the target id encoded in a snapshot id, or "" if id has no
// <targetId>_<ms> shape.
func TargetOf(id string) string {
	i := strings.LastIndexByte(id, '_')
	if i <= 0 {
		return ""
	}
	if _, err := strconv.ParseInt(id[i+1:], 10, 64); err != nil {
		return ""
	}
	return id[:i]
}

// allocate reserves <targetId>_<ms>, bumping the timestamp by 1ms until the name is free.
func (s *Store) allocate(targetID string) (string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms := s.opts.Clock.Now().UnixMilli()
	for range 1000 {
		id := targetID + "_" + strconv.FormatInt(ms, 10)
		dir := filepath.Join(s.opts.Root, id)
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			return id, dir, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", "", fmt.Errorf("creating snapshot directory: %w", err)
		}
		ms++
	}
	return "", "", fmt.Errorf("no free snapshot id for target %s", targetID)
}

func (s *Store) checkSpace(size int64) error {
	free, err := s.opts.FreeSpace(s.opts.Root)
	if err != nil {
		// Best effort only.
		s.opts.Logger.Debug("free space unknown", "root", s.opts.Root, "error", err)
		return nil
	}
	need := uint64(float64(size) * (1 + headroom))
	if free < need {
		return fmt.Errorf("insufficient space: need %d bytes, %d available", need, free)
	}
	return nil
}

// Restore replaces destinationPath with the content of snapshot ref.
func (s *Store) Restore(ctx context.Context, ref, destinationPath string) error {
	snap, err := s.Get(ref)
	if err != nil {
		return &fg.SnapshotError{Op: "restore", Err: err}
	}
	if snap.Transform != s.opts.Transform.Name() {
		return &fg.SnapshotError{Op: "restore", Err: fmt.Errorf("snapshot %s was stored with transform %q but %q is configured", ref, snap.Transform, s.opts.Transform.Name())}
	}
	if transform.NeedsUnlock(s.opts.Transform) {
		return &fg.SnapshotError{Op: "restore", Err: transform.ErrLocked}
	}
	if filepath.Clean(snap.TargetPath) != filepath.Clean(destinationPath) {
		s.opts.Logger.Warn("restoring snapshot to a different path", "snapshot", ref, "captured", snap.TargetPath, "destination", destinationPath)
	}

	content := filepath.Join(s.opts.Root, ref, contentDir)
	fill := func(dir string) error {
		_, err := fgfs.CopyTree(ctx, content, dir, fgfs.CopyOptions{Decode: s.opts.Transform.Decode})
		return err
	}

	if s.opts.Stager != nil {
		err = s.opts.Stager.Swap(ctx, destinationPath, fill)
	} else {
		err = replace(destinationPath, fill)
	}
	if err != nil {
		var replErr *fg.ReplicationError
		if errors.As(err, &replErr) {
			return err
		}
		return &fg.ReplicationError{Path: destinationPath, Err: err}
	}

	if s.opts.VerifyRestore && snap.Checksum != "" {
		digest, err := fgfs.TreeDigest(destinationPath)
		if err != nil {
			return &fg.ReplicationError{Path: destinationPath, Err: err}
		}
		if digest != snap.Checksum {
			return &fg.ReplicationError{Path: destinationPath, Err: fmt.Errorf("digest %s, want %s: %w", digest, snap.Checksum, fg.ErrIntegrity)}
		}
	}

	s.opts.Logger.Info("snapshot restored", "snapshot", ref, "destination", destinationPath)
	return nil
}

// replace is the plain delete-then-copy used when no stager is configured.
func replace(dest string, fill func(dir string) error) error {
	if err := fgfs.DeleteTree(dest); err != nil {
		return err
	}
	return fill(dest)
}

// Delete removes a snapshot. Missing snapshots are not an error.
func (s *Store) Delete(ref string) error {
	if !validID(ref) {
		return fmt.Errorf("invalid snapshot id %q", ref)
	}
	if err := fgfs.DeleteTree(filepath.Join(s.opts.Root, ref)); err != nil {
		return fmt.Errorf("deleting snapshot %s: %w", ref, err)
	}
	s.opts.Logger.Info("snapshot deleted", "snapshot", ref)
	return nil
}

// Get reads the metadata of a complete snapshot.
func (s *Store) Get(id string) (*fg.Snapshot, error) {
	if !validID(id) {
		return nil, fmt.Errorf("%q: %w", id, fg.ErrSnapshotNotFound)
	}
	snap, err := readMetadata(filepath.Join(s.opts.Root, id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", id, fg.ErrSnapshotNotFound)
		}
		return nil, err
	}
	return snap, nil
}

// Exists reports whether a directory for id is present, complete or not.
func (s *Store) Exists(id string) bool {
	if !validID(id) {
		return false
	}
	info, err := os.Stat(filepath.Join(s.opts.Root, id))
	return err == nil && info.IsDir()
}

// List returns all complete snapshots ordered by creation time.
func (s *Store) List() ([]*fg.Snapshot, error) {
	entries, err := s.Entries()
	if err != nil {
		return nil, err
	}
	var snaps []*fg.Snapshot
	for _, e := range entries {
		if e.Snapshot != nil {
			snaps = append(snaps, e.Snapshot)
		}
	}
	return snaps, nil
}

// Entry is one directory under the snapshot root. Snapshot is nil when the
// metadata is missing or unreadable.
type Entry struct {
	ID       string
	ModTime  int64 // unix milliseconds of the directory
	Snapshot *fg.Snapshot
}

// Entries lists every snapshot directory including incomplete ones.
func (s *Store) Entries() ([]Entry, error) {
	dirents, err := os.ReadDir(s.opts.Root)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}

	var out []Entry
	for _, d := range dirents {
		if !d.IsDir() || !validID(d.Name()) {
			continue
		}
		e := Entry{ID: d.Name()}
		if info, err := d.Info(); err == nil {
			e.ModTime = info.ModTime().UnixMilli()
		}
		if snap, err := readMetadata(filepath.Join(s.opts.Root, d.Name())); err == nil {
			e.Snapshot = snap
		}
		out = append(out, e)
	}

	slices.SortFunc(out, func(a, b Entry) int {
		return strings.Compare(sortKey(a), sortKey(b))
	})
	return out, nil
}

func sortKey(e Entry) string {
	if e.Snapshot != nil {
		return e.Snapshot.CreatedAt.UTC().Format("2006-01-02T15:04:05.000000000") + e.ID
	}
	return e.ID
}

// validID accepts only plain directory names.
func validID(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsAny(id, `/\`) && !strings.HasPrefix(id, ".")
}

type metadata struct {
	Version int `json:"version"`
	*fg.Snapshot
}

func writeMetadata(dir string, snap *fg.Snapshot) error {
	data, err := json.MarshalIndent(metadata{Version: 1, Snapshot: snap}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating metadata: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing metadata: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing metadata: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing metadata: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, metadataFile)); err != nil {
		return fmt.Errorf("committing metadata: %w", err)
	}
	return nil
}

func readMetadata(dir string) (*fg.Snapshot, error) {
	data, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		return nil, err
	}
	md := metadata{Snapshot: &fg.Snapshot{}}
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("decoding metadata in %s: %w", dir, err)
	}
	return md.Snapshot, nil
}
