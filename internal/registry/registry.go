// Package registry persists freeze targets to a JSON state file.
package registry

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/samber/lo"

	"fg-go/internal/fg"
)

// StateFile is the name of the state file inside the registry root.
const StateFile = "targets.json"

// Registry is the file-backed fg.Registry. The in-memory map is
// authoritative; every mutation is mirrored to disk.
//
// Add and Remove roll back and return the error when the state file cannot be
// written. Status and field updates keep the in-memory change and only log a
// failed write; the next successful save catches up.
type Registry struct {
	path   string
	bus    fg.Publisher
	logger fg.Logger

	mu      sync.RWMutex
	targets map[string]*fg.FreezeTarget

	// saveMu orders writers so an older catalog never overwrites a newer one.
	saveMu sync.Mutex
}

var _ fg.Registry = (*Registry)(nil)

// New creates a Registry storing its state under root.
func New(root string, bus fg.Publisher, logger fg.Logger) (*Registry, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating registry directory: %w", err)
	}
	if logger == nil {
		logger = fg.NewNopLogger()
	}
	return &Registry{
		path:    filepath.Join(root, StateFile),
		bus:     bus,
		logger:  logger,
		targets: make(map[string]*fg.FreezeTarget),
	}, nil
}

// Path returns the state file location.
func (r *Registry) Path() string {
	return r.path
}

// Load replaces the in-memory catalog with the state file. A missing file
// is an empty catalog; an unparsable one is an error and leaves the catalog untouched.
// Records with an empty id, unknown status or duplicate id/path are skipped.
func (r *Registry) Load() ([]*fg.FreezeTarget, error) {
	data, err := os.ReadFile(r.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading %s: %w", r.path, err)
	}

	var records []*fg.FreezeTarget
	if len(data) > 0 {
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", r.path, err)
		}
	}

	loaded := make(map[string]*fg.FreezeTarget, len(records))
	paths := make(map[string]bool, len(records))
	for _, t := range records {
		switch {
		case t == nil || t.ID == "":
			r.logger.Warn("skipping target record without id")
			continue
		case !t.Status.Valid():
			r.logger.Warn("skipping target record with unknown status", "target", t.ID, "status", t.Status)
			continue
		case loaded[t.ID] != nil || paths[t.Path]:
			r.logger.Warn("skipping duplicate target record", "target", t.ID, "path", t.Path)
			continue
		}
		loaded[t.ID] = t
		paths[t.Path] = true
	}

	r.mu.Lock()
	r.targets = loaded
	r.mu.Unlock()

	r.logger.Debug("targets loaded", "count", len(loaded), "path", r.path)
	return r.GetAll(), nil
}

// Add registers t. Duplicate ids or paths yield ErrDuplicateTarget.
func (r *Registry) Add(t *fg.FreezeTarget) error {
	r.mu.Lock()
	for _, existing := range r.targets {
		if existing.ID == t.ID || existing.Path == t.Path {
			r.mu.Unlock()
			return fmt.Errorf("%s: %w", t.Path, fg.ErrDuplicateTarget)
		}
	}
	r.targets[t.ID] = t.Clone()
	r.mu.Unlock()

	if err := r.Save(); err != nil {
		r.mu.Lock()
		delete(r.targets, t.ID)
		r.mu.Unlock()
		return err
	}
	return nil
}

// Remove deletes the record for id.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	t, ok := r.targets[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%s: %w", id, fg.ErrNotFound)
	}
	delete(r.targets, id)
	r.mu.Unlock()

	if err := r.Save(); err != nil {
		r.mu.Lock()
		r.targets[id] = t
		r.mu.Unlock()
		return err
	}
	return nil
}

// Get returns a copy of the record for id.
func (r *Registry) Get(id string) (*fg.FreezeTarget, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.targets[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, fg.ErrNotFound)
	}
	return t.Clone(), nil
}

// GetAll returns copies of all records ordered by creation time.
func (r *Registry) GetAll() []*fg.FreezeTarget {
	r.mu.RLock()
	all := lo.MapToSlice(r.targets, func(_ string, t *fg.FreezeTarget) *fg.FreezeTarget { return t.Clone() })
	r.mu.RUnlock()

	slices.SortFunc(all, func(a, b *fg.FreezeTarget) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return all
}

// FindByPath returns a copy of the target registered at path, or nil.
func (r *Registry) FindByPath(path string) *fg.FreezeTarget {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, t := range r.targets {
		if t.Path == path {
			return t.Clone()
		}
	}
	return nil
}

// UpdateStatus applies mutations and the new status as one change, persists
// it and publishes a TargetStatusChanged event if the status moved.
func (r *Registry) UpdateStatus(id string, status fg.Status, apply ...func(*fg.FreezeTarget)) (*fg.FreezeTarget, error) {
	r.mu.Lock()
	current, ok := r.targets[id]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", id, fg.ErrNotFound)
	}
	from := current.Status
	if !fg.CanTransition(from, status) {
		r.mu.Unlock()
		return nil, fmt.Errorf("target %s: %s -> %s: %w", id, from, status, fg.ErrInvalidState)
	}

	next := current.Clone()
	for _, fn := range apply {
		fn(next)
	}
	next.Status = status
	if next.Status == fg.StatusFrozen && next.SnapshotRef == "" {
		r.mu.Unlock()
		return nil, fmt.Errorf("target %s: frozen without a snapshot: %w", id, fg.ErrInvalidState)
	}
	r.targets[id] = next
	out := next.Clone()
	r.mu.Unlock()

	r.persist()
	if from != status && r.bus != nil {
		r.bus.Publish(fg.TargetStatusChanged{TargetID: id, Status: status})
	}
	return out, nil
}

// Update mutates non-status fields. A mutation that touches the status is rejected.
func (r *Registry) Update(id string, apply func(*fg.FreezeTarget)) (*fg.FreezeTarget, error) {
	r.mu.Lock()
	current, ok := r.targets[id]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", id, fg.ErrNotFound)
	}

	next := current.Clone()
	apply(next)
	if next.Status != current.Status || next.ID != current.ID {
		r.mu.Unlock()
		return nil, fmt.Errorf("target %s: status and id change only through UpdateStatus: %w", id, fg.ErrInvalidState)
	}
	r.targets[id] = next
	out := next.Clone()
	r.mu.Unlock()

	r.persist()
	return out, nil
}

func (r *Registry) persist() {
	if err := r.Save(); err != nil {
		r.logger.Error("saving targets failed", "path", r.path, "error", err)
	}
}

// Save writes the full catalog atomically (temp file + rename).
func (r *Registry) Save() error {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	all := r.GetAll()
	if all == nil {
		all = []*fg.FreezeTarget{}
	}
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding targets: %w", err)
	}
	return writeFile(r.path, data)
}

func writeFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing state file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replacing state file: %w", err)
	}

	success = true
	return nil
}
