package testutil

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"fg-go/internal/fg"
)

// FakeStore is an in-memory fg.SnapshotStore with failure injection and a
// gate for holding operations mid-flight.
type FakeStore struct {
	mu        sync.Mutex
	clock     fg.Clock
	snapshots map[string]*fg.Snapshot
	seq       int

	CreateErr  error
	RestoreErr error
	// Gate, when non-nil, blocks Create and Restore until it is closed.
	Gate chan struct{}
	// Entered, when non-nil, receives the target or snapshot id as each
	// Create or Restore call starts.
	Entered chan string

	Created  []string
	Restored []string
	Deleted  []string
}

var _ fg.SnapshotStore = (*FakeStore)(nil)

func NewFakeStore(clock fg.Clock) *FakeStore {
	return &FakeStore{clock: clock, snapshots: make(map[string]*fg.Snapshot)}
}

func (s *FakeStore) enter(id string) {
	if s.Entered != nil {
		s.Entered <- id
	}
	if s.Gate != nil {
		<-s.Gate
	}
}

func (s *FakeStore) Create(ctx context.Context, targetID, sourcePath string) (*fg.Snapshot, error) {
	s.enter(targetID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CreateErr != nil {
		return nil, &fg.SnapshotError{Op: "create", Err: s.CreateErr}
	}
	s.seq++
	snap := &fg.Snapshot{
		ID:         fmt.Sprintf("%s_%d", targetID, s.seq),
		TargetID:   targetID,
		TargetPath: sourcePath,
		CreatedAt:  s.clock.Now(),
		SizeBytes:  int64(100 * s.seq),
		FileCount:  s.seq,
		Transform:  "identity",
	}
	s.snapshots[snap.ID] = snap
	s.Created = append(s.Created, snap.ID)
	c := *snap
	return &c, nil
}

func (s *FakeStore) Restore(ctx context.Context, ref, destinationPath string) error {
	s.enter(ref)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.snapshots[ref]; !ok {
		return &fg.SnapshotError{Op: "restore", Err: fmt.Errorf("%s: %w", ref, fg.ErrSnapshotNotFound)}
	}
	if s.RestoreErr != nil {
		return s.RestoreErr
	}
	s.Restored = append(s.Restored, ref)
	return nil
}

func (s *FakeStore) Delete(ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, ref)
	s.Deleted = append(s.Deleted, ref)
	return nil
}

func (s *FakeStore) Get(id string) (*fg.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, fg.ErrSnapshotNotFound)
	}
	c := *snap
	return &c, nil
}

func (s *FakeStore) List() ([]*fg.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*fg.Snapshot, 0, len(s.snapshots))
	for _, snap := range s.snapshots {
		c := *snap
		out = append(out, &c)
	}
	slices.SortFunc(out, func(a, b *fg.Snapshot) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *FakeStore) Exists(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.snapshots[id]
	return ok
}

// Put seeds a snapshot.
func (s *FakeStore) Put(snap *fg.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *snap
	s.snapshots[snap.ID] = &c
}

// Lose removes a snapshot without recording a Delete, as if it vanished from disk.
func (s *FakeStore) Lose(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, id)
}
