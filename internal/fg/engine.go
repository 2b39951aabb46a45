package fg

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultMaxConcurrentOperations bounds simultaneous freeze/restore/remove
// operations across all targets.
const DefaultMaxConcurrentOperations = 3

// EngineDeps holds the collaborators of an Engine. Journal, Recorder and Bus are optional.
type EngineDeps struct {
	Registry Registry
	Store    SnapshotStore
	Watcher  Watcher
	FS       FilesystemManager
	Journal  Journal
	Recorder Recorder
	Bus      *EventBus
	Logger   Logger
	Clock    Clock
	IDs      IDGenerator

	// SnapshotRoot is where snapshots live. Targets may neither contain it nor sit inside it.
	SnapshotRoot string
	// MaxConcurrentOperations defaults to DefaultMaxConcurrentOperations when <= 0.
	MaxConcurrentOperations int
}

// Engine orchestrates the freeze/restore state machine for every target.
// Operations on different targets run concurrently; operations on the same
// target are strictly serialized and overlapping attempts are rejected.
type Engine struct {
	registry     Registry
	store        SnapshotStore
	watcher      Watcher
	fsmgr        FilesystemManager
	journal      Journal
	recorder     Recorder
	bus          *EventBus
	logger       Logger
	clock        Clock
	ids          IDGenerator
	snapshotRoot string
	sem          *semaphore.Weighted

	mu       sync.Mutex
	inflight map[string]OperationKind
}

// NewEngine creates an Engine. Call Start before use and Close when done.
func NewEngine(deps EngineDeps) *Engine {
	limit := deps.MaxConcurrentOperations
	if limit <= 0 {
		limit = DefaultMaxConcurrentOperations
	}
	bus := deps.Bus
	if bus == nil {
		bus = NewEventBus()
	}
	recorder := deps.Recorder
	if recorder == nil {
		recorder = NopRecorder{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = NewNopLogger()
	}
	clock := deps.Clock
	if clock == nil {
		clock = RealClock{}
	}
	ids := deps.IDs
	if ids == nil {
		ids = UUIDGenerator{}
	}

	return &Engine{
		registry:     deps.Registry,
		store:        deps.Store,
		watcher:      deps.Watcher,
		fsmgr:        deps.FS,
		journal:      deps.Journal,
		recorder:     recorder,
		bus:          bus,
		logger:       logger,
		clock:        clock,
		ids:          ids,
		snapshotRoot: deps.SnapshotRoot,
		sem:          semaphore.NewWeighted(int64(limit)),
		inflight:     make(map[string]OperationKind),
	}
}

// Events returns the bus lifecycle events are published on.
func (e *Engine) Events() *EventBus {
	return e.bus
}

// Start loads the registry, applies the crash-recovery policy to records left
// mid-operation, flags targets whose snapshot is gone, and re-attaches watchers
// to active and frozen targets.
func (e *Engine) Start(ctx context.Context) error {
	targets, err := e.registry.Load()
	if err != nil {
		return fmt.Errorf("loading targets: %w", err)
	}

	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		status := e.recover(t)
		if status == StatusActive || status == StatusFrozen {
			e.attach(t.ID, t.Path)
		}
	}

	e.logger.Info("engine started", "targets", len(targets))
	return nil
}

// recover applies the load-time policy to one record and returns its resulting status.
func (e *Engine) recover(t *FreezeTarget) Status {
	status := t.Status
	switch t.Status {
	case StatusFreezing:
		status = StatusError
		e.setStatus(t.ID, status, func(t *FreezeTarget) {
			t.Issue = "freeze was interrupted; recover the target and freeze it again"
		})
		e.logger.Warn("interrupted freeze found", "target", t.ID, "path", t.Path)
	case StatusRestoring:
		status = StatusFrozen
		issue := "restore was interrupted; content may be incomplete, run restore again"
		if t.SnapshotRef == "" {
			status = StatusError
			issue = "restore was interrupted and no snapshot is recorded"
		}
		e.setStatus(t.ID, status, func(t *FreezeTarget) { t.Issue = issue })
		e.logger.Warn("interrupted restore found", "target", t.ID, "path", t.Path)
	case StatusFrozen:
		if t.SnapshotRef == "" {
			e.update(t.ID, func(t *FreezeTarget) { t.Issue = "target is marked frozen but has no snapshot" })
			e.logger.Warn("frozen target without snapshot", "target", t.ID)
		}
	}

	if t.SnapshotRef != "" && !e.store.Exists(t.SnapshotRef) {
		ref := t.SnapshotRef
		e.update(t.ID, func(t *FreezeTarget) {
			t.Issue = fmt.Sprintf("snapshot %s is missing; restore is not possible", ref)
		})
		e.logger.Warn("snapshot missing", "target", t.ID, "snapshot", ref)
	}
	return status
}

// Close stops all watchers and persists the registry.
func (e *Engine) Close() error {
	var firstErr error
	if err := e.watcher.Close(); err != nil {
		firstErr = fmt.Errorf("closing watcher: %w", err)
	}
	if err := e.registry.Save(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("saving targets: %w", err)
	}
	return firstErr
}

// AddTarget validates rawPath and registers it as an active target.
func (e *Engine) AddTarget(ctx context.Context, rawPath string) (*FreezeTarget, error) {
	p, err := e.fsmgr.Resolve(rawPath)
	if err != nil {
		return nil, fmt.Errorf("adding target: %w", err)
	}
	if !p.IsDir() {
		return nil, fmt.Errorf("adding target %s: not a directory: %w", p, ErrInvalidPath)
	}
	if err := e.checkOverlap(p.String()); err != nil {
		return nil, fmt.Errorf("adding target %s: %w", p, err)
	}
	if existing := e.registry.FindByPath(p.String()); existing != nil {
		return nil, fmt.Errorf("adding target %s: %w", p, ErrDuplicateTarget)
	}
	if err := e.checkNested(p.String()); err != nil {
		return nil, fmt.Errorf("adding target %s: %w", p, err)
	}

	size, err := e.fsmgr.TreeSize(p.String())
	if err != nil {
		e.logger.Warn("size calculation failed", "path", p.String(), "error", err)
		size = 0
	}

	t := &FreezeTarget{
		ID:        e.ids.New(),
		Path:      p.String(),
		Name:      filepath.Base(p.String()),
		Kind:      p.Kind(),
		Status:    StatusActive,
		CreatedAt: e.clock.Now(),
		SizeBytes: size,
	}

	done := e.track(t.ID, OpAdd)
	if err := e.registry.Add(t); err != nil {
		done(err)
		return nil, fmt.Errorf("adding target %s: %w", p, err)
	}

	e.attach(t.ID, t.Path)

	added, err := e.registry.Get(t.ID)
	if err != nil {
		done(err)
		return nil, fmt.Errorf("adding target %s: %w", p, err)
	}
	e.bus.Publish(TargetAdded{Target: added})
	done(nil)

	e.logger.Info("target added", "target", t.ID, "path", t.Path, "size", size)
	return added, nil
}

// RemoveTarget stops watching id, deletes its snapshot and removes its record.
// It is allowed from any status.
func (e *Engine) RemoveTarget(ctx context.Context, id string) error {
	release, err := e.claim(id, OpRemove)
	if err != nil {
		return err
	}
	defer release()

	t, err := e.registry.Get(id)
	if err != nil {
		return fmt.Errorf("removing target: %w", err)
	}

	done := e.track(id, OpRemove)
	if err := e.sem.Acquire(ctx, 1); err != nil {
		done(err)
		return fmt.Errorf("removing target %s: %w", id, err)
	}
	defer e.sem.Release(1)

	// The record goes first so a failed removal leaves the target watched and its snapshot intact.
	if err := e.registry.Remove(id); err != nil {
		done(err)
		return fmt.Errorf("removing target %s: %w", id, err)
	}

	e.watcher.Unwatch(id)

	if t.SnapshotRef != "" {
		if err := e.store.Delete(t.SnapshotRef); err != nil {
			// Left for the orphan sweep.
			e.logger.Warn("snapshot cleanup failed", "target", id, "snapshot", t.SnapshotRef, "error", err)
		}
	}

	e.bus.Publish(TargetRemoved{TargetID: id})
	done(nil)
	e.logger.Info("target removed", "target", id, "path", t.Path)
	return nil
}

// FreezeTarget captures the current content of an active target into a new
// snapshot. On failure the target returns to active and keeps its previous snapshot.
func (e *Engine) FreezeTarget(ctx context.Context, id string) error {
	release, err := e.claim(id, OpFreeze)
	if err != nil {
		return err
	}
	defer release()

	t, err := e.registry.Get(id)
	if err != nil {
		return fmt.Errorf("freezing target: %w", err)
	}
	if t.Status != StatusActive {
		return &InvalidStateError{TargetID: id, Op: OpFreeze, Status: t.Status}
	}

	done := e.track(id, OpFreeze)
	if err := e.sem.Acquire(ctx, 1); err != nil {
		done(err)
		return fmt.Errorf("freezing target %s: %w", id, err)
	}
	defer e.sem.Release(1)

	if _, err := e.registry.UpdateStatus(id, StatusFreezing); err != nil {
		done(err)
		return fmt.Errorf("freezing target %s: %w", id, err)
	}

	e.logger.Info("freeze started", "target", id, "path", t.Path)
	snap, err := e.store.Create(context.WithoutCancel(ctx), id, t.Path)
	if err != nil {
		e.setStatus(id, StatusActive)
		done(err)
		e.logger.Error("freeze failed", "target", id, "error", err)
		return fmt.Errorf("freezing target %s: %w", id, err)
	}

	now := e.clock.Now()
	frozen, err := e.registry.UpdateStatus(id, StatusFrozen, func(t *FreezeTarget) {
		t.SnapshotRef = snap.ID
		t.LastFrozenAt = &now
		t.ChangeCount = 0
		t.SizeBytes = snap.SizeBytes
		t.Issue = ""
	})
	if err != nil {
		if derr := e.store.Delete(snap.ID); derr != nil {
			e.logger.Warn("discarding unrecorded snapshot failed", "snapshot", snap.ID, "error", derr)
		}
		done(err)
		return fmt.Errorf("freezing target %s: %w", id, err)
	}

	// The superseded snapshot goes only after the new one is recorded.
	if t.SnapshotRef != "" && t.SnapshotRef != snap.ID {
		if err := e.store.Delete(t.SnapshotRef); err != nil {
			e.logger.Warn("superseded snapshot cleanup failed", "snapshot", t.SnapshotRef, "error", err)
		}
	}

	e.bus.Publish(TargetFrozen{Target: frozen, Snapshot: snap})
	done(nil)
	e.logger.Info("target frozen", "target", id, "snapshot", snap.ID, "files", snap.FileCount, "size", snap.SizeBytes)
	return nil
}

// RestoreTarget discards the live content of a frozen target and replaces it
// with its snapshot. The snapshot is kept, so a target can be restored repeatedly.
func (e *Engine) RestoreTarget(ctx context.Context, id string) error {
	release, err := e.claim(id, OpRestore)
	if err != nil {
		return err
	}
	defer release()

	t, err := e.registry.Get(id)
	if err != nil {
		return fmt.Errorf("restoring target: %w", err)
	}
	if t.Status != StatusFrozen {
		return &InvalidStateError{TargetID: id, Op: OpRestore, Status: t.Status}
	}
	if t.SnapshotRef == "" {
		return fmt.Errorf("restoring target %s: %w", id, ErrNoSnapshot)
	}

	done := e.track(id, OpRestore)
	if err := e.sem.Acquire(ctx, 1); err != nil {
		done(err)
		return fmt.Errorf("restoring target %s: %w", id, err)
	}
	defer e.sem.Release(1)

	if _, err := e.registry.UpdateStatus(id, StatusRestoring); err != nil {
		done(err)
		return fmt.Errorf("restoring target %s: %w", id, err)
	}

	// The restore rewrites the whole tree; its own events are not drift.
	e.watcher.Unwatch(id)

	e.logger.Info("restore started", "target", id, "snapshot", t.SnapshotRef)
	if err := e.store.Restore(context.WithoutCancel(ctx), t.SnapshotRef, t.Path); err != nil {
		if errors.Is(err, ErrSnapshotNotFound) {
			e.setStatus(id, StatusError, func(t *FreezeTarget) {
				t.Issue = "snapshot is missing; recover the target and freeze it again"
			})
		} else {
			e.setStatus(id, StatusFrozen)
			e.attach(id, t.Path)
		}
		done(err)
		e.logger.Error("restore failed", "target", id, "error", err)
		return fmt.Errorf("restoring target %s: %w", id, err)
	}

	size, err := e.fsmgr.TreeSize(t.Path)
	if err != nil {
		e.logger.Warn("size calculation failed", "path", t.Path, "error", err)
		size = t.SizeBytes
	}

	now := e.clock.Now()
	restored, err := e.registry.UpdateStatus(id, StatusActive, func(t *FreezeTarget) {
		t.LastRestoredAt = &now
		t.ChangeCount = 0
		t.SizeBytes = size
		t.Issue = ""
	})
	if err != nil {
		done(err)
		return fmt.Errorf("restoring target %s: %w", id, err)
	}
	e.attach(id, t.Path)

	e.bus.Publish(TargetRestored{Target: restored})
	done(nil)
	e.logger.Info("target restored", "target", id, "snapshot", t.SnapshotRef)
	return nil
}

// RecoverTarget is the manual retry out of the error status. The target
// becomes active again and keeps whatever snapshot reference it had.
func (e *Engine) RecoverTarget(ctx context.Context, id string) error {
	release, err := e.claim(id, OpRecover)
	if err != nil {
		return err
	}
	defer release()

	t, err := e.registry.Get(id)
	if err != nil {
		return fmt.Errorf("recovering target: %w", err)
	}
	if t.Status != StatusError {
		return &InvalidStateError{TargetID: id, Op: OpRecover, Status: t.Status}
	}

	done := e.track(id, OpRecover)
	if _, err := e.registry.UpdateStatus(id, StatusActive, func(t *FreezeTarget) { t.Issue = "" }); err != nil {
		done(err)
		return fmt.Errorf("recovering target %s: %w", id, err)
	}
	e.attach(id, t.Path)
	done(nil)
	e.logger.Info("target recovered", "target", id)
	return nil
}

// GetTarget returns a copy of the target or ErrNotFound.
func (e *Engine) GetTarget(id string) (*FreezeTarget, error) {
	return e.registry.Get(id)
}

// GetAllTargets returns copies of all targets ordered by creation time.
func (e *Engine) GetAllTargets() []*FreezeTarget {
	return e.registry.GetAll()
}

// Snapshots lists every snapshot in the store.
func (e *Engine) Snapshots() ([]*Snapshot, error) {
	return e.store.List()
}

// History returns the most recent journaled operations, newest first.
func (e *Engine) History(limit int) ([]*Operation, error) {
	if e.journal == nil {
		return nil, nil
	}
	ops, err := e.journal.List(limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	return ops, nil
}

// claim marks id as having an operation in flight. Overlapping claims fail fast.
func (e *Engine) claim(id string, kind OperationKind) (func(), error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if running, ok := e.inflight[id]; ok {
		return nil, fmt.Errorf("%s target %s while %s is running: %w", kind, id, running, ErrOperationInProgress)
	}
	e.inflight[id] = kind

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.inflight, id)
	}, nil
}

// track journals an operation and returns the function that completes it.
func (e *Engine) track(targetID string, kind OperationKind) func(error) {
	start := e.clock.Now()
	began := time.Now()

	var opID int64
	if e.journal != nil {
		id, err := e.journal.Begin(targetID, kind, start)
		if err != nil {
			e.logger.Warn("journal begin failed", "op", kind, "target", targetID, "error", err)
		} else {
			opID = id
		}
	}

	return func(err error) {
		e.recorder.ObserveOperation(kind, err, time.Since(began))
		if opID == 0 {
			return
		}
		status, msg := OpSuccess, ""
		if err != nil {
			status, msg = OpFailed, err.Error()
		}
		if jerr := e.journal.Finish(opID, status, msg, e.clock.Now()); jerr != nil {
			e.logger.Warn("journal finish failed", "op", kind, "target", targetID, "error", jerr)
		}
	}
}

// attach (re)starts change tracking for a target.
func (e *Engine) attach(id, path string) {
	err := e.watcher.Watch(id, path,
		func(changes []Change) { e.handleChanges(id, changes) },
		func(err error) { e.handleWatchError(id, err) },
	)
	if err != nil {
		e.handleWatchError(id, err)
		return
	}
	if t, err := e.registry.Get(id); err == nil && t.WatchDegraded {
		e.update(id, func(t *FreezeTarget) { t.WatchDegraded = false })
	}
}

// handleChanges counts drift. It never changes the status: a frozen target
// modified out-of-band stays frozen with a rising change count.
func (e *Engine) handleChanges(id string, changes []Change) {
	if len(changes) == 0 {
		return
	}
	t, err := e.registry.Update(id, func(t *FreezeTarget) { t.ChangeCount += len(changes) })
	if err != nil {
		return
	}
	e.bus.Publish(TargetChanged{TargetID: id, Changes: changes, ChangeCount: t.ChangeCount})
}

func (e *Engine) handleWatchError(id string, err error) {
	e.logger.Warn("watcher error", "target", id, "error", err)
	e.update(id, func(t *FreezeTarget) { t.WatchDegraded = true })
	e.bus.Publish(WatcherError{TargetID: id, Message: err.Error()})
}

func (e *Engine) setStatus(id string, status Status, apply ...func(*FreezeTarget)) {
	if _, err := e.registry.UpdateStatus(id, status, apply...); err != nil {
		e.logger.Error("status update failed", "target", id, "status", status, "error", err)
	}
}

func (e *Engine) update(id string, apply func(*FreezeTarget)) {
	if _, err := e.registry.Update(id, apply); err != nil && !errors.Is(err, ErrNotFound) {
		e.logger.Error("target update failed", "target", id, "error", err)
	}
}

// checkOverlap rejects targets that contain the snapshot root or live inside it;
// either would make a snapshot copy itself.
func (e *Engine) checkOverlap(path string) error {
	if e.snapshotRoot == "" {
		return nil
	}
	root := filepath.Clean(e.snapshotRoot)
	if within(root, path) {
		return fmt.Errorf("target contains the snapshot directory %s: %w", root, ErrInvalidPath)
	}
	if within(path, root) {
		return fmt.Errorf("target is inside the snapshot directory %s: %w", root, ErrInvalidPath)
	}
	return nil
}

// checkNested rejects a path inside an existing target or containing one.
// Restoring the outer target would otherwise overwrite the inner one.
func (e *Engine) checkNested(path string) error {
	for _, t := range e.registry.GetAll() {
		if within(path, t.Path) {
			return fmt.Errorf("inside target %s (%s): %w", t.ID, t.Path, ErrInvalidPath)
		}
		if within(t.Path, path) {
			return fmt.Errorf("contains target %s (%s): %w", t.ID, t.Path, ErrInvalidPath)
		}
	}
	return nil
}

// within reports whether path is base or below it.
func within(path, base string) bool {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
