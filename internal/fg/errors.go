package fg

import (
	"errors"
	"fmt"
)

// Validation errors. These are returned before any I/O mutation happens.
var (
	ErrNotFound            = errors.New("target not found")
	ErrDuplicateTarget     = errors.New("target already exists")
	ErrPathNotFound        = errors.New("path not found")
	ErrInvalidPath         = errors.New("invalid target path")
	ErrInvalidState        = errors.New("invalid target state")
	ErrNoSnapshot          = errors.New("no snapshot available")
	ErrOperationInProgress = errors.New("operation already in progress")
	ErrSnapshotNotFound    = errors.New("snapshot not found")
	ErrIntegrity           = errors.New("restored content does not match snapshot checksum")
)

// InvalidStateError reports an operation attempted from a status that does not allow it.
type InvalidStateError struct {
	TargetID string
	Op       OperationKind
	Status   Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s target %s in status %s", e.Op, e.TargetID, e.Status)
}

func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }

// ReplicationError is raised by tree copy/delete. Path is where the failure happened.
type ReplicationError struct {
	Path string
	Err  error
}

func (e *ReplicationError) Error() string {
	return fmt.Sprintf("replication failed at %s: %v", e.Path, e.Err)
}

func (e *ReplicationError) Unwrap() error { return e.Err }

// SnapshotError is raised by the snapshot store for capture-level failures
// (unreadable source, insufficient space, unusable snapshot).
type SnapshotError struct {
	Op  string
	Err error
}

func (e *SnapshotError) Error() string {
	return fmt.Sprintf("snapshot %s: %v", e.Op, e.Err)
}

func (e *SnapshotError) Unwrap() error { return e.Err }

// KindOf maps an error to a stable identifier that callers outside the engine
// (CLI, HTTP API) use to render a message without inspecting internals.
func KindOf(err error) string {
	var (
		replErr *ReplicationError
		snapErr *SnapshotError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrDuplicateTarget):
		return "duplicate_target"
	case errors.Is(err, ErrPathNotFound):
		return "path_not_found"
	case errors.Is(err, ErrInvalidPath):
		return "invalid_path"
	case errors.Is(err, ErrOperationInProgress):
		return "operation_in_progress"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrNoSnapshot):
		return "no_snapshot"
	case errors.Is(err, ErrSnapshotNotFound):
		return "snapshot_not_found"
	case errors.As(err, &snapErr):
		return "snapshot"
	case errors.As(err, &replErr):
		return "replication"
	default:
		return "internal"
	}
}

// IsValidation reports whether err was a rejection that left all state untouched.
func IsValidation(err error) bool {
	switch KindOf(err) {
	case "not_found", "duplicate_target", "path_not_found", "invalid_path",
		"operation_in_progress", "invalid_state", "no_snapshot":
		return true
	}
	return false
}
