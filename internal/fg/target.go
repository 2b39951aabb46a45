package fg

import "time"

// Status is the lifecycle state of a freeze target.
type Status string

const (
	StatusActive    Status = "active"
	StatusFreezing  Status = "freezing"
	StatusFrozen    Status = "frozen"
	StatusRestoring Status = "restoring"
	StatusError     Status = "error"
)

// transitions lists the legal moves of the target state machine.
// freezing -> error and restoring -> frozen are also taken by crash recovery on load.
var transitions = map[Status][]Status{
	StatusActive:    {StatusFreezing},
	StatusFreezing:  {StatusFrozen, StatusActive, StatusError},
	StatusFrozen:    {StatusRestoring},
	StatusRestoring: {StatusActive, StatusFrozen, StatusError},
	StatusError:     {StatusActive},
}

// CanTransition reports whether a target may move from one status to another.
// Staying in the same status is always allowed.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Kind is informational: replication treats folders and partitions alike.
type Kind string

const (
	KindFolder    Kind = "folder"
	KindPartition Kind = "partition"
)

// FreezeTarget is one monitored root under freeze management.
type FreezeTarget struct {
	ID             string     `json:"id"`
	Path           string     `json:"path"`
	Name           string     `json:"name"`
	Kind           Kind       `json:"kind"`
	Status         Status     `json:"status"`
	CreatedAt      time.Time  `json:"createdAt"`
	LastFrozenAt   *time.Time `json:"lastFrozenAt"`
	LastRestoredAt *time.Time `json:"lastRestoredAt"`
	SizeBytes      int64      `json:"sizeBytes"`
	ChangeCount    int        `json:"changeCount"`
	// SnapshotRef is the ID of the most recent snapshot; empty when never frozen.
	SnapshotRef string `json:"snapshotRef"`

	// Issue is set when load-time recovery found something the user must look at.
	Issue string `json:"issue,omitempty"`
	// WatchDegraded is true once the watcher failed; changeCount stops tracking.
	WatchDegraded bool `json:"watchDegraded,omitempty"`
}

// Clone returns a deep copy so callers never share registry-owned records.
func (t *FreezeTarget) Clone() *FreezeTarget {
	c := *t
	if t.LastFrozenAt != nil {
		v := *t.LastFrozenAt
		c.LastFrozenAt = &v
	}
	if t.LastRestoredAt != nil {
		v := *t.LastRestoredAt
		c.LastRestoredAt = &v
	}
	return &c
}

// Frozen reports whether the target is frozen with a snapshot to restore from.
func (t *FreezeTarget) Frozen() bool {
	return t.Status == StatusFrozen && t.SnapshotRef != ""
}
