package fg

import "context"

// SnapshotStore owns snapshot content and metadata on disk.
type SnapshotStore interface {
	// Create captures sourcePath into a fresh snapshot for targetID.
	// Every failure is a *SnapshotError and leaves no partial snapshot behind.
	Create(ctx context.Context, targetID, sourcePath string) (*Snapshot, error)

	// Restore replaces everything at destinationPath with the snapshot content.
	// An unusable snapshot is a *SnapshotError, a failed copy a *ReplicationError.
	// This is not atomic across volumes: do not interrupt a restore.
	Restore(ctx context.Context, ref, destinationPath string) error

	// Delete removes a snapshot entirely. Deleting a missing snapshot succeeds.
	Delete(ref string) error

	// Get returns snapshot metadata or ErrSnapshotNotFound.
	Get(id string) (*Snapshot, error)

	// List returns all complete snapshots, oldest first.
	List() ([]*Snapshot, error)

	// Exists reports whether the snapshot directory for id is present.
	Exists(id string) bool
}
