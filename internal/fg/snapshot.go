package fg

import "time"

// Snapshot describes one captured copy of a target tree.
type Snapshot struct {
	ID         string    `json:"id"`
	TargetID   string    `json:"targetId"`
	TargetPath string    `json:"targetPath"`
	CreatedAt  time.Time `json:"createdAt"`
	SizeBytes  int64     `json:"sizeBytes"`
	FileCount  int       `json:"fileCount"`
	DirCount   int       `json:"dirCount"`
	LinkCount  int       `json:"linkCount"`
	// Checksum is the hex xxh3 digest of the captured plaintext tree.
	Checksum  string   `json:"checksum"`
	Transform string   `json:"transform"`
	Warnings  []string `json:"warnings,omitempty"`
}

// ChangeType classifies a filesystem change observed on a watched target.
type ChangeType string

const (
	ChangeCreated  ChangeType = "created"
	ChangeModified ChangeType = "modified"
	ChangeDeleted  ChangeType = "deleted"
)

// Change is one coalesced filesystem change record.
type Change struct {
	Type      ChangeType `json:"type"`
	Path      string     `json:"path"`
	Timestamp time.Time  `json:"timestamp"`
	Size      int64      `json:"size"`
}

// OperationKind names an engine operation recorded in the journal.
type OperationKind string

const (
	OpAdd     OperationKind = "add"
	OpFreeze  OperationKind = "freeze"
	OpRestore OperationKind = "restore"
	OpRemove  OperationKind = "remove"
	OpRecover OperationKind = "recover"
)

// OperationStatus is the outcome of a journaled operation.
type OperationStatus string

const (
	OpRunning OperationStatus = "running"
	OpSuccess OperationStatus = "success"
	OpFailed  OperationStatus = "error"
)

// Operation is a journal record of one engine operation.
type Operation struct {
	ID         int64           `json:"id"`
	TargetID   string          `json:"targetId"`
	Kind       OperationKind   `json:"kind"`
	Status     OperationStatus `json:"status"`
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt *time.Time      `json:"finishedAt,omitempty"`
	Error      string          `json:"error,omitempty"`
}
