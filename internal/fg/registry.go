package fg

// Registry is the catalog of freeze targets and the single source of truth
// for their lifecycle. Implementations persist after every mutation.
type Registry interface {
	// Load reads persisted state, replacing the in-memory catalog.
	Load() ([]*FreezeTarget, error)

	// Add registers a new target. A target with the same path yields ErrDuplicateTarget.
	Add(t *FreezeTarget) error

	// Remove deletes the record for id.
	Remove(id string) error

	// Get returns a copy of the record for id or ErrNotFound.
	Get(id string) (*FreezeTarget, error)

	// GetAll returns copies of all records ordered by creation time.
	GetAll() []*FreezeTarget

	// FindByPath returns a copy of the target registered at path, or nil.
	FindByPath(path string) *FreezeTarget

	// UpdateStatus moves the target to status, applying the optional mutations in
	// the same step. It emits exactly one targetStatusChanged event when the status
	// actually changes and rejects illegal transitions with *InvalidStateError.
	UpdateStatus(id string, status Status, apply ...func(*FreezeTarget)) (*FreezeTarget, error)

	// Update mutates non-status fields of a target.
	Update(id string, apply func(*FreezeTarget)) (*FreezeTarget, error)

	// Save persists the full catalog.
	Save() error
}
