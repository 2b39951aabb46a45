package fg

// Watcher tracks live filesystem changes below target roots.
type Watcher interface {
	// Watch begins monitoring path under id, replacing any existing watch for id.
	// onBatch and onError are invoked on the watcher's own goroutine.
	Watch(id, path string, onBatch func([]Change), onError func(error)) error

	// Unwatch stops monitoring id and releases its resources. Unknown ids are ignored.
	Unwatch(id string)

	// Close stops every watch.
	Close() error
}
