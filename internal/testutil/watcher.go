package testutil

import (
	"errors"
	"sync"

	"fg-go/internal/fg"
)

type fakeWatch struct {
	path    string
	onBatch func([]fg.Change)
	onError func(error)
}

// FakeWatcher is an fg.Watcher driven by the test through Emit and Fail.
type FakeWatcher struct {
	mu      sync.Mutex
	watches map[string]fakeWatch
	closed  bool

	// WatchErr, when set, is returned by Watch.
	WatchErr error
}

var _ fg.Watcher = (*FakeWatcher)(nil)

func NewFakeWatcher() *FakeWatcher {
	return &FakeWatcher{watches: make(map[string]fakeWatch)}
}

func (w *FakeWatcher) Watch(id, path string, onBatch func([]fg.Change), onError func(error)) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errors.New("watcher closed")
	}
	if w.WatchErr != nil {
		return w.WatchErr
	}
	w.watches[id] = fakeWatch{path: path, onBatch: onBatch, onError: onError}
	return nil
}

func (w *FakeWatcher) Unwatch(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.watches, id)
}

func (w *FakeWatcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	w.watches = make(map[string]fakeWatch)
	return nil
}

// Watching reports whether id currently has a watch.
func (w *FakeWatcher) Watching(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.watches[id]
	return ok
}

// Emit delivers a change batch to id's watch. It returns false if id is not watched.
func (w *FakeWatcher) Emit(id string, changes ...fg.Change) bool {
	w.mu.Lock()
	wt, ok := w.watches[id]
	w.mu.Unlock()
	if !ok {
		return false
	}
	wt.onBatch(changes)
	return true
}

// Fail reports err on id's watch and drops it, as a real watcher does.
func (w *FakeWatcher) Fail(id string, err error) bool {
	w.mu.Lock()
	wt, ok := w.watches[id]
	delete(w.watches, id)
	w.mu.Unlock()
	if !ok {
		return false
	}
	wt.onError(err)
	return true
}
