// Package watch reports filesystem drift below target roots.
package watch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"fg-go/internal/fg"
	fgfs "fg-go/internal/fs"
)

// DefaultDebounce is the quiet period after the last raw event before a batch is delivered.
const DefaultDebounce = 500 * time.Millisecond

var (
	ErrClosed      = errors.New("watcher closed")
	ErrRootRemoved = errors.New("watched root was removed")
)

// Options configures a Watcher.
type Options struct {
	Debounce time.Duration
	// Exclude filters paths relative to the watched root. Dot-paths are always ignored.
	Exclude *fgfs.ExcludeMatcher
	Logger  fg.Logger
	Clock   fg.Clock
}

// Watcher runs one recursive fsnotify watch per target id.
type Watcher struct {
	opts Options

	mu      sync.Mutex
	closed  bool
	watches map[string]*watch
}

// New creates a Watcher.
func New(opts Options) *Watcher {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = fg.NewNopLogger()
	}
	if opts.Clock == nil {
		opts.Clock = fg.RealClock{}
	}
	return &Watcher{opts: opts, watches: make(map[string]*watch)}
}

// Watch starts monitoring path for id, replacing any existing watch for id.
func (w *Watcher) Watch(id, path string, onBatch func([]fg.Change), onError func(error)) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	wt := &watch{
		id:       id,
		root:     filepath.Clean(path),
		opts:     w.opts,
		fsw:      fsw,
		onBatch:  onBatch,
		onError:  onError,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		debounce: w.opts.Debounce,
	}
	if _, err := wt.addTree(wt.root, false); err != nil {
		fsw.Close()
		return fmt.Errorf("watching %s: %w", path, err)
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		fsw.Close()
		return ErrClosed
	}
	old := w.watches[id]
	w.watches[id] = wt
	w.mu.Unlock()

	if old != nil {
		old.stop()
	}
	go wt.run()

	w.opts.Logger.Debug("watch started", "target", id, "path", path)
	return nil
}

// Unwatch stops monitoring id. It returns once no further callbacks for id can run.
func (w *Watcher) Unwatch(id string) {
	w.mu.Lock()
	wt := w.watches[id]
	delete(w.watches, id)
	w.mu.Unlock()

	if wt != nil {
		wt.stop()
		w.opts.Logger.Debug("watch stopped", "target", id)
	}
}

// Close stops every watch. Later calls to Watch fail with ErrClosed.
func (w *Watcher) Close() error {
	w.mu.Lock()
	w.closed = true
	watches := w.watches
	w.watches = make(map[string]*watch)
	w.mu.Unlock()

	for _, wt := range watches {
		wt.stop()
	}
	return nil
}

var _ fg.Watcher = (*Watcher)(nil)

type watch struct {
	id       string
	root     string
	opts     Options
	fsw      *fsnotify.Watcher
	onBatch  func([]fg.Change)
	onError  func(error)
	debounce time.Duration

	stopOnce sync.Once
	done     chan struct{}
	stopped  chan struct{}
}

func (wt *watch) stop() {
	wt.stopOnce.Do(func() { close(wt.done) })
	<-wt.stopped
}

// run owns the pending batch. A batch is flushed once no event has arrived
// for the debounce period; pending events are dropped on stop.
func (wt *watch) run() {
	defer close(wt.stopped)
	defer wt.fsw.Close()

	var (
		pending []fg.Change
		latest  = make(map[string]int)
		timer   = time.NewTimer(wt.debounce)
		timerC  <-chan time.Time
	)
	timer.Stop()
	defer timer.Stop()

	// queue keeps one entry per path and type. A write that follows a create
	// in the same batch only refreshes the created entry's size.
	queue := func(c fg.Change) {
		if i, ok := latest[c.Path]; ok {
			prev := &pending[i]
			if prev.Type == c.Type || (prev.Type == fg.ChangeCreated && c.Type == fg.ChangeModified) {
				prev.Size = c.Size
				return
			}
		}
		latest[c.Path] = len(pending)
		pending = append(pending, c)
	}

	for {
		select {
		case <-wt.done:
			return

		case ev, ok := <-wt.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) == wt.root && ev.Has(fsnotify.Remove|fsnotify.Rename) {
				wt.onError(fmt.Errorf("%s: %w", wt.root, ErrRootRemoved))
				return
			}
			c, ok := wt.translate(ev)
			if !ok {
				continue
			}
			queue(c)
			if c.Type == fg.ChangeCreated {
				if info, err := os.Lstat(ev.Name); err == nil && info.IsDir() {
					found, err := wt.addTree(ev.Name, true)
					if err != nil {
						wt.opts.Logger.Warn("watching new directory failed", "target", wt.id, "path", ev.Name, "error", err)
					}
					for _, f := range found {
						queue(f)
					}
				}
			}
			timer.Reset(wt.debounce)
			timerC = timer.C

		case <-timerC:
			timerC = nil
			if len(pending) == 0 {
				continue
			}
			batch := pending
			pending = nil
			clear(latest)
			wt.onBatch(batch)

		case err, ok := <-wt.fsw.Errors:
			if !ok {
				return
			}
			wt.onError(err)
		}
	}
}

// translate maps a raw event to a Change. Chmod-only and ignored paths yield false.
func (wt *watch) translate(ev fsnotify.Event) (fg.Change, bool) {
	if wt.ignored(ev.Name) {
		return fg.Change{}, false
	}

	var typ fg.ChangeType
	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		typ = fg.ChangeDeleted
	case ev.Has(fsnotify.Create):
		typ = fg.ChangeCreated
	case ev.Has(fsnotify.Write):
		typ = fg.ChangeModified
	default:
		return fg.Change{}, false
	}

	c := fg.Change{Type: typ, Path: ev.Name, Timestamp: wt.opts.Clock.Now()}
	if typ != fg.ChangeDeleted {
		if info, err := os.Lstat(ev.Name); err == nil && !info.IsDir() {
			c.Size = info.Size()
		}
	}
	return c, true
}

func (wt *watch) ignored(path string) bool {
	rel, err := filepath.Rel(wt.root, path)
	if err != nil || rel == "." {
		return false
	}
	return fgfs.IsHidden(rel) || wt.opts.Exclude.Match(rel)
}

// addTree adds dir and every non-ignored directory below it to the fsnotify
// watch. With synthesize set it also returns created changes for everything
// already inside, since those entries appeared before the watch existed.
func (wt *watch) addTree(dir string, synthesize bool) ([]fg.Change, error) {
	var found []fg.Change
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			wt.opts.Logger.Warn("skipping unreadable path", "target", wt.id, "path", p, "error", err)
			return nil
		}
		if p != wt.root && wt.ignored(p) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if synthesize && p != dir {
			c := fg.Change{Type: fg.ChangeCreated, Path: p, Timestamp: wt.opts.Clock.Now()}
			if !d.IsDir() {
				if info, err := d.Info(); err == nil {
					c.Size = info.Size()
				}
			}
			found = append(found, c)
		}
		if d.IsDir() {
			if err := wt.fsw.Add(p); err != nil {
				return fmt.Errorf("adding %s: %w", p, err)
			}
		}
		return nil
	})
	return found, err
}
