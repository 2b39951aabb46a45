package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"fg-go/internal/api"
	"fg-go/internal/config"
	"fg-go/internal/database"
	"fg-go/internal/fg"
	"fg-go/internal/fs"
	"fg-go/internal/metrics"
	"fg-go/internal/registry"
	"fg-go/internal/retention"
	"fg-go/internal/snapshot"
	"fg-go/internal/staging"
	"fg-go/internal/transform"
	"fg-go/internal/watch"
)

// LockFile guards the snapshot root against a second fg process.
const LockFile = ".fg.lock"

// ShutdownTimeout bounds how long Serve waits for in-flight requests.
const ShutdownTimeout = 5 * time.Second

// ErrAmbiguousTarget is returned when a target reference matches more than one target.
var ErrAmbiguousTarget = errors.New("target reference is ambiguous")

// Options tunes an FGApp beyond what the config file holds.
type Options struct {
	// Command names the log session.
	Command string
	// Watch attaches live watchers to targets. One-shot CLI commands leave it off.
	Watch   bool
	Verbose bool
	// Console mirrors log output. Nil means stderr.
	Console io.Writer
	Version string
	Clock   fg.Clock
}

// FGApp is the application layer between the CLI and the engine.
// It constructs all dependencies from config, exposes operations that
// accept raw target references, and releases every resource on Close.
type FGApp struct {
	cfg       *config.Config
	opts      Options
	session   Session
	engine    *fg.Engine
	store     *snapshot.Store
	journal   *database.SQLiteJournal
	transform fg.ContentTransform
	metrics   *metrics.Metrics
	sweeper   *retention.Sweeper
	logger    fg.Logger
	logFile   *os.File

	unobserve func()
	unlock    func() error
}

// New builds every component from cfg and starts the engine, which loads the
// registry and applies crash recovery. The caller must call Close.
func New(ctx context.Context, cfg *config.Config, opts Options) (_ *FGApp, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if opts.Clock == nil {
		opts.Clock = fg.RealClock{}
	}
	if opts.Console == nil {
		opts.Console = os.Stderr
	}
	if opts.Command == "" {
		opts.Command = "fg"
	}

	a := &FGApp{cfg: cfg, opts: opts, session: NewSession(opts.Command, opts.Clock.Now())}
	defer func() {
		if err != nil {
			a.release()
		}
	}()

	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	sl, logFile, err := newLogger(cfg.LogDir, a.session.ID(), level, opts.Console)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	a.logFile = logFile
	a.logger = &slogAdapter{l: sl}

	if err := os.MkdirAll(cfg.Snapshot.Root, 0o755); err != nil {
		return nil, fmt.Errorf("creating snapshot root: %w", err)
	}
	// Target paths are symlink-free, so the overlap check needs the real root too.
	root, err := filepath.EvalSymlinks(cfg.Snapshot.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving snapshot root: %w", err)
	}
	a.unlock, err = fs.Lock(filepath.Join(root, LockFile))
	if err != nil {
		return nil, err
	}

	a.journal, err = database.NewJournalFromConfig(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	if err := a.journal.CheckMigrations(); err != nil {
		return nil, fmt.Errorf("journal schema out of date: %w", err)
	}
	if n, err := a.journal.AbandonRunning(opts.Clock.Now()); err != nil {
		return nil, fmt.Errorf("closing interrupted journal entries: %w", err)
	} else if n > 0 {
		a.logger.Warn("interrupted operations found in journal", "count", n)
	}

	a.transform, err = transform.NewFromConfig(cfg.Snapshot, cfg.Encryption)
	if err != nil {
		return nil, fmt.Errorf("creating content transform: %w", err)
	}

	fsmgr := fs.NewOSFilesystemManager()
	a.store, err = snapshot.NewStore(snapshot.Options{
		Root:          root,
		FS:            fsmgr,
		Transform:     a.transform,
		Stager:        staging.New(a.logger),
		Logger:        a.logger,
		Clock:         opts.Clock,
		VerifyRestore: cfg.Snapshot.VerifyRestore,
		MaxSize:       cfg.Snapshot.MaxSize,
	})
	if err != nil {
		return nil, fmt.Errorf("creating snapshot store: %w", err)
	}

	bus := fg.NewEventBus()
	reg, err := registry.New(root, bus, a.logger)
	if err != nil {
		return nil, fmt.Errorf("creating registry: %w", err)
	}

	var watcher fg.Watcher = idleWatcher{}
	if opts.Watch {
		watcher = watch.New(watch.Options{
			Debounce: time.Duration(cfg.Watcher.DebounceMS) * time.Millisecond,
			Exclude:  fs.NewExcludeMatcher(append(append([]string{}, fs.DefaultExcludePatterns...), cfg.Watcher.Exclude...)),
			Logger:   a.logger,
			Clock:    opts.Clock,
		})
	}

	a.metrics = metrics.New(nil)
	a.engine = fg.NewEngine(fg.EngineDeps{
		Registry:                reg,
		Store:                   a.store,
		Watcher:                 watcher,
		FS:                      fsmgr,
		Journal:                 a.journal,
		Recorder:                a.metrics,
		Bus:                     bus,
		Logger:                  a.logger,
		Clock:                   opts.Clock,
		IDs:                     fg.UUIDGenerator{},
		SnapshotRoot:            root,
		MaxConcurrentOperations: cfg.Engine.MaxConcurrentOperations,
	})
	a.metrics.SetTargets(a.engine)
	a.unobserve = a.metrics.Observe(bus)

	a.sweeper = retention.New(retention.Options{
		Snapshots: a.store,
		Targets:   a.engine,
		Journal:   a.journal,
		MaxAge:    retention.MaxAgeFromDays(cfg.Retention.AutoCleanupDays),
		Logger:    a.logger,
		Clock:     opts.Clock,
	})

	if err := a.engine.Start(ctx); err != nil {
		// The catalog may not be loaded; closing the engine would save it over the state file.
		a.engine = nil
		watcher.Close()
		return nil, fmt.Errorf("starting engine: %w", err)
	}

	a.logger.Debug("app ready", "snapshot_root", root, "transform", a.transform.Name())
	return a, nil
}

// Config returns the configuration the app was built from.
func (a *FGApp) Config() *config.Config {
	return a.cfg
}

// NeedsUnlock reports whether restores need a passphrase first.
func (a *FGApp) NeedsUnlock() bool {
	return transform.NeedsUnlock(a.transform)
}

// Unlock supplies the passphrase protecting the snapshot private key.
func (a *FGApp) Unlock(passphrase string) error {
	return transform.Unlock(a.transform, passphrase)
}

// AddTarget registers rawPath.
func (a *FGApp) AddTarget(ctx context.Context, rawPath string) (*fg.FreezeTarget, error) {
	return a.engine.AddTarget(ctx, rawPath)
}

// RemoveTarget removes the target ref names.
func (a *FGApp) RemoveTarget(ctx context.Context, ref string) error {
	t, err := a.ResolveTarget(ref)
	if err != nil {
		return err
	}
	return a.engine.RemoveTarget(ctx, t.ID)
}

// FreezeTarget freezes the target ref names and returns its updated record.
func (a *FGApp) FreezeTarget(ctx context.Context, ref string) (*fg.FreezeTarget, error) {
	return a.run(ref, func(id string) error { return a.engine.FreezeTarget(ctx, id) })
}

// RestoreTarget restores the target ref names and returns its updated record.
func (a *FGApp) RestoreTarget(ctx context.Context, ref string) (*fg.FreezeTarget, error) {
	return a.run(ref, func(id string) error { return a.engine.RestoreTarget(ctx, id) })
}

// RecoverTarget returns an errored target to active.
func (a *FGApp) RecoverTarget(ctx context.Context, ref string) (*fg.FreezeTarget, error) {
	return a.run(ref, func(id string) error { return a.engine.RecoverTarget(ctx, id) })
}

func (a *FGApp) run(ref string, op func(id string) error) (*fg.FreezeTarget, error) {
	t, err := a.ResolveTarget(ref)
	if err != nil {
		return nil, err
	}
	if err := op(t.ID); err != nil {
		return nil, err
	}
	return a.engine.GetTarget(t.ID)
}

// ResolveTarget finds a target by exact id, by path, or by a unique id prefix.
func (a *FGApp) ResolveTarget(ref string) (*fg.FreezeTarget, error) {
	if ref == "" {
		return nil, fmt.Errorf("empty target reference: %w", fg.ErrNotFound)
	}
	if t, err := a.engine.GetTarget(ref); err == nil {
		return t, nil
	}

	all := a.engine.GetAllTargets()
	if abs, err := filepath.Abs(ref); err == nil {
		if resolved, err := filepath.EvalSymlinks(abs); err == nil {
			abs = resolved
		}
		if t, ok := lo.Find(all, func(t *fg.FreezeTarget) bool { return t.Path == abs }); ok {
			return t, nil
		}
	}

	matches := lo.Filter(all, func(t *fg.FreezeTarget, _ int) bool { return strings.HasPrefix(t.ID, ref) })
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%s: %w", ref, fg.ErrNotFound)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("%q matches %d targets: %w", ref, len(matches), ErrAmbiguousTarget)
	}
}

// Targets returns every registered target.
func (a *FGApp) Targets() []*fg.FreezeTarget {
	return a.engine.GetAllTargets()
}

// Snapshots lists stored snapshots, newest first.
func (a *FGApp) Snapshots() ([]*fg.Snapshot, error) {
	return a.engine.Snapshots()
}

// History returns the most recent journal entries.
func (a *FGApp) History(limit int) ([]*fg.Operation, error) {
	return a.engine.History(limit)
}

// Cleanup runs one retention sweep.
func (a *FGApp) Cleanup(ctx context.Context) (*retention.Report, error) {
	return a.sweeper.Sweep(ctx)
}

// Drives lists candidate roots for new targets.
func (a *FGApp) Drives() []string {
	return fs.CandidateRoots()
}

// Serve runs the HTTP API and, when enabled, the retention schedule until ctx
// is cancelled or the listener fails.
func (a *FGApp) Serve(ctx context.Context, addr string) error {
	if addr == "" {
		addr = a.cfg.Server.Listen
	}

	srv := api.New(api.Options{
		Engine:    a.engine,
		Cleaner:   a.sweeper,
		Gatherer:  a.metrics.Registry(),
		Drives:    a.Drives,
		AccessLog: a.logFile,
		Logger:    a.logger,
		Version:   a.opts.Version,
	})

	var sched *retention.Scheduler
	if a.cfg.Retention.Enabled {
		var err error
		sched, err = retention.NewScheduler(a.cfg.Retention.Schedule, a.sweeper, a.logger)
		if err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Listen(addr); err != nil {
			return fmt.Errorf("serving api on %s: %w", addr, err)
		}
		return nil
	})
	if sched != nil {
		g.Go(func() error { return sched.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		a.logger.Info("api shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Close stops the engine and releases the journal, lock and log file.
func (a *FGApp) Close() error {
	var firstErr error
	if a.engine != nil {
		if err := a.engine.Close(); err != nil {
			firstErr = err
		}
	}
	if err := a.release(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// release frees everything New acquired except the engine.
func (a *FGApp) release() error {
	var firstErr error
	if a.unobserve != nil {
		a.unobserve()
		a.unobserve = nil
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			firstErr = fmt.Errorf("closing journal: %w", err)
		}
		a.journal = nil
	}
	if a.unlock != nil {
		if err := a.unlock(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("releasing lock: %w", err)
		}
		a.unlock = nil
	}
	if a.logFile != nil {
		a.logFile.Close()
		a.logFile = nil
	}
	return firstErr
}

// idleWatcher stands in for the live watcher in one-shot commands.
type idleWatcher struct{}

func (idleWatcher) Watch(string, string, func([]fg.Change), func(error)) error { return nil }
func (idleWatcher) Unwatch(string)                                             {}
func (idleWatcher) Close() error                                               { return nil }
