// Package retention removes snapshots nothing refers to any more.
package retention

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"

	"fg-go/internal/fg"
	"fg-go/internal/snapshot"
)

// DefaultIncompleteGrace is how old a snapshot directory without metadata must
// be before it is treated as abandoned rather than still being written.
const DefaultIncompleteGrace = time.Hour

// ErrRunning is returned by Sweep while another sweep is in progress.
var ErrRunning = errors.New("cleanup already running")

// Snapshots is the part of the snapshot store a sweep needs.
type Snapshots interface {
	Entries() ([]snapshot.Entry, error)
	Delete(ref string) error
}

// Targets lists the registered targets.
type Targets interface {
	GetAllTargets() []*fg.FreezeTarget
}

// JournalPruner drops old journal rows. Optional.
type JournalPruner interface {
	PruneBefore(cutoff time.Time) (int64, error)
}

type Options struct {
	Snapshots Snapshots
	Targets   Targets
	Journal   JournalPruner
	// MaxAge expires unreferenced snapshots and journal rows older than this. Zero disables expiry.
	MaxAge          time.Duration
	IncompleteGrace time.Duration
	Logger          fg.Logger
	Clock           fg.Clock
}

// Report describes what one sweep did.
type Report struct {
	Expired       []string `json:"expired"`
	Orphaned      []string `json:"orphaned"`
	Incomplete    []string `json:"incomplete"`
	Kept          int      `json:"kept"`
	JournalPruned int64    `json:"journalPruned"`
}

// Removed returns every snapshot id the sweep deleted.
func (r *Report) Removed() []string {
	return lo.Flatten([][]string{r.Expired, r.Orphaned, r.Incomplete})
}

// Sweeper deletes expired, orphaned and abandoned snapshots. Snapshots
// referenced by a target are never touched.
type Sweeper struct {
	opts    Options
	running sync.Mutex
}

func New(opts Options) *Sweeper {
	if opts.IncompleteGrace <= 0 {
		opts.IncompleteGrace = DefaultIncompleteGrace
	}
	if opts.Logger == nil {
		opts.Logger = fg.NewNopLogger()
	}
	if opts.Clock == nil {
		opts.Clock = fg.RealClock{}
	}
	return &Sweeper{opts: opts}
}

// MaxAgeFromDays converts the configured day count into a duration.
func MaxAgeFromDays(days int) time.Duration {
	return time.Duration(days) * 24 * time.Hour
}

// Sweep runs one cleanup pass. Individual delete failures are logged and
// joined into the returned error; the report still lists what was removed.
func (s *Sweeper) Sweep(ctx context.Context) (*Report, error) {
	if !s.running.TryLock() {
		return nil, ErrRunning
	}
	defer s.running.Unlock()

	entries, err := s.opts.Snapshots.Entries()
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}

	targets := s.opts.Targets.GetAllTargets()
	known := lo.SliceToMap(targets, func(t *fg.FreezeTarget) (string, bool) { return t.ID, true })
	referenced := lo.SliceToMap(
		lo.Filter(targets, func(t *fg.FreezeTarget, _ int) bool { return t.SnapshotRef != "" }),
		func(t *fg.FreezeTarget) (string, bool) { return t.SnapshotRef, true },
	)
	freezing := lo.SliceToMap(
		lo.Filter(targets, func(t *fg.FreezeTarget, _ int) bool { return t.Status == fg.StatusFreezing }),
		func(t *fg.FreezeTarget) (string, bool) { return t.ID, true },
	)

	now := s.opts.Clock.Now()
	report := &Report{}
	var errs []error

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		reason := s.classify(e, known, referenced, freezing, now)
		if reason == keep {
			report.Kept++
			continue
		}

		if err := s.opts.Snapshots.Delete(e.ID); err != nil {
			s.opts.Logger.Warn("snapshot cleanup failed", "snapshot", e.ID, "error", err)
			errs = append(errs, fmt.Errorf("deleting %s: %w", e.ID, err))
			report.Kept++
			continue
		}
		s.opts.Logger.Debug("snapshot removed", "snapshot", e.ID, "reason", reason)

		switch reason {
		case expired:
			report.Expired = append(report.Expired, e.ID)
		case orphaned:
			report.Orphaned = append(report.Orphaned, e.ID)
		case incomplete:
			report.Incomplete = append(report.Incomplete, e.ID)
		}
	}

	if s.opts.Journal != nil && s.opts.MaxAge > 0 {
		n, err := s.opts.Journal.PruneBefore(now.Add(-s.opts.MaxAge))
		if err != nil {
			errs = append(errs, err)
		}
		report.JournalPruned = n
	}

	s.opts.Logger.Info("cleanup finished",
		"expired", len(report.Expired), "orphaned", len(report.Orphaned),
		"incomplete", len(report.Incomplete), "kept", report.Kept, "journal_pruned", report.JournalPruned)
	return report, errors.Join(errs...)
}

type reason string

const (
	keep       reason = ""
	expired    reason = "expired"
	orphaned   reason = "orphaned"
	incomplete reason = "incomplete"
)

func (s *Sweeper) classify(e snapshot.Entry, known, referenced, freezing map[string]bool, now time.Time) reason {
	if referenced[e.ID] {
		return keep
	}
	if e.Snapshot == nil {
		// Possibly a freeze still being written. A target that is freezing
		// keeps its partial snapshot however long the copy takes.
		if freezing[snapshot.TargetOf(e.ID)] || now.Sub(time.UnixMilli(e.ModTime)) < s.opts.IncompleteGrace {
			return keep
		}
		return incomplete
	}
	if !known[e.Snapshot.TargetID] {
		return orphaned
	}
	if s.opts.MaxAge > 0 && now.Sub(e.Snapshot.CreatedAt) > s.opts.MaxAge {
		return expired
	}
	return keep
}
