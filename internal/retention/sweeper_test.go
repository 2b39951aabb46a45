package retention

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"fg-go/internal/fg"
	"fg-go/internal/snapshot"
	"fg-go/internal/testutil"
)

type fakeSnapshots struct {
	entries []snapshot.Entry
	failOn  string
	deleted []string
}

func (f *fakeSnapshots) Entries() ([]snapshot.Entry, error) {
	return f.entries, nil
}

func (f *fakeSnapshots) Delete(ref string) error {
	if ref == f.failOn {
		return errors.New("permission denied")
	}
	f.deleted = append(f.deleted, ref)
	return nil
}

type fakeTargets []*fg.FreezeTarget

func (f fakeTargets) GetAllTargets() []*fg.FreezeTarget { return f }

type fakeJournal struct {
	cutoff time.Time
}

func (f *fakeJournal) PruneBefore(cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return 7, nil
}

func entry(id, targetID string, created time.Time) snapshot.Entry {
	return snapshot.Entry{
		ID:       id,
		ModTime:  created.UnixMilli(),
		Snapshot: &fg.Snapshot{ID: id, TargetID: targetID, CreatedAt: created},
	}
}

func TestSweeper_Sweep(t *testing.T) {
	clock := testutil.FixedClock()
	now := clock.Now()
	old := now.Add(-60 * 24 * time.Hour)

	snaps := &fakeSnapshots{entries: []snapshot.Entry{
		entry("a_old", "a", old),                                  // referenced, never removed however old
		entry("a_superseded", "a", old),                           // expired
		entry("b_recent", "b", now.Add(-time.Hour)),               // unreferenced but young
		entry("gone_1", "gone", now),                              // target no longer exists
		{ID: "c_1", ModTime: now.Add(-2 * time.Hour).UnixMilli()}, // abandoned
		{ID: "c_2", ModTime: now.Add(-time.Minute).UnixMilli()},   // in progress
	}}
	targets := fakeTargets{
		{ID: "a", SnapshotRef: "a_old", Status: fg.StatusFrozen},
		{ID: "b", Status: fg.StatusActive},
		{ID: "c", Status: fg.StatusActive},
	}
	journal := &fakeJournal{}

	s := New(Options{
		Snapshots: snaps,
		Targets:   targets,
		Journal:   journal,
		MaxAge:    MaxAgeFromDays(30),
		Clock:     clock,
	})

	report, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}

	want := &Report{
		Expired:       []string{"a_superseded"},
		Orphaned:      []string{"gone_1"},
		Incomplete:    []string{"c_1"},
		Kept:          3,
		JournalPruned: 7,
	}
	if diff := cmp.Diff(want, report); diff != "" {
		t.Errorf("Sweep() report mismatch (-want +got):\n%s", diff)
	}
	if slices.Contains(snaps.deleted, "a_old") {
		t.Error("referenced snapshot was deleted")
	}
	if !journal.cutoff.Equal(now.Add(-30 * 24 * time.Hour)) {
		t.Errorf("journal cutoff = %v", journal.cutoff)
	}
	if diff := cmp.Diff([]string{"a_superseded", "gone_1", "c_1"}, report.Removed()); diff != "" {
		t.Errorf("Removed() mismatch (-want +got):\n%s", diff)
	}
}

func TestSweeper_KeepsLongRunningFreeze(t *testing.T) {
	clock := testutil.FixedClock()
	started := clock.Now().Add(-3 * DefaultIncompleteGrace).UnixMilli()
	snaps := &fakeSnapshots{entries: []snapshot.Entry{
		{ID: "d_1700000000000", ModTime: started},
		{ID: "e_1700000000000", ModTime: started},
	}}
	targets := fakeTargets{
		{ID: "d", Status: fg.StatusFreezing},
		{ID: "e", Status: fg.StatusActive},
	}

	s := New(Options{Snapshots: snaps, Targets: targets, Clock: clock})
	report, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if diff := cmp.Diff([]string{"e_1700000000000"}, snaps.deleted); diff != "" {
		t.Errorf("deleted mismatch (-want +got):\n%s", diff)
	}
	if report.Kept != 1 {
		t.Errorf("Kept = %d, want 1", report.Kept)
	}
}

func TestSweeper_ExpiryDisabled(t *testing.T) {
	clock := testutil.FixedClock()
	snaps := &fakeSnapshots{entries: []snapshot.Entry{
		entry("a_ancient", "a", clock.Now().AddDate(-5, 0, 0)),
	}}
	journal := &fakeJournal{}

	s := New(Options{Snapshots: snaps, Targets: fakeTargets{{ID: "a"}}, Journal: journal, Clock: clock})
	report, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if report.Kept != 1 || len(snaps.deleted) != 0 {
		t.Errorf("Sweep() with no max age removed %v", snaps.deleted)
	}
	if !journal.cutoff.IsZero() {
		t.Error("journal pruned with expiry disabled")
	}
}

func TestSweeper_DeleteFailure(t *testing.T) {
	clock := testutil.FixedClock()
	snaps := &fakeSnapshots{
		entries: []snapshot.Entry{entry("x_1", "x", clock.Now()), entry("y_1", "y", clock.Now())},
		failOn:  "x_1",
	}

	s := New(Options{Snapshots: snaps, Targets: fakeTargets{}, Clock: clock})
	report, err := s.Sweep(context.Background())
	if err == nil {
		t.Fatal("Sweep() expected error")
	}
	if diff := cmp.Diff([]string{"y_1"}, report.Orphaned); diff != "" {
		t.Errorf("Orphaned mismatch (-want +got):\n%s", diff)
	}
	if report.Kept != 1 {
		t.Errorf("Kept = %d, want 1", report.Kept)
	}
}

func TestSweeper_SingleFlight(t *testing.T) {
	s := New(Options{Snapshots: &fakeSnapshots{}, Targets: fakeTargets{}})
	s.running.Lock()
	defer s.running.Unlock()

	if _, err := s.Sweep(context.Background()); !errors.Is(err, ErrRunning) {
		t.Errorf("Sweep() error = %v, want ErrRunning", err)
	}
}
