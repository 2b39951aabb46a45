package registry

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"fg-go/internal/fg"
)

var created = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

func newTarget(id, path string, offset time.Duration) *fg.FreezeTarget {
	return &fg.FreezeTarget{
		ID:        id,
		Path:      path,
		Name:      filepath.Base(path),
		Kind:      fg.KindFolder,
		Status:    fg.StatusActive,
		CreatedAt: created.Add(offset),
	}
}

type eventLog struct {
	mu     sync.Mutex
	events []fg.Event
}

func (l *eventLog) Publish(ev fg.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func newTestRegistry(t *testing.T) (*Registry, *eventLog, string) {
	t.Helper()
	root := t.TempDir()
	events := &eventLog{}
	r, err := New(root, events, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return r, events, root
}

func TestRegistry_AddGetRemove(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	if err := r.Add(newTarget("b", "/data/b", time.Minute)); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := r.Add(newTarget("a", "/data/a", 0)); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	t.Run("duplicate path", func(t *testing.T) {
		err := r.Add(newTarget("c", "/data/a", 0))
		if !errors.Is(err, fg.ErrDuplicateTarget) {
			t.Errorf("Add() error = %v, want ErrDuplicateTarget", err)
		}
	})

	t.Run("ordered by creation", func(t *testing.T) {
		all := r.GetAll()
		if len(all) != 2 || all[0].ID != "a" || all[1].ID != "b" {
			t.Errorf("GetAll() = %v", all)
		}
	})

	t.Run("returns copies", func(t *testing.T) {
		got, err := r.Get("a")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		got.ChangeCount = 99
		again, _ := r.Get("a")
		if again.ChangeCount != 0 {
			t.Error("mutating a returned target changed the registry")
		}
	})

	t.Run("find by path", func(t *testing.T) {
		if got := r.FindByPath("/data/b"); got == nil || got.ID != "b" {
			t.Errorf("FindByPath() = %v", got)
		}
		if got := r.FindByPath("/data/none"); got != nil {
			t.Errorf("FindByPath() = %v, want nil", got)
		}
	})

	t.Run("remove", func(t *testing.T) {
		if err := r.Remove("a"); err != nil {
			t.Fatalf("Remove() error = %v", err)
		}
		if _, err := r.Get("a"); !errors.Is(err, fg.ErrNotFound) {
			t.Errorf("Get() error = %v, want ErrNotFound", err)
		}
		if err := r.Remove("a"); !errors.Is(err, fg.ErrNotFound) {
			t.Errorf("Remove() error = %v, want ErrNotFound", err)
		}
	})
}

func TestRegistry_PersistsAcrossLoad(t *testing.T) {
	r, _, root := newTestRegistry(t)
	if err := r.Add(newTarget("a", "/data/a", 0)); err != nil {
		t.Fatal(err)
	}
	if _, err := r.UpdateStatus("a", fg.StatusFreezing); err != nil {
		t.Fatal(err)
	}
	frozenAt := created.Add(time.Hour)
	if _, err := r.UpdateStatus("a", fg.StatusFrozen, func(t *fg.FreezeTarget) {
		t.SnapshotRef = "a_1"
		t.LastFrozenAt = &frozenAt
	}); err != nil {
		t.Fatal(err)
	}

	reopened, err := New(root, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	loaded, err := reopened.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if diff := cmp.Diff(r.GetAll(), loaded); diff != "" {
		t.Errorf("loaded targets mismatch (-want +got):\n%s", diff)
	}
}

func TestRegistry_UpdateStatus(t *testing.T) {
	r, events, _ := newTestRegistry(t)
	if err := r.Add(newTarget("a", "/data/a", 0)); err != nil {
		t.Fatal(err)
	}

	if _, err := r.UpdateStatus("a", fg.StatusRestoring); !errors.Is(err, fg.ErrInvalidState) {
		t.Errorf("active -> restoring error = %v, want ErrInvalidState", err)
	}
	if _, err := r.UpdateStatus("a", fg.StatusFreezing); err != nil {
		t.Fatalf("active -> freezing error = %v", err)
	}
	if _, err := r.UpdateStatus("a", fg.StatusFrozen); !errors.Is(err, fg.ErrInvalidState) {
		t.Errorf("frozen without snapshot error = %v, want ErrInvalidState", err)
	}
	got, _ := r.Get("a")
	if got.Status != fg.StatusFreezing {
		t.Errorf("rejected update changed status to %s", got.Status)
	}

	// Same-status update applies fields without an event.
	if _, err := r.UpdateStatus("a", fg.StatusFreezing, func(t *fg.FreezeTarget) { t.Issue = "x" }); err != nil {
		t.Fatal(err)
	}
	if _, err := r.UpdateStatus("missing", fg.StatusActive); !errors.Is(err, fg.ErrNotFound) {
		t.Errorf("UpdateStatus(missing) error = %v, want ErrNotFound", err)
	}

	want := []fg.Event{fg.TargetStatusChanged{TargetID: "a", Status: fg.StatusFreezing}}
	if diff := cmp.Diff(want, events.events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestRegistry_Update(t *testing.T) {
	r, events, _ := newTestRegistry(t)
	if err := r.Add(newTarget("a", "/data/a", 0)); err != nil {
		t.Fatal(err)
	}

	got, err := r.Update("a", func(t *fg.FreezeTarget) { t.ChangeCount += 3 })
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got.ChangeCount != 3 {
		t.Errorf("ChangeCount = %d, want 3", got.ChangeCount)
	}

	if _, err := r.Update("a", func(t *fg.FreezeTarget) { t.Status = fg.StatusFrozen }); !errors.Is(err, fg.ErrInvalidState) {
		t.Errorf("Update() changing status error = %v, want ErrInvalidState", err)
	}
	if len(events.events) != 0 {
		t.Errorf("Update() published %v", events.events)
	}
}

func TestRegistry_ConcurrentUpdates(t *testing.T) {
	r, _, root := newTestRegistry(t)
	if err := r.Add(newTarget("a", "/data/a", 0)); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Update("a", func(t *fg.FreezeTarget) { t.ChangeCount++ }); err != nil {
				t.Errorf("Update() error = %v", err)
			}
		}()
	}
	wg.Wait()

	reopened, _ := New(root, nil, nil)
	loaded, err := reopened.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(loaded) != 1 || loaded[0].ChangeCount != 20 {
		t.Errorf("persisted ChangeCount = %v, want 20", loaded)
	}
}

func TestRegistry_Load(t *testing.T) {
	t.Run("missing file is empty", func(t *testing.T) {
		r, _, _ := newTestRegistry(t)
		got, err := r.Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if len(got) != 0 {
			t.Errorf("Load() = %v, want empty", got)
		}
	})

	t.Run("corrupt file is an error", func(t *testing.T) {
		r, _, root := newTestRegistry(t)
		if err := r.Add(newTarget("a", "/data/a", 0)); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(root, StateFile), []byte("{not json"), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := r.Load(); err == nil {
			t.Fatal("Load() expected error")
		}
		if _, err := r.Get("a"); err != nil {
			t.Errorf("failed Load() dropped in-memory state: %v", err)
		}
	})

	t.Run("skips invalid records", func(t *testing.T) {
		r, _, root := newTestRegistry(t)
		doc := `[
  {"id": "ok", "path": "/data/ok", "status": "frozen", "snapshotRef": "ok_1"},
  {"id": "", "path": "/data/noid", "status": "active"},
  {"id": "weird", "path": "/data/weird", "status": "melting"},
  {"id": "dup", "path": "/data/ok", "status": "active"}
]`
		if err := os.WriteFile(filepath.Join(root, StateFile), []byte(doc), 0o644); err != nil {
			t.Fatal(err)
		}
		got, err := r.Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if len(got) != 1 || got[0].ID != "ok" || got[0].Status != fg.StatusFrozen {
			t.Errorf("Load() = %v", got)
		}
	})
}

func TestRegistry_StateFileFormat(t *testing.T) {
	r, _, root := newTestRegistry(t)
	if err := r.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	data, err := os.ReadFile(filepath.Join(root, StateFile))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "[]" {
		t.Errorf("empty state file = %q, want []", data)
	}

	if err := r.Add(newTarget("a", "/data/a", 0)); err != nil {
		t.Fatal(err)
	}
	entries, _ := os.ReadDir(root)
	for _, e := range entries {
		if e.Name() != StateFile {
			t.Errorf("unexpected file left in registry root: %s", e.Name())
		}
	}
}
