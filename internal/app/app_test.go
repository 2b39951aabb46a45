package app

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"fg-go/internal/config"
	"fg-go/internal/fg"
)

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	return config.NewConfig(filepath.Join(t.TempDir(), "fg"))
}

func newTestApp(t *testing.T, cfg *config.Config) *FGApp {
	t.Helper()
	a, err := New(context.Background(), cfg, Options{Command: "test", Console: io.Discard})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return a
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestApp_FreezeRestoreCycle(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig(t)
	data := filepath.Join(t.TempDir(), "data")
	writeFile(t, filepath.Join(data, "notes.txt"), "original")

	a := newTestApp(t, cfg)

	target, err := a.AddTarget(ctx, data)
	if err != nil {
		t.Fatalf("AddTarget() error = %v", err)
	}

	frozen, err := a.FreezeTarget(ctx, data)
	if err != nil {
		t.Fatalf("FreezeTarget() error = %v", err)
	}
	if frozen.Status != fg.StatusFrozen || frozen.SnapshotRef == "" {
		t.Fatalf("after freeze status = %s ref = %q", frozen.Status, frozen.SnapshotRef)
	}

	writeFile(t, filepath.Join(data, "notes.txt"), "changed")
	writeFile(t, filepath.Join(data, "new.txt"), "junk")

	restored, err := a.RestoreTarget(ctx, target.ID[:8])
	if err != nil {
		t.Fatalf("RestoreTarget() error = %v", err)
	}
	if restored.Status != fg.StatusActive {
		t.Errorf("after restore status = %s, want %s", restored.Status, fg.StatusActive)
	}

	got, err := os.ReadFile(filepath.Join(data, "notes.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "original" {
		t.Errorf("notes.txt = %q, want %q", got, "original")
	}
	if _, err := os.Stat(filepath.Join(data, "new.txt")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("new.txt survived restore: %v", err)
	}

	snaps, err := a.Snapshots()
	if err != nil {
		t.Fatalf("Snapshots() error = %v", err)
	}
	if len(snaps) != 1 {
		t.Errorf("Snapshots() = %d, want 1", len(snaps))
	}

	ops, err := a.History(0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(ops) != 3 {
		t.Errorf("History() = %d entries, want 3", len(ops))
	}

	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened := newTestApp(t, cfg)
	defer reopened.Close()

	targets := reopened.Targets()
	if len(targets) != 1 || targets[0].ID != target.ID {
		t.Fatalf("Targets() after reopen = %+v", targets)
	}
	if targets[0].LastRestoredAt == nil {
		t.Error("LastRestoredAt not persisted")
	}
}

func TestApp_ResolveTarget(t *testing.T) {
	ctx := context.Background()
	data := filepath.Join(t.TempDir(), "data")
	writeFile(t, filepath.Join(data, "a.txt"), "a")

	a := newTestApp(t, newTestConfig(t))
	defer a.Close()

	target, err := a.AddTarget(ctx, data)
	if err != nil {
		t.Fatalf("AddTarget() error = %v", err)
	}

	for _, ref := range []string{target.ID, target.ID[:6], data, data + "/"} {
		got, err := a.ResolveTarget(ref)
		if err != nil {
			t.Errorf("ResolveTarget(%q) error = %v", ref, err)
			continue
		}
		if got.ID != target.ID {
			t.Errorf("ResolveTarget(%q) = %s, want %s", ref, got.ID, target.ID)
		}
	}

	for _, ref := range []string{"", "zzz-no-such-target"} {
		if _, err := a.ResolveTarget(ref); !errors.Is(err, fg.ErrNotFound) {
			t.Errorf("ResolveTarget(%q) error = %v, want ErrNotFound", ref, err)
		}
	}

	if err := a.RemoveTarget(ctx, data); err != nil {
		t.Fatalf("RemoveTarget() error = %v", err)
	}
	if len(a.Targets()) != 0 {
		t.Errorf("Targets() after remove = %d, want 0", len(a.Targets()))
	}
}

func TestApp_InvalidConfig(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Engine.MaxConcurrentOperations = 0

	if _, err := New(context.Background(), cfg, Options{Console: io.Discard}); err == nil {
		t.Fatal("New() with invalid config succeeded")
	}
	if _, err := os.Stat(cfg.Snapshot.Root); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("snapshot root created for invalid config: %v", err)
	}
}

func TestApp_Cleanup(t *testing.T) {
	a := newTestApp(t, newTestConfig(t))
	defer a.Close()

	report, err := a.Cleanup(context.Background())
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if n := len(report.Removed()); n != 0 {
		t.Errorf("Cleanup() removed %d snapshots from an empty root", n)
	}
}

func TestApp_Unlock(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Encryption.Enabled = true
	cfg.Encryption.Type = "test"

	a := newTestApp(t, cfg)
	defer a.Close()

	if a.NeedsUnlock() {
		t.Error("NeedsUnlock() = true for a transform without a secret")
	}
	if err := a.Unlock("anything"); err != nil {
		t.Errorf("Unlock() error = %v", err)
	}
}
