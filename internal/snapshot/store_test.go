package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"fg-go/internal/fg"
	fgfs "fg-go/internal/fs"
	"fg-go/internal/staging"
	"fg-go/internal/testutil"
	"fg-go/internal/transform"
)

func newTestStore(t *testing.T, mutate ...func(*Options)) *Store {
	t.Helper()
	opts := Options{
		Root:          filepath.Join(t.TempDir(), "snapshots"),
		FS:            fgfs.NewOSFilesystemManager(),
		Stager:        staging.New(nil),
		Clock:         testutil.FixedClock(),
		VerifyRestore: true,
	}
	for _, m := range mutate {
		m(&opts)
	}
	s, err := NewStore(opts)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return s
}

func liveTree(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "live")
	testutil.WriteTree(t, dir, testutil.Tree{
		"notes.txt":      "original",
		"src/main.go":    "package main",
		"src/empty/":     "",
		"shortcut":       "-> notes.txt",
		"data/blob.bin":  "\x00\x01\x02\x03",
		"data/empty.txt": "",
	})
	return dir
}

func TestStore_CreateRestoreRoundTrip(t *testing.T) {
	for _, tr := range []fg.ContentTransform{transform.Identity{}, transform.NewZstd(2), transform.Test{}} {
		t.Run(tr.Name(), func(t *testing.T) {
			ctx := context.Background()
			s := newTestStore(t, func(o *Options) { o.Transform = tr })
			live := liveTree(t)
			want := testutil.ReadTree(t, live)

			snap, err := s.Create(ctx, "t1", live)
			if err != nil {
				t.Fatalf("Create() error = %v", err)
			}
			if snap.TargetID != "t1" || snap.TargetPath != live || snap.Transform != tr.Name() {
				t.Errorf("Create() = %+v", snap)
			}
			if snap.FileCount != 4 || snap.LinkCount != 1 || snap.SizeBytes != int64(len("original")+len("package main")+4) {
				t.Errorf("counts = files %d links %d size %d", snap.FileCount, snap.LinkCount, snap.SizeBytes)
			}

			testutil.WriteTree(t, live, testutil.Tree{"notes.txt.new": "drift", "src/extra.go": "x"})
			if err := os.WriteFile(filepath.Join(live, "notes.txt"), []byte("edited"), 0o644); err != nil {
				t.Fatal(err)
			}
			if err := os.RemoveAll(filepath.Join(live, "data")); err != nil {
				t.Fatal(err)
			}

			if err := s.Restore(ctx, snap.ID, live); err != nil {
				t.Fatalf("Restore() error = %v", err)
			}
			if diff := cmp.Diff(want, testutil.ReadTree(t, live)); diff != "" {
				t.Errorf("restored tree mismatch (-want +got):\n%s", diff)
			}

			// Restoring twice from the same snapshot works.
			if err := s.Restore(ctx, snap.ID, live); err != nil {
				t.Fatalf("second Restore() error = %v", err)
			}
		})
	}
}

func TestStore_CreateLayout(t *testing.T) {
	s := newTestStore(t)
	snap, err := s.Create(context.Background(), "t1", liveTree(t))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	wantID := "t1_" + "1705314600000"
	if snap.ID != wantID {
		t.Errorf("ID = %s, want %s", snap.ID, wantID)
	}
	for _, p := range []string{metadataFile, contentDir} {
		if _, err := os.Stat(filepath.Join(s.Root(), snap.ID, p)); err != nil {
			t.Errorf("missing %s: %v", p, err)
		}
	}

	got, err := s.Get(snap.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if diff := cmp.Diff(snap, got); diff != "" {
		t.Errorf("Get() mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_IDCollisionBumpsMillisecond(t *testing.T) {
	s := newTestStore(t)
	live := liveTree(t)

	first, err := s.Create(context.Background(), "t1", live)
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Create(context.Background(), "t1", live)
	if err != nil {
		t.Fatal(err)
	}
	if first.ID == second.ID {
		t.Fatalf("duplicate snapshot id %s", first.ID)
	}
	if second.ID != "t1_1705314600001" {
		t.Errorf("second ID = %s, want t1_1705314600001", second.ID)
	}
}

func TestStore_CreateFailures(t *testing.T) {
	t.Run("missing source", func(t *testing.T) {
		s := newTestStore(t)
		_, err := s.Create(context.Background(), "t1", filepath.Join(t.TempDir(), "gone"))
		var snapErr *fg.SnapshotError
		if !errors.As(err, &snapErr) {
			t.Fatalf("Create() error = %v, want *SnapshotError", err)
		}
	})

	t.Run("insufficient space", func(t *testing.T) {
		s := newTestStore(t, func(o *Options) {
			o.FreeSpace = func(string) (uint64, error) { return 10, nil }
		})
		_, err := s.Create(context.Background(), "t1", liveTree(t))
		var snapErr *fg.SnapshotError
		if !errors.As(err, &snapErr) {
			t.Fatalf("Create() error = %v, want *SnapshotError", err)
		}
		assertEmptyRoot(t, s)
	})

	t.Run("over size limit", func(t *testing.T) {
		s := newTestStore(t, func(o *Options) { o.MaxSize = 5 })
		_, err := s.Create(context.Background(), "t1", liveTree(t))
		if fg.KindOf(err) != "snapshot" {
			t.Fatalf("Create() error = %v, want snapshot kind", err)
		}
	})

	t.Run("copy failure removes partial snapshot", func(t *testing.T) {
		s := newTestStore(t, func(o *Options) { o.Transform = failingTransform{} })
		_, err := s.Create(context.Background(), "t1", liveTree(t))
		var snapErr *fg.SnapshotError
		if !errors.As(err, &snapErr) {
			t.Fatalf("Create() error = %v, want *SnapshotError", err)
		}
		assertEmptyRoot(t, s)
	})
}

type failingTransform struct{}

func (failingTransform) Name() string                      { return "failing" }
func (failingTransform) Encode(io.Reader, io.Writer) error { return errors.New("disk on fire") }
func (failingTransform) Decode(io.Reader, io.Writer) error { return errors.New("disk on fire") }

func assertEmptyRoot(t *testing.T, s *Store) {
	t.Helper()
	entries, err := os.ReadDir(s.Root())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("snapshot root not empty: %v", entries)
	}
}

func TestStore_RestoreFailures(t *testing.T) {
	t.Run("unknown snapshot", func(t *testing.T) {
		s := newTestStore(t)
		err := s.Restore(context.Background(), "t1_123", t.TempDir())
		if !errors.Is(err, fg.ErrSnapshotNotFound) {
			t.Fatalf("Restore() error = %v, want ErrSnapshotNotFound", err)
		}
		var snapErr *fg.SnapshotError
		if !errors.As(err, &snapErr) {
			t.Errorf("Restore() error = %v, want *SnapshotError", err)
		}
	})

	t.Run("transform mismatch leaves live tree alone", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "snapshots")
		live := liveTree(t)
		plain := newTestStore(t, func(o *Options) { o.Root = root })
		snap, err := plain.Create(context.Background(), "t1", live)
		if err != nil {
			t.Fatal(err)
		}

		compressed := newTestStore(t, func(o *Options) {
			o.Root = root
			o.Transform = transform.NewZstd(2)
		})
		before := testutil.ReadTree(t, live)
		err = compressed.Restore(context.Background(), snap.ID, live)
		if fg.KindOf(err) != "snapshot" {
			t.Fatalf("Restore() error = %v, want snapshot kind", err)
		}
		if diff := cmp.Diff(before, testutil.ReadTree(t, live)); diff != "" {
			t.Errorf("live tree changed (-want +got):\n%s", diff)
		}
	})

	t.Run("tampered content fails verification", func(t *testing.T) {
		s := newTestStore(t)
		live := liveTree(t)
		snap, err := s.Create(context.Background(), "t1", live)
		if err != nil {
			t.Fatal(err)
		}
		tampered := filepath.Join(s.Root(), snap.ID, contentDir, "notes.txt")
		if err := os.WriteFile(tampered, []byte("tampered"), 0o644); err != nil {
			t.Fatal(err)
		}

		err = s.Restore(context.Background(), snap.ID, live)
		if !errors.Is(err, fg.ErrIntegrity) {
			t.Fatalf("Restore() error = %v, want ErrIntegrity", err)
		}
		if fg.KindOf(err) != "replication" {
			t.Errorf("KindOf() = %s, want replication", fg.KindOf(err))
		}
	})
}

func TestStore_DeleteIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	snap, err := s.Create(context.Background(), "t1", liveTree(t))
	if err != nil {
		t.Fatal(err)
	}

	if !s.Exists(snap.ID) {
		t.Fatal("Exists() = false after Create")
	}
	if err := s.Delete(snap.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := s.Delete(snap.ID); err != nil {
		t.Fatalf("second Delete() error = %v", err)
	}
	if s.Exists(snap.ID) {
		t.Error("Exists() = true after Delete")
	}
	if _, err := s.Get(snap.ID); !errors.Is(err, fg.ErrSnapshotNotFound) {
		t.Errorf("Get() error = %v, want ErrSnapshotNotFound", err)
	}
	if err := s.Delete("../escape"); err == nil {
		t.Error("Delete() accepted a path")
	}
}

func TestStore_ListAndEntries(t *testing.T) {
	s := newTestStore(t, func(o *Options) { o.Clock = testutil.FixedClock().Ticking(time.Minute) })
	live := liveTree(t)

	a, err := s.Create(context.Background(), "t1", live)
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.Create(context.Background(), "t2", live)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(s.Root(), "t3_1"), 0o755); err != nil {
		t.Fatal(err)
	}

	snaps, err := s.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(snaps) != 2 || snaps[0].ID != a.ID || snaps[1].ID != b.ID {
		t.Errorf("List() = %v, want [%s %s]", snaps, a.ID, b.ID)
	}

	entries, err := s.Entries()
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("Entries() returned %d entries, want 3", len(entries))
	}
	var incomplete int
	for _, e := range entries {
		if e.Snapshot == nil {
			incomplete++
			if e.ID != "t3_1" {
				t.Errorf("unexpected incomplete entry %s", e.ID)
			}
		}
	}
	if incomplete != 1 {
		t.Errorf("incomplete entries = %d, want 1", incomplete)
	}
}

func TestTargetOf(t *testing.T) {
	s := newTestStore(t)
	snap, err := s.Create(context.Background(), "6f1c2a3e-t1", liveTree(t))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		id   string
		want string
	}{
		{snap.ID, "6f1c2a3e-t1"},
		{fmt.Sprintf("a_b_%d", 42), "a_b"},
		{"t1_", ""},
		{"t1_partial", ""},
		{"_123", ""},
		{"plain", ""},
	}
	for _, tt := range tests {
		if got := TargetOf(tt.id); got != tt.want {
			t.Errorf("TargetOf(%q) = %q, want %q", tt.id, got, tt.want)
		}
	}
}
