package fs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"fg-go/internal/fg"
)

func TestOSFilesystemManager_Resolve(t *testing.T) {
	m := NewOSFilesystemManager()
	root := t.TempDir()
	file := filepath.Join(root, "f.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(root, "link")
	if err := os.Symlink(root, link); err != nil {
		t.Fatal(err)
	}

	t.Run("directory", func(t *testing.T) {
		p, err := m.Resolve(root)
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		want, _ := filepath.EvalSymlinks(root)
		if !p.IsDir() || p.String() != want {
			t.Errorf("Resolve() = %s dir=%v", p, p.IsDir())
		}
		if p.Kind() != fg.KindFolder {
			t.Errorf("Kind() = %s, want folder", p.Kind())
		}
	})

	t.Run("relative path is made absolute", func(t *testing.T) {
		t.Chdir(root)
		p, err := m.Resolve("f.txt")
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if !filepath.IsAbs(p.String()) || p.IsDir() {
			t.Errorf("Resolve() = %s dir=%v", p, p.IsDir())
		}
	})

	t.Run("filesystem root is a partition", func(t *testing.T) {
		p, err := m.Resolve("/")
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if p.Kind() != fg.KindPartition {
			t.Errorf("Kind() = %s, want partition", p.Kind())
		}
	})

	t.Run("missing", func(t *testing.T) {
		_, err := m.Resolve(filepath.Join(root, "missing"))
		if !errors.Is(err, fg.ErrPathNotFound) {
			t.Errorf("Resolve() error = %v, want ErrPathNotFound", err)
		}
	})

	t.Run("symlink rejected", func(t *testing.T) {
		_, err := m.Resolve(link)
		if !errors.Is(err, fg.ErrInvalidPath) {
			t.Errorf("Resolve() error = %v, want ErrInvalidPath", err)
		}
	})

	t.Run("symlinked parent resolves to the real path", func(t *testing.T) {
		direct, err := m.Resolve(file)
		if err != nil {
			t.Fatalf("Resolve(%s) error = %v", file, err)
		}
		via, err := m.Resolve(filepath.Join(link, "f.txt"))
		if err != nil {
			t.Fatalf("Resolve() through link error = %v", err)
		}
		if via.String() != direct.String() {
			t.Errorf("Resolve() through link = %s, want %s", via, direct)
		}
	})

	t.Run("empty", func(t *testing.T) {
		_, err := m.Resolve("")
		if !errors.Is(err, fg.ErrInvalidPath) {
			t.Errorf("Resolve() error = %v, want ErrInvalidPath", err)
		}
	})
}

func TestOSFilesystemManager_TreeSize(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "a"), make([]byte, 100), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "sub", "b"), make([]byte, 23), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(filepath.Join(root, "a"), filepath.Join(root, "l")); err != nil {
		t.Fatal(err)
	}

	size, err := NewOSFilesystemManager().TreeSize(root)
	if err != nil {
		t.Fatalf("TreeSize() error = %v", err)
	}
	if size != 123 {
		t.Errorf("TreeSize() = %d, want 123", size)
	}
}

func TestCandidateRoots(t *testing.T) {
	base := t.TempDir()
	mnt := filepath.Join(base, "mnt")
	for _, d := range []string{"usb", "disk2"} {
		if err := os.MkdirAll(filepath.Join(mnt, d), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(mnt, "notes.txt"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	got := candidateRoots("/", mnt, filepath.Join(base, "media-missing"))
	want := []string{"/", filepath.Join(mnt, "disk2"), filepath.Join(mnt, "usb")}
	if len(got) != len(want) {
		t.Fatalf("candidateRoots() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("candidateRoots()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestFreeSpace(t *testing.T) {
	free, err := FreeSpace(t.TempDir())
	if err != nil {
		t.Skipf("FreeSpace unavailable: %v", err)
	}
	if free == 0 {
		t.Error("FreeSpace() = 0 on a writable temp dir")
	}
}
