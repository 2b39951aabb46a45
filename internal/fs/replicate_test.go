package fs_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"fg-go/internal/fg"
	"fg-go/internal/fs"
	"fg-go/internal/testutil"
)

// xorCodec is a reversible stand-in for a real content transform.
func xorCodec(r io.Reader, w io.Writer) error {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		for i := range buf[:n] {
			buf[i] ^= 0x5a
		}
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func sampleTree() testutil.Tree {
	return testutil.Tree{
		"a.txt":            "alpha",
		"empty/":           "",
		"docs/readme.md":   "# readme",
		"docs/deep/z.bin":  "\x00\x01\x02",
		"link-to-a":        "-> a.txt",
		"docs/dangling":    "-> ../missing",
		"zero-length.data": "",
	}
}

func TestCopyTree_RoundTrip(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	src := filepath.Join(root, "src")
	snap := filepath.Join(root, "snap")
	dst := filepath.Join(root, "dst")
	testutil.WriteTree(t, src, sampleTree())

	stored, err := fs.CopyTree(ctx, src, snap, fs.CopyOptions{})
	if err != nil {
		t.Fatalf("CopyTree() error = %v", err)
	}
	restored, err := fs.CopyTree(ctx, snap, dst, fs.CopyOptions{})
	if err != nil {
		t.Fatalf("CopyTree() error = %v", err)
	}

	if diff := cmp.Diff(testutil.ReadTree(t, src), testutil.ReadTree(t, dst)); diff != "" {
		t.Errorf("restored tree mismatch (-want +got):\n%s", diff)
	}
	if stored.Files != 4 || stored.Links != 2 || stored.Dirs != 3 {
		t.Errorf("manifest counts = files %d links %d dirs %d, want 4/2/3", stored.Files, stored.Links, stored.Dirs)
	}
	if stored.Bytes != int64(len("alpha")+len("# readme")+3) {
		t.Errorf("manifest bytes = %d", stored.Bytes)
	}
	if stored.Digest != restored.Digest {
		t.Errorf("digest changed across round trip: %s != %s", stored.Digest, restored.Digest)
	}

	live, err := fs.TreeDigest(src)
	if err != nil {
		t.Fatalf("TreeDigest() error = %v", err)
	}
	if live != stored.Digest {
		t.Errorf("TreeDigest() = %s, want %s", live, stored.Digest)
	}
}

func TestCopyTree_WithCodec(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	src := filepath.Join(root, "src")
	snap := filepath.Join(root, "snap")
	dst := filepath.Join(root, "dst")
	testutil.WriteTree(t, src, testutil.Tree{"secret.txt": "plaintext"})

	stored, err := fs.CopyTree(ctx, src, snap, fs.CopyOptions{Encode: xorCodec})
	if err != nil {
		t.Fatalf("CopyTree(encode) error = %v", err)
	}
	raw, err := os.ReadFile(filepath.Join(snap, "secret.txt"))
	if err != nil {
		t.Fatalf("reading stored file: %v", err)
	}
	if string(raw) == "plaintext" {
		t.Error("stored bytes were not encoded")
	}

	restored, err := fs.CopyTree(ctx, snap, dst, fs.CopyOptions{Decode: xorCodec})
	if err != nil {
		t.Fatalf("CopyTree(decode) error = %v", err)
	}
	if diff := cmp.Diff(testutil.ReadTree(t, src), testutil.ReadTree(t, dst)); diff != "" {
		t.Errorf("restored tree mismatch (-want +got):\n%s", diff)
	}
	if stored.Digest != restored.Digest {
		t.Errorf("plaintext digest differs: %s != %s", stored.Digest, restored.Digest)
	}
	if stored.Bytes != int64(len("plaintext")) {
		t.Errorf("Bytes = %d, want plaintext size", stored.Bytes)
	}
}

func TestCopyTree_PreservesMetadata(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	dst := filepath.Join(root, "dst")
	testutil.WriteTree(t, src, testutil.Tree{"run.sh": "#!/bin/sh\n", "ro/": ""})

	script := filepath.Join(src, "run.sh")
	if err := os.Chmod(script, 0o750); err != nil {
		t.Fatal(err)
	}
	mtime := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := os.Chtimes(script, mtime, mtime); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(filepath.Join(src, "ro"), 0o555); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chmod(filepath.Join(src, "ro"), 0o755) })

	if _, err := fs.CopyTree(context.Background(), src, dst, fs.CopyOptions{}); err != nil {
		t.Fatalf("CopyTree() error = %v", err)
	}
	t.Cleanup(func() { os.Chmod(filepath.Join(dst, "ro"), 0o755) })

	info, err := os.Stat(filepath.Join(dst, "run.sh"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o750 {
		t.Errorf("mode = %v, want 0750", info.Mode().Perm())
	}
	if !info.ModTime().Equal(mtime) {
		t.Errorf("mtime = %v, want %v", info.ModTime(), mtime)
	}

	dirInfo, err := os.Stat(filepath.Join(dst, "ro"))
	if err != nil {
		t.Fatal(err)
	}
	if dirInfo.Mode().Perm() != 0o555 {
		t.Errorf("dir mode = %v, want 0555", dirInfo.Mode().Perm())
	}
}

func TestCopyTree_Errors(t *testing.T) {
	t.Run("missing source", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		_, err := fs.CopyTree(context.Background(), filepath.Join(root, "nope"), filepath.Join(root, "dst"), fs.CopyOptions{})
		var replErr *fg.ReplicationError
		if !errors.As(err, &replErr) {
			t.Fatalf("CopyTree() error = %v, want *ReplicationError", err)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		src := filepath.Join(root, "src")
		testutil.WriteTree(t, src, testutil.Tree{"a": "1"})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := fs.CopyTree(ctx, src, filepath.Join(root, "dst"), fs.CopyOptions{})
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("CopyTree() error = %v, want context.Canceled", err)
		}
	})

	t.Run("codec failure", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		src := filepath.Join(root, "src")
		testutil.WriteTree(t, src, testutil.Tree{"a": "1"})

		boom := errors.New("boom")
		_, err := fs.CopyTree(context.Background(), src, filepath.Join(root, "dst"), fs.CopyOptions{
			Encode: func(io.Reader, io.Writer) error { return boom },
		})
		var replErr *fg.ReplicationError
		if !errors.As(err, &replErr) || !errors.Is(err, boom) {
			t.Fatalf("CopyTree() error = %v, want *ReplicationError wrapping boom", err)
		}
	})
}

func TestDeleteTree(t *testing.T) {
	t.Run("removes tree", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		target := filepath.Join(root, "t")
		testutil.WriteTree(t, target, sampleTree())

		if err := fs.DeleteTree(target); err != nil {
			t.Fatalf("DeleteTree() error = %v", err)
		}
		if _, err := os.Lstat(target); !os.IsNotExist(err) {
			t.Errorf("target still exists: %v", err)
		}
	})

	t.Run("missing path is success", func(t *testing.T) {
		t.Parallel()
		missing := filepath.Join(t.TempDir(), "gone")
		if err := fs.DeleteTree(missing); err != nil {
			t.Fatalf("DeleteTree() error = %v", err)
		}
		if err := fs.DeleteTree(missing); err != nil {
			t.Fatalf("second DeleteTree() error = %v", err)
		}
	})

	t.Run("read-only directories", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		target := filepath.Join(root, "t")
		testutil.WriteTree(t, target, testutil.Tree{"locked/file": "x"})
		if err := os.Chmod(filepath.Join(target, "locked"), 0o555); err != nil {
			t.Fatal(err)
		}

		if err := fs.DeleteTree(target); err != nil {
			t.Fatalf("DeleteTree() error = %v", err)
		}
		if _, err := os.Lstat(target); !os.IsNotExist(err) {
			t.Errorf("target still exists: %v", err)
		}
	})
}

func TestTreeDigest_DetectsChange(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, testutil.Tree{"a.txt": "one", "b/c.txt": "two"})

	before, err := fs.TreeDigest(root)
	if err != nil {
		t.Fatalf("TreeDigest() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "b", "c.txt"), []byte("TWO"), 0o644); err != nil {
		t.Fatal(err)
	}
	after, err := fs.TreeDigest(root)
	if err != nil {
		t.Fatalf("TreeDigest() error = %v", err)
	}
	if before == after {
		t.Error("digest unchanged after content edit")
	}
}
