package testutil

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Tree describes a directory tree by slash-separated relative path.
// File entries hold their content. Entries ending in "/" are directories
// and entries whose value starts with "-> " are symlinks to the rest of the value.
type Tree map[string]string

// WriteTree materialises tree below root, creating parents as needed.
func WriteTree(t *testing.T, root string, tree Tree) {
	t.Helper()
	for rel, content := range tree {
		p := filepath.Join(root, filepath.FromSlash(strings.TrimSuffix(rel, "/")))
		switch {
		case strings.HasSuffix(rel, "/"):
			if err := os.MkdirAll(p, 0o755); err != nil {
				t.Fatalf("creating dir %s: %v", rel, err)
			}
		case strings.HasPrefix(content, "-> "):
			if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
				t.Fatalf("creating parent of %s: %v", rel, err)
			}
			if err := os.Symlink(strings.TrimPrefix(content, "-> "), p); err != nil {
				t.Fatalf("creating symlink %s: %v", rel, err)
			}
		default:
			if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
				t.Fatalf("creating parent of %s: %v", rel, err)
			}
			if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
				t.Fatalf("writing %s: %v", rel, err)
			}
		}
	}
}

// ReadTree reads the tree below root back into the WriteTree notation.
// Every directory appears explicitly.
func ReadTree(t *testing.T, root string) Tree {
	t.Helper()
	tree := Tree{}
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		switch {
		case d.IsDir():
			tree[rel+"/"] = ""
		case d.Type()&fs.ModeSymlink != 0:
			target, err := os.Readlink(p)
			if err != nil {
				return err
			}
			tree[rel] = "-> " + target
		default:
			data, err := os.ReadFile(p)
			if err != nil {
				return err
			}
			tree[rel] = string(data)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("reading tree %s: %v", root, err)
	}
	return tree
}
