package fs

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/zeebo/xxh3"
)

// treeHasher folds every entry of a tree into a single xxh3 digest.
// Entries must be added in walk order so equal trees give equal digests.
type treeHasher struct {
	h *xxh3.Hasher
}

func newTreeHasher() *treeHasher {
	return &treeHasher{h: xxh3.New()}
}

func (t *treeHasher) addDir(rel string) {
	fmt.Fprintf(t.h, "d\x00%s\n", filepath.ToSlash(rel))
}

func (t *treeHasher) addFile(rel string, size int64, sum uint64) {
	fmt.Fprintf(t.h, "f\x00%s\x00%d\x00%016x\n", filepath.ToSlash(rel), size, sum)
}

func (t *treeHasher) addLink(rel, target string) {
	fmt.Fprintf(t.h, "l\x00%s\x00%s\n", filepath.ToSlash(rel), target)
}

func (t *treeHasher) sum() string {
	return fmt.Sprintf("%016x", t.h.Sum64())
}

// TreeDigest computes the digest of the live tree at root, matching the
// Manifest.Digest a CopyTree of the same content produces.
func TreeDigest(root string) (string, error) {
	th := newTreeHasher()
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

		switch t := d.Type(); {
		case t.IsDir():
			th.addDir(rel)
		case t&fs.ModeSymlink != 0:
			target, err := os.Readlink(p)
			if err != nil {
				return err
			}
			th.addLink(rel, target)
		case t.IsRegular():
			size, sum, err := hashFile(p)
			if err != nil {
				return err
			}
			th.addFile(rel, size, sum)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("digesting %s: %w", root, err)
	}
	return th.sum(), nil
}

func hashFile(path string) (int64, uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	h := xxh3.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return 0, 0, err
	}
	return n, h.Sum64(), nil
}
