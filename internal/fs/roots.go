package fs

import (
	"os"
	"path/filepath"

	"github.com/samber/lo"
)

// CandidateRoots lists places a user is likely to want to freeze whole:
// the filesystem root plus the directories under /mnt and /media.
func CandidateRoots() []string {
	return candidateRoots("/", "/mnt", "/media")
}

func candidateRoots(root string, parents ...string) []string {
	roots := []string{root}
	for _, parent := range parents {
		entries, err := os.ReadDir(parent)
		if err != nil {
			continue
		}
		dirs := lo.FilterMap(entries, func(e os.DirEntry, _ int) (string, bool) {
			return filepath.Join(parent, e.Name()), e.IsDir()
		})
		roots = append(roots, dirs...)
	}
	return roots
}
