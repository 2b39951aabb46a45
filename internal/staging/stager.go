// Package staging replaces a live directory tree with minimal exposure.
package staging

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zeebo/xxh3"

	"fg-go/internal/fg"
	fgfs "fg-go/internal/fs"
)

const (
	stagePrefix = ".fg-stage-"
	oldPrefix   = ".fg-old-"
)

// Stager swaps a freshly filled tree into place.
//
// When a staging directory can be created next to the destination, the new
// tree is built there and renamed over the old one, so the destination is
// only briefly absent. Otherwise the destination is emptied and filled in
// place; interrupting that leaves a partial tree.
type Stager struct {
	logger  fg.Logger
	inPlace bool
}

// New creates a Stager.
func New(logger fg.Logger) *Stager {
	if logger == nil {
		logger = fg.NewNopLogger()
	}
	return &Stager{logger: logger}
}

// Swap replaces everything at dest with the tree fill writes into the
// directory it is given. Leftovers of earlier interrupted swaps of dest are removed first.
func (s *Stager) Swap(ctx context.Context, dest string, fill func(dir string) error) error {
	dest = filepath.Clean(dest)
	s.cleanLeftovers(dest)

	if s.inPlace || !s.canStage(dest) {
		return s.replaceInPlace(dest, fill)
	}

	tmp, err := os.MkdirTemp(filepath.Dir(dest), stagePrefix+tag(dest)+"-*")
	if err != nil {
		s.logger.Warn("staging unavailable, restoring in place", "path", dest, "error", err)
		return s.replaceInPlace(dest, fill)
	}

	if err := fill(tmp); err != nil {
		s.discard(tmp)
		return err
	}

	var old string
	if _, err := os.Lstat(dest); err == nil {
		old = filepath.Join(filepath.Dir(dest), fmt.Sprintf("%s%s-%d", oldPrefix, tag(dest), time.Now().UnixNano()))
		if err := os.Rename(dest, old); err != nil {
			s.discard(tmp)
			s.logger.Warn("cannot move live tree aside, restoring in place", "path", dest, "error", err)
			return s.replaceInPlace(dest, fill)
		}
	}

	if err := os.Rename(tmp, dest); err != nil {
		if old != "" {
			if rerr := os.Rename(old, dest); rerr != nil {
				s.logger.Error("cannot put live tree back", "path", dest, "aside", old, "error", rerr)
			}
		}
		s.discard(tmp)
		return &fg.ReplicationError{Path: dest, Err: err}
	}

	if old != "" {
		if err := fgfs.DeleteTree(old); err != nil {
			s.logger.Warn("removing replaced tree failed", "path", old, "error", err)
		}
	}
	return nil
}

// canStage is false for mount points, which cannot be renamed.
func (s *Stager) canStage(dest string) bool {
	if filepath.Dir(dest) == dest {
		return false
	}
	mount, err := fgfs.IsMountPoint(dest)
	if err != nil {
		// A missing dest is fine to stage; anything else falls back.
		return errors.Is(err, os.ErrNotExist)
	}
	return !mount
}

// replaceInPlace empties dest, keeping the directory itself, and fills it.
func (s *Stager) replaceInPlace(dest string, fill func(dir string) error) error {
	entries, err := os.ReadDir(dest)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return &fg.ReplicationError{Path: dest, Err: err}
	}
	for _, e := range entries {
		if err := fgfs.DeleteTree(filepath.Join(dest, e.Name())); err != nil {
			return err
		}
	}
	return fill(dest)
}

func (s *Stager) discard(dir string) {
	if err := fgfs.DeleteTree(dir); err != nil {
		s.logger.Warn("removing staging directory failed", "path", dir, "error", err)
	}
}

func (s *Stager) cleanLeftovers(dest string) {
	parent := filepath.Dir(dest)
	entries, err := os.ReadDir(parent)
	if err != nil {
		return
	}
	t := tag(dest)
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, stagePrefix+t+"-") || strings.HasPrefix(name, oldPrefix+t+"-") {
			s.logger.Info("removing leftover from interrupted restore", "path", filepath.Join(parent, name))
			s.discard(filepath.Join(parent, name))
		}
	}
}

// tag names the scratch directories of one destination. Siblings whose names
// share a prefix must not claim each other's leftovers, so the base name is hashed.
func tag(dest string) string {
	return fmt.Sprintf("%016x", xxh3.HashString(filepath.Base(dest)))
}
