package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/zeebo/xxh3"

	"fg-go/internal/fg"
)

// CopyOptions controls how file bytes move during CopyTree.
// At most one of Encode and Decode is set; with neither the bytes are copied verbatim.
type CopyOptions struct {
	// Encode turns plaintext source bytes into stored bytes.
	Encode func(r io.Reader, w io.Writer) error
	// Decode turns stored source bytes back into plaintext.
	Decode func(r io.Reader, w io.Writer) error
}

// Manifest summarises a completed copy. Bytes and Digest describe plaintext content.
type Manifest struct {
	Files    int
	Dirs     int
	Links    int
	Bytes    int64
	Digest   string
	Warnings []string
}

// CopyTree replicates the tree at src into dst, creating dst if needed.
// Regular files keep their mode bits and modification time, directories
// their mode, and symlinks are recreated as links without being followed.
// Devices, sockets and fifos are skipped with a warning. Any I/O error
// aborts the copy with *fg.ReplicationError; what was copied stays in place.
func CopyTree(ctx context.Context, src, dst string, opts CopyOptions) (*Manifest, error) {
	info, err := os.Stat(src)
	if err != nil {
		return nil, &fg.ReplicationError{Path: src, Err: err}
	}
	if !info.IsDir() {
		return nil, &fg.ReplicationError{Path: src, Err: errors.New("not a directory")}
	}
	if err := os.MkdirAll(dst, info.Mode().Perm()|0o700); err != nil {
		return nil, &fg.ReplicationError{Path: dst, Err: err}
	}

	m := &Manifest{}
	th := newTreeHasher()

	// Directory modes are applied after their content is written so
	// read-only directories can still be populated.
	type dirMode struct {
		path string
		mode fs.FileMode
	}
	dirs := []dirMode{{path: dst, mode: info.Mode().Perm()}}

	err = filepath.WalkDir(src, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return &fg.ReplicationError{Path: p, Err: walkErr}
		}
		if err := ctx.Err(); err != nil {
			return &fg.ReplicationError{Path: p, Err: err}
		}

		rel, err := filepath.Rel(src, p)
		if err != nil {
			return &fg.ReplicationError{Path: p, Err: err}
		}
		if rel == "." {
			return nil
		}
		target := filepath.Join(dst, rel)

		switch t := d.Type(); {
		case t.IsDir():
			info, err := d.Info()
			if err != nil {
				return &fg.ReplicationError{Path: p, Err: err}
			}
			if err := os.Mkdir(target, info.Mode().Perm()|0o700); err != nil && !errors.Is(err, fs.ErrExist) {
				return &fg.ReplicationError{Path: target, Err: err}
			}
			dirs = append(dirs, dirMode{path: target, mode: info.Mode().Perm()})
			th.addDir(rel)
			m.Dirs++

		case t&fs.ModeSymlink != 0:
			link, err := os.Readlink(p)
			if err != nil {
				return &fg.ReplicationError{Path: p, Err: err}
			}
			if err := os.Symlink(link, target); err != nil {
				return &fg.ReplicationError{Path: target, Err: err}
			}
			th.addLink(rel, link)
			m.Links++

		case t.IsRegular():
			info, err := d.Info()
			if err != nil {
				return &fg.ReplicationError{Path: p, Err: err}
			}
			n, sum, err := copyFile(p, target, info, opts)
			if err != nil {
				return err
			}
			th.addFile(rel, n, sum)
			m.Files++
			m.Bytes += n

		default:
			m.Warnings = append(m.Warnings, fmt.Sprintf("skipped special file %s", rel))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, d := range slices.Backward(dirs) {
		if err := os.Chmod(d.path, d.mode); err != nil {
			return nil, &fg.ReplicationError{Path: d.path, Err: err}
		}
	}

	m.Digest = th.sum()
	return m, nil
}

// copyFile copies one regular file and returns the plaintext size and hash.
func copyFile(src, dst string, info fs.FileInfo, opts CopyOptions) (int64, uint64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, 0, &fg.ReplicationError{Path: src, Err: err}
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return 0, 0, &fg.ReplicationError{Path: dst, Err: err}
	}

	h := xxh3.New()
	cw := &countingWriter{}
	switch {
	case opts.Encode != nil:
		err = opts.Encode(io.TeeReader(in, io.MultiWriter(h, cw)), out)
	case opts.Decode != nil:
		err = opts.Decode(in, io.MultiWriter(out, h, cw))
	default:
		_, err = io.Copy(io.MultiWriter(out, h, cw), in)
	}
	if err != nil {
		out.Close()
		return 0, 0, &fg.ReplicationError{Path: src, Err: err}
	}
	if err := out.Close(); err != nil {
		return 0, 0, &fg.ReplicationError{Path: dst, Err: err}
	}

	if err := os.Chmod(dst, info.Mode().Perm()); err != nil {
		return 0, 0, &fg.ReplicationError{Path: dst, Err: err}
	}
	mtime := info.ModTime()
	if err := os.Chtimes(dst, mtime, mtime); err != nil {
		return 0, 0, &fg.ReplicationError{Path: dst, Err: err}
	}
	return cw.n, h.Sum64(), nil
}

type countingWriter struct {
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}

// DeleteTree removes path and everything below it. A missing path is not an error.
// Read-only directories are made writable and the removal retried once.
func DeleteTree(path string) error {
	err := os.RemoveAll(path)
	if err == nil {
		return nil
	}
	if !errors.Is(err, fs.ErrPermission) {
		return &fg.ReplicationError{Path: path, Err: err}
	}

	_ = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err == nil && d.IsDir() {
			_ = os.Chmod(p, 0o700)
		}
		return nil
	})
	if err := os.RemoveAll(path); err != nil {
		return &fg.ReplicationError{Path: path, Err: err}
	}
	return nil
}
