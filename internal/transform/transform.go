// Package transform provides the byte transforms applied to snapshot content.
package transform

import (
	"errors"
	"io"
	"strings"

	"fg-go/internal/fg"
)

// ErrLocked is returned by Decode on a transform that still needs a passphrase.
var ErrLocked = errors.New("transform is locked; a passphrase is required")

// Identity stores bytes unchanged.
type Identity struct{}

var _ fg.ContentTransform = Identity{}

func (Identity) Name() string { return "identity" }

func (Identity) Encode(r io.Reader, w io.Writer) error {
	_, err := io.Copy(w, r)
	return err
}

func (Identity) Decode(r io.Reader, w io.Writer) error {
	_, err := io.Copy(w, r)
	return err
}

// Unlocker is implemented by transforms whose Decode needs a secret.
type Unlocker interface {
	Locked() bool
	Unlock(passphrase string) error
}

// NeedsUnlock reports whether t, or any transform chained inside it, is locked.
func NeedsUnlock(t fg.ContentTransform) bool {
	switch v := t.(type) {
	case *Chain:
		for _, inner := range v.steps {
			if NeedsUnlock(inner) {
				return true
			}
		}
		return false
	case Unlocker:
		return v.Locked()
	}
	return false
}

// Unlock hands passphrase to every locked transform inside t.
func Unlock(t fg.ContentTransform, passphrase string) error {
	switch v := t.(type) {
	case *Chain:
		for _, inner := range v.steps {
			if err := Unlock(inner, passphrase); err != nil {
				return err
			}
		}
	case Unlocker:
		if v.Locked() {
			return v.Unlock(passphrase)
		}
	}
	return nil
}

// Chain applies several transforms in order on Encode and in reverse on Decode.
type Chain struct {
	steps []fg.ContentTransform
}

var _ fg.ContentTransform = (*Chain)(nil)

// NewChain composes steps. A single step is returned unwrapped and an empty
// chain is Identity.
func NewChain(steps ...fg.ContentTransform) fg.ContentTransform {
	switch len(steps) {
	case 0:
		return Identity{}
	case 1:
		return steps[0]
	}
	return &Chain{steps: steps}
}

func (c *Chain) Name() string {
	names := make([]string, len(c.steps))
	for i, s := range c.steps {
		names[i] = s.Name()
	}
	return strings.Join(names, "+")
}

func (c *Chain) Encode(r io.Reader, w io.Writer) error {
	fns := make([]func(io.Reader, io.Writer) error, len(c.steps))
	for i, s := range c.steps {
		fns[i] = s.Encode
	}
	return pipeline(fns, r, w)
}

func (c *Chain) Decode(r io.Reader, w io.Writer) error {
	fns := make([]func(io.Reader, io.Writer) error, len(c.steps))
	for i, s := range c.steps {
		fns[len(c.steps)-1-i] = s.Decode
	}
	return pipeline(fns, r, w)
}

// pipeline runs fns[0] on r, feeding each output into the next stage through
// an io.Pipe, with the last stage writing to w.
func pipeline(fns []func(io.Reader, io.Writer) error, r io.Reader, w io.Writer) error {
	if len(fns) == 1 {
		return fns[0](r, w)
	}

	pr, pw := io.Pipe()
	errc := make(chan error, 1)
	go func() {
		err := fns[0](r, pw)
		pw.CloseWithError(err)
		errc <- err
	}()

	err := pipeline(fns[1:], pr, w)
	// Unblock the producer if the consumer stopped early.
	pr.CloseWithError(err)
	if perr := <-errc; perr != nil && !errors.Is(perr, io.ErrClosedPipe) {
		return perr
	}
	return err
}
