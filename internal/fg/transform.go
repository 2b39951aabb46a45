package fg

import "io"

// ContentTransform is applied to every regular file's bytes on their way into
// a snapshot (Encode) and back out on restore (Decode).
type ContentTransform interface {
	// Name identifies the transform in snapshot metadata.
	Name() string
	Encode(r io.Reader, w io.Writer) error
	Decode(r io.Reader, w io.Writer) error
}
