package transform

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"fg-go/internal/fg"
)

// Zstd compresses content with zstandard.
type Zstd struct {
	level zstd.EncoderLevel
}

var _ fg.ContentTransform = (*Zstd)(nil)

// NewZstd returns a compressor at the given level (1 fastest .. 4 best).
// Out-of-range levels use the library default.
func NewZstd(level int) *Zstd {
	l := zstd.EncoderLevel(level)
	if l < zstd.SpeedFastest || l > zstd.SpeedBestCompression {
		l = zstd.SpeedDefault
	}
	return &Zstd{level: l}
}

func (z *Zstd) Name() string { return "zstd" }

func (z *Zstd) Encode(r io.Reader, w io.Writer) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(z.level))
	if err != nil {
		return fmt.Errorf("creating zstd writer: %w", err)
	}
	if _, err := io.Copy(enc, r); err != nil {
		enc.Close()
		return fmt.Errorf("compressing data: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalizing compression: %w", err)
	}
	return nil
}

func (z *Zstd) Decode(r io.Reader, w io.Writer) error {
	dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return fmt.Errorf("creating zstd reader: %w", err)
	}
	defer dec.Close()

	if _, err := io.Copy(w, dec); err != nil {
		return fmt.Errorf("decompressing data: %w", err)
	}
	return nil
}
