package transform

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"fg-go/internal/fg"
)

// testHeader makes encoded output differ from plaintext while staying
// deterministic and reversible.
var testHeader = []byte("FGENC\x00\x00\x00")

// Test prepends a fixed header on Encode and strips it on Decode.
// It needs no keys and is meant for tests and dry runs.
type Test struct{}

var _ fg.ContentTransform = Test{}

func (Test) Name() string { return "test" }

func (Test) Encode(r io.Reader, w io.Writer) error {
	if _, err := w.Write(testHeader); err != nil {
		return fmt.Errorf("writing test header: %w", err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}

func (Test) Decode(r io.Reader, w io.Writer) error {
	header := make([]byte, len(testHeader))
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("reading test header: %w", err)
	}
	if !bytes.Equal(header, testHeader) {
		return errors.New("invalid test header")
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}
