package transform

import (
	"fmt"

	"fg-go/internal/config"
	"fg-go/internal/fg"
)

// NewFromConfig builds the content transform selected by configuration.
// With compression and encryption both off the result is Identity.
func NewFromConfig(snap config.SnapshotConfig, enc config.EncryptionConfig) (fg.ContentTransform, error) {
	var steps []fg.ContentTransform
	if snap.Compression {
		steps = append(steps, NewZstd(snap.CompressionLevel))
	}

	if enc.Enabled {
		switch enc.Type {
		case "age", "":
			a, err := NewAge(AgeKeys{PublicKeyPath: enc.PublicKeyPath, PrivateKeyPath: enc.PrivateKeyPath})
			if err != nil {
				return nil, fmt.Errorf("encryption enabled but keys unusable (run 'fg keys init'): %w", err)
			}
			steps = append(steps, a)
		case "test":
			steps = append(steps, Test{})
		default:
			return nil, fmt.Errorf("unknown encryption type: %q", enc.Type)
		}
	}

	return NewChain(steps...), nil
}
