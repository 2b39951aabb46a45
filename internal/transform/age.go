package transform

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"filippo.io/age"

	"fg-go/internal/fg"
)

// AgeKeys manages an X25519 key pair on disk. The public key is stored in
// plaintext; the private key is encrypted with the user's passphrase using
// age's scrypt-based passphrase encryption.
type AgeKeys struct {
	PublicKeyPath  string
	PrivateKeyPath string
}

// Setup generates a new key pair and writes both key files.
func (k AgeKeys) Setup(passphrase string) error {
	if passphrase == "" {
		return errors.New("empty passphrase")
	}
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generating key pair: %w", err)
	}

	for _, p := range []string{k.PublicKeyPath, k.PrivateKeyPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
			return fmt.Errorf("creating key directory: %w", err)
		}
	}

	if err := os.WriteFile(k.PublicKeyPath, []byte(identity.Recipient().String()+"\n"), 0o644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}

	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return fmt.Errorf("creating scrypt recipient: %w", err)
	}

	var sealed bytes.Buffer
	w, err := age.Encrypt(&sealed, recipient)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.WriteString(w, identity.String()+"\n"); err != nil {
		return fmt.Errorf("writing encrypted private key: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing encrypted private key: %w", err)
	}

	if err := os.WriteFile(k.PrivateKeyPath, sealed.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}
	return nil
}

// IsConfigured returns true if both key files exist.
func (k AgeKeys) IsConfigured() bool {
	for _, p := range []string{k.PublicKeyPath, k.PrivateKeyPath} {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

func (k AgeKeys) recipient() (age.Recipient, error) {
	data, err := os.ReadFile(k.PublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading public key: %w", err)
	}
	recipients, err := age.ParseRecipients(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	if len(recipients) == 0 {
		return nil, errors.New("no recipients found in public key file")
	}
	return recipients[0], nil
}

func (k AgeKeys) identity(passphrase string) (age.Identity, error) {
	data, err := os.ReadFile(k.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading private key file: %w", err)
	}

	scrypt, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt identity: %w", err)
	}
	r, err := age.Decrypt(bytes.NewReader(data), scrypt)
	if err != nil {
		return nil, fmt.Errorf("decrypting private key: %w", err)
	}

	identities, err := age.ParseIdentities(r)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	if len(identities) == 0 {
		return nil, errors.New("no identities found in private key")
	}
	return identities[0], nil
}

// Age encrypts content to the stored public key. Encoding needs only the
// public key; decoding needs Unlock first.
type Age struct {
	keys      AgeKeys
	recipient age.Recipient

	mu       sync.RWMutex
	identity age.Identity
}

var (
	_ fg.ContentTransform = (*Age)(nil)
	_ Unlocker            = (*Age)(nil)
)

// NewAge loads the public key from keys.
func NewAge(keys AgeKeys) (*Age, error) {
	recipient, err := keys.recipient()
	if err != nil {
		return nil, fmt.Errorf("loading public key: %w", err)
	}
	return &Age{keys: keys, recipient: recipient}, nil
}

func (a *Age) Name() string { return "age" }

func (a *Age) Locked() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.identity == nil
}

// Unlock decrypts the private key with passphrase and keeps it for Decode.
func (a *Age) Unlock(passphrase string) error {
	id, err := a.keys.identity(passphrase)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.identity = id
	a.mu.Unlock()
	return nil
}

func (a *Age) Encode(r io.Reader, w io.Writer) error {
	enc, err := age.Encrypt(w, a.recipient)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.Copy(enc, r); err != nil {
		return fmt.Errorf("encrypting data: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalizing encryption: %w", err)
	}
	return nil
}

func (a *Age) Decode(r io.Reader, w io.Writer) error {
	a.mu.RLock()
	id := a.identity
	a.mu.RUnlock()
	if id == nil {
		return ErrLocked
	}

	dec, err := age.Decrypt(r, id)
	if err != nil {
		return fmt.Errorf("creating decrypted reader: %w", err)
	}
	if _, err := io.Copy(w, dec); err != nil {
		return fmt.Errorf("decrypting data: %w", err)
	}
	return nil
}
