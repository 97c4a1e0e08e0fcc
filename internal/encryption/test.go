package encryption

import (
	"bytes"
	"fmt"
	"io"

	"tasksnap/internal/tasksnap"
)

// testHeader marks data "encrypted" by TestEncryptor.
var testHeader = []byte("TSNAPENC")

// TestEncryptor is a deterministic stand-in for AgeEncryptor. Encrypt
// prepends a fixed header and Decrypt strips it, so encrypted copies differ
// from the plaintext without any key material.
type TestEncryptor struct {
	configured bool
	passphrase string
}

var _ tasksnap.Encryptor = (*TestEncryptor)(nil)

// NewTestEncryptor returns a TestEncryptor that is already set up and
// unlocks with any passphrase.
func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{configured: true}
}

// NewUnconfiguredTestEncryptor returns a TestEncryptor that reports
// IsConfigured false until Setup is called.
func NewUnconfiguredTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

func (e *TestEncryptor) Setup(passphrase string) error {
	e.configured = true
	e.passphrase = passphrase
	return nil
}

func (e *TestEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if !e.configured {
		return fmt.Errorf("test encryptor is not set up")
	}
	if _, err := w.Write(testHeader); err != nil {
		return fmt.Errorf("writing test header: %w", err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}

// Unlock fails if Setup was given a passphrase and passphrase differs.
func (e *TestEncryptor) Unlock(passphrase string) (tasksnap.DecryptionContext, error) {
	if !e.configured {
		return nil, fmt.Errorf("test encryptor is not set up")
	}
	if e.passphrase != "" && passphrase != e.passphrase {
		return nil, fmt.Errorf("wrong passphrase")
	}
	return &TestDecryptionContext{}, nil
}

func (e *TestEncryptor) IsConfigured() bool {
	return e.configured
}

// TestDecryptionContext strips the test header added by TestEncryptor.
type TestDecryptionContext struct{}

var _ tasksnap.DecryptionContext = (*TestDecryptionContext)(nil)

func (c *TestDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	header := make([]byte, len(testHeader))
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("reading test header: %w", err)
	}
	if !bytes.Equal(header, testHeader) {
		return fmt.Errorf("invalid test encryption header")
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}
