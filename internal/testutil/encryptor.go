package testutil

import (
	"tasksnap/internal/encryption"
	"tasksnap/internal/tasksnap"
)

// NewTestEncryptor creates a new test encryptor for testing.
func NewTestEncryptor() tasksnap.Encryptor {
	return encryption.NewTestEncryptor()
}
