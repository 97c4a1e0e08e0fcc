package testutil

import (
	"tasksnap/internal/vault"
)

// NewTestVault creates a new in-memory vault for testing.
func NewTestVault(name string) *vault.MemoryVault {
	return vault.NewMemoryVault(name)
}
