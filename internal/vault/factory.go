package vault

import (
	"context"
	"fmt"

	"tasksnap/internal/config"
	"tasksnap/internal/tasksnap"
)

// NewVaultFromConfig creates a Vault implementation based on the vault config type.
func NewVaultFromConfig(ctx context.Context, cfg config.VaultConfig) (tasksnap.Vault, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryVault(cfg.Name), nil
	case "s3":
		return NewS3VaultFromConfig(ctx, cfg)
	case "filesystem":
		if cfg.FSVaultRoot == "" {
			return nil, fmt.Errorf("filesystem vault requires fs_vault_root to be set")
		}
		return NewFileSystemVault(cfg.Name, cfg.FSVaultRoot)
	default:
		return nil, fmt.Errorf("unknown vault type: %s", cfg.Type)
	}
}

// NewVaultsFromConfig builds every configured vault, keyed by name.
func NewVaultsFromConfig(ctx context.Context, cfgs []config.VaultConfig) (map[string]tasksnap.Vault, error) {
	vaults := make(map[string]tasksnap.Vault, len(cfgs))
	for _, c := range cfgs {
		if _, dup := vaults[c.Name]; dup {
			return nil, fmt.Errorf("duplicate vault name %q", c.Name)
		}
		v, err := NewVaultFromConfig(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("vault %q: %w", c.Name, err)
		}
		vaults[c.Name] = v
	}
	return vaults, nil
}
