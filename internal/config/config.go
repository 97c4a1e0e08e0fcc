package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for tasksnap.
type Config struct {
	HostID      string            `toml:"host_id"`
	DeviceName  string            `toml:"device_name"`
	BaseDir     string            `toml:"base_dir"`
	LogDir      string            `toml:"log_dir"`
	Database    DatabaseConfig    `toml:"database"`
	Replication ReplicationConfig `toml:"replication"`
	Vaults      []VaultConfig     `toml:"vaults"`
	Staging     StagingConfig     `toml:"staging"`
	Encryption  EncryptionConfig  `toml:"encryption"`
	Snapshots   SnapshotsConfig   `toml:"snapshots"`
}

// ReplicationConfig holds the persisted replication toggle.
type ReplicationConfig struct {
	Enabled   bool   `toml:"enabled"`
	ReplicaID string `toml:"replica_id,omitempty"` // name of a vault in [[vaults]]

	// PollInterval controls how often the replica is checked for changes
	// made elsewhere, e.g. "30s". Vaults that push notifications ignore it.
	PollInterval string `toml:"poll_interval,omitempty"`
}

// DefaultPollInterval is used when poll_interval is unset.
const DefaultPollInterval = 30 * time.Second

// PollDuration parses PollInterval, falling back to DefaultPollInterval.
func (r ReplicationConfig) PollDuration() (time.Duration, error) {
	if r.PollInterval == "" {
		return DefaultPollInterval, nil
	}
	d, err := time.ParseDuration(r.PollInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid poll_interval %q: %w", r.PollInterval, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("poll_interval must be positive, got %q", r.PollInterval)
	}
	return d, nil
}

// EncryptionConfig holds paths to the age key pair used for replica
// snapshot copies.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "none" (default), "age" or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// VaultConfig represents configuration for a vault backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VaultConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket   string `toml:"s3_bucket,omitempty"`
	S3Prefix   string `toml:"s3_prefix,omitempty"`
	S3Region   string `toml:"s3_region,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty"` // for S3-compatible services

	// Static credentials; when empty the default AWS credential chain is used.
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// DatabaseConfig represents configuration for the object store database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// StagingConfig represents configuration for the staging area.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type StagingConfig struct {
	Type       string `toml:"type"`                  // "memory" or "filesystem"
	StagingDir string `toml:"staging_dir,omitempty"` // only used for type=filesystem
	MaxSize    int64  `toml:"max_size"`              // max total size in bytes; must be positive
}

// SnapshotsConfig controls the local snapshot archive and automatic backups.
type SnapshotsConfig struct {
	ArchiveDir       string `toml:"archive_dir"` // empty keeps snapshots in memory
	Retention        int    `toml:"retention"`
	AutoIntervalDays int    `toml:"auto_interval_days"`
}

// AutoInterval returns the automatic backup interval.
func (s SnapshotsConfig) AutoInterval() time.Duration {
	return time.Duration(s.AutoIntervalDays) * 24 * time.Hour
}

// NewConfig creates a new Config with the provided values and defaults for
// everything else.
func NewConfig(hostID, baseDir string) *Config {
	return &Config{
		HostID:  hostID,
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Staging: StagingConfig{
			Type:       "filesystem",
			StagingDir: filepath.Join(baseDir, "staging"),
			MaxSize:    64 * 1024 * 1024,
		},
		Encryption: EncryptionConfig{
			Type:           "none",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "tasksnap.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "tasksnap.key"),
		},
		Snapshots: SnapshotsConfig{
			ArchiveDir:       filepath.Join(baseDir, "snapshots"),
			Retention:        10,
			AutoIntervalDays: 7,
		},
	}
}

// FindVault returns the vault configured under name.
func (c *Config) FindVault(name string) (VaultConfig, bool) {
	for _, v := range c.Vaults {
		if v.Name == name {
			return v, true
		}
	}
	return VaultConfig{}, false
}

// Validate checks cross-field constraints the factories cannot see.
func (c *Config) Validate() error {
	if c.HostID == "" {
		return fmt.Errorf("host_id is required")
	}
	seen := make(map[string]bool, len(c.Vaults))
	for _, v := range c.Vaults {
		if v.Name == "" {
			return fmt.Errorf("vault of type %q has no name", v.Type)
		}
		if seen[v.Name] {
			return fmt.Errorf("duplicate vault name %q", v.Name)
		}
		seen[v.Name] = true
	}
	if c.Replication.Enabled {
		if c.Replication.ReplicaID == "" {
			return fmt.Errorf("replication is enabled but replica_id is empty")
		}
		if !seen[c.Replication.ReplicaID] {
			return fmt.Errorf("replica_id %q does not name a configured vault", c.Replication.ReplicaID)
		}
	}
	if _, err := c.Replication.PollDuration(); err != nil {
		return err
	}
	if c.Snapshots.Retention < 0 {
		return fmt.Errorf("snapshots.retention must not be negative")
	}
	if c.Snapshots.AutoIntervalDays < 0 {
		return fmt.Errorf("snapshots.auto_interval_days must not be negative")
	}
	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile atomically replaces the file at path with cfg.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tasksnap-config-*")
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	tmpPath := tmp.Name()

	m := &Manager{}
	if err := m.Write(tmp, cfg); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing config file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replacing config file: %w", err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}

// Save overwrites the config file at path.
func Save(path string, cfg *Config) error {
	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}
	return nil
}
