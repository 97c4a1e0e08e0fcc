package database

import (
	"fmt"
	"os"
	"path/filepath"

	"tasksnap/internal/config"
	"tasksnap/internal/tasksnap"
)

// NewDatabaseFromConfig opens the object store database described by cfg.
func NewDatabaseFromConfig(cfg config.DatabaseConfig, hostID string, clock tasksnap.Clock) (*SQLiteDatabase, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return nil, fmt.Errorf("creating data_dir: %w", err)
		}
		dbPath := filepath.Join(cfg.DataDir, hostID+".db")
		return NewSQLiteDatabase(dbPath, clock)
	case "memory":
		return NewSQLiteDatabase(MemoryPath, clock)
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
