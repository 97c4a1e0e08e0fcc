package replica

import (
	"context"
	"fmt"
	"time"

	"tasksnap/internal/database"
	"tasksnap/internal/tasksnap"
)

// Factory builds object store backends over a local database. Local-only
// configurations get a plain database handle; replicated configurations
// get a ReplicatedBackend pushing to the vault named by the replica id.
type Factory struct {
	db           *database.SQLiteDatabase
	vaults       map[string]tasksnap.Vault
	hostID       string
	pollInterval time.Duration
	clock        tasksnap.Clock
	logger       tasksnap.Logger
}

var (
	_ tasksnap.BackendFactory = (*Factory)(nil)
	_ tasksnap.ReplicaLocator = (*Factory)(nil)
)

// NewFactory creates a Factory. vaults is keyed by vault name.
// pollInterval applies to vaults that cannot push change notifications;
// zero disables polling.
func NewFactory(db *database.SQLiteDatabase, vaults map[string]tasksnap.Vault, hostID string, pollInterval time.Duration, clock tasksnap.Clock, logger tasksnap.Logger) *Factory {
	if clock == nil {
		clock = tasksnap.RealClock{}
	}
	if logger == nil {
		logger = tasksnap.NewNopLogger()
	}
	return &Factory{
		db:           db,
		vaults:       vaults,
		hostID:       hostID,
		pollInterval: pollInterval,
		clock:        clock,
		logger:       logger,
	}
}

// ReplicaVault returns the vault backing replicaID.
func (f *Factory) ReplicaVault(replicaID string) (tasksnap.Vault, error) {
	v, ok := f.vaults[replicaID]
	if !ok {
		return nil, fmt.Errorf("%w: no vault named %q", tasksnap.ErrReplicaUnavailable, replicaID)
	}
	return v, nil
}

// Open returns a backend for cfg. A replicated backend is only returned
// once the replica vault has been validated and received an initial copy
// of the database.
func (f *Factory) Open(ctx context.Context, cfg tasksnap.StoreConfig) (tasksnap.Backend, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !cfg.Replicated {
		return f.db.NewHandle(), nil
	}

	v, err := f.ReplicaVault(cfg.ReplicaID)
	if err != nil {
		return nil, err
	}
	if err := v.ValidateSetup(); err != nil {
		return nil, fmt.Errorf("%w: validating vault %q: %w", tasksnap.ErrReplicaUnavailable, v.Name(), err)
	}

	b := &ReplicatedBackend{
		handle:       f.db.NewHandle(),
		db:           f.db,
		vault:        v,
		replicaID:    cfg.ReplicaID,
		hostID:       f.hostID,
		pollInterval: f.pollInterval,
		clock:        f.clock,
		logger:       f.logger,
		events:       make(chan tasksnap.BackendEvent, eventBuffer),
		done:         make(chan struct{}),
	}
	if err := b.push(ctx); err != nil {
		b.handle.Close()
		return nil, fmt.Errorf("%w: initial push: %w", tasksnap.ErrReplicaUnavailable, err)
	}
	b.start()

	f.logger.Info("replica attached", "replica", cfg.ReplicaID, "vault", v.Name())
	return b, nil
}
