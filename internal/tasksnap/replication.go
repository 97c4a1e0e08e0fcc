package tasksnap

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ReplicationToggle switches the object store between local-only and
// replicated configurations. Pending writes are committed before the old
// backend is detached, and a failed switch rolls back to the configuration
// active before the call.
type ReplicationToggle struct {
	mu       sync.Mutex
	store    *ObjectStore
	backends BackendFactory
	status   StatusReporter
	logger   Logger
}

// NewReplicationToggle creates a toggle over an attached store.
func NewReplicationToggle(store *ObjectStore, backends BackendFactory, status StatusReporter, logger Logger) *ReplicationToggle {
	return &ReplicationToggle{
		store:    store,
		backends: backends,
		status:   status,
		logger:   logger,
	}
}

// Enable turns on replication to replicaID. Enabling the replica that is
// already active is a no-op. Enabling a different replica re-targets the
// store.
func (t *ReplicationToggle) Enable(ctx context.Context, replicaID string) error {
	if replicaID == "" {
		return errors.New("replica id is required")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	prev := t.store.Config()
	if prev.Replicated && prev.ReplicaID == replicaID {
		return nil
	}

	t.status.ReplicationStarting()
	want := StoreConfig{Replicated: true, ReplicaID: replicaID}
	if err := t.reload(ctx, prev, want); err != nil {
		t.status.ReplicationFailed(err)
		return err
	}

	t.status.ReplicationAttached()
	t.logger.Info("replication enabled", "replica", replicaID)
	return nil
}

// Disable returns the store to local-only operation.
func (t *ReplicationToggle) Disable(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev := t.store.Config()
	if !prev.Replicated {
		t.status.ReplicationDisabled()
		return nil
	}

	if err := t.reload(ctx, prev, LocalOnly); err != nil {
		t.status.ReplicationFailed(err)
		return err
	}

	t.status.ReplicationDisabled()
	t.logger.Info("replication disabled", "replica", prev.ReplicaID)
	return nil
}

// reload moves the store from prev to want. On failure the store is
// reattached with prev, or local-only if that fails too. A failed move to
// local-only never reattaches the replica.
func (t *ReplicationToggle) reload(ctx context.Context, prev, want StoreConfig) error {
	err := t.store.Reattach(ctx, t.backends, want)
	if err == nil {
		return nil
	}
	t.logger.Error("store reload failed", "from", prev.String(), "to", want.String(), "error", err)

	if t.store.Attached() {
		// The pre-detach commit failed; the old backend is still in place.
		return fmt.Errorf("%w: %w", ErrReloadFailed, err)
	}

	rollbackCtx := context.WithoutCancel(ctx)
	var fallbacks []StoreConfig
	switch {
	case want == LocalOnly || prev == LocalOnly:
		fallbacks = []StoreConfig{LocalOnly}
	default:
		fallbacks = []StoreConfig{prev, LocalOnly}
	}
	for _, cfg := range fallbacks {
		rbErr := t.store.Attach(rollbackCtx, t.backends, cfg)
		if rbErr == nil {
			t.logger.Warn("store rolled back", "config", cfg.String())
			return fmt.Errorf("%w: %w", ErrReloadFailed, err)
		}
		t.logger.Error("rollback failed", "config", cfg.String(), "error", rbErr)
	}

	return fmt.Errorf("%w: store left detached: %w", ErrReloadFailed, err)
}
