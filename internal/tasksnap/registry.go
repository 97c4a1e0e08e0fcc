package tasksnap

import (
	"fmt"
	"time"

	"tasksnap/internal/snapshot"
)

// DefaultAutoInterval is how old the newest snapshot may get before an
// automatic one is due.
const DefaultAutoInterval = 7 * 24 * time.Hour

// Registry catalogs the snapshots in the archive.
type Registry struct {
	archive  *SnapshotArchive
	interval time.Duration
	clock    Clock
	logger   Logger
}

// NewRegistry creates a registry. An interval of zero uses DefaultAutoInterval.
func NewRegistry(archive *SnapshotArchive, interval time.Duration, clock Clock, logger Logger) *Registry {
	if interval <= 0 {
		interval = DefaultAutoInterval
	}
	return &Registry{
		archive:  archive,
		interval: interval,
		clock:    clock,
		logger:   logger,
	}
}

// List returns snapshot metadata newest first, read from the replica
// directory when it is available and from the local archive otherwise.
func (r *Registry) List() ([]*snapshot.Metadata, error) {
	r.archive.mu.RLock()
	defer r.archive.mu.RUnlock()
	return r.listLocked()
}

func (r *Registry) listLocked() ([]*snapshot.Metadata, error) {
	if d, ok := r.archive.replicaDir(); ok {
		metas, err := d.listMetadata(r.logger)
		if err == nil {
			sortNewestFirst(metas)
			return metas, nil
		}
		r.logger.Warn("listing replica snapshots, falling back to local", "error", err)
	}

	metas, err := r.archive.localDir().listMetadata(r.logger)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	sortNewestFirst(metas)
	return metas, nil
}

// Delete removes snapshot id from every directory. A failure in one
// directory does not stop the others. ErrNotFound is returned only when
// no directory held the snapshot.
func (r *Registry) Delete(id string) error {
	r.archive.mu.Lock()
	defer r.archive.mu.Unlock()

	found := false
	var firstErr error
	for _, d := range r.archive.dirs() {
		existed, err := d.remove(id)
		if existed {
			found = true
		}
		if err != nil {
			r.logger.Warn("deleting snapshot", "dir", d.label, "id", id, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	switch {
	case found:
		r.logger.Info("snapshot deleted", "id", id)
		return nil
	case firstErr != nil:
		return fmt.Errorf("deleting snapshot %s: %w", id, firstErr)
	default:
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
}

// Due reports whether an automatic snapshot should run: no snapshot
// exists, or the newest is at least the configured interval old.
func (r *Registry) Due() (bool, error) {
	metas, err := r.List()
	if err != nil {
		return false, err
	}
	if len(metas) == 0 {
		return true, nil
	}
	age := r.clock.Now().Sub(metas[0].CreatedAt)
	return age >= r.interval, nil
}
