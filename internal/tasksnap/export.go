package tasksnap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"tasksnap/internal/snapshot"
)

// BuildInfo identifies the application build and device producing snapshots.
type BuildInfo struct {
	Version    string
	Build      string
	DeviceName string
	OSVersion  string
}

// Exporter serializes the object store into snapshot artifacts.
type Exporter struct {
	archive   *SnapshotArchive
	store     *ObjectStore
	staging   StagingArea
	build     BuildInfo
	retention int
	clock     Clock
	logger    Logger
}

// NewExporter creates an exporter. A retention below 1 uses DefaultRetention.
func NewExporter(archive *SnapshotArchive, store *ObjectStore, staging StagingArea, build BuildInfo, retention int, clock Clock, logger Logger) *Exporter {
	if retention < 1 {
		retention = DefaultRetention
	}
	return &Exporter{
		archive:   archive,
		store:     store,
		staging:   staging,
		build:     build,
		retention: retention,
		clock:     clock,
		logger:    logger,
	}
}

// Export writes a new snapshot and prunes old ones. The artifact and its
// sidecar are written to the local archive and, when replication is
// enabled, to the replica directory; the sidecar is written last so a
// snapshot exists only once both files do. Cancellation is honored between
// steps, and a snapshot interrupted before its sidecar is written is
// removed.
func (e *Exporter) Export(ctx context.Context, automatic bool, progress *Progress) (*snapshot.Metadata, error) {
	e.archive.mu.Lock()
	defer e.archive.mu.Unlock()

	local := e.archive.localDir()
	if err := local.vault.ValidateSetup(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDestinationUnavailable, err)
	}
	dirs := []archiveDir{local}
	if d, ok := e.archive.replicaDir(); ok {
		if err := d.vault.ValidateSetup(); err != nil {
			e.logger.Warn("skipping replica directory", "error", err)
		} else {
			dirs = append(dirs, d)
		}
	}

	// Serialize.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := e.store.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCreationFailed, err)
	}
	now := e.clock.Now().UTC()
	doc := snapshot.NewDocument(e.store.All(), snapshot.ExportMetadata{
		Version:    e.build.Version,
		Build:      e.build.Build,
		ExportedAt: now.Format(snapshot.TimeLayout),
		DeviceName: e.build.DeviceName,
		OSVersion:  e.build.OSVersion,
	})
	data, err := snapshot.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCreationFailed, err)
	}
	report(progress, 0.25)

	// Stage.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	createdAt := e.uniqueTime(now)
	id := snapshot.NewID(createdAt)
	staged, err := e.staging.Stage(snapshot.ArtifactName(id), bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, ErrInsufficientSpace) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: staging: %w", ErrCreationFailed, err)
	}
	defer func() {
		if err := e.staging.Remove(staged.Name); err != nil {
			e.logger.Warn("removing staged artifact", "name", staged.Name, "error", err)
		}
	}()
	report(progress, 0.4)

	// Write artifacts.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var written []archiveDir
	for _, d := range dirs {
		if _, err := d.writeArtifact(e.staging, staged); err != nil {
			if d.label == local.label {
				e.discard(id, written)
				return nil, fmt.Errorf("%w: writing artifact: %w", ErrCreationFailed, err)
			}
			e.logger.Warn("writing replica artifact", "id", id, "error", err)
			e.discard(id, []archiveDir{d})
			continue
		}
		written = append(written, d)
	}
	report(progress, 0.7)

	// Write sidecars.
	if err := ctx.Err(); err != nil {
		e.discard(id, written)
		return nil, err
	}
	meta := &snapshot.Metadata{
		ID:          id,
		CreatedAt:   createdAt,
		DeviceName:  e.build.DeviceName,
		AppVersion:  e.build.Version,
		OSVersion:   e.build.OSVersion,
		RecordCount: doc.RecordCount(),
		FileSize:    staged.Size,
		IsAutomatic: automatic,
	}
	for i, d := range written {
		if err := d.writeMetadata(meta); err != nil {
			if d.label == local.label {
				e.discard(id, written)
				return nil, fmt.Errorf("%w: writing metadata: %w", ErrCreationFailed, err)
			}
			e.logger.Warn("writing replica metadata", "id", id, "error", err)
			e.discard(id, written[i:i+1])
		}
	}
	report(progress, 0.9)
	e.logger.Info("snapshot created", "id", id, "records", meta.RecordCount, "size", meta.FileSize, "automatic", automatic)

	// Prune. The snapshot is complete, so a cancellation here only defers
	// pruning to the next export.
	if ctx.Err() != nil {
		return meta, nil
	}
	e.archive.pruneLocked(e.retention)
	return meta, nil
}

// uniqueTime returns t truncated to the id resolution, moved forward until
// no snapshot with the derived id exists. Must hold the archive lock.
func (e *Exporter) uniqueTime(t time.Time) time.Time {
	t = t.Truncate(time.Millisecond)
	for e.archive.existsLocked(snapshot.NewID(t)) {
		t = t.Add(time.Millisecond)
	}
	return t
}

// discard removes partially written snapshot files.
func (e *Exporter) discard(id string, dirs []archiveDir) {
	for _, d := range dirs {
		if _, err := d.remove(id); err != nil {
			e.logger.Error("removing partial snapshot", "dir", d.label, "id", id, "error", err)
		}
	}
}

func report(p *Progress, v float64) {
	if p != nil {
		p.Set(v)
	}
}
