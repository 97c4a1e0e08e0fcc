package tasksnap

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"tasksnap/internal/snapshot"
)

// Importer replaces the object store's content with a snapshot.
type Importer struct {
	archive *SnapshotArchive
	store   *ObjectStore
	idgen   IDGenerator
	logger  Logger

	mu      sync.Mutex
	decrypt DecryptionContext
}

// NewImporter creates an importer.
func NewImporter(archive *SnapshotArchive, store *ObjectStore, idgen IDGenerator, logger Logger) *Importer {
	return &Importer{
		archive: archive,
		store:   store,
		idgen:   idgen,
		logger:  logger,
	}
}

// SetDecryptionContext makes encrypted replica copies readable.
func (im *Importer) SetDecryptionContext(dec DecryptionContext) {
	im.mu.Lock()
	defer im.mu.Unlock()
	im.decrypt = dec
}

func (im *Importer) decryptionContext() DecryptionContext {
	im.mu.Lock()
	defer im.mu.Unlock()
	return im.decrypt
}

// Import restores snapshot id. The replica copy is preferred and the local
// archive is the fallback. Only the record kinds present in the artifact
// are replaced, in a single backend transaction: on failure the store is
// unchanged.
func (im *Importer) Import(ctx context.Context, id string, progress *Progress) error {
	im.archive.mu.RLock()
	defer im.archive.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := im.locate(id)
	if err != nil {
		return err
	}
	report(progress, 0.3)

	doc, err := snapshot.Decode(data)
	if err != nil {
		if errors.Is(err, snapshot.ErrInvalid) {
			return fmt.Errorf("%w: %s: %w", ErrCorrupt, id, err)
		}
		return fmt.Errorf("%w: %s: %w", ErrReadFailed, id, err)
	}
	report(progress, 0.5)

	if err := ctx.Err(); err != nil {
		return err
	}
	kinds := doc.Kinds()
	records := doc.Records(im.idgen.New)
	report(progress, 0.6)

	if err := im.store.Replace(ctx, kinds, records); err != nil {
		return fmt.Errorf("%w: %w", ErrRestoreFailed, err)
	}

	im.logger.Info("snapshot restored", "id", id, "records", doc.RecordCount())
	return nil
}

// locate reads the artifact bytes for id.
func (im *Importer) locate(id string) ([]byte, error) {
	dec := im.decryptionContext()

	dirs := []archiveDir{}
	if d, ok := im.archive.replicaDir(); ok {
		dirs = append(dirs, d)
	}
	dirs = append(dirs, im.archive.localDir())

	var readErr error
	for _, d := range dirs {
		data, err := d.readArtifact(id, dec)
		if err == nil {
			im.logger.Debug("artifact located", "dir", d.label, "id", id)
			return data, nil
		}
		if errors.Is(err, ErrObjectNotFound) {
			continue
		}
		im.logger.Warn("reading artifact", "dir", d.label, "id", id, "error", err)
		if readErr == nil {
			readErr = err
		}
	}

	if readErr != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrReadFailed, id, readErr)
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}
