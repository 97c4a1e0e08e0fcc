package tasksnap

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"tasksnap/internal/snapshot"
)

const (
	// SnapshotPrefix is the key prefix of snapshot files inside a vault.
	SnapshotPrefix = "snapshots/"

	// DefaultRetention is the number of snapshots kept per directory.
	DefaultRetention = 10
)

var errArtifactLocked = errors.New("artifact is encrypted and no key is unlocked")

// ReplicaLocator resolves the vault that holds a replica's files.
type ReplicaLocator interface {
	ReplicaVault(replicaID string) (Vault, error)
}

// SnapshotArchive is the pair of directories snapshots are written to: the
// local archive, which always exists, and the replica-visible directory,
// which exists only while replication is enabled. Exports and deletes take
// the write lock; restores and listings take the read lock, so nothing is
// pruned while it is being read.
type SnapshotArchive struct {
	mu        sync.RWMutex
	local     Vault
	store     *ObjectStore
	replicas  ReplicaLocator
	encryptor Encryptor
	logger    Logger
}

// NewSnapshotArchive creates an archive. replicas and encryptor may be nil.
func NewSnapshotArchive(local Vault, store *ObjectStore, replicas ReplicaLocator, encryptor Encryptor, logger Logger) *SnapshotArchive {
	return &SnapshotArchive{
		local:     local,
		store:     store,
		replicas:  replicas,
		encryptor: encryptor,
		logger:    logger,
	}
}

// archiveDir is one snapshot directory. Artifacts written through a dir
// with an encryptor are stored encrypted.
type archiveDir struct {
	label     string
	vault     Vault
	encryptor Encryptor
}

func (a *SnapshotArchive) localDir() archiveDir {
	return archiveDir{label: "local", vault: a.local}
}

// replicaDir returns the replica-visible directory when replication is
// enabled and its vault resolves.
func (a *SnapshotArchive) replicaDir() (archiveDir, bool) {
	cfg := a.store.Config()
	if !cfg.Replicated || a.replicas == nil {
		return archiveDir{}, false
	}
	v, err := a.replicas.ReplicaVault(cfg.ReplicaID)
	if err != nil {
		a.logger.Warn("replica directory unavailable", "replica", cfg.ReplicaID, "error", err)
		return archiveDir{}, false
	}
	d := archiveDir{label: "replica", vault: v}
	if a.encryptor != nil && a.encryptor.IsConfigured() {
		d.encryptor = a.encryptor
	}
	return d, true
}

// dirs returns the local directory followed by the replica directory when
// it is available.
func (a *SnapshotArchive) dirs() []archiveDir {
	out := []archiveDir{a.localDir()}
	if d, ok := a.replicaDir(); ok {
		out = append(out, d)
	}
	return out
}

// existsLocked reports whether any file for id exists in any directory.
func (a *SnapshotArchive) existsLocked(id string) bool {
	for _, d := range a.dirs() {
		keys, err := d.vault.List(SnapshotPrefix + id)
		if err == nil && len(keys) > 0 {
			return true
		}
	}
	return false
}

// pruneLocked trims every directory to keep snapshots, oldest first, and
// removes artifacts whose sidecar is missing.
func (a *SnapshotArchive) pruneLocked(keep int) {
	for _, d := range a.dirs() {
		metas, err := d.listMetadata(a.logger)
		if err != nil {
			a.logger.Warn("listing snapshots for prune", "dir", d.label, "error", err)
			continue
		}
		sortNewestFirst(metas)

		for i := keep; i < len(metas); i++ {
			if _, err := d.remove(metas[i].ID); err != nil {
				a.logger.Warn("pruning snapshot", "dir", d.label, "id", metas[i].ID, "error", err)
				continue
			}
			a.logger.Info("snapshot pruned", "dir", d.label, "id", metas[i].ID)
		}

		if err := d.sweepOrphans(a.logger); err != nil {
			a.logger.Warn("sweeping orphaned artifacts", "dir", d.label, "error", err)
		}
	}
}

func artifactKey(id string) string          { return SnapshotPrefix + snapshot.ArtifactName(id) }
func encryptedArtifactKey(id string) string { return SnapshotPrefix + snapshot.EncryptedArtifactName(id) }
func metadataKey(id string) string          { return SnapshotPrefix + snapshot.MetadataName(id) }

// writeArtifact copies staged content into the directory and returns the
// key it was written to.
func (d archiveDir) writeArtifact(staging StagingArea, staged *StagedArtifact) (string, error) {
	id, _ := snapshot.ParseName(staged.Name)

	r, err := staging.Open(staged.Name)
	if err != nil {
		return "", fmt.Errorf("opening staged artifact: %w", err)
	}
	defer r.Close()

	if d.encryptor == nil {
		key := artifactKey(id)
		if err := d.vault.Put(key, r, staged.Size); err != nil {
			return "", err
		}
		return key, nil
	}

	var buf bytes.Buffer
	if err := d.encryptor.Encrypt(r, &buf); err != nil {
		return "", fmt.Errorf("encrypting artifact: %w", err)
	}
	key := encryptedArtifactKey(id)
	if err := d.vault.Put(key, &buf, int64(buf.Len())); err != nil {
		return "", err
	}
	return key, nil
}

func (d archiveDir) writeMetadata(m *snapshot.Metadata) error {
	data, err := snapshot.MarshalMetadata(m)
	if err != nil {
		return err
	}
	return d.vault.Put(metadataKey(m.ID), bytes.NewReader(data), int64(len(data)))
}

// readArtifact returns the plaintext artifact for id. A missing artifact
// wraps ErrObjectNotFound; an encrypted one without dec returns
// errArtifactLocked.
func (d archiveDir) readArtifact(id string, dec DecryptionContext) ([]byte, error) {
	var buf bytes.Buffer
	err := d.vault.Get(artifactKey(id), &buf)
	if err == nil {
		return buf.Bytes(), nil
	}
	if !errors.Is(err, ErrObjectNotFound) {
		return nil, err
	}

	buf.Reset()
	if err := d.vault.Get(encryptedArtifactKey(id), &buf); err != nil {
		return nil, err
	}
	if dec == nil {
		return nil, errArtifactLocked
	}

	var plain bytes.Buffer
	if err := dec.Decrypt(&buf, &plain); err != nil {
		return nil, fmt.Errorf("decrypting artifact: %w", err)
	}
	return plain.Bytes(), nil
}

// listMetadata reads every sidecar in the directory. Unreadable sidecars
// are skipped.
func (d archiveDir) listMetadata(logger Logger) ([]*snapshot.Metadata, error) {
	keys, err := d.vault.List(SnapshotPrefix)
	if err != nil {
		return nil, err
	}

	var out []*snapshot.Metadata
	for _, key := range keys {
		if _, kind := snapshot.ParseName(strings.TrimPrefix(key, SnapshotPrefix)); kind != snapshot.FileMetadata {
			continue
		}
		var buf bytes.Buffer
		if err := d.vault.Get(key, &buf); err != nil {
			logger.Warn("reading snapshot metadata", "dir", d.label, "key", key, "error", err)
			continue
		}
		m, err := snapshot.UnmarshalMetadata(buf.Bytes())
		if err != nil {
			logger.Warn("decoding snapshot metadata", "dir", d.label, "key", key, "error", err)
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// remove deletes every file for id. It reports whether anything existed.
// The sidecar goes first so a half-removed snapshot is an orphan rather
// than a listed snapshot without an artifact.
func (d archiveDir) remove(id string) (bool, error) {
	existed := false
	var firstErr error
	for _, key := range []string{metadataKey(id), artifactKey(id), encryptedArtifactKey(id)} {
		err := d.vault.Delete(key)
		switch {
		case err == nil:
			existed = true
		case errors.Is(err, ErrObjectNotFound):
		default:
			if firstErr == nil {
				firstErr = fmt.Errorf("deleting %s: %w", key, err)
			}
		}
	}
	return existed, firstErr
}

// sweepOrphans deletes artifacts that have no sidecar.
func (d archiveDir) sweepOrphans(logger Logger) error {
	keys, err := d.vault.List(SnapshotPrefix)
	if err != nil {
		return err
	}

	hasMeta := make(map[string]bool)
	var artifacts []string
	for _, key := range keys {
		id, kind := snapshot.ParseName(strings.TrimPrefix(key, SnapshotPrefix))
		switch kind {
		case snapshot.FileMetadata:
			hasMeta[id] = true
		case snapshot.FileArtifact, snapshot.FileEncryptedArtifact:
			artifacts = append(artifacts, key)
		}
	}

	for _, key := range artifacts {
		id, _ := snapshot.ParseName(strings.TrimPrefix(key, SnapshotPrefix))
		if hasMeta[id] {
			continue
		}
		if err := d.vault.Delete(key); err != nil && !errors.Is(err, ErrObjectNotFound) {
			return fmt.Errorf("deleting orphan %s: %w", key, err)
		}
		logger.Info("orphaned artifact removed", "dir", d.label, "key", key)
	}
	return nil
}

func sortNewestFirst(metas []*snapshot.Metadata) {
	sort.SliceStable(metas, func(i, j int) bool {
		if !metas[i].CreatedAt.Equal(metas[j].CreatedAt) {
			return metas[i].CreatedAt.After(metas[j].CreatedAt)
		}
		return metas[i].ID > metas[j].ID
	})
}
