package tasksnap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tasksnap/internal/snapshot"
)

// ServiceConfig carries the dependencies of a Service. Replicas, Encryptor
// and History are optional.
type ServiceConfig struct {
	Store     *ObjectStore
	Backends  BackendFactory
	Monitor   *SyncMonitor
	Archive   Vault
	Replicas  ReplicaLocator
	Staging   StagingArea
	Encryptor Encryptor
	History   OperationLog

	Build        BuildInfo
	Retention    int
	AutoInterval time.Duration

	Logger Logger
	Clock  Clock
	IDs    IDGenerator
}

// Service is the operational surface over the object store: replication
// control, manual sync and snapshot management. At most one export or
// restore runs at a time; a second request fails with ErrBusy.
type Service struct {
	store     *ObjectStore
	toggle    *ReplicationToggle
	monitor   *SyncMonitor
	archive   *SnapshotArchive
	exporter  *Exporter
	importer  *Importer
	registry  *Registry
	encryptor Encryptor
	history   OperationLog
	logger    Logger

	mu        sync.Mutex
	backingUp bool
	restoring bool
}

// NewService wires a Service from cfg.
func NewService(cfg ServiceConfig) *Service {
	archive := NewSnapshotArchive(cfg.Archive, cfg.Store, cfg.Replicas, cfg.Encryptor, cfg.Logger)
	return &Service{
		store:     cfg.Store,
		toggle:    NewReplicationToggle(cfg.Store, cfg.Backends, cfg.Monitor, cfg.Logger),
		monitor:   cfg.Monitor,
		archive:   archive,
		exporter:  NewExporter(archive, cfg.Store, cfg.Staging, cfg.Build, cfg.Retention, cfg.Clock, cfg.Logger),
		importer:  NewImporter(archive, cfg.Store, cfg.IDs, cfg.Logger),
		registry:  NewRegistry(archive, cfg.AutoInterval, cfg.Clock, cfg.Logger),
		encryptor: cfg.Encryptor,
		history:   cfg.History,
		logger:    cfg.Logger,
	}
}

// Store returns the object store.
func (s *Service) Store() *ObjectStore { return s.store }

// SyncStatus returns the current replication health.
func (s *Service) SyncStatus() SyncStatus { return s.monitor.Status() }

// Monitor runs the sync monitor until ctx is done: store events drive its
// transitions, and probe is polled every interval when non-nil.
func (s *Service) Monitor(ctx context.Context, probe AccountProbe, interval time.Duration) {
	events, cancel := s.store.Subscribe(16)
	defer cancel()

	if probe != nil && interval > 0 {
		go s.monitor.WatchAccount(ctx, probe, interval)
	}
	s.monitor.Watch(ctx, events)
}

// EnableReplication turns on replication to replicaID.
func (s *Service) EnableReplication(ctx context.Context, replicaID string) error {
	return s.toggle.Enable(ctx, replicaID)
}

// DisableReplication returns the store to local-only operation.
func (s *Service) DisableReplication(ctx context.Context) error {
	return s.toggle.Disable(ctx)
}

// TriggerManualSync commits pending changes and reconciles with the replica.
func (s *Service) TriggerManualSync(ctx context.Context) error {
	if !s.store.Config().Replicated {
		return fmt.Errorf("manual sync: %w", ErrReplicaUnavailable)
	}

	s.monitor.ManualSyncRequested()
	if err := s.store.Sync(ctx); err != nil {
		s.monitor.SyncFailed(err)
		if errors.Is(err, ErrCommitFailed) || errors.Is(err, ErrReplicaUnavailable) {
			return fmt.Errorf("manual sync: %w", err)
		}
		return fmt.Errorf("manual sync: %w: %w", ErrReplicaUnavailable, err)
	}
	s.monitor.SyncSucceeded()
	return nil
}

// IsBackingUp reports whether an export is running.
func (s *Service) IsBackingUp() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backingUp
}

// IsRestoring reports whether a restore is running.
func (s *Service) IsRestoring() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restoring
}

// acquire marks a job as running, or fails with ErrBusy.
func (s *Service) acquire(flag *bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.backingUp || s.restoring {
		return ErrBusy
	}
	*flag = true
	return nil
}

func (s *Service) release(flag *bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	*flag = false
}

// CreateSnapshot starts an export in the background.
func (s *Service) CreateSnapshot(ctx context.Context, automatic bool) (*Task[*snapshot.Metadata], error) {
	if err := s.acquire(&s.backingUp); err != nil {
		return nil, err
	}
	return s.startExport(ctx, automatic), nil
}

// startExport runs an export; the caller must hold the backingUp flag.
func (s *Service) startExport(ctx context.Context, automatic bool) *Task[*snapshot.Metadata] {
	return startTask(ctx, func(ctx context.Context, p *Progress) (*snapshot.Metadata, error) {
		return s.exporter.Export(ctx, automatic, p)
	}, func(err error) {
		s.release(&s.backingUp)
		if err != nil {
			s.logger.Error("snapshot creation failed", "automatic", automatic, "error", err)
		}
	})
}

// RestoreSnapshot starts a restore of snapshot id in the background.
func (s *Service) RestoreSnapshot(ctx context.Context, id string) (*Task[struct{}], error) {
	if err := s.acquire(&s.restoring); err != nil {
		return nil, err
	}
	return startTask(ctx, func(ctx context.Context, p *Progress) (struct{}, error) {
		return struct{}{}, s.importer.Import(ctx, id, p)
	}, func(err error) {
		s.release(&s.restoring)
		if err != nil {
			s.logger.Error("restore failed", "id", id, "error", err)
		}
	}), nil
}

// UnlockSnapshots unlocks the private key so encrypted replica copies can
// be restored.
func (s *Service) UnlockSnapshots(passphrase string) error {
	if s.encryptor == nil {
		return errors.New("encryption is not configured")
	}
	dec, err := s.encryptor.Unlock(passphrase)
	if err != nil {
		return fmt.Errorf("unlocking key: %w", err)
	}
	s.importer.SetDecryptionContext(dec)
	return nil
}

// DeleteSnapshot removes a snapshot from every directory.
func (s *Service) DeleteSnapshot(id string) error {
	return s.registry.Delete(id)
}

// ListSnapshots returns snapshot metadata newest first.
func (s *Service) ListSnapshots() ([]*snapshot.Metadata, error) {
	return s.registry.List()
}

// ScheduleIfDue creates an automatic snapshot when one is due and returns
// its metadata. Failures are logged, not returned, and yield nil. The
// schedule is checked while the backup flag is held, so concurrent callers
// produce at most one snapshot.
func (s *Service) ScheduleIfDue(ctx context.Context) *snapshot.Metadata {
	if err := s.acquire(&s.backingUp); err != nil {
		s.logger.Warn("automatic snapshot skipped", "error", err)
		return nil
	}

	due, err := s.registry.Due()
	if err != nil || !due {
		s.release(&s.backingUp)
		if err != nil {
			s.logger.Warn("checking snapshot schedule", "error", err)
		} else {
			s.logger.Debug("automatic snapshot not due")
		}
		return nil
	}

	meta, err := s.startExport(ctx, true).Wait(ctx)
	if err != nil {
		s.logger.Warn("automatic snapshot failed", "error", err)
		return nil
	}
	return meta
}
