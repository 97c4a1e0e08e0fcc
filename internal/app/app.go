package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"tasksnap/internal/config"
	"tasksnap/internal/database"
	"tasksnap/internal/encryption"
	"tasksnap/internal/replica"
	"tasksnap/internal/snapshot"
	"tasksnap/internal/staging"
	"tasksnap/internal/tasksnap"
	"tasksnap/internal/vault"
)

// Version is stamped into snapshot metadata. Overridden at link time.
var (
	Version = "0.1.0"
	Build   = "0"
)

// App is the application layer between the CLI and tasksnap.Service.
// It constructs all dependencies from config, persists the replication
// toggle back to the config file, and manages the DB lifecycle on Close.
type App struct {
	cfg        *config.Config
	configPath string
	db         *database.SQLiteDatabase
	replicas   *replica.Factory
	encryptor  tasksnap.Encryptor
	store      *tasksnap.ObjectStore
	monitor    *tasksnap.SyncMonitor
	service    *tasksnap.Service
	logger     tasksnap.Logger
	op         *Operation
	logFile    *os.File
}

// NewApp creates a fully wired App from the given config. configPath is
// where replication changes are saved. operation identifies the CLI command
// being run (e.g. "SnapshotCreate", "ReplicationEnable").
// The caller must call Close when done.
func NewApp(ctx context.Context, cfg *config.Config, configPath, operation string) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	pollInterval, err := cfg.Replication.PollDuration()
	if err != nil {
		return nil, err
	}

	opID := time.Now().UTC().Format("20060102T150405Z")
	slogger, logFile, err := newLogger(cfg.LogDir, opID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}
	clock := tasksnap.RealClock{}

	fail := func(err error, closers ...func() error) (*App, error) {
		for _, c := range closers {
			c()
		}
		logFile.Close()
		return nil, err
	}

	vaults, err := vault.NewVaultsFromConfig(ctx, cfg.Vaults)
	if err != nil {
		return fail(fmt.Errorf("creating vaults: %w", err))
	}

	archive, err := newArchive(cfg.Snapshots)
	if err != nil {
		return fail(err)
	}

	sa, err := staging.NewStagingAreaFromConfig(cfg.Staging)
	if err != nil {
		return fail(fmt.Errorf("creating staging area: %w", err))
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return fail(fmt.Errorf("creating encryptor: %w", err))
	}

	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.HostID, clock)
	if err != nil {
		return fail(fmt.Errorf("creating database: %w", err))
	}
	if err := db.CheckMigrations(); err != nil {
		return fail(fmt.Errorf("database schema out of date: %w", err), db.Close)
	}

	replicas := replica.NewFactory(db, vaults, cfg.HostID, pollInterval, clock, logger)
	monitor := tasksnap.NewSyncMonitor(cfg.Replication.Enabled, clock, logger)
	store := tasksnap.NewObjectStore(logger, clock)

	if err := attachStore(ctx, store, replicas, monitor, cfg.Replication, logger); err != nil {
		return fail(err, db.Close)
	}

	svc := tasksnap.NewService(tasksnap.ServiceConfig{
		Store:     store,
		Backends:  replicas,
		Monitor:   monitor,
		Archive:   archive,
		Replicas:  replicas,
		Staging:   sa,
		Encryptor: enc,
		History:   db,
		Build: tasksnap.BuildInfo{
			Version:    Version,
			Build:      Build,
			DeviceName: deviceName(cfg),
			OSVersion:  runtime.GOOS + "/" + runtime.GOARCH,
		},
		Retention:    cfg.Snapshots.Retention,
		AutoInterval: cfg.Snapshots.AutoInterval(),
		Logger:       logger,
		Clock:        clock,
		IDs:          tasksnap.UUIDGenerator{},
	})

	return &App{
		cfg:        cfg,
		configPath: configPath,
		db:         db,
		replicas:   replicas,
		encryptor:  enc,
		store:      store,
		monitor:    monitor,
		service:    svc,
		logger:     logger,
		op:         NewOperation(operation, ""),
		logFile:    logFile,
	}, nil
}

// attachStore attaches the store with the persisted replication setting.
// A replica that cannot be reached at startup leaves the store local-only
// and the monitor in the error state; the config is not rewritten.
func attachStore(ctx context.Context, store *tasksnap.ObjectStore, backends tasksnap.BackendFactory, monitor *tasksnap.SyncMonitor, rc config.ReplicationConfig, logger tasksnap.Logger) error {
	if rc.Enabled {
		err := store.Attach(ctx, backends, tasksnap.StoreConfig{Replicated: true, ReplicaID: rc.ReplicaID})
		if err == nil {
			return nil
		}
		logger.Warn("replica unavailable, continuing local-only", "replica", rc.ReplicaID, "error", err)
		monitor.ReplicationFailed(err)
	}
	if err := store.Attach(ctx, backends, tasksnap.LocalOnly); err != nil {
		return fmt.Errorf("opening object store: %w", err)
	}
	return nil
}

// newArchive returns the local snapshot archive. An empty archive_dir keeps
// snapshots in memory for the life of the process.
func newArchive(cfg config.SnapshotsConfig) (tasksnap.Vault, error) {
	if cfg.ArchiveDir == "" {
		return vault.NewMemoryVault("local"), nil
	}
	v, err := vault.NewFileSystemVault("local", cfg.ArchiveDir)
	if err != nil {
		return nil, fmt.Errorf("creating snapshot archive: %w", err)
	}
	return v, nil
}

func deviceName(cfg *config.Config) string {
	if cfg.DeviceName != "" {
		return cfg.DeviceName
	}
	if host, err := os.Hostname(); err == nil {
		return host
	}
	return cfg.HostID
}

// persistOperation saves the operation to the database, giving it an auto-increment ID.
// This should only be called for mutating commands.
func (a *App) persistOperation(parameters string) error {
	if a.op.Persisted() {
		return nil
	}
	a.op.Parameters = parameters
	dbOp, err := a.db.CreateOperation(a.op.Operation, a.op.Parameters)
	if err != nil {
		return fmt.Errorf("persisting operation: %w", err)
	}
	a.op.ID = dbOp.ID
	return nil
}

// Config returns the config the app was built from.
func (a *App) Config() *config.Config { return a.cfg }

// EnableReplication attaches the store to replicaID and saves the setting.
func (a *App) EnableReplication(ctx context.Context, replicaID string) error {
	if err := a.persistOperation(replicaID); err != nil {
		return err
	}
	if err := a.service.EnableReplication(ctx, replicaID); err != nil {
		return a.op.Fail(err)
	}
	a.cfg.Replication.Enabled = true
	a.cfg.Replication.ReplicaID = replicaID
	return a.op.Fail(a.saveConfig())
}

// DisableReplication returns the store to local-only and saves the setting.
func (a *App) DisableReplication(ctx context.Context) error {
	if err := a.persistOperation(""); err != nil {
		return err
	}
	if err := a.service.DisableReplication(ctx); err != nil {
		return a.op.Fail(err)
	}
	a.cfg.Replication.Enabled = false
	return a.op.Fail(a.saveConfig())
}

func (a *App) saveConfig() error {
	if a.configPath == "" {
		return nil
	}
	return config.Save(a.configPath, a.cfg)
}

// Sync pushes local changes to the replica and checks for remote ones.
func (a *App) Sync(ctx context.Context) error {
	return a.service.TriggerManualSync(ctx)
}

// Status returns the current replication health.
func (a *App) Status() tasksnap.SyncStatus {
	return a.service.SyncStatus()
}

// WatchStatus runs the sync monitor until ctx is done, sending every status
// change to fn. The replica vault is probed for account availability.
func (a *App) WatchStatus(ctx context.Context, fn func(tasksnap.SyncStatus)) {
	updates, cancel := a.monitor.Subscribe(16)
	defer cancel()

	var probe tasksnap.AccountProbe
	if rc := a.store.Config(); rc.Replicated {
		if v, err := a.replicas.ReplicaVault(rc.ReplicaID); err == nil {
			probe = v
		}
	}
	poll, _ := a.cfg.Replication.PollDuration()
	go a.service.Monitor(ctx, probe, poll)

	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-updates:
			if !ok {
				return
			}
			fn(st)
		}
	}
}

// CreateSnapshot exports the store and waits for the result. progress, when
// non-nil, receives fractional progress updates.
func (a *App) CreateSnapshot(ctx context.Context, progress func(float64)) (*snapshot.Metadata, error) {
	if err := a.persistOperation(""); err != nil {
		return nil, err
	}
	task, err := a.service.CreateSnapshot(ctx, false)
	if err != nil {
		return nil, a.op.Fail(err)
	}
	stop := reportProgress(task.Progress(), progress)
	defer stop()

	meta, err := task.Wait(ctx)
	return meta, a.op.Fail(err)
}

// RestoreSnapshot replaces the store contents with snapshot id. When
// passphrase is non-empty, encrypted replica copies are unlocked first.
func (a *App) RestoreSnapshot(ctx context.Context, id, passphrase string, progress func(float64)) error {
	if err := a.persistOperation(id); err != nil {
		return err
	}
	if passphrase != "" {
		if err := a.service.UnlockSnapshots(passphrase); err != nil {
			return a.op.Fail(err)
		}
	}
	task, err := a.service.RestoreSnapshot(ctx, id)
	if err != nil {
		return a.op.Fail(err)
	}
	stop := reportProgress(task.Progress(), progress)
	defer stop()

	_, err = task.Wait(ctx)
	return a.op.Fail(err)
}

func reportProgress(p *tasksnap.Progress, fn func(float64)) func() {
	if fn == nil {
		return func() {}
	}
	updates, cancel := p.Subscribe(8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for v := range updates {
			fn(v)
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// DeleteSnapshot removes snapshot id from every directory holding it.
func (a *App) DeleteSnapshot(id string) error {
	if err := a.persistOperation(id); err != nil {
		return err
	}
	return a.op.Fail(a.service.DeleteSnapshot(id))
}

// ListSnapshots returns snapshot metadata, newest first.
func (a *App) ListSnapshots() ([]*snapshot.Metadata, error) {
	return a.service.ListSnapshots()
}

// ScheduleSnapshot creates an automatic snapshot when one is due. It returns
// nil when nothing was due or the attempt failed; failures are only logged.
func (a *App) ScheduleSnapshot(ctx context.Context) (*snapshot.Metadata, error) {
	if err := a.persistOperation(""); err != nil {
		return nil, err
	}
	return a.service.ScheduleIfDue(ctx), nil
}

// History returns the most recent recorded operations.
func (a *App) History(limit int) ([]*tasksnap.Operation, error) {
	return a.service.History(limit)
}

// InitKeys generates the key pair used for encrypted replica copies.
func (a *App) InitKeys(passphrase string) error {
	if a.encryptor == nil {
		return errors.New("encryption is disabled; set [encryption] type in the config")
	}
	return a.encryptor.Setup(passphrase)
}

// Close finalizes the operation and closes all resources. Pending store
// changes are committed, which pushes them to the replica when one is
// attached.
func (a *App) Close() error {
	var firstErr error

	if err := a.store.Close(); err != nil {
		firstErr = fmt.Errorf("closing object store: %w", err)
		a.op.Status = "error"
	}

	if a.op.Persisted() {
		if err := a.db.FinishOperation(a.op.ID, a.op.Status); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("finishing operation: %w", err)
		}
	}

	if err := a.db.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}

	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}
