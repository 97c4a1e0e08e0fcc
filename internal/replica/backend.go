package replica

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"tasksnap/internal/database"
	"tasksnap/internal/model"
	"tasksnap/internal/tasksnap"
)

const (
	// metadataName is the vault metadata item holding the database copy.
	metadataName = "db"

	eventBuffer = 16
)

// ReplicatedBackend decorates a database handle. Every applied change set
// is followed by a push of a consistent database copy to the replica vault,
// versioned by the replica push log. The vault's version marker is watched
// so changes written by another origin raise a remote-change event.
type ReplicatedBackend struct {
	handle       *database.Handle
	db           *database.SQLiteDatabase
	vault        tasksnap.Vault
	replicaID    string
	hostID       string
	pollInterval time.Duration
	clock        tasksnap.Clock
	logger       tasksnap.Logger

	// pushMu serializes pushes and remote checks; seen is the newest
	// version this backend knows the replica holds.
	pushMu sync.Mutex
	seen   int64

	// closing is set by the first Close; closed once events is closed.
	evMu    sync.Mutex
	closing bool
	closed  bool
	events  chan tasksnap.BackendEvent

	done chan struct{}
	wg   sync.WaitGroup
}

var (
	_ tasksnap.Backend  = (*ReplicatedBackend)(nil)
	_ tasksnap.Notifier = (*ReplicatedBackend)(nil)
	_ tasksnap.Syncer   = (*ReplicatedBackend)(nil)
)

// ReplicaID returns the replica this backend pushes to.
func (b *ReplicatedBackend) ReplicaID() string { return b.replicaID }

// Load reads every record from the local database.
func (b *ReplicatedBackend) Load(ctx context.Context) (map[model.Kind][]model.Record, error) {
	return b.handle.Load(ctx)
}

// Apply applies cs locally, then pushes the database to the replica. A
// failed push does not fail the apply; it is reported as an event.
func (b *ReplicatedBackend) Apply(ctx context.Context, cs *tasksnap.ChangeSet) error {
	if err := b.handle.Apply(ctx, cs); err != nil {
		return err
	}
	if cs.Empty() {
		return nil
	}

	if err := b.push(ctx); err != nil {
		b.logger.Warn("replica push failed", "replica", b.replicaID, "error", err)
		b.emit(tasksnap.BackendReplicationFailed, err)
		return nil
	}
	b.emit(tasksnap.BackendReplicated, nil)
	return nil
}

// Sync pushes the database and checks the replica for remote changes.
func (b *ReplicatedBackend) Sync(ctx context.Context) error {
	if err := b.push(ctx); err != nil {
		return fmt.Errorf("%w: %w", tasksnap.ErrReplicaUnavailable, err)
	}
	if err := b.checkRemote(); err != nil {
		return fmt.Errorf("%w: %w", tasksnap.ErrReplicaUnavailable, err)
	}
	return nil
}

// Notifications returns the backend's event channel. It is closed by Close.
func (b *ReplicatedBackend) Notifications() <-chan tasksnap.BackendEvent {
	return b.events
}

// Close stops watching the replica and detaches the database handle.
func (b *ReplicatedBackend) Close() error {
	b.evMu.Lock()
	if b.closing {
		b.evMu.Unlock()
		return nil
	}
	b.closing = true
	b.evMu.Unlock()

	close(b.done)
	b.wg.Wait()

	b.evMu.Lock()
	b.closed = true
	close(b.events)
	b.evMu.Unlock()

	return b.handle.Close()
}

// push writes a consistent copy of the database to a temp file and uploads
// it as the host's "db" metadata item.
func (b *ReplicatedBackend) push(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.pushMu.Lock()
	defer b.pushMu.Unlock()

	// VACUUM INTO refuses to overwrite, so the copy goes into a fresh dir.
	dir, err := os.MkdirTemp("", "tasksnap-replica-*")
	if err != nil {
		return fmt.Errorf("creating temp dir for db copy: %w", err)
	}
	defer os.RemoveAll(dir)

	tmpPath := filepath.Join(dir, "db.sqlite")
	if err := b.handle.BackupTo(tmpPath); err != nil {
		return err
	}

	version, err := b.db.RecordReplicaPush(b.replicaID)
	if err != nil {
		return err
	}

	f, err := os.Open(tmpPath)
	if err != nil {
		return fmt.Errorf("opening db copy for upload: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat db copy: %w", err)
	}

	if err := b.vault.PutMetadata(b.hostID, metadataName, f, info.Size(), version); err != nil {
		return fmt.Errorf("uploading db copy to vault %q: %w", b.vault.Name(), err)
	}

	b.seen = version
	b.logger.Debug("replica push", "replica", b.replicaID, "version", version, "size", info.Size())
	return nil
}

// checkRemote compares the replica's version marker with the newest one
// this backend knows about.
func (b *ReplicatedBackend) checkRemote() error {
	b.pushMu.Lock()
	defer b.pushMu.Unlock()

	remote, err := b.vault.GetMetadataVersion(b.hostID, metadataName)
	if err != nil {
		return fmt.Errorf("reading replica version: %w", err)
	}
	if remote > b.seen {
		b.logger.Info("remote change detected", "replica", b.replicaID, "local", b.seen, "remote", remote)
		b.seen = remote
		b.emit(tasksnap.BackendRemoteChange, nil)
	}
	return nil
}

// start launches the watch loop. Vaults implementing tasksnap.Watcher are
// watched; the rest are polled.
func (b *ReplicatedBackend) start() {
	var changes <-chan struct{}
	var stop func()
	if w, ok := b.vault.(tasksnap.Watcher); ok {
		ch, s, err := w.WatchMetadata(b.hostID)
		if err != nil {
			b.logger.Warn("watching replica failed, polling instead", "replica", b.replicaID, "error", err)
		} else {
			changes, stop = ch, s
		}
	}

	var ticker *time.Ticker
	if changes == nil {
		if b.pollInterval <= 0 {
			return
		}
		ticker = time.NewTicker(b.pollInterval)
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if stop != nil {
			defer stop()
		}
		var tick <-chan time.Time
		if ticker != nil {
			defer ticker.Stop()
			tick = ticker.C
		}

		for {
			select {
			case <-b.done:
				return
			case _, ok := <-changes:
				if !ok {
					changes = nil
					continue
				}
				b.check()
			case <-tick:
				b.check()
			}
		}
	}()
}

func (b *ReplicatedBackend) check() {
	if err := b.checkRemote(); err != nil {
		b.logger.Warn("checking replica failed", "replica", b.replicaID, "error", err)
	}
}

// emit sends an event without blocking. Events are dropped when nobody is
// draining the channel.
func (b *ReplicatedBackend) emit(kind tasksnap.BackendEventKind, err error) {
	b.evMu.Lock()
	defer b.evMu.Unlock()
	if b.closed {
		return
	}
	select {
	case b.events <- tasksnap.BackendEvent{Kind: kind, At: b.clock.Now(), Err: err}:
	default:
		b.logger.Warn("dropping replication event", "kind", int(kind))
	}
}
