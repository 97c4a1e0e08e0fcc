package tasksnap

import (
	"context"
	"time"

	"github.com/google/uuid"

	"tasksnap/internal/model"
)

// StoreConfig describes how the object store is backed. Exactly one is
// active at a time; changing it requires a reload through ReplicationToggle.
type StoreConfig struct {
	Replicated bool
	ReplicaID  string
}

// LocalOnly is the configuration with replication disabled.
var LocalOnly = StoreConfig{}

// String renders the configuration for logs.
func (c StoreConfig) String() string {
	if !c.Replicated {
		return "local"
	}
	return "replicated:" + c.ReplicaID
}

// ChangeSet is a batch of mutations a backend applies in one transaction.
// Clear runs first, then Deletes, then Upserts.
type ChangeSet struct {
	Clear   []model.Kind
	Deletes map[model.Kind][]uuid.UUID
	Upserts []model.Record
}

// Empty reports whether the change set would do nothing.
func (cs *ChangeSet) Empty() bool {
	if cs == nil {
		return true
	}
	if len(cs.Clear) > 0 || len(cs.Upserts) > 0 {
		return false
	}
	for _, ids := range cs.Deletes {
		if len(ids) > 0 {
			return false
		}
	}
	return true
}

// Backend is a handle on durable storage for the object store.
type Backend interface {
	// Load returns every stored record grouped by kind.
	Load(ctx context.Context) (map[model.Kind][]model.Record, error)

	// Apply durably applies cs. Either all of it is applied or none.
	Apply(ctx context.Context, cs *ChangeSet) error

	// Close detaches the handle. The handle must not be used afterwards.
	Close() error
}

// BackendFactory builds backend handles for a store configuration.
type BackendFactory interface {
	Open(ctx context.Context, cfg StoreConfig) (Backend, error)
}

// BackendEventKind classifies notifications raised by a backend.
type BackendEventKind int

const (
	// BackendRemoteChange means the replica received changes from another origin.
	BackendRemoteChange BackendEventKind = iota
	// BackendReplicated means local changes reached the replica.
	BackendReplicated
	// BackendReplicationFailed means pushing local changes to the replica failed.
	BackendReplicationFailed
)

// BackendEvent is a notification raised by a backend.
type BackendEvent struct {
	Kind BackendEventKind
	At   time.Time
	Err  error
}

// Notifier is implemented by backends that raise replication events.
// The channel is closed when the backend is closed.
type Notifier interface {
	Notifications() <-chan BackendEvent
}

// Syncer is implemented by backends that can be asked to reconcile with
// their replica on demand.
type Syncer interface {
	Sync(ctx context.Context) error
}
