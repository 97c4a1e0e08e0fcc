package testutil

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"tasksnap/internal/model"
	"tasksnap/internal/replica"
	"tasksnap/internal/tasksnap"
)

// NewTestBackends creates a replica factory over a fresh in-memory database.
// vaults is keyed by vault name and may be nil.
func NewTestBackends(t *testing.T, vaults map[string]tasksnap.Vault) *replica.Factory {
	t.Helper()
	return replica.NewFactory(NewTestDatabase(t), vaults, "test-host", 0, FixedClock(), tasksnap.NewNopLogger())
}

// FaultyBackends wraps a BackendFactory with injectable failures. Backends
// it opens keep the Notifier and Syncer behavior of the wrapped backend.
type FaultyBackends struct {
	inner tasksnap.BackendFactory

	mu         sync.Mutex
	failOpen   func(cfg tasksnap.StoreConfig) error
	failApply  error
	failLoad   error
	opened     []tasksnap.StoreConfig
	applyCalls int
}

var _ tasksnap.BackendFactory = (*FaultyBackends)(nil)

// NewFaultyBackends wraps inner.
func NewFaultyBackends(inner tasksnap.BackendFactory) *FaultyBackends {
	return &FaultyBackends{inner: inner}
}

// FailReplicatedOpen makes every replicated Open fail with err. A nil err
// clears the failure.
func (f *FaultyBackends) FailReplicatedOpen(err error) {
	f.setFailOpen(func(cfg tasksnap.StoreConfig) error {
		if cfg.Replicated {
			return err
		}
		return nil
	})
}

// FailNextLocalOpen makes only the next local-only Open fail with err.
func (f *FaultyBackends) FailNextLocalOpen(err error) {
	var fired atomic.Bool
	f.setFailOpen(func(cfg tasksnap.StoreConfig) error {
		if !cfg.Replicated && fired.CompareAndSwap(false, true) {
			return err
		}
		return nil
	})
}

// FailAllOpens makes every Open fail with err. A nil err clears the failure.
func (f *FaultyBackends) FailAllOpens(err error) {
	f.setFailOpen(func(tasksnap.StoreConfig) error { return err })
}

func (f *FaultyBackends) setFailOpen(fn func(tasksnap.StoreConfig) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOpen = fn
}

// FailApply makes Apply on every backend fail with err. A nil err clears
// the failure.
func (f *FaultyBackends) FailApply(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failApply = err
}

// FailLoad makes Load on newly opened backends fail with err.
func (f *FaultyBackends) FailLoad(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failLoad = err
}

// Opened returns the configurations of every successful Open, in order.
func (f *FaultyBackends) Opened() []tasksnap.StoreConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tasksnap.StoreConfig(nil), f.opened...)
}

// ApplyCalls returns how many times Apply reached a backend.
func (f *FaultyBackends) ApplyCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.applyCalls
}

// Open implements tasksnap.BackendFactory.
func (f *FaultyBackends) Open(ctx context.Context, cfg tasksnap.StoreConfig) (tasksnap.Backend, error) {
	f.mu.Lock()
	failOpen := f.failOpen
	f.mu.Unlock()

	if failOpen != nil {
		if err := failOpen(cfg); err != nil {
			return nil, err
		}
	}

	b, err := f.inner.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.opened = append(f.opened, cfg)
	f.mu.Unlock()

	fb := &faultyBackend{Backend: b, owner: f}
	n, isNotifier := b.(tasksnap.Notifier)
	s, isSyncer := b.(tasksnap.Syncer)
	if isNotifier && isSyncer {
		return &faultyReplicatedBackend{faultyBackend: fb, notifier: n, syncer: s}, nil
	}
	return fb, nil
}

type faultyBackend struct {
	tasksnap.Backend
	owner *FaultyBackends
}

func (b *faultyBackend) Load(ctx context.Context) (map[model.Kind][]model.Record, error) {
	b.owner.mu.Lock()
	err := b.owner.failLoad
	b.owner.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return b.Backend.Load(ctx)
}

func (b *faultyBackend) Apply(ctx context.Context, cs *tasksnap.ChangeSet) error {
	b.owner.mu.Lock()
	err := b.owner.failApply
	b.owner.applyCalls++
	b.owner.mu.Unlock()
	if err != nil {
		return err
	}
	return b.Backend.Apply(ctx, cs)
}

type faultyReplicatedBackend struct {
	*faultyBackend
	notifier tasksnap.Notifier
	syncer   tasksnap.Syncer
}

func (b *faultyReplicatedBackend) Notifications() <-chan tasksnap.BackendEvent {
	return b.notifier.Notifications()
}

func (b *faultyReplicatedBackend) Sync(ctx context.Context) error {
	return b.syncer.Sync(ctx)
}
