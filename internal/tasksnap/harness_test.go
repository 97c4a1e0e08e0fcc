package tasksnap_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"tasksnap/internal/model"
	"tasksnap/internal/tasksnap"
	"tasksnap/internal/testutil"
	"tasksnap/internal/vault"
)

const replicaName = "cloud"

// harness wires a Service over an in-memory database, a memory local
// archive and one memory replica vault named "cloud".
type harness struct {
	clock    *testutil.StubClock
	local    *vault.MemoryVault
	cloud    *vault.MemoryVault
	backends *testutil.FaultyBackends
	store    *tasksnap.ObjectStore
	monitor  *tasksnap.SyncMonitor
	svc      *tasksnap.Service
}

type harnessOption func(*tasksnap.ServiceConfig)

func withEncryptor(e tasksnap.Encryptor) harnessOption {
	return func(c *tasksnap.ServiceConfig) { c.Encryptor = e }
}

func withStaging(sa tasksnap.StagingArea) harnessOption {
	return func(c *tasksnap.ServiceConfig) { c.Staging = sa }
}

func withArchive(v tasksnap.Vault) harnessOption {
	return func(c *tasksnap.ServiceConfig) { c.Archive = v }
}

func withHistory(h tasksnap.OperationLog) harnessOption {
	return func(c *tasksnap.ServiceConfig) { c.History = h }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	h := &harness{
		clock: testutil.FixedClock(),
		local: testutil.NewTestVault("local"),
		cloud: testutil.NewTestVault(replicaName),
	}
	factory := testutil.NewTestBackends(t, map[string]tasksnap.Vault{replicaName: h.cloud})
	h.backends = testutil.NewFaultyBackends(factory)

	logger := tasksnap.NewNopLogger()
	h.store = tasksnap.NewObjectStore(logger, h.clock)
	require.NoError(t, h.store.Attach(context.Background(), h.backends, tasksnap.LocalOnly))
	t.Cleanup(func() { h.store.Close() })

	h.monitor = tasksnap.NewSyncMonitor(false, h.clock, logger)

	cfg := tasksnap.ServiceConfig{
		Store:    h.store,
		Backends: h.backends,
		Monitor:  h.monitor,
		Archive:  h.local,
		Replicas: factory,
		Staging:  testutil.NewTestStagingArea(),
		Build: tasksnap.BuildInfo{
			Version:    "1.2.0",
			Build:      "7",
			DeviceName: "test-device",
			OSVersion:  "linux/amd64",
		},
		Retention: tasksnap.DefaultRetention,
		Logger:    logger,
		Clock:     h.clock,
		IDs:       testutil.NewStubIDGenerator(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	h.svc = tasksnap.NewService(cfg)
	return h
}

// seed saves records and commits them.
func (h *harness) seed(t *testing.T, recs ...model.Record) {
	t.Helper()
	for _, r := range recs {
		require.NoError(t, h.store.Save(r))
	}
	require.NoError(t, h.store.Commit(context.Background()))
}

// snapshot creates a snapshot and waits for it.
func (h *harness) snapshot(t *testing.T, automatic bool) string {
	t.Helper()
	ctx := context.Background()
	task, err := h.svc.CreateSnapshot(ctx, automatic)
	require.NoError(t, err)
	meta, err := task.Wait(ctx)
	require.NoError(t, err)
	return meta.ID
}

// restore restores a snapshot and waits for it.
func (h *harness) restore(t *testing.T, id string) error {
	t.Helper()
	ctx := context.Background()
	task, err := h.svc.RestoreSnapshot(ctx, id)
	require.NoError(t, err)
	_, err = task.Wait(ctx)
	return err
}

var (
	spaceID = uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000001")
	baseAt  = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
)

func at(d time.Duration) *time.Time {
	t := baseAt.Add(d)
	return &t
}

func newSpace() *model.SharedSpace {
	return &model.SharedSpace{
		ID:        spaceID,
		Name:      "Home",
		Emoji:     "🏠",
		Color:     "#FF6B6B",
		IsActive:  true,
		ShareCode: "HOME42",
		CreatedAt: at(0),
	}
}

func newTask(title string) *model.Task {
	space := spaceID
	return &model.Task{
		ID:            uuid.New(),
		Title:         title,
		Status:        "todo",
		Category:      "clean",
		IsShared:      true,
		CreatedAt:     at(time.Hour),
		SharedSpaceID: &space,
	}
}

func titles(recs []model.Record) []string {
	var out []string
	for _, r := range recs {
		out = append(out, r.(*model.Task).Title)
	}
	return out
}

// eventRecorder collects events from a channel until stopped.
type eventRecorder[T any] struct {
	mu   sync.Mutex
	got  []T
	done chan struct{}
}

func record[T any](ch <-chan T) *eventRecorder[T] {
	r := &eventRecorder[T]{done: make(chan struct{})}
	go func() {
		defer close(r.done)
		for v := range ch {
			r.mu.Lock()
			r.got = append(r.got, v)
			r.mu.Unlock()
		}
	}()
	return r
}

func (r *eventRecorder[T]) events() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.got...)
}
