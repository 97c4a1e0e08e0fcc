package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"tasksnap/internal/config"
	"tasksnap/internal/model"
	"tasksnap/internal/tasksnap"
)

type testEnv struct {
	cfg        *config.Config
	configPath string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	cfg := config.NewConfig("test-host", dir)
	cfg.DeviceName = "test-device"
	cfg.Staging.Type = "memory"
	cfg.Replication.PollInterval = "50ms"
	cfg.Vaults = []config.VaultConfig{
		{Type: "filesystem", Name: "cloud", FSVaultRoot: filepath.Join(dir, "cloud")},
	}

	path := filepath.Join(dir, "tasksnap.toml")
	if err := config.Init(path, cfg); err != nil {
		t.Fatalf("config.Init() error = %v", err)
	}
	return &testEnv{cfg: cfg, configPath: path}
}

func (e *testEnv) open(t *testing.T, operation string) *App {
	t.Helper()
	cfg, err := config.ReadFromFile(e.configPath)
	if err != nil {
		t.Fatalf("ReadFromFile() error = %v", err)
	}
	a, err := NewApp(context.Background(), cfg, e.configPath, operation)
	if err != nil {
		t.Fatalf("NewApp() error = %v", err)
	}
	return a
}

func saveTask(t *testing.T, a *App, title string) {
	t.Helper()
	created := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	task := &model.Task{
		ID:        uuid.New(),
		Title:     title,
		Status:    "todo",
		Category:  "clean",
		CreatedAt: &created,
	}
	if err := a.store.Save(task); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
}

func TestApp_DataSurvivesRestart(t *testing.T) {
	env := newTestEnv(t)

	a := env.open(t, "Seed")
	saveTask(t, a, "water plants")
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	b := env.open(t, "Check")
	defer b.Close()
	if got := b.store.Counts()[model.KindTask]; got != 1 {
		t.Errorf("task count after restart = %d, want 1", got)
	}
}

func TestApp_SnapshotLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a := env.open(t, "SnapshotCreate")
	saveTask(t, a, "a")
	saveTask(t, a, "b")

	var last float64
	meta, err := a.CreateSnapshot(ctx, func(v float64) { last = v })
	if err != nil {
		t.Fatalf("CreateSnapshot() error = %v", err)
	}
	if meta.RecordCount != 2 {
		t.Errorf("RecordCount = %d, want 2", meta.RecordCount)
	}
	if meta.DeviceName != "test-device" {
		t.Errorf("DeviceName = %q, want %q", meta.DeviceName, "test-device")
	}
	if meta.AppVersion == "" {
		t.Error("AppVersion is empty")
	}
	if last > 1 {
		t.Errorf("progress = %v, want <= 1", last)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// The archive is on disk, so a new process sees the snapshot.
	b := env.open(t, "SnapshotRestore")
	list, err := b.ListSnapshots()
	if err != nil {
		t.Fatalf("ListSnapshots() error = %v", err)
	}
	if len(list) != 1 || list[0].ID != meta.ID {
		t.Fatalf("ListSnapshots() = %v, want [%s]", list, meta.ID)
	}

	saveTask(t, b, "c")
	if err := b.RestoreSnapshot(ctx, meta.ID, "", nil); err != nil {
		t.Fatalf("RestoreSnapshot() error = %v", err)
	}
	if got := b.store.Counts()[model.KindTask]; got != 2 {
		t.Errorf("task count after restore = %d, want 2", got)
	}

	if err := b.DeleteSnapshot(meta.ID); err != nil {
		t.Fatalf("DeleteSnapshot() error = %v", err)
	}
	list, _ = b.ListSnapshots()
	if len(list) != 0 {
		t.Errorf("ListSnapshots() after delete = %d entries, want 0", len(list))
	}
	b.Close()
}

func TestApp_RestoreMissingSnapshot(t *testing.T) {
	env := newTestEnv(t)
	a := env.open(t, "SnapshotRestore")
	defer a.Close()

	err := a.RestoreSnapshot(context.Background(), "20240115T103000.000Z", "", nil)
	if !errors.Is(err, tasksnap.ErrNotFound) {
		t.Errorf("RestoreSnapshot() error = %v, want ErrNotFound", err)
	}
	if a.op.Status != "error" {
		t.Errorf("operation status = %q, want error", a.op.Status)
	}
}

func TestApp_ReplicationPersistsConfig(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a := env.open(t, "ReplicationEnable")
	if err := a.EnableReplication(ctx, "cloud"); err != nil {
		t.Fatalf("EnableReplication() error = %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	cfg, err := config.ReadFromFile(env.configPath)
	if err != nil {
		t.Fatalf("ReadFromFile() error = %v", err)
	}
	if !cfg.Replication.Enabled || cfg.Replication.ReplicaID != "cloud" {
		t.Fatalf("replication config = %+v, want enabled for cloud", cfg.Replication)
	}

	// The next process attaches to the replica from the saved setting.
	b := env.open(t, "ReplicationDisable")
	if got := b.store.Config(); !got.Replicated || got.ReplicaID != "cloud" {
		t.Errorf("store config = %+v, want replicated to cloud", got)
	}
	if got := b.Status().State; got != tasksnap.SyncSynced {
		t.Errorf("Status() = %v, want synced", got)
	}
	if err := b.Sync(ctx); err != nil {
		t.Errorf("Sync() error = %v", err)
	}
	if err := b.DisableReplication(ctx); err != nil {
		t.Fatalf("DisableReplication() error = %v", err)
	}
	b.Close()

	cfg, _ = config.ReadFromFile(env.configPath)
	if cfg.Replication.Enabled {
		t.Error("replication still enabled after disable")
	}
}

func TestApp_EnableUnknownReplicaKeepsConfig(t *testing.T) {
	env := newTestEnv(t)
	a := env.open(t, "ReplicationEnable")
	defer a.Close()

	err := a.EnableReplication(context.Background(), "nowhere")
	if !errors.Is(err, tasksnap.ErrReloadFailed) {
		t.Fatalf("EnableReplication() error = %v, want ErrReloadFailed", err)
	}

	cfg, _ := config.ReadFromFile(env.configPath)
	if cfg.Replication.Enabled {
		t.Error("failed enable was saved to the config")
	}
	if got := a.store.Config(); got != tasksnap.LocalOnly {
		t.Errorf("store config = %+v, want local-only", got)
	}
}

func TestApp_History(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a := env.open(t, "SnapshotCreate")
	if _, err := a.CreateSnapshot(ctx, nil); err != nil {
		t.Fatalf("CreateSnapshot() error = %v", err)
	}
	a.Close()

	// Read-only commands are not recorded.
	b := env.open(t, "SnapshotList")
	if _, err := b.ListSnapshots(); err != nil {
		t.Fatalf("ListSnapshots() error = %v", err)
	}
	b.Close()

	c := env.open(t, "History")
	defer c.Close()
	ops, err := c.History(10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(ops) != 1 {
		t.Fatalf("History() = %d entries, want 1", len(ops))
	}
	if ops[0].Operation != "SnapshotCreate" || ops[0].Status != "success" || ops[0].FinishedAt == nil {
		t.Errorf("History()[0] = %+v", ops[0])
	}
}

func TestApp_InitKeys(t *testing.T) {
	env := newTestEnv(t)

	a := env.open(t, "KeysInit")
	if err := a.InitKeys("secret"); err == nil {
		t.Error("InitKeys() with encryption disabled: want error")
	}
	a.Close()

	env.cfg.Encryption.Type = "age"
	if err := config.Save(env.configPath, env.cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	b := env.open(t, "KeysInit")
	defer b.Close()
	if err := b.InitKeys("secret"); err != nil {
		t.Fatalf("InitKeys() error = %v", err)
	}
	if err := b.InitKeys("secret"); err == nil {
		t.Error("second InitKeys(): want error")
	}
}

func TestNewApp_InvalidConfig(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Replication.Enabled = true
	env.cfg.Replication.ReplicaID = "nowhere"

	if _, err := NewApp(context.Background(), env.cfg, env.configPath, "Status"); err == nil {
		t.Error("NewApp() with unknown replica_id: want error")
	}
}
