package tasksnap_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tasksnap/internal/tasksnap"
	"tasksnap/internal/testutil"
)

func TestDescribe(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{tasksnap.ErrCorrupt, "The backup file is damaged or not a backup."},
		{fmt.Errorf("restore: %w", tasksnap.ErrNotFound), "The backup no longer exists."},
		{fmt.Errorf("%w: %w", tasksnap.ErrReloadFailed, tasksnap.ErrReplicaUnavailable), "Sync account is not available. Check that you are signed in."},
		{errors.New("mystery"), "Something went wrong."},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tasksnap.Describe(tt.err), "Describe(%v)", tt.err)
	}
}

func TestDescribe_EveryKindHasText(t *testing.T) {
	kinds := []error{
		tasksnap.ErrReplicaUnavailable, tasksnap.ErrCreationFailed, tasksnap.ErrDestinationUnavailable,
		tasksnap.ErrReadFailed, tasksnap.ErrCorrupt, tasksnap.ErrRestoreFailed, tasksnap.ErrNotFound,
		tasksnap.ErrInsufficientSpace, tasksnap.ErrReloadFailed, tasksnap.ErrCommitFailed,
		tasksnap.ErrDetached, tasksnap.ErrBusy,
	}
	for _, err := range kinds {
		assert.NotEqual(t, "Something went wrong.", tasksnap.Describe(err), "%v", err)
	}
}

func TestService_History(t *testing.T) {
	t.Run("without a log", func(t *testing.T) {
		h := newHarness(t)
		ops, err := h.svc.History(10)
		require.NoError(t, err)
		assert.Empty(t, ops)
	})

	t.Run("newest first", func(t *testing.T) {
		db := testutil.NewTestDatabase(t)
		h := newHarness(t, withHistory(db))

		first, err := db.CreateOperation("SnapshotCreate", "")
		require.NoError(t, err)
		require.NoError(t, db.FinishOperation(first.ID, "success"))
		_, err = db.CreateOperation("SnapshotRestore", "20240115T103000.000Z")
		require.NoError(t, err)

		ops, err := h.svc.History(10)
		require.NoError(t, err)
		require.Len(t, ops, 2)
		assert.Equal(t, "SnapshotRestore", ops[0].Operation)
		assert.Equal(t, "running", ops[0].Status)
		assert.Equal(t, "success", ops[1].Status)
		assert.NotNil(t, ops[1].FinishedAt)
	})
}

func TestTask_WaitGivesUpWithoutCancelling(t *testing.T) {
	archive := newFaultyVault("local")
	release := make(chan struct{})
	archive.putErr = func(string) error {
		<-release
		return nil
	}
	h := newHarness(t, withArchive(archive))

	task, err := h.svc.CreateSnapshot(context.Background(), false)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = task.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	<-task.Done()
	meta, err := task.Wait(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, meta.ID)
}

func TestService_MonitorPollsAccount(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, h.svc.EnableReplication(ctx, replicaName))
	updates, unsubscribe := h.monitor.Subscribe(4)
	defer unsubscribe()

	probe := &flakyProbe{}
	probe.down.Store(true)
	go h.svc.Monitor(ctx, probe, 5*time.Millisecond)

	select {
	case st := <-updates:
		assert.Equal(t, tasksnap.SyncError, st.State)
	case <-time.After(5 * time.Second):
		t.Fatal("account loss not reported")
	}
}
