package tasksnap_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tasksnap/internal/model"
	"tasksnap/internal/tasksnap"
	"tasksnap/internal/testutil"
)

func newStore(t *testing.T) (*tasksnap.ObjectStore, *testutil.FaultyBackends) {
	t.Helper()
	backends := testutil.NewFaultyBackends(testutil.NewTestBackends(t, nil))
	s := tasksnap.NewObjectStore(tasksnap.NewNopLogger(), testutil.FixedClock())
	require.NoError(t, s.Attach(context.Background(), backends, tasksnap.LocalOnly))
	t.Cleanup(func() { s.Close() })
	return s, backends
}

func waitEvent(t *testing.T, ch <-chan tasksnap.StoreEvent) tasksnap.StoreEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("no store event")
		return tasksnap.StoreEvent{}
	}
}

func TestObjectStore_CommitPersists(t *testing.T) {
	s, backends := newStore(t)
	ctx := context.Background()

	task := newTask("Clear the desk")
	require.NoError(t, s.Save(task))
	require.NoError(t, s.Commit(ctx))

	// A fresh store over the same backends sees the committed record.
	other := tasksnap.NewObjectStore(tasksnap.NewNopLogger(), testutil.FixedClock())
	require.NoError(t, other.Attach(ctx, backends, tasksnap.LocalOnly))
	defer other.Close()

	got := other.Fetch(model.KindTask, model.ByID(task.ID))
	require.Len(t, got, 1)
	assert.Equal(t, "Clear the desk", got[0].(*model.Task).Title)
}

func TestObjectStore_CommitWithoutChangesIsNoop(t *testing.T) {
	s, backends := newStore(t)
	events, cancel := s.Subscribe(4)
	defer cancel()

	require.NoError(t, s.Commit(context.Background()))
	require.NoError(t, s.Commit(context.Background()))

	assert.Zero(t, backends.ApplyCalls())
	select {
	case ev := <-events:
		t.Fatalf("unexpected event %s", ev.Kind)
	default:
	}
}

func TestObjectStore_CommitEmitsStoreChanged(t *testing.T) {
	s, _ := newStore(t)
	events, cancel := s.Subscribe(4)
	defer cancel()

	require.NoError(t, s.Save(newTask("Sweep")))
	require.NoError(t, s.Commit(context.Background()))

	ev := waitEvent(t, events)
	assert.Equal(t, tasksnap.StoreChanged, ev.Kind)
	assert.Equal(t, testutil.FixedClock().Now(), ev.At)
}

func TestObjectStore_CommitFailureKeepsPending(t *testing.T) {
	s, backends := newStore(t)
	ctx := context.Background()

	backends.FailApply(errors.New("disk full"))
	require.NoError(t, s.Save(newTask("Mop")))

	err := s.Commit(ctx)
	assert.ErrorIs(t, err, tasksnap.ErrCommitFailed)
	assert.Len(t, s.Fetch(model.KindTask, nil), 1, "working copy keeps the record")

	backends.FailApply(nil)
	require.NoError(t, s.Commit(ctx))
	assert.Equal(t, 2, backends.ApplyCalls())

	// Pending changes were cleared by the retry.
	require.NoError(t, s.Commit(ctx))
	assert.Equal(t, 2, backends.ApplyCalls())
}

func TestObjectStore_FetchReturnsCopies(t *testing.T) {
	s, _ := newStore(t)
	task := newTask("Original")
	require.NoError(t, s.Save(task))

	task.Title = "changed by caller"
	got := s.Fetch(model.KindTask, nil)
	require.Len(t, got, 1)
	assert.Equal(t, "Original", got[0].(*model.Task).Title)

	got[0].(*model.Task).Title = "changed again"
	assert.Equal(t, []string{"Original"}, titles(s.Fetch(model.KindTask, nil)))
}

func TestObjectStore_SaveRejectsInvalid(t *testing.T) {
	s, _ := newStore(t)
	bad := newTask("no id")
	bad.ID = uuid.Nil
	assert.Error(t, s.Save(bad))
	assert.Empty(t, s.Fetch(model.KindTask, nil))
}

func TestObjectStore_Delete(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	a, b, c := newTask("a"), newTask("b"), newTask("c")
	c.Status = "done"
	for _, r := range []model.Record{a, b, c} {
		require.NoError(t, s.Save(r))
	}
	require.NoError(t, s.Commit(ctx))

	n := s.Delete(model.KindTask, func(r model.Record) bool {
		return r.(*model.Task).Status == "todo"
	})
	assert.Equal(t, 2, n)
	require.NoError(t, s.Commit(ctx))

	assert.Equal(t, []string{"c"}, titles(s.Fetch(model.KindTask, nil)))
	assert.Equal(t, 0, s.Delete(model.KindTask, model.ByID(a.ID)))
}

func TestObjectStore_SaveAfterDeleteWins(t *testing.T) {
	s, _ := newStore(t)
	task := newTask("back again")
	require.NoError(t, s.Save(task))
	require.NoError(t, s.Commit(context.Background()))

	s.Delete(model.KindTask, model.ByID(task.ID))
	require.NoError(t, s.Save(task))
	require.NoError(t, s.Commit(context.Background()))

	assert.Len(t, s.Fetch(model.KindTask, nil), 1)
}

func TestObjectStore_ReplaceFailureLeavesStoreUnchanged(t *testing.T) {
	s, backends := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(newTask("keep me")))
	require.NoError(t, s.Commit(ctx))

	backends.FailApply(errors.New("io error"))
	err := s.Replace(ctx, []model.Kind{model.KindTask}, map[model.Kind][]model.Record{
		model.KindTask: {newTask("replacement")},
	})
	require.Error(t, err)
	assert.Equal(t, []string{"keep me"}, titles(s.Fetch(model.KindTask, nil)))
}

func TestObjectStore_ReplaceOnlyTouchesGivenKinds(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(newSpace()))
	require.NoError(t, s.Save(newTask("old")))
	require.NoError(t, s.Commit(ctx))

	err := s.Replace(ctx, []model.Kind{model.KindTask}, map[model.Kind][]model.Record{
		model.KindTask: {newTask("new")},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"new"}, titles(s.Fetch(model.KindTask, nil)))
	assert.Len(t, s.Fetch(model.KindSharedSpace, nil), 1)
}

func TestObjectStore_Detached(t *testing.T) {
	s := tasksnap.NewObjectStore(tasksnap.NewNopLogger(), testutil.FixedClock())
	require.NoError(t, s.Save(newTask("pending")))

	assert.ErrorIs(t, s.Commit(context.Background()), tasksnap.ErrDetached)
	assert.ErrorIs(t, s.Sync(context.Background()), tasksnap.ErrDetached)
	assert.False(t, s.Attached())
}

func TestObjectStore_AttachReplaysDetachedChanges(t *testing.T) {
	backends := testutil.NewFaultyBackends(testutil.NewTestBackends(t, nil))
	s := tasksnap.NewObjectStore(tasksnap.NewNopLogger(), testutil.FixedClock())
	defer s.Close()

	require.NoError(t, s.Save(newTask("written while detached")))
	require.NoError(t, s.Attach(context.Background(), backends, tasksnap.LocalOnly))

	assert.Len(t, s.Fetch(model.KindTask, nil), 1)
	require.NoError(t, s.Commit(context.Background()))
	assert.Equal(t, 1, backends.ApplyCalls())
}

func TestObjectStore_CloseCommitsAndClosesSubscriptions(t *testing.T) {
	backends := testutil.NewFaultyBackends(testutil.NewTestBackends(t, nil))
	ctx := context.Background()
	s := tasksnap.NewObjectStore(tasksnap.NewNopLogger(), testutil.FixedClock())
	require.NoError(t, s.Attach(ctx, backends, tasksnap.LocalOnly))

	events, _ := s.Subscribe(4)
	require.NoError(t, s.Save(newTask("flushed on close")))
	require.NoError(t, s.Close())

	assert.Equal(t, 1, backends.ApplyCalls())
	for range events {
	}

	reopened := tasksnap.NewObjectStore(tasksnap.NewNopLogger(), testutil.FixedClock())
	require.NoError(t, reopened.Attach(ctx, backends, tasksnap.LocalOnly))
	defer reopened.Close()
	assert.Len(t, reopened.Fetch(model.KindTask, nil), 1)
}

func TestObjectStore_Counts(t *testing.T) {
	s, _ := newStore(t)
	require.NoError(t, s.Save(newSpace()))
	require.NoError(t, s.Save(newTask("a")))
	require.NoError(t, s.Save(newTask("b")))

	counts := s.Counts()
	assert.Equal(t, 1, counts[model.KindSharedSpace])
	assert.Equal(t, 2, counts[model.KindTask])
	assert.Equal(t, 0, counts[model.KindFocusSession])
}
