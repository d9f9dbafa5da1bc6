package task

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(rdb)
}

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	taskID, err := s.Create(ctx, "thread-1", "user-1")
	require.NoError(t, err)

	got, err := s.Get(ctx, taskID)
	require.NoError(t, err)
	require.Equal(t, StatusQueued, got.Status)
	require.Equal(t, "thread-1", got.ThreadID)
	require.Equal(t, "user-1", got.Metadata.UserID)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	s := testStore(t)
	_, err := s.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAddUpdateIsOrderedFIFO(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	taskID, err := s.Create(ctx, "thread-1", "")
	require.NoError(t, err)

	require.NoError(t, s.AddUpdate(ctx, taskID, "step one", "progress", nil))
	require.NoError(t, s.AddUpdate(ctx, taskID, "step two", "progress", nil))

	got, err := s.Get(ctx, taskID)
	require.NoError(t, err)
	require.Len(t, got.Updates, 2)
	require.Equal(t, "step one", got.Updates[0].Message)
	require.Equal(t, "step two", got.Updates[1].Message)
}

func TestSetResultTransitionsToDone(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	taskID, err := s.Create(ctx, "thread-1", "")
	require.NoError(t, err)

	require.NoError(t, s.SetResult(ctx, taskID, map[string]any{"answer": "ok"}))

	got, err := s.Get(ctx, taskID)
	require.NoError(t, err)
	require.Equal(t, StatusDone, got.Status)
	require.Equal(t, "ok", got.Result["answer"])
}

func TestSetErrorTransitionsToFailed(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	taskID, err := s.Create(ctx, "thread-1", "")
	require.NoError(t, err)

	require.NoError(t, s.SetError(ctx, taskID, "boom"))

	got, err := s.Get(ctx, taskID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, got.Status)
	require.Equal(t, "boom", got.ErrorMessage)
}

func TestCancelIsDistinctFromFailed(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	taskID, err := s.Create(ctx, "thread-1", "")
	require.NoError(t, err)

	require.NoError(t, s.Cancel(ctx, taskID, "user requested stop"))

	got, err := s.Get(ctx, taskID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, got.Status)
	require.Equal(t, "cancellation", got.Updates[0].UpdateType)
}

func TestTerminalStateRejectsFurtherWrites(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	taskID, err := s.Create(ctx, "thread-1", "")
	require.NoError(t, err)
	require.NoError(t, s.SetResult(ctx, taskID, map[string]any{"ok": true}))

	require.ErrorIs(t, s.AddUpdate(ctx, taskID, "late", "progress", nil), ErrTerminalTask)
	require.ErrorIs(t, s.SetError(ctx, taskID, "too late"), ErrTerminalTask)
	require.ErrorIs(t, s.UpdateStatus(ctx, taskID, StatusInProgress), ErrTerminalTask)
	require.ErrorIs(t, s.Cancel(ctx, taskID, "too late"), ErrTerminalTask)
}

func TestListByThreadOrdersMostRecentFirst(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	first, err := s.Create(ctx, "thread-1", "")
	require.NoError(t, err)
	second, err := s.Create(ctx, "thread-1", "")
	require.NoError(t, err)

	got, err := s.ListByThread(ctx, "thread-1", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, second, got[0])
	require.Equal(t, first, got[1])
}

func TestEnqueueAndLeaseRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	taskID, err := s.Create(ctx, "thread-1", "user-1")
	require.NoError(t, err)

	require.NoError(t, s.Enqueue(ctx, taskID))

	leased, err := s.Lease(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, taskID, leased)
}

func TestLeaseReturnsEmptyOnTimeout(t *testing.T) {
	s := testStore(t)
	leased, err := s.Lease(context.Background(), time.Millisecond)
	require.NoError(t, err)
	require.Empty(t, leased)
}

func TestDeleteRemovesTaskAndThreadIndexEntry(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	taskID, err := s.Create(ctx, "thread-1", "user-1")
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "thread-1", taskID))

	_, err = s.Get(ctx, taskID)
	require.ErrorIs(t, err, ErrNotFound)

	got, err := s.ListByThread(ctx, "thread-1", 10)
	require.NoError(t, err)
	require.Empty(t, got)
}
