package qa

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/redis-sre/agentcore/knowledge"
)

func testStore(t *testing.T) (*Store, *fakeQueue) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	queue := &fakeQueue{}
	return New(rdb, queue), queue
}

type fakeQueue struct {
	jobs []EmbedJob
}

func (f *fakeQueue) Enqueue(_ context.Context, job EmbedJob) error {
	f.jobs = append(f.jobs, job)
	return nil
}

func TestRecordPersistsAndQueuesEmbedJob(t *testing.T) {
	store, queue := testStore(t)
	ctx := context.Background()

	id, err := store.Record(ctx, Record{
		Question:  "What is Redis persistence?",
		Answer:    "RDB and AOF.",
		ThreadID:  "th1",
		UserID:    "u1",
		TaskID:    "tk1",
		Citations: []knowledge.Citation{{DocumentHash: "doc-abc", Title: "RDB and AOF"}},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.Len(t, queue.jobs, 1)
	require.Equal(t, id, queue.jobs[0].RecordID)

	rec, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "What is Redis persistence?", rec.Question)
	require.Len(t, rec.Citations, 1)
	require.Equal(t, "doc-abc", rec.Citations[0].DocumentHash)
}

func TestRecordIndexesByThreadUserAndTask(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	id, err := store.Record(ctx, Record{Question: "q", Answer: "a", ThreadID: "th1", UserID: "u1", TaskID: "tk1"})
	require.NoError(t, err)

	byThread, err := store.ListByThread(ctx, "th1", 10)
	require.NoError(t, err)
	require.Equal(t, []string{id}, byThread)

	byUser, err := store.ListByUser(ctx, "u1", 10)
	require.NoError(t, err)
	require.Equal(t, []string{id}, byUser)

	byTask, err := store.ListByTask(ctx, "tk1", 10)
	require.NoError(t, err)
	require.Equal(t, []string{id}, byTask)
}

func TestGetMissingReturnsErrNotFound(t *testing.T) {
	store, _ := testStore(t)
	_, err := store.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSetFeedbackAttachesToExistingRecord(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()
	id, err := store.Record(ctx, Record{Question: "q", Answer: "a"})
	require.NoError(t, err)

	accepted := true
	require.NoError(t, store.SetFeedback(ctx, id, Feedback{Accepted: &accepted, FeedbackText: "great"}))

	rec, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, rec.Feedback)
	require.True(t, *rec.Feedback.Accepted)
	require.Equal(t, "great", rec.Feedback.FeedbackText)
}

func TestSetVectorsWritesRawBytes(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()
	id, err := store.Record(ctx, Record{Question: "q", Answer: "a"})
	require.NoError(t, err)

	require.NoError(t, store.SetVectors(ctx, id, []byte{1, 2, 3}, []byte{4, 5, 6}))

	rec, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, rec.QuestionVector)
	require.Equal(t, []byte{4, 5, 6}, rec.AnswerVector)
}

func TestRecordWithoutEmbedQueueStillPersists(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := New(rdb, nil)

	id, err := store.Record(context.Background(), Record{Question: "q", Answer: "a"})
	require.NoError(t, err)
	require.NotEmpty(t, id)
}
