// Package qa implements the Q&A Recorder: a durable record of one
// question/answer exchange with its citations and feedback, fanned into
// by-thread/by-user/by-task membership sets for listing (spec.md §4.10).
// Grounded on spec.md §4.10 directly; no direct original_source file
// survived the filter (the closest Python equivalent is folded into
// core/threads.py's evaluation helpers), so this is built in the idiom
// of the thread and task stores: pipelined hash writes plus sorted-set
// indexes, keyed through redis/keys.
package qa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/redis-sre/agentcore/knowledge"
	"github.com/redis-sre/agentcore/redis/ids"
	"github.com/redis-sre/agentcore/redis/keys"
)

// ErrNotFound is returned when a Q&A record does not exist.
var ErrNotFound = errors.New("qa: not found")

// Feedback is operator/user feedback recorded against a Q&A record after
// the fact.
type Feedback struct {
	Accepted     *bool     `json:"accepted,omitempty"`
	FeedbackText string    `json:"feedback_text,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Record is one recorded question/answer exchange, per spec.md §3's
// Q&A record definition.
type Record struct {
	ID        string               `json:"id"`
	Question  string               `json:"question"`
	Answer    string               `json:"answer"`
	Citations []knowledge.Citation `json:"citations,omitempty"`
	Feedback  *Feedback            `json:"feedback,omitempty"`
	UserID    string               `json:"user_id,omitempty"`
	ThreadID  string               `json:"thread_id,omitempty"`
	TaskID    string               `json:"task_id,omitempty"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`

	// QuestionVector and AnswerVector are populated asynchronously by the
	// embed_qa_record background job; nil until that job has run.
	QuestionVector []byte `json:"-"`
	AnswerVector   []byte `json:"-"`
}

// EmbedJob is the deferred embedding job payload queued after Record;
// the consumer loads the record, calls the embedding provider, and
// writes back only the vector fields.
type EmbedJob struct {
	RecordID string `json:"record_id"`
}

// EmbedQueue is the narrow interface the Store uses to defer embedding.
// The task queue / scheduler (outside this package) implements it.
type EmbedQueue interface {
	Enqueue(ctx context.Context, job EmbedJob) error
}

// Store is the Redis-backed Q&A Recorder.
type Store struct {
	rdb   *redis.Client
	embed EmbedQueue
}

// New constructs a Store. embed may be nil, in which case Record skips
// queuing the deferred embedding job (useful for tests and for flows
// that only need the primary record).
func New(rdb *redis.Client, embed EmbedQueue) *Store {
	return &Store{rdb: rdb, embed: embed}
}

// Record persists a new Q&A record and adds it to the by-thread,
// by-user, and by-task membership sets, then queues an embed_qa_record
// job. A failure of the primary write returns ("", err). A failure to
// queue the embedding job leaves the primary record in place and returns
// the record's id together with the wrapped queue error, for the caller
// to log.
func (s *Store) Record(ctx context.Context, rec Record) (string, error) {
	if rec.ID == "" {
		rec.ID = ids.New().String()
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	fields, err := encodeRecord(rec)
	if err != nil {
		return "", fmt.Errorf("qa: encode %s: %w", rec.ID, err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, keys.QA(rec.ID), fields)
	score := float64(now.UnixMilli())
	if rec.ThreadID != "" {
		pipe.ZAdd(ctx, keys.QAByThread(rec.ThreadID), redis.Z{Score: score, Member: rec.ID})
	}
	if rec.UserID != "" {
		pipe.ZAdd(ctx, keys.QAByUser(rec.UserID), redis.Z{Score: score, Member: rec.ID})
	}
	if rec.TaskID != "" {
		pipe.ZAdd(ctx, keys.QAByTask(rec.TaskID), redis.Z{Score: score, Member: rec.ID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("qa: record %s: %w", rec.ID, err)
	}

	if s.embed != nil {
		// Best-effort: the primary record is already durable, so a queue
		// failure here is surfaced to the caller to log but does not
		// unwind the write.
		if err := s.embed.Enqueue(ctx, EmbedJob{RecordID: rec.ID}); err != nil {
			return rec.ID, fmt.Errorf("qa: queue embed job for %s: %w", rec.ID, err)
		}
	}
	return rec.ID, nil
}

// Get retrieves a single Q&A record by id.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	raw, err := s.rdb.HGetAll(ctx, keys.QA(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("qa: get %s: %w", id, err)
	}
	if len(raw) == 0 {
		return nil, ErrNotFound
	}
	return decodeRecord(id, raw)
}

// SetFeedback attaches feedback to an existing record.
func (s *Store) SetFeedback(ctx context.Context, id string, fb Feedback) error {
	fb.CreatedAt = time.Now().UTC()
	raw, err := json.Marshal(fb)
	if err != nil {
		return fmt.Errorf("qa: marshal feedback %s: %w", id, err)
	}
	n, err := s.rdb.Exists(ctx, keys.QA(id)).Result()
	if err != nil {
		return fmt.Errorf("qa: exists %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return s.rdb.HSet(ctx, keys.QA(id), map[string]any{
		"feedback":   raw,
		"updated_at": time.Now().UTC().Format(time.RFC3339),
	}).Err()
}

// SetVectors writes back only the vector fields, called by the
// embed_qa_record background job once embeddings are computed. Stored
// as raw bytes, not base64 (spec.md §4.10).
func (s *Store) SetVectors(ctx context.Context, id string, questionVector, answerVector []byte) error {
	n, err := s.rdb.Exists(ctx, keys.QA(id)).Result()
	if err != nil {
		return fmt.Errorf("qa: exists %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return s.rdb.HSet(ctx, keys.QA(id), map[string]any{
		"question_vector": questionVector,
		"answer_vector":   answerVector,
	}).Err()
}

// ListByThread returns Q&A record ids for a thread, most recent first.
func (s *Store) ListByThread(ctx context.Context, threadID string, limit int) ([]string, error) {
	return s.listIDs(ctx, keys.QAByThread(threadID), limit)
}

// ListByUser returns Q&A record ids for a user, most recent first.
func (s *Store) ListByUser(ctx context.Context, userID string, limit int) ([]string, error) {
	return s.listIDs(ctx, keys.QAByUser(userID), limit)
}

// ListByTask returns Q&A record ids for a task, most recent first.
func (s *Store) ListByTask(ctx context.Context, taskID string, limit int) ([]string, error) {
	return s.listIDs(ctx, keys.QAByTask(taskID), limit)
}

func (s *Store) listIDs(ctx context.Context, key string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := s.rdb.ZRevRange(ctx, key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("qa: list %s: %w", key, err)
	}
	return ids, nil
}

func encodeRecord(rec Record) (map[string]any, error) {
	citations, err := json.Marshal(rec.Citations)
	if err != nil {
		return nil, err
	}
	fields := map[string]any{
		"id":         rec.ID,
		"question":   rec.Question,
		"answer":     rec.Answer,
		"citations":  citations,
		"user_id":    rec.UserID,
		"thread_id":  rec.ThreadID,
		"task_id":    rec.TaskID,
		"created_at": rec.CreatedAt.Format(time.RFC3339),
		"updated_at": rec.UpdatedAt.Format(time.RFC3339),
	}
	if rec.Feedback != nil {
		fb, err := json.Marshal(rec.Feedback)
		if err != nil {
			return nil, err
		}
		fields["feedback"] = fb
	}
	if len(rec.QuestionVector) > 0 {
		fields["question_vector"] = rec.QuestionVector
	}
	if len(rec.AnswerVector) > 0 {
		fields["answer_vector"] = rec.AnswerVector
	}
	return fields, nil
}

func decodeRecord(id string, raw map[string]string) (*Record, error) {
	rec := &Record{
		ID:       id,
		Question: raw["question"],
		Answer:   raw["answer"],
		UserID:   raw["user_id"],
		ThreadID: raw["thread_id"],
		TaskID:   raw["task_id"],
	}
	if c, ok := raw["citations"]; ok && c != "" {
		_ = json.Unmarshal([]byte(c), &rec.Citations)
	}
	if fb, ok := raw["feedback"]; ok && fb != "" {
		var f Feedback
		if json.Unmarshal([]byte(fb), &f) == nil {
			rec.Feedback = &f
		}
	}
	rec.CreatedAt = parseTimeOrZero(raw["created_at"])
	rec.UpdatedAt = parseTimeOrZero(raw["updated_at"])
	rec.QuestionVector = []byte(raw["question_vector"])
	rec.AnswerVector = []byte(raw["answer_vector"])
	return rec, nil
}

func parseTimeOrZero(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
