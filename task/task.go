// Package task implements the Task Store: the per-turn execution record
// for a thread (status, ordered progress updates, final result, error),
// indexed under its owning thread by creation time. Grounded on
// original_source/redis_sre_agent/core/task_state.py, keyed through
// redis/keys.
package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/redis-sre/agentcore/redis/ids"
	"github.com/redis-sre/agentcore/redis/keys"
)

// Status is a task's execution state.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// terminal reports whether a status accepts no further writes (spec.md §3
// Task invariant 1).
func (s Status) terminal() bool {
	switch s {
	case StatusDone, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// ErrNotFound is returned when a task does not exist or has expired.
var ErrNotFound = errors.New("task: not found")

// ErrTerminalTask is returned when a caller attempts to write updates,
// result, status, or error to a task that has already reached a terminal
// status. Callers must drop the write and log it (spec.md §4.2).
var ErrTerminalTask = errors.New("task: already in a terminal state")

type (
	// Update is a single progress record appended to a task's ordered
	// update list.
	Update struct {
		Timestamp  time.Time      `json:"timestamp"`
		Message    string         `json:"message"`
		UpdateType string         `json:"update_type"`
		Metadata   map[string]any `json:"metadata,omitempty"`
	}

	// Metadata carries a task's descriptive fields.
	Metadata struct {
		CreatedAt time.Time `json:"created_at"`
		UpdatedAt time.Time `json:"updated_at"`
		UserID    string    `json:"user_id,omitempty"`
		Subject   string    `json:"subject,omitempty"`
	}

	// State is a task's complete persisted state.
	State struct {
		TaskID       string
		ThreadID     string
		Status       Status
		Updates      []Update
		Result       map[string]any
		ErrorMessage string
		Metadata     Metadata
	}
)

// Store is the Task Store. Construct one per process around a shared
// go-redis client.
type Store struct {
	rdb *redis.Client
}

// New builds a Store.
func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Create starts a new task under threadID and returns its ID.
func (s *Store) Create(ctx context.Context, threadID, userID string) (string, error) {
	taskID := ids.New().String()
	now := time.Now().UTC()

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, keys.TaskStatus(taskID), string(StatusQueued), keys.TaskTTLSeconds*time.Second)
	pipe.HSet(ctx, keys.TaskMetadata(taskID), map[string]any{
		"created_at": now.Format(time.RFC3339),
		"user_id":    userID,
		"thread_id":  threadID,
	})
	pipe.Expire(ctx, keys.TaskMetadata(taskID), keys.TaskTTLSeconds*time.Second)
	pipe.ZAdd(ctx, keys.ThreadTasks(threadID), redis.Z{Score: float64(now.Unix()), Member: taskID})
	pipe.Expire(ctx, keys.ThreadTasks(threadID), keys.TaskTTLSeconds*time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("task: create %s: %w", taskID, err)
	}
	return taskID, nil
}

// Enqueue pushes taskID onto the dispatch queue the Task Runner leases
// from. Separate from Create so callers can control exactly when a task
// becomes eligible for a worker to pick up (e.g. after the thread's
// initial message has been appended).
func (s *Store) Enqueue(ctx context.Context, taskID string) error {
	if err := s.rdb.LPush(ctx, keys.TaskQueue(), taskID).Err(); err != nil {
		return fmt.Errorf("task: enqueue %s: %w", taskID, err)
	}
	return nil
}

// Lease blocks up to timeout for the next queued task id, removing it
// from the dispatch queue. Returns ("", nil) on a timeout with nothing
// available, the same "no work right now" signal as an empty poll.
func (s *Store) Lease(ctx context.Context, timeout time.Duration) (string, error) {
	result, err := s.rdb.BRPop(ctx, timeout, keys.TaskQueue()).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("task: lease: %w", err)
	}
	// BRPop returns [key, value]; value is the task id.
	if len(result) < 2 {
		return "", nil
	}
	return result[1], nil
}

// currentStatus fetches a task's status, returning ErrNotFound if absent.
func (s *Store) currentStatus(ctx context.Context, taskID string) (Status, error) {
	val, err := s.rdb.Get(ctx, keys.TaskStatus(taskID)).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("task: status %s: %w", taskID, err)
	}
	return Status(val), nil
}

// UpdateStatus transitions a task's status. Rejects the write with
// ErrTerminalTask if the task is already in a terminal state.
func (s *Store) UpdateStatus(ctx context.Context, taskID string, status Status) error {
	current, err := s.currentStatus(ctx, taskID)
	if err != nil {
		return err
	}
	if current.terminal() {
		return ErrTerminalTask
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, keys.TaskStatus(taskID), string(status), keys.TaskTTLSeconds*time.Second)
	s.touchMetadata(ctx, pipe, taskID)
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("task: update status %s: %w", taskID, err)
	}
	return nil
}

// AddUpdate appends a progress update to the task's ordered list. O(1)
// append via RPUSH (spec.md §3 Task invariant 3).
func (s *Store) AddUpdate(ctx context.Context, taskID, message, updateType string, metadata map[string]any) error {
	current, err := s.currentStatus(ctx, taskID)
	if err != nil {
		return err
	}
	if current.terminal() {
		return ErrTerminalTask
	}
	if updateType == "" {
		updateType = "progress"
	}
	update := Update{Timestamp: time.Now().UTC(), Message: message, UpdateType: updateType, Metadata: metadata}
	raw, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("task: marshal update: %w", err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, keys.TaskUpdates(taskID), raw)
	pipe.Expire(ctx, keys.TaskUpdates(taskID), keys.TaskTTLSeconds*time.Second)
	s.touchMetadata(ctx, pipe, taskID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("task: add update %s: %w", taskID, err)
	}
	return nil
}

// SetResult writes the task's final result and transitions it to done.
// Written at most once per spec.md §3; a second call on an already
// terminal task is rejected.
func (s *Store) SetResult(ctx context.Context, taskID string, result map[string]any) error {
	current, err := s.currentStatus(ctx, taskID)
	if err != nil {
		return err
	}
	if current.terminal() {
		return ErrTerminalTask
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("task: marshal result: %w", err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, keys.TaskResult(taskID), raw, keys.TaskTTLSeconds*time.Second)
	pipe.Set(ctx, keys.TaskStatus(taskID), string(StatusDone), keys.TaskTTLSeconds*time.Second)
	s.touchMetadata(ctx, pipe, taskID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("task: set result %s: %w", taskID, err)
	}
	return nil
}

// SetError writes the task's error message and transitions it to failed.
func (s *Store) SetError(ctx context.Context, taskID, message string) error {
	current, err := s.currentStatus(ctx, taskID)
	if err != nil {
		return err
	}
	if current.terminal() {
		return ErrTerminalTask
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, keys.TaskError(taskID), message, keys.TaskTTLSeconds*time.Second)
	pipe.Set(ctx, keys.TaskStatus(taskID), string(StatusFailed), keys.TaskTTLSeconds*time.Second)
	s.touchMetadata(ctx, pipe, taskID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("task: set error %s: %w", taskID, err)
	}
	return nil
}

// Cancel marks a task with a terminal cancellation update, distinct from
// failed (spec.md §7 "Cancellation: surfaced as a terminal cancellation
// update; not failed").
func (s *Store) Cancel(ctx context.Context, taskID, reason string) error {
	current, err := s.currentStatus(ctx, taskID)
	if err != nil {
		return err
	}
	if current.terminal() {
		return ErrTerminalTask
	}
	update := Update{Timestamp: time.Now().UTC(), Message: reason, UpdateType: "cancellation"}
	raw, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("task: marshal cancellation: %w", err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, keys.TaskUpdates(taskID), raw)
	pipe.Set(ctx, keys.TaskStatus(taskID), string(StatusCancelled), keys.TaskTTLSeconds*time.Second)
	s.touchMetadata(ctx, pipe, taskID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("task: cancel %s: %w", taskID, err)
	}
	return nil
}

// Get retrieves a task's complete state.
func (s *Store) Get(ctx context.Context, taskID string) (*State, error) {
	status, err := s.currentStatus(ctx, taskID)
	if err != nil {
		return nil, err
	}

	updatesRaw, err := s.rdb.LRange(ctx, keys.TaskUpdates(taskID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("task: updates %s: %w", taskID, err)
	}
	updates := make([]Update, 0, len(updatesRaw))
	for _, raw := range updatesRaw {
		var u Update
		if err := json.Unmarshal([]byte(raw), &u); err != nil {
			continue
		}
		updates = append(updates, u)
	}

	var result map[string]any
	resultRaw, err := s.rdb.Get(ctx, keys.TaskResult(taskID)).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("task: result %s: %w", taskID, err)
	}
	if resultRaw != "" {
		_ = json.Unmarshal([]byte(resultRaw), &result)
	}

	errMsg, err := s.rdb.Get(ctx, keys.TaskError(taskID)).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("task: error %s: %w", taskID, err)
	}

	metaRaw, err := s.rdb.HGetAll(ctx, keys.TaskMetadata(taskID)).Result()
	if err != nil {
		return nil, fmt.Errorf("task: metadata %s: %w", taskID, err)
	}

	return &State{
		TaskID:       taskID,
		ThreadID:     metaRaw["thread_id"],
		Status:       status,
		Updates:      updates,
		Result:       result,
		ErrorMessage: errMsg,
		Metadata: Metadata{
			CreatedAt: parseTimeOrZero(metaRaw["created_at"]),
			UpdatedAt: parseTimeOrZero(metaRaw["updated_at"]),
			UserID:    metaRaw["user_id"],
			Subject:   metaRaw["subject"],
		},
	}, nil
}

// Delete removes every key associated with a task, including its entry
// in the owning thread's task index. Idempotent: deleting an
// already-absent task succeeds.
func (s *Store) Delete(ctx context.Context, threadID, taskID string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx,
		keys.TaskStatus(taskID),
		keys.TaskUpdates(taskID),
		keys.TaskResult(taskID),
		keys.TaskError(taskID),
		keys.TaskMetadata(taskID),
	)
	if threadID != "" {
		pipe.ZRem(ctx, keys.ThreadTasks(threadID), taskID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("task: delete %s: %w", taskID, err)
	}
	return nil
}

// ListByThread returns task IDs for a thread, most recent first.
func (s *Store) ListByThread(ctx context.Context, threadID string, limit int) ([]string, error) {
	ids, err := s.rdb.ZRevRange(ctx, keys.ThreadTasks(threadID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("task: list by thread %s: %w", threadID, err)
	}
	return ids, nil
}

// touchMetadata advances updated_at (spec.md §3 Task invariant 2). Queued
// onto the caller's pipeline so it lands atomically with the triggering
// write.
func (s *Store) touchMetadata(ctx context.Context, pipe redis.Pipeliner, taskID string) {
	pipe.HSet(ctx, keys.TaskMetadata(taskID), "updated_at", time.Now().UTC().Format(time.RFC3339))
	pipe.Expire(ctx, keys.TaskMetadata(taskID), keys.TaskTTLSeconds*time.Second)
}

func parseTimeOrZero(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
