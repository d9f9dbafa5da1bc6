// Package thread implements the Thread Store: the durable record of a
// conversation, its accumulated context, and the metadata search index used
// to list and filter threads. Grounded on
// original_source/redis_sre_agent/core/threads.py and core/thread_state.py,
// keyed through redis/keys, following the pipelined-mutation, hash-plus-list
// storage idiom of jemygraw-langgraphgo's store/redis.RedisCheckpointStore.
package thread

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/redis-sre/agentcore/llm"
	"github.com/redis-sre/agentcore/redis/ids"
	"github.com/redis-sre/agentcore/redis/keys"
)

// Role identifies the speaker of a Message stored on a thread.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ErrNotFound is returned when a thread does not exist or has expired.
var ErrNotFound = errors.New("thread: not found")

type (
	// Message is a single turn in a thread's conversation history.
	Message struct {
		Role     Role           `json:"role"`
		Content  string         `json:"content"`
		Metadata map[string]any `json:"metadata,omitempty"`
	}

	// Metadata carries a thread's descriptive fields, separate from its
	// conversation content.
	Metadata struct {
		CreatedAt time.Time `json:"created_at"`
		UpdatedAt time.Time `json:"updated_at"`
		UserID    string    `json:"user_id,omitempty"`
		SessionID string    `json:"session_id,omitempty"`
		Priority  int       `json:"priority"`
		Tags      []string  `json:"tags,omitempty"`
		Subject   string    `json:"subject,omitempty"`
	}

	// Thread is the complete state of one conversation.
	Thread struct {
		ThreadID string
		Messages []Message
		Context  map[string]any
		Metadata Metadata
	}

	// Summary is the projection returned by List, sourced from the search
	// index rather than the full thread payload.
	Summary struct {
		ThreadID   string
		Subject    string
		UserID     string
		InstanceID string
		Priority   int
		Tags       []string
		CreatedAt  time.Time
		UpdatedAt  time.Time
	}
)

// Store is the Thread Store. Construct one per process around a shared
// go-redis client.
type Store struct {
	rdb *redis.Client
	llm llm.Client
}

// New builds a Store. llmClient is used only by GenerateSubject; callers
// that never call it may pass nil.
func New(rdb *redis.Client, llmClient llm.Client) *Store {
	return &Store{rdb: rdb, llm: llmClient}
}

// Create starts a new thread and returns its ID.
func (s *Store) Create(ctx context.Context, userID, sessionID string, initialContext map[string]any, tags []string) (string, error) {
	threadID := ids.New().String()
	now := time.Now().UTC()
	meta := Metadata{
		CreatedAt: now,
		UpdatedAt: now,
		UserID:    userID,
		SessionID: sessionID,
		Tags:      tags,
	}

	pipe := s.rdb.TxPipeline()
	if len(initialContext) > 0 {
		pipe.HSet(ctx, keys.ThreadContext(threadID), encodeContext(initialContext))
	}
	pipe.HSet(ctx, keys.ThreadMetadata(threadID), encodeMetadata(meta))
	expireAll(ctx, pipe, threadID)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("thread: create %s: %w", threadID, err)
	}
	if err := s.upsertSearchDoc(ctx, threadID); err != nil {
		return "", err
	}
	return threadID, nil
}

// Get retrieves a thread's complete state. Returns ErrNotFound if the
// thread does not exist or has expired.
func (s *Store) Get(ctx context.Context, threadID string) (*Thread, error) {
	exists, err := s.rdb.Exists(ctx, keys.ThreadMetadata(threadID)).Result()
	if err != nil {
		return nil, fmt.Errorf("thread: exists %s: %w", threadID, err)
	}
	if exists == 0 {
		return nil, ErrNotFound
	}

	messagesRaw, err := s.rdb.LRange(ctx, keys.ThreadMessages(threadID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("thread: messages %s: %w", threadID, err)
	}
	contextRaw, err := s.rdb.HGetAll(ctx, keys.ThreadContext(threadID)).Result()
	if err != nil {
		return nil, fmt.Errorf("thread: context %s: %w", threadID, err)
	}
	metaRaw, err := s.rdb.HGetAll(ctx, keys.ThreadMetadata(threadID)).Result()
	if err != nil {
		return nil, fmt.Errorf("thread: metadata %s: %w", threadID, err)
	}

	messages := make([]Message, 0, len(messagesRaw))
	for _, raw := range messagesRaw {
		var m Message
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			continue
		}
		messages = append(messages, m)
	}

	ctxMap := decodeContext(contextRaw)

	// Legacy rows kept the conversation inline under context["messages"]
	// before it moved to a dedicated list (thread_state.py's predecessor).
	// Migrate on read and drop it from the context view.
	if len(messages) == 0 {
		if legacy, ok := ctxMap["messages"].([]any); ok {
			for _, raw := range legacy {
				entry, ok := raw.(map[string]any)
				if !ok {
					continue
				}
				content, _ := entry["content"].(string)
				if content == "" {
					continue
				}
				role, _ := entry["role"].(string)
				messages = append(messages, Message{Role: normalizeRole(role), Content: content})
			}
		}
	}
	delete(ctxMap, "messages")

	return &Thread{
		ThreadID: threadID,
		Messages: messages,
		Context:  ctxMap,
		Metadata: decodeMetadata(metaRaw),
	}, nil
}

// UpdateContext merges (or replaces) a thread's context map.
func (s *Store) UpdateContext(ctx context.Context, threadID string, updates map[string]any, merge bool) error {
	if !merge {
		if err := s.rdb.Del(ctx, keys.ThreadContext(threadID)).Err(); err != nil {
			return fmt.Errorf("thread: clear context %s: %w", threadID, err)
		}
	}
	pipe := s.rdb.TxPipeline()
	if len(updates) > 0 {
		pipe.HSet(ctx, keys.ThreadContext(threadID), encodeContext(updates))
	}
	pipe.HSet(ctx, keys.ThreadMetadata(threadID), "updated_at", time.Now().UTC().Format(time.RFC3339))
	expireAll(ctx, pipe, threadID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("thread: update context %s: %w", threadID, err)
	}
	return s.upsertSearchDoc(ctx, threadID)
}

// AppendMessages appends messages to the thread's conversation in order
// and refreshes the search index.
func (s *Store) AppendMessages(ctx context.Context, threadID string, messages []Message) error {
	if len(messages) == 0 {
		return nil
	}
	pipe := s.rdb.TxPipeline()
	for _, m := range messages {
		if m.Content == "" {
			continue
		}
		m.Role = normalizeRole(string(m.Role))
		raw, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("thread: marshal message: %w", err)
		}
		pipe.RPush(ctx, keys.ThreadMessages(threadID), raw)
	}
	pipe.HSet(ctx, keys.ThreadMetadata(threadID), "updated_at", time.Now().UTC().Format(time.RFC3339))
	expireAll(ctx, pipe, threadID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("thread: append messages %s: %w", threadID, err)
	}
	return s.upsertSearchDoc(ctx, threadID)
}

// SetSubject sets a thread's subject explicitly and refreshes the search
// index.
func (s *Store) SetSubject(ctx context.Context, threadID, subject string) error {
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, keys.ThreadMetadata(threadID), map[string]any{
		"subject":    subject,
		"updated_at": time.Now().UTC().Format(time.RFC3339),
	})
	expireAll(ctx, pipe, threadID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("thread: set subject %s: %w", threadID, err)
	}
	return s.upsertSearchDoc(ctx, threadID)
}

// subjectPrompt mirrors threads.py's _generate_thread_subject prompt: a
// concise, ticket-list-friendly subject line under 50 characters.
const subjectPrompt = `Generate a concise, descriptive subject line (max 50 characters) for this SRE support request:

%q

The subject should be specific, include key technical terms, and be suitable for a support ticket list. Respond with only the subject line, no quotes.`

// GenerateSubject asks the configured small model for a subject line from
// the thread's original message, falls back to a truncation of the message
// on any model failure, and persists the result via SetSubject.
func (s *Store) GenerateSubject(ctx context.Context, threadID, originalMessage string) error {
	subject := truncate(originalMessage, 50)
	if s.llm != nil {
		resp, err := s.llm.Complete(ctx, &llm.Request{
			ModelClass: llm.ClassSmall,
			Messages: []llm.Message{
				{Role: llm.RoleUser, Content: fmt.Sprintf(subjectPrompt, truncate(originalMessage, 200))},
			},
			MaxTokens: 20,
		})
		if err == nil {
			if text := strings.Trim(strings.TrimSpace(resp.Message.Content), `"'`); text != "" {
				subject = truncate(text, 50)
			}
		}
	}
	return s.SetSubject(ctx, threadID, subject)
}

// List returns thread summaries ordered by most recently updated, sourced
// from the search-index hashes rather than full thread payloads.
func (s *Store) List(ctx context.Context, userID string, limit, offset int) ([]Summary, error) {
	var indexKey string
	if userID != "" {
		indexKey = keys.ThreadsUserIndex(userID)
	} else {
		indexKey = keys.ThreadsIndex()
	}
	threadIDs, err := s.rdb.ZRevRange(ctx, indexKey, int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("thread: list index: %w", err)
	}
	out := make([]Summary, 0, len(threadIDs))
	for _, threadID := range threadIDs {
		doc, err := s.rdb.HGetAll(ctx, keys.ThreadSearchDoc(threadID)).Result()
		if err != nil || len(doc) == 0 {
			continue
		}
		out = append(out, summaryFromDoc(threadID, doc))
	}
	return out, nil
}

// Delete removes every key associated with a thread, including its search
// document and index entries.
func (s *Store) Delete(ctx context.Context, threadID string) error {
	meta, _ := s.rdb.HGetAll(ctx, keys.ThreadMetadata(threadID)).Result()
	userID := meta["user_id"]

	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx,
		keys.ThreadMessages(threadID),
		keys.ThreadContext(threadID),
		keys.ThreadMetadata(threadID),
		keys.ThreadTasks(threadID),
		keys.ThreadSearchDoc(threadID),
	)
	pipe.ZRem(ctx, keys.ThreadsIndex(), threadID)
	if userID != "" {
		pipe.ZRem(ctx, keys.ThreadsUserIndex(userID), threadID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("thread: delete %s: %w", threadID, err)
	}
	return nil
}

// upsertSearchDoc rewrites the hash document backing List, mirroring
// threads.py's _upsert_thread_search_doc. Callers run it after their own
// write has been committed and return its error; that write is not
// rolled back, since the search doc is a secondary index, not the source
// of truth.
func (s *Store) upsertSearchDoc(ctx context.Context, threadID string) error {
	meta, err := s.rdb.HGetAll(ctx, keys.ThreadMetadata(threadID)).Result()
	if err != nil {
		return fmt.Errorf("thread: search doc metadata %s: %w", threadID, err)
	}
	contextH, err := s.rdb.HGetAll(ctx, keys.ThreadContext(threadID)).Result()
	if err != nil {
		return fmt.Errorf("thread: search doc context %s: %w", threadID, err)
	}

	priority, _ := strconv.Atoi(meta["priority"])
	createdAt := parseTimeOrZero(meta["created_at"])
	updatedAt := parseTimeOrZero(meta["updated_at"])
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	doc := map[string]any{
		"subject":     meta["subject"],
		"user_id":     meta["user_id"],
		"instance_id": contextH["instance_id"],
		"priority":    priority,
		"created_at":  createdAt.Unix(),
		"updated_at":  updatedAt.Unix(),
		"tags":        strings.Join(decodeMetadata(meta).Tags, ","),
	}
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, keys.ThreadSearchDoc(threadID), doc)
	pipe.Expire(ctx, keys.ThreadSearchDoc(threadID), keys.ThreadTTLSeconds*time.Second)
	pipe.ZAdd(ctx, keys.ThreadsIndex(), redis.Z{Score: float64(updatedAt.Unix()), Member: threadID})
	if uid := meta["user_id"]; uid != "" {
		pipe.ZAdd(ctx, keys.ThreadsUserIndex(uid), redis.Z{Score: float64(updatedAt.Unix()), Member: threadID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("thread: upsert search doc %s: %w", threadID, err)
	}
	return nil
}

func summaryFromDoc(threadID string, doc map[string]string) Summary {
	priority, _ := strconv.Atoi(doc["priority"])
	var tags []string
	if raw := doc["tags"]; raw != "" {
		tags = strings.Split(raw, ",")
	}
	return Summary{
		ThreadID:   threadID,
		Subject:    doc["subject"],
		UserID:     doc["user_id"],
		InstanceID: doc["instance_id"],
		Priority:   priority,
		Tags:       tags,
		CreatedAt:  parseUnixOrZero(doc["created_at"]),
		UpdatedAt:  parseUnixOrZero(doc["updated_at"]),
	}
}

func expireAll(ctx context.Context, pipe redis.Pipeliner, threadID string) {
	ttl := keys.ThreadTTLSeconds * time.Second
	pipe.Expire(ctx, keys.ThreadMessages(threadID), ttl)
	pipe.Expire(ctx, keys.ThreadContext(threadID), ttl)
	pipe.Expire(ctx, keys.ThreadMetadata(threadID), ttl)
}

func encodeContext(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch vv := v.(type) {
		case nil:
			out[k] = ""
		case string:
			out[k] = vv
		case map[string]any, []any:
			raw, _ := json.Marshal(vv)
			out[k] = string(raw)
		default:
			out[k] = fmt.Sprintf("%v", vv)
		}
	}
	return out
}

func decodeContext(raw map[string]string) map[string]any {
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		var parsed any
		if err := json.Unmarshal([]byte(v), &parsed); err == nil {
			switch parsed.(type) {
			case map[string]any, []any:
				out[k] = parsed
				continue
			}
		}
		out[k] = v
	}
	return out
}

func encodeMetadata(m Metadata) map[string]any {
	tags, _ := json.Marshal(m.Tags)
	return map[string]any{
		"created_at": m.CreatedAt.Format(time.RFC3339),
		"updated_at": m.UpdatedAt.Format(time.RFC3339),
		"user_id":    m.UserID,
		"session_id": m.SessionID,
		"priority":   m.Priority,
		"tags":       string(tags),
		"subject":    m.Subject,
	}
}

func decodeMetadata(raw map[string]string) Metadata {
	priority, _ := strconv.Atoi(raw["priority"])
	var tags []string
	if v := raw["tags"]; v != "" {
		_ = json.Unmarshal([]byte(v), &tags)
	}
	return Metadata{
		CreatedAt: parseTimeOrZero(raw["created_at"]),
		UpdatedAt: parseTimeOrZero(raw["updated_at"]),
		UserID:    raw["user_id"],
		SessionID: raw["session_id"],
		Priority:  priority,
		Tags:      tags,
		Subject:   raw["subject"],
	}
}

func normalizeRole(role string) Role {
	switch Role(role) {
	case RoleUser, RoleAssistant, RoleSystem:
		return Role(role)
	default:
		return RoleUser
	}
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n])
}

func parseTimeOrZero(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseUnixOrZero(s string) time.Time {
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil || sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
