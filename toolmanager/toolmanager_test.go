package toolmanager

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/redis-sre/agentcore/llm"
)

var errBoom = errors.New("boom")

func testCache(t *testing.T) *Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewCache(rdb)
}

func echoHandler(calls *int) Handler {
	return func(_ context.Context, args map[string]any) (map[string]any, error) {
		*calls++
		return map[string]any{"echo": args["q"]}, nil
	}
}

func TestResolveReturnsSuccessEnvelope(t *testing.T) {
	calls := 0
	m, err := New(nil, "", Definition{Name: "knowledge.kb.search", Description: "search kb", Handler: echoHandler(&calls)})
	require.NoError(t, err)

	env := m.Resolve(context.Background(), "knowledge.kb.search", map[string]any{"q": "replication"})
	require.Equal(t, "success", env.Status)
	require.Equal(t, "search", env.Name)
	require.Equal(t, "replication", env.Data["echo"])
	require.Equal(t, 1, calls)
}

func TestResolveUnknownToolReturnsErrorEnvelope(t *testing.T) {
	m, err := New(nil, "", Definition{Name: "a", Handler: echoHandler(new(int))})
	require.NoError(t, err)

	env := m.Resolve(context.Background(), "b", nil)
	require.Equal(t, "error", env.Status)
}

func TestResolveHandlerErrorReturnsErrorEnvelope(t *testing.T) {
	boom := func(context.Context, map[string]any) (map[string]any, error) {
		return nil, errBoom
	}
	m, err := New(nil, "", Definition{Name: "admin.restart", Description: "restart", Handler: boom})
	require.NoError(t, err)

	env := m.Resolve(context.Background(), "admin.restart", nil)
	require.Equal(t, "error", env.Status)
	require.Equal(t, "restart", env.Description)
	require.Equal(t, "boom", env.Data["error"])
}

func TestResolveValidatesArgumentsAgainstSchema(t *testing.T) {
	calls := 0
	m, err := New(nil, "", Definition{
		Name:    "admin.restart",
		Handler: echoHandler(&calls),
		Parameters: map[string]any{
			"type":     "object",
			"required": []any{"q"},
			"properties": map[string]any{
				"q": map[string]any{"type": "string"},
			},
		},
	})
	require.NoError(t, err)

	env := m.Resolve(context.Background(), "admin.restart", map[string]any{})
	require.Equal(t, "error", env.Status)
	require.Equal(t, 0, calls)

	env = m.Resolve(context.Background(), "admin.restart", map[string]any{"q": "go"})
	require.Equal(t, "success", env.Status)
}

func TestResolveCachesSuccessfulOutput(t *testing.T) {
	calls := 0
	cache := testCache(t)
	m, err := New(cache, "instance-1", Definition{Name: "knowledge.kb.search", Handler: echoHandler(&calls)})
	require.NoError(t, err)

	args := map[string]any{"q": "oom"}
	first := m.Resolve(context.Background(), "knowledge.kb.search", args)
	second := m.Resolve(context.Background(), "knowledge.kb.search", args)

	require.Equal(t, first.Data, second.Data)
	require.Equal(t, 1, calls)
}

func TestCacheClearRemovesOnlyOneScope(t *testing.T) {
	ctx := context.Background()
	cache := testCache(t)
	cache.Set(ctx, "instance-1", "t", map[string]any{"a": 1}, ResultEnvelope{Status: "success"})
	cache.Set(ctx, "instance-2", "t", map[string]any{"a": 1}, ResultEnvelope{Status: "success"})

	n, err := cache.Clear(ctx, "instance-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	_, ok := cache.Get(ctx, "instance-1", "t", map[string]any{"a": 1})
	require.False(t, ok)
	_, ok = cache.Get(ctx, "instance-2", "t", map[string]any{"a": 1})
	require.True(t, ok)
}

func TestCacheClearAllAndStatsAll(t *testing.T) {
	ctx := context.Background()
	cache := testCache(t)
	cache.Set(ctx, "instance-1", "t", map[string]any{"a": 1}, ResultEnvelope{Status: "success"})
	cache.Set(ctx, "instance-2", "t", map[string]any{"a": 1}, ResultEnvelope{Status: "success"})
	cache.Set(ctx, AllInstancesScope, "t", map[string]any{"a": 1}, ResultEnvelope{Status: "success"})

	stats, err := cache.StatsAll(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), stats.TotalKeys)
	require.Len(t, stats.Instances, 3)

	deleted, err := cache.ClearAll(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), deleted)

	stats, err = cache.StatsAll(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), stats.TotalKeys)
}

func TestSanitizeMessagesKeepsMatchingToolMessages(t *testing.T) {
	msgs := []llm.Message{
		{Role: llm.RoleUser, Content: "why is latency high"},
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "t1", Name: "knowledge.kb.search"}}},
		{Role: llm.RoleTool, ToolCallID: "t1", Content: "result"},
		{Role: llm.RoleTool, ToolCallID: "orphan", Content: "should be dropped"},
	}
	clean := SanitizeMessages(msgs)
	require.Len(t, clean, 3)
	require.Equal(t, llm.RoleTool, clean[2].Role)
	require.Equal(t, "t1", clean[2].ToolCallID)
}

func TestSanitizeMessagesDropsLeadingToolMessages(t *testing.T) {
	msgs := []llm.Message{
		{Role: llm.RoleTool, ToolCallID: "dangling", Content: "orphan at start"},
		{Role: llm.RoleUser, Content: "hi"},
	}
	clean := SanitizeMessages(msgs)
	require.Len(t, clean, 1)
	require.Equal(t, llm.RoleUser, clean[0].Role)
}

func TestSanitizeMessagesEmptyIsPassthrough(t *testing.T) {
	require.Nil(t, SanitizeMessages(nil))
}
