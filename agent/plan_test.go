package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/redis-sre/agentcore/llm"
	"github.com/redis-sre/agentcore/toolmanager"
)

type recordingEmitter struct {
	events []recordedEvent
}

type recordedEvent struct {
	message    string
	updateType string
	metadata   map[string]any
}

func (e *recordingEmitter) Emit(_ context.Context, message, updateType string, metadata map[string]any) {
	e.events = append(e.events, recordedEvent{message: message, updateType: updateType, metadata: metadata})
}

func knowledgeSearchManager(t *testing.T) *toolmanager.Manager {
	t.Helper()
	def := toolmanager.Definition{
		Name:        "knowledge.kb.search",
		Description: "search",
		Parameters:  map[string]any{"type": "object"},
		Handler: func(_ context.Context, _ map[string]any) (map[string]any, error) {
			return map[string]any{"results": []map[string]any{
				{
					"document_hash": "doc-abc",
					"title":         "RDB and AOF",
					"source":        "https://redis.io/docs/persistence",
					"content":       "Redis persistence is achieved through RDB snapshots and AOF logs.",
					"score":         0.92,
				},
			}}, nil
		},
	}
	m, err := toolmanager.New(nil, "inst-1", def)
	require.NoError(t, err)
	return m
}

// TestPlanStopsWhenNoToolCallsRequested covers the base case: a single
// model turn with no tool calls ends the loop immediately.
func TestPlanStopsWhenNoToolCallsRequested(t *testing.T) {
	client := &fakeClient{responses: []fakeTurn{{content: "just an answer"}}}
	tools, err := newNoopToolManager()
	require.NoError(t, err)
	state := NewState([]llm.Message{{Role: llm.RoleUser, Content: "hi"}}, "s1", "u1", nil)

	require.NoError(t, Plan(context.Background(), Deps{Model: client, Tools: tools}, state))
	draft, ok := lastAssistant(state.Messages)
	require.True(t, ok)
	require.Equal(t, "just an answer", draft.Content)
	require.Empty(t, state.SignalsEnvelopes)
}

// TestPlanSurfacesKnowledgeSearchAsCitationsAndProgressEvent covers
// spec.md §8 scenario 2: a knowledge search hit becomes a Citation on
// state and a live "knowledge_sources" progress event.
func TestPlanSurfacesKnowledgeSearchAsCitationsAndProgressEvent(t *testing.T) {
	client := &fakeClient{responses: []fakeTurn{
		{
			content: "searching",
			toolCalls: []llm.ToolCall{
				{ID: "call-1", Name: "knowledge.kb.search", Arguments: []byte(`{"query":"redis persistence"}`)},
			},
		},
		{content: "Redis persistence uses RDB snapshots and AOF logs."},
	}}
	emitter := &recordingEmitter{}
	deps := Deps{Model: client, Tools: knowledgeSearchManager(t), Emitter: emitter}
	state := NewState([]llm.Message{{Role: llm.RoleUser, Content: "What is Redis persistence?"}}, "s1", "u1", nil)

	require.NoError(t, Plan(context.Background(), deps, state))

	require.Len(t, state.Citations, 1)
	require.Equal(t, "doc-abc", state.Citations[0].DocumentHash)
	require.Equal(t, "RDB and AOF", state.Citations[0].Title)

	var sawKnowledgeSources bool
	for _, e := range emitter.events {
		if e.updateType == "knowledge_sources" {
			sawKnowledgeSources = true
			citations, ok := e.metadata["citations"].([]any)
			require.True(t, ok)
			require.Len(t, citations, 1)
		}
	}
	require.True(t, sawKnowledgeSources, "expected a knowledge_sources progress event")
}

// TestCitationsFromSearchResultSurvivesCacheRoundTrip covers a
// toolmanager.Cache hit: Cache.Set/Get marshal and unmarshal the whole
// ResultEnvelope through encoding/json, so a cached "results" value
// decodes as []any of map[string]any rather than the []map[string]any a
// handler returns directly on a cache miss. Citations must come out the
// same either way.
func TestCitationsFromSearchResultSurvivesCacheRoundTrip(t *testing.T) {
	uncached := map[string]any{"results": []map[string]any{
		{"document_hash": "doc-abc", "title": "RDB and AOF", "source": "https://redis.io/docs/persistence", "content": "...", "score": 0.92},
	}}
	raw, err := json.Marshal(uncached)
	require.NoError(t, err)
	var cached map[string]any
	require.NoError(t, json.Unmarshal(raw, &cached))

	got := citationsFromSearchResult(cached)
	require.Len(t, got, 1)
	require.Equal(t, "doc-abc", got[0].DocumentHash)
	require.Equal(t, "RDB and AOF", got[0].Title)
}
