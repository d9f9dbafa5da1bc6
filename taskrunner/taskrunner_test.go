package taskrunner

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/redis-sre/agentcore/agent"
	"github.com/redis-sre/agentcore/llm"
	"github.com/redis-sre/agentcore/qa"
	"github.com/redis-sre/agentcore/task"
	"github.com/redis-sre/agentcore/thread"
	"github.com/redis-sre/agentcore/toolmanager"
)

type fakeTurn struct {
	content   string
	toolCalls []llm.ToolCall
	err       error
}

type fakeClient struct {
	responses []fakeTurn
	calls     int
}

func (f *fakeClient) Complete(_ context.Context, _ *llm.Request) (*llm.Response, error) {
	if f.calls >= len(f.responses) {
		return nil, errors.New("fakeClient: exhausted scripted responses")
	}
	turn := f.responses[f.calls]
	f.calls++
	if turn.err != nil {
		return nil, turn.err
	}
	return &llm.Response{Message: llm.Message{Role: llm.RoleAssistant, Content: turn.content, ToolCalls: turn.toolCalls}}, nil
}

func testRunner(t *testing.T, client *fakeClient) (*Runner, *thread.Store, *task.Store, string) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	threads := thread.New(rdb, nil)
	tasks := task.New(rdb)
	qaStore := qa.New(rdb, nil)

	threadID, err := threads.Create(context.Background(), "u1", "s1", nil, nil)
	require.NoError(t, err)
	require.NoError(t, threads.AppendMessages(context.Background(), threadID, []thread.Message{
		{Role: thread.RoleUser, Content: "is my instance healthy?"},
	}))

	taskID, err := tasks.Create(context.Background(), threadID, "u1")
	require.NoError(t, err)
	require.NoError(t, tasks.Enqueue(context.Background(), taskID))

	runner := &Runner{Tasks: tasks, Threads: threads, QA: qaStore, Model: client}
	return runner, threads, tasks, taskID
}

func TestRunnerLeasesAndExecutesQueuedTask(t *testing.T) {
	client := &fakeClient{responses: []fakeTurn{
		{content: "in_scope"},
		{content: "Everything looks healthy."},
	}}
	runner, threads, tasks, taskID := testRunner(t, client)

	leased, err := tasks.Lease(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, taskID, leased)

	require.NoError(t, runner.Execute(context.Background(), taskID))

	state, err := tasks.Get(context.Background(), taskID)
	require.NoError(t, err)
	require.Equal(t, task.StatusDone, state.Status)
	require.Equal(t, "Everything looks healthy.", state.Result["response"])

	th, err := threads.Get(context.Background(), state.ThreadID)
	require.NoError(t, err)
	require.Len(t, th.Messages, 2)
	require.Equal(t, thread.RoleAssistant, th.Messages[1].Role)
	require.Equal(t, "Everything looks healthy.", th.Messages[1].Content)
}

func TestRunnerRecordsQAEntryOnSuccess(t *testing.T) {
	client := &fakeClient{responses: []fakeTurn{
		{content: "in_scope"},
		{content: "Answer text."},
	}}
	runner, _, tasks, taskID := testRunner(t, client)
	require.NoError(t, runner.Execute(context.Background(), taskID))

	byTask, err := runner.QA.ListByTask(context.Background(), taskID, 10)
	require.NoError(t, err)
	require.Len(t, byTask, 1)

	rec, err := runner.QA.Get(context.Background(), byTask[0])
	require.NoError(t, err)
	require.Equal(t, "Answer text.", rec.Answer)
}

func TestRunnerSetsErrorOnAgentFailure(t *testing.T) {
	client := &fakeClient{responses: []fakeTurn{
		{err: errors.New("provider unavailable")},
	}}
	runner, _, tasks, taskID := testRunner(t, client)
	require.NoError(t, runner.Execute(context.Background(), taskID))

	state, err := tasks.Get(context.Background(), taskID)
	require.NoError(t, err)
	require.Equal(t, task.StatusFailed, state.Status)
	require.NotEmpty(t, state.ErrorMessage)
}

func TestRunnerShortCircuitsOutOfScope(t *testing.T) {
	client := &fakeClient{responses: []fakeTurn{
		{content: "out_of_scope"},
	}}
	runner, _, tasks, taskID := testRunner(t, client)
	require.NoError(t, runner.Execute(context.Background(), taskID))

	state, err := tasks.Get(context.Background(), taskID)
	require.NoError(t, err)
	require.Equal(t, task.StatusDone, state.Status)
}

// TestRunnerRecordsCitationsFromKnowledgeSearch covers spec.md §8
// scenario 2: a knowledge search hit during Plan ends up as a Citation
// on the recorded Q&A entry.
func TestRunnerRecordsCitationsFromKnowledgeSearch(t *testing.T) {
	client := &fakeClient{responses: []fakeTurn{
		{content: "in_scope"},
		{
			content: "searching the knowledge base",
			toolCalls: []llm.ToolCall{
				{ID: "call-1", Name: "knowledge.kb.search", Arguments: []byte(`{"query":"redis persistence"}`)},
			},
		},
		{content: "Redis persistence is achieved via RDB snapshots and AOF logs."},
		{content: "[]"},
	}}
	runner, _, tasks, taskID := testRunner(t, client)

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
					"content":       "Redis persistence uses RDB snapshots and AOF logs.",
					"score":         0.92,
				},
			}}, nil
		},
	}
	tools, err := toolmanager.New(nil, "inst-1", def)
	require.NoError(t, err)
	runner.BuildTools = func(context.Context, string, agent.InstanceFacts) (*toolmanager.Manager, *toolmanager.Manager, error) {
		return tools, tools, nil
	}

	require.NoError(t, runner.Execute(context.Background(), taskID))

	state, err := tasks.Get(context.Background(), taskID)
	require.NoError(t, err)
	require.Equal(t, task.StatusDone, state.Status)

	byTask, err := runner.QA.ListByTask(context.Background(), taskID, 10)
	require.NoError(t, err)
	require.Len(t, byTask, 1)

	rec, err := runner.QA.Get(context.Background(), byTask[0])
	require.NoError(t, err)
	require.Len(t, rec.Citations, 1)
	require.Equal(t, "doc-abc", rec.Citations[0].DocumentHash)
}

func TestResolveInstancePrefersThreadContextOverExtraction(t *testing.T) {
	runner := &Runner{Extract: func(string) (string, agent.InstanceFacts, bool) {
		return "extracted-id", agent.InstanceFacts{"host": "10.0.0.1"}, true
	}}
	th := &thread.Thread{Context: map[string]any{"instance_id": "saved-id"}}

	id, facts := runner.resolveInstance(th, "connect to instance_id: mentioned-id")
	require.Equal(t, "saved-id", id)
	require.Equal(t, "saved-id", facts["instance_id"])
}

func TestResolveInstanceFallsBackToExtraction(t *testing.T) {
	runner := &Runner{Extract: ExtractInstanceID}
	th := &thread.Thread{Context: map[string]any{}}

	id, facts := runner.resolveInstance(th, "please check instance_id: prod-7")
	require.Equal(t, "prod-7", id)
	require.Equal(t, "prod-7", facts["instance_id"])
}

func TestResolveInstanceNoneWhenNothingResolves(t *testing.T) {
	runner := &Runner{}
	th := &thread.Thread{Context: map[string]any{}}

	id, _ := runner.resolveInstance(th, "just a general question")
	require.Empty(t, id)
}

func TestExtractInstanceIDRecognizesExplicitMention(t *testing.T) {
	id, _, ok := ExtractInstanceID("status for instance_id: abc-123 please")
	require.True(t, ok)
	require.Equal(t, "abc-123", id)
}

func TestExtractInstanceIDNoMatch(t *testing.T) {
	_, _, ok := ExtractInstanceID("how do I configure replication?")
	require.False(t, ok)
}
