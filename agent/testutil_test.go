package agent

import (
	"context"
	"errors"
	"sync"

	"github.com/redis-sre/agentcore/llm"
	"github.com/redis-sre/agentcore/toolmanager"
)

// newNoopToolManager builds a Manager with no tool definitions, for
// tests that only need Plan/workerLoop to see an empty tool set. Any
// tool call an unscripted response happens to request resolves to an
// error envelope rather than panicking (toolmanager.Manager.Resolve's
// unknown-tool path).
func newNoopToolManager() (*toolmanager.Manager, error) {
	return toolmanager.New(nil, "inst-1")
}

// fakeClient replays a scripted queue of responses/errors, one per
// Complete call, so each stage test can drive a deterministic
// conversation without a real provider. Guarded by a mutex since
// Run's per-topic recommendation workers call Complete concurrently.
type fakeClient struct {
	mu        sync.Mutex
	responses []fakeTurn
	calls     int
}

type fakeTurn struct {
	content   string
	toolCalls []llm.ToolCall
	err       error
}

func (f *fakeClient) Complete(_ context.Context, _ *llm.Request) (*llm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls >= len(f.responses) {
		return nil, errors.New("fakeClient: exhausted scripted responses")
	}
	turn := f.responses[f.calls]
	f.calls++
	if turn.err != nil {
		return nil, turn.err
	}
	return &llm.Response{
		Message: llm.Message{
			Role:      llm.RoleAssistant,
			Content:   turn.content,
			ToolCalls: turn.toolCalls,
		},
	}, nil
}
