// Package agent implements the Agent Workflow Engine: the state graph
// described in spec.md §4.5-4.6 (route, plan, diagnose, per-topic
// recommendation workers, reduce, correct, synth). Grounded on
// original_source/redis_sre_agent/agent/* for exact stage semantics, and
// on the teacher's agents/runtime/runtime node/graph vocabulary and
// per-node OTel tracing idiom (agents/runtime/runtime/activities.go,
// safety_fact_corrector.py's _trace_node wrapper).
package agent

import (
	"context"
	"math/rand"
	"time"

	"github.com/redis-sre/agentcore/knowledge"
	"github.com/redis-sre/agentcore/llm"
	"github.com/redis-sre/agentcore/progress"
	"github.com/redis-sre/agentcore/telemetry"
	"github.com/redis-sre/agentcore/toolmanager"
)

// InstanceFacts carries the target Redis instance's known properties into
// prompts, so the corrector and recommendation workers can reason about
// what's safe to suggest (e.g. never CONFIG SET on a managed instance).
type InstanceFacts map[string]any

// State is the Agent Workflow Engine's working state, threaded through
// every stage of a single turn (spec.md §4.5 AgentState).
type State struct {
	Messages        []llm.Message
	SessionID       string
	UserID          string
	IterationCount  int
	MaxIterations   int
	InstanceContext InstanceFacts
	SignalsEnvelopes []toolmanager.ResultEnvelope

	// Citations accumulates every knowledge-base hit the Plan stage's
	// tool loop retrieved this turn, in retrieval order (spec.md §4.9).
	Citations []knowledge.Citation
}

// defaultMaxIterations bounds the Plan loop's tool-execution budget
// (spec.md §4.5 step 2, "default small, bounded").
const defaultMaxIterations = 6

// NewState builds an initial State for a turn.
func NewState(messages []llm.Message, sessionID, userID string, instanceContext InstanceFacts) *State {
	if instanceContext == nil {
		instanceContext = InstanceFacts{}
	}
	return &State{
		Messages:        messages,
		SessionID:       sessionID,
		UserID:          userID,
		MaxIterations:   defaultMaxIterations,
		InstanceContext: instanceContext,
	}
}

// Deps bundles every external dependency a workflow run needs: the model
// client, tool manager, knowledge store, and progress sink. Constructed
// once per run by the Task Runner.
type Deps struct {
	Model llm.Client

	// Tools is the full tool set the Plan stage's main loop is bound to
	// (admin/REST/CLI adapters plus knowledge search).
	Tools *toolmanager.Manager

	// KnowledgeTools is a knowledge_*-only subset bound to the
	// recommendation workers, the corrector, and the optional problem
	// worker, so their tool-use budget can never escalate into a
	// destructive admin call (spec.md §4.5 steps 4 and 6).
	KnowledgeTools *toolmanager.Manager

	Knowledge *knowledge.Store
	Tracer    telemetry.Tracer
	Emitter   progress.Emitter
}

// retryConfig bounds the engine's internal retry helper for transient LLM
// failures (spec.md §4.5 "internal retry helper with exponential backoff,
// bounded retries, small initial delay").
type retryConfig struct {
	maxAttempts int
	initialDelay time.Duration
}

var defaultRetry = retryConfig{maxAttempts: 3, initialDelay: 200 * time.Millisecond}

// withRetry invokes fn, retrying on error with exponential backoff and
// jitter up to cfg.maxAttempts total attempts. The last error is
// returned if every attempt fails.
func withRetry(ctx context.Context, cfg retryConfig, fn func(context.Context) error) error {
	var err error
	delay := cfg.initialDelay
	for attempt := 1; attempt <= cfg.maxAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == cfg.maxAttempts {
			break
		}
		jitter := time.Duration(rand.Int63n(int64(delay) / 2 + 1))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay + jitter):
		}
		delay *= 2
	}
	return err
}

// lastAssistant returns the most recent assistant message, if any.
func lastAssistant(msgs []llm.Message) (llm.Message, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == llm.RoleAssistant {
			return msgs[i], true
		}
	}
	return llm.Message{}, false
}
