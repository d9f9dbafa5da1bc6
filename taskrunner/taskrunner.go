// Package taskrunner implements the Task Runner: the process that
// dequeues tasks, resolves their target Redis instance, runs the Agent
// Workflow Engine, and finalizes the task and its owning thread. Grounded
// on original_source/redis_sre_agent/worker.py for the dequeue/dispatch
// shape and on the teacher's agents/runtime/runtime/activities.go for the
// lease -> execute -> finalize lifecycle and per-stage OTel tracing idiom
// (tracer.Start(ctx, "<stage>.<action>"); defer span.End()).
//
// Instance-resolution precedence (spec.md §4.7) had no surviving
// original_source implementation to port, so resolveInstance is built
// directly from the spec's own wording: client-supplied instance_id
// overrides thread-saved context, which overrides an instance id or
// connection string extracted from the message body, which overrides
// running with no instance at all.
package taskrunner

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/redis-sre/agentcore/agent"
	"github.com/redis-sre/agentcore/llm"
	"github.com/redis-sre/agentcore/progress"
	"github.com/redis-sre/agentcore/qa"
	"github.com/redis-sre/agentcore/task"
	"github.com/redis-sre/agentcore/telemetry"
	"github.com/redis-sre/agentcore/thread"
	"github.com/redis-sre/agentcore/toolmanager"
)

// defaultLeaseTimeout bounds how long one Lease call blocks waiting for a
// queued task before the runner loops to check for shutdown.
const defaultLeaseTimeout = 5 * time.Second

// ToolBuilder constructs the tool sets bound to one resolved Redis
// instance: the full set (admin/REST/CLI adapters plus knowledge search)
// for the Plan stage, and a knowledge-only subset for the recommendation
// workers and corrector. instanceID is empty when no instance resolved,
// in which case the builder should return a knowledge-only-capable
// manager for both (the router/knowledge-only branch, spec.md §4.7).
type ToolBuilder func(ctx context.Context, instanceID string, facts agent.InstanceFacts) (tools, knowledgeTools *toolmanager.Manager, err error)

// InstanceExtractor pulls an instance id or free-text connection details
// out of a user message body, the last-resort source in the resolution
// precedence. Returns ok=false when nothing recognizable is present.
type InstanceExtractor func(message string) (instanceID string, facts agent.InstanceFacts, ok bool)

// Runner dequeues and executes tasks against the Agent Workflow Engine.
// Construct one per worker process around shared stores.
type Runner struct {
	Tasks   *task.Store
	Threads *thread.Store
	QA      *qa.Store
	Model   llm.Client

	BuildTools ToolBuilder
	Extract    InstanceExtractor

	Tracer telemetry.Tracer
	Logger telemetry.Logger

	// LeaseTimeout bounds each blocking dequeue attempt. Defaults to
	// defaultLeaseTimeout when zero.
	LeaseTimeout time.Duration
}

// Run leases tasks in a loop until ctx is cancelled, executing each one
// synchronously. Callers wanting concurrent execution run multiple
// goroutines each calling Run, matching docket's worker concurrency
// knob (original_source/redis_sre_agent/worker.py's concurrency=2).
func (r *Runner) Run(ctx context.Context) error {
	timeout := r.LeaseTimeout
	if timeout <= 0 {
		timeout = defaultLeaseTimeout
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		taskID, err := r.Tasks.Lease(ctx, timeout)
		if err != nil {
			if r.Logger != nil {
				r.Logger.Warn(ctx, "failed to lease task", "error", err.Error())
			}
			continue
		}
		if taskID == "" {
			continue
		}
		if err := r.Execute(ctx, taskID); err != nil && r.Logger != nil {
			r.Logger.Error(ctx, "task execution failed", "task_id", taskID, "error", err.Error())
		}
	}
}

// Execute runs a single leased task end to end: marks it in_progress,
// resolves its instance, runs the workflow, and finalizes it as done or
// failed. Never returns an error for a domain failure (that is recorded
// on the task itself via SetError); it only returns an error when the
// task cannot even be loaded or marked in_progress.
func (r *Runner) Execute(ctx context.Context, taskID string) error {
	ctx, span := r.startSpan(ctx, "run")
	defer span.End()

	state, err := r.Tasks.Get(ctx, taskID)
	if err != nil {
		return fmt.Errorf("taskrunner: load %s: %w", taskID, err)
	}
	if err := r.Tasks.UpdateStatus(ctx, taskID, task.StatusInProgress); err != nil {
		return fmt.Errorf("taskrunner: mark in_progress %s: %w", taskID, err)
	}

	emitter := progress.NewTaskEmitter(r.Tasks, taskID, r.Logger)
	emitter.Emit(ctx, "starting agent run", "agent_start", map[string]any{"task_id": taskID})

	th, err := r.Threads.Get(ctx, state.ThreadID)
	if err != nil {
		r.fail(ctx, emitter, taskID, fmt.Errorf("taskrunner: load thread %s: %w", state.ThreadID, err))
		return nil
	}

	userMessage, _ := lastUserMessage(th.Messages)
	instanceID, facts := r.resolveInstance(th, userMessage)
	emitter.Emit(ctx, "resolved instance context", "instance_context", map[string]any{"instance_id": instanceID})

	if instanceID != "" && th.Context["instance_id"] != instanceID {
		if err := r.Threads.UpdateContext(ctx, state.ThreadID, map[string]any{"instance_id": instanceID}, true); err != nil && r.Logger != nil {
			r.Logger.Warn(ctx, "failed to persist resolved instance_id", "thread_id", state.ThreadID, "error", err.Error())
		}
	}

	tools, knowledgeTools, err := r.buildTools(ctx, instanceID, facts)
	if err != nil {
		r.fail(ctx, emitter, taskID, fmt.Errorf("taskrunner: build tools: %w", err))
		return nil
	}

	deps := agent.Deps{
		Model:          r.Model,
		Tools:          tools,
		KnowledgeTools: knowledgeTools,
		Tracer:         r.Tracer,
		Emitter:        emitter,
	}
	agentState := agent.NewState(toLLMMessages(th.Messages), taskID, state.Metadata.UserID, facts)

	result, err := agent.Run(ctx, deps, agentState, userMessage)
	if err != nil {
		r.fail(ctx, emitter, taskID, fmt.Errorf("taskrunner: agent run: %w", err))
		return nil
	}

	if err := r.finalize(ctx, state.ThreadID, taskID, userMessage, result); err != nil {
		r.fail(ctx, emitter, taskID, err)
		return nil
	}

	emitter.Emit(ctx, "agent run complete", "agent_complete", map[string]any{
		"task_id":       taskID,
		"edits_applied": result.EditsApplied,
		"problem_count": len(result.Problems),
	})
	return nil
}

// finalize persists the successful outcome: appends the assistant's final
// message to the thread, records a Q&A entry, and writes the task result,
// which also transitions it to done (spec.md §4.7).
func (r *Runner) finalize(ctx context.Context, threadID, taskID, userMessage string, result agent.Result) error {
	if err := r.Threads.AppendMessages(ctx, threadID, []thread.Message{
		{Role: thread.RoleAssistant, Content: result.Response},
	}); err != nil {
		return fmt.Errorf("append final message: %w", err)
	}

	if r.QA != nil {
		if _, err := r.QA.Record(ctx, qa.Record{
			Question:  userMessage,
			Answer:    result.Response,
			Citations: result.Citations,
			ThreadID:  threadID,
			TaskID:    taskID,
		}); err != nil && r.Logger != nil {
			// A failed Q&A record never fails the task; the primary
			// thread/task outcome already landed.
			r.Logger.Warn(ctx, "failed to record qa entry", "task_id", taskID, "error", err.Error())
		}
	}

	return r.Tasks.SetResult(ctx, taskID, map[string]any{
		"response":      result.Response,
		"edits_applied": result.EditsApplied,
	})
}

// fail records the failure on the task and emits agent_error. Errors
// from SetError itself are logged, not propagated, since the task is
// already in a failed state from the caller's perspective either way.
func (r *Runner) fail(ctx context.Context, emitter *progress.TaskEmitter, taskID string, cause error) {
	emitter.Emit(ctx, cause.Error(), "agent_error", map[string]any{"task_id": taskID})
	if err := r.Tasks.SetError(ctx, taskID, cause.Error()); err != nil && !errors.Is(err, task.ErrTerminalTask) && r.Logger != nil {
		r.Logger.Error(ctx, "failed to record task error", "task_id", taskID, "error", err.Error())
	}
}

// buildTools delegates to BuildTools, falling back to an empty,
// knowledge-only-capable manager pair when the caller supplied none
// (useful for tests and for the knowledge-only branch with no instance).
func (r *Runner) buildTools(ctx context.Context, instanceID string, facts agent.InstanceFacts) (*toolmanager.Manager, *toolmanager.Manager, error) {
	if r.BuildTools == nil {
		empty, err := toolmanager.New(nil, toolmanager.AllInstancesScope)
		if err != nil {
			return nil, nil, err
		}
		return empty, empty, nil
	}
	return r.BuildTools(ctx, instanceID, facts)
}

// resolveInstance applies spec.md §4.7's precedence: client-supplied
// instance_id (carried in the thread's context by the API layer that
// created the task) overrides thread-saved context from a prior turn,
// which overrides an id or connection string extracted from the message
// body, which overrides running with no instance.
func (r *Runner) resolveInstance(th *thread.Thread, userMessage string) (string, agent.InstanceFacts) {
	facts := agent.InstanceFacts{}
	for k, v := range th.Context {
		facts[k] = v
	}
	if id, ok := th.Context["instance_id"].(string); ok && id != "" {
		return id, facts
	}
	if r.Extract != nil {
		if id, extracted, ok := r.Extract(userMessage); ok {
			for k, v := range extracted {
				facts[k] = v
			}
			facts["instance_id"] = id
			return id, facts
		}
	}
	return "", facts
}

var instanceIDPattern = regexp.MustCompile(`instance[_\s-]?id[:\s]+([a-zA-Z0-9_-]+)`)

// ExtractInstanceID is the default InstanceExtractor: it recognizes an
// explicit "instance_id: <id>" mention in the message body. Richer
// extraction (free-text host:port connection strings, creating a
// transient instance from them) is deployment-specific and left to a
// custom InstanceExtractor supplied by the worker entrypoint.
func ExtractInstanceID(message string) (string, agent.InstanceFacts, bool) {
	m := instanceIDPattern.FindStringSubmatch(message)
	if m == nil {
		return "", nil, false
	}
	return m[1], agent.InstanceFacts{}, true
}

func (r *Runner) startSpan(ctx context.Context, name string) (context.Context, telemetry.Span) {
	tracer := r.Tracer
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}
	return tracer.Start(ctx, "taskrunner."+name)
}

func lastUserMessage(messages []thread.Message) (string, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == thread.RoleUser {
			return messages[i].Content, true
		}
	}
	return "", false
}

func toLLMMessages(messages []thread.Message) []llm.Message {
	out := make([]llm.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, llm.Message{Role: llm.Role(m.Role), Content: m.Content})
	}
	return out
}
