package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis-sre/agentcore/llm"
	"github.com/redis-sre/agentcore/telemetry"
	"github.com/redis-sre/agentcore/toolmanager"
)

// workerLoop is the shape shared by the problem worker, each per-topic
// recommendation worker, and the safety/fact corrector: call the model,
// run any requested tools against a bounded budget, and once the model
// stops asking for tools (or the budget is spent) make one final
// "synth" call, forced into SynthSchema when one is set, and return its
// raw text for the caller to decode.
//
// Ported from the identical llm -> tools -> llm (loop) -> synth shape
// repeated across subgraphs/problem_worker.py, subgraphs/
// recommendation_worker.py, and subgraphs/safety_fact_corrector.py; the
// three only differ in their prompts, tool budget, and synth schema, so
// this is factored into one parameterized helper rather than three
// near-duplicate state graphs.
type workerLoop struct {
	Model      llm.Client
	Tools      *toolmanager.Manager
	Tracer     telemetry.Tracer
	SpanPrefix string

	// Budget bounds how many tool-call rounds this worker may spend
	// before being forced straight to synth.
	Budget int

	// SynthPrompt is appended as a trailing system message ahead of the
	// final forced-schema call.
	SynthPrompt string

	// SynthSchema is the JSON Schema the final call is forced to satisfy.
	SynthSchema any
}

// run executes the loop starting from messages (which should already
// carry the worker's own system prompt), returning the raw JSON text of
// the final synth call's response.
func (w workerLoop) run(ctx context.Context, messages []llm.Message) (string, error) {
	budget := w.Budget
	for {
		ctx, span := w.startSpan(ctx, "step")
		sanitized := toolmanager.SanitizeMessages(messages)

		var resp *llm.Response
		err := withRetry(ctx, defaultRetry, func(ctx context.Context) error {
			var callErr error
			resp, callErr = w.Model.Complete(ctx, &llm.Request{
				ModelClass: llm.ClassDefault,
				Messages:   sanitized,
				Tools:      w.toolDefinitions(budget),
			})
			return callErr
		})
		span.End()
		if err != nil {
			return "", fmt.Errorf("agent: %s: %w", w.SpanPrefix, err)
		}

		messages = append(sanitized, resp.Message)

		if len(resp.Message.ToolCalls) == 0 || budget <= 0 {
			return w.synth(ctx, messages)
		}

		for _, call := range resp.Message.ToolCalls {
			var args map[string]any
			_ = json.Unmarshal(call.Arguments, &args)
			env := w.Tools.Resolve(ctx, call.Name, args)
			raw, _ := json.Marshal(env.Data)
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    string(raw),
				ToolCallID: call.ID,
				Name:       call.Name,
			})
		}
		budget--
	}
}

// toolDefinitions returns nil once the budget is spent, so the final
// round never offers tools (forcing the model toward synth naturally
// instead of relying solely on the caller noticing ToolCalls is empty).
func (w workerLoop) toolDefinitions(budget int) []llm.ToolDefinition {
	if budget <= 0 || w.Tools == nil {
		return nil
	}
	return w.Tools.ToolDefinitions()
}

// synth makes the final forced-schema call and returns its raw content.
func (w workerLoop) synth(ctx context.Context, messages []llm.Message) (string, error) {
	ctx, span := w.startSpan(ctx, "synth")
	defer span.End()

	sanitized := toolmanager.SanitizeMessages(messages)
	sanitized = append(sanitized, llm.Message{Role: llm.RoleSystem, Content: w.SynthPrompt})

	var resp *llm.Response
	err := withRetry(ctx, defaultRetry, func(ctx context.Context) error {
		var callErr error
		resp, callErr = w.Model.Complete(ctx, &llm.Request{
			ModelClass:             llm.ClassDefault,
			Messages:               sanitized,
			StructuredOutputSchema: w.SynthSchema,
		})
		return callErr
	})
	if err != nil {
		return "", fmt.Errorf("agent: %s: synth: %w", w.SpanPrefix, err)
	}
	return resp.Message.Content, nil
}

func (w workerLoop) startSpan(ctx context.Context, name string) (context.Context, telemetry.Span) {
	tracer := w.Tracer
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}
	return tracer.Start(ctx, w.SpanPrefix+"."+name)
}
