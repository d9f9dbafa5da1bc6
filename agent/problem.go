package agent

import (
	"context"

	"github.com/redis-sre/agentcore/llm"
	"github.com/redis-sre/agentcore/telemetry"
	"github.com/redis-sre/agentcore/toolmanager"
)

// problemWorkerMaxToolSteps bounds the problem worker's knowledge-only
// loop (subgraphs/problem_worker.py::max_tool_steps default 3).
const problemWorkerMaxToolSteps = 3

// ProblemPlan is the problem worker's loosely-typed result: a parsed
// plan dict when the final message parsed as JSON, always carrying the
// full narrative so callers can fall back to it directly. Ported from
// subgraphs/problem_worker.py::synth_node.
type ProblemPlan struct {
	Summary   string
	Narrative string
	Raw       map[string]any
}

// ResearchProblem runs the optional internal first pass: a knowledge-only
// tool loop that researches a single problem area before topics are
// handed to the recommendation workers (spec.md §4.6, "internal,
// optional first pass"). It never returns an error for a malformed
// final message; a parse failure degrades to {summary:
// "planning_failed", raw: <content>} the same way diagnose degrades on
// a malformed ProblemSpec array.
func ResearchProblem(ctx context.Context, model llm.Client, knowledgeTools *toolmanager.Manager, tracer telemetry.Tracer, prompt string) (ProblemPlan, error) {
	loop := workerLoop{
		Model:      model,
		Tools:      knowledgeTools,
		Tracer:     tracer,
		SpanPrefix: "problem",
		Budget:     problemWorkerMaxToolSteps,
		// The problem worker's synth step has no forced schema: it prefers
		// natural-language output and tolerantly parses JSON only if present.
		SynthPrompt: "Summarize your findings for this problem area in plain language. If useful, include a short JSON object with a \"summary\" field.",
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: SystemPrompt},
		{Role: llm.RoleUser, Content: prompt},
	}

	raw, err := loop.run(ctx, messages)
	if err != nil {
		return ProblemPlan{}, err
	}
	return parseProblemPlan(raw), nil
}

// parseProblemPlan mirrors synth_node's tolerant-JSON-with-narrative-
// fallback behavior.
func parseProblemPlan(content string) ProblemPlan {
	plan := ProblemPlan{Narrative: content}
	parsed := parseJSONMaybeFenced(content)
	if m, ok := parsed.(map[string]any); ok {
		plan.Raw = m
		if s, ok := m["summary"].(string); ok && s != "" {
			plan.Summary = s
		}
	} else {
		plan.Raw = map[string]any{"summary": "planning_failed", "raw": content}
	}
	if plan.Summary == "" {
		plan.Summary = truncate(content, 1000)
	}
	return plan
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
