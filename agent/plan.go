package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis-sre/agentcore/knowledge"
	"github.com/redis-sre/agentcore/llm"
	"github.com/redis-sre/agentcore/toolmanager"
)

// knowledgeSearchToolKey names the tool Plan watches for to surface
// live citation attribution (spec.md §4.9's knowledge_sources event).
const knowledgeSearchToolKey = "knowledge.kb.search"

// Plan runs the main tool-use loop: invoke the model bound to the
// ToolManager's tools, execute any requested tools, append their results
// as ToolMessages plus ResultEnvelopes to state.SignalsEnvelopes, and
// repeat until no tool is requested or state.MaxIterations is spent
// (spec.md §4.5 step 2). Every model call is preceded by the sanitizer
// invariant (spec.md §4.4).
func Plan(ctx context.Context, deps Deps, state *State) error {
	for {
		sanitized := toolmanager.SanitizeMessages(state.Messages)

		var resp *llm.Response
		err := withRetry(ctx, defaultRetry, func(ctx context.Context) error {
			var callErr error
			resp, callErr = deps.Model.Complete(ctx, &llm.Request{
				ModelClass: llm.ClassDefault,
				Messages:   withSystemPrompt(sanitized),
				Tools:      deps.Tools.ToolDefinitions(),
			})
			return callErr
		})
		if err != nil {
			return fmt.Errorf("agent: plan: %w", err)
		}

		state.Messages = append(sanitized, resp.Message)

		if len(resp.Message.ToolCalls) == 0 || state.IterationCount >= state.MaxIterations {
			return nil
		}

		for _, call := range resp.Message.ToolCalls {
			var args map[string]any
			_ = json.Unmarshal(call.Arguments, &args)

			if deps.Emitter != nil {
				deps.Emitter.Emit(ctx, fmt.Sprintf("calling %s", call.Name), "tool_call", map[string]any{"tool": call.Name, "args": args})
			}

			env := deps.Tools.Resolve(ctx, call.Name, args)
			state.SignalsEnvelopes = append(state.SignalsEnvelopes, env)

			if call.Name == knowledgeSearchToolKey && env.Status == "success" {
				hits := citationsFromSearchResult(env.Data)
				if len(hits) > 0 {
					state.Citations = append(state.Citations, hits...)
					if deps.Emitter != nil {
						deps.Emitter.Emit(ctx, "retrieved knowledge sources", "knowledge_sources", knowledge.KnowledgeSourcesPayload(hits))
					}
				}
			}

			raw, _ := json.Marshal(env.Data)
			state.Messages = append(state.Messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    string(raw),
				ToolCallID: call.ID,
				Name:       call.Name,
			})
		}
		state.IterationCount++
	}
}

// citationsFromSearchResult converts a knowledge.kb.search tool's raw
// result data into Citations, mirroring knowledge.CitationFromChunk but
// working from the tool's generic map shape rather than a knowledge.Chunk
// (the tool result crosses the toolmanager.Definition boundary as
// map[string]any, not a typed struct). Accepts results as either
// []map[string]any (a handler's direct, uncached return value) or []any
// holding map[string]any/map[string]interface{} (what survives a
// toolmanager.Cache round trip through encoding/json on a cache hit), so
// citations surface identically whether or not the search was cached.
func citationsFromSearchResult(data map[string]any) []knowledge.Citation {
	rows := resultRows(data["results"])
	out := make([]knowledge.Citation, 0, len(rows))
	for _, row := range rows {
		content, _ := row["content"].(string)
		preview := content
		if len(preview) > knowledge.PreviewLength {
			preview = preview[:knowledge.PreviewLength]
		}
		score, _ := row["score"].(float64)
		documentHash, _ := row["document_hash"].(string)
		title, _ := row["title"].(string)
		source, _ := row["source"].(string)
		out = append(out, knowledge.Citation{
			DocumentHash:   documentHash,
			Title:          title,
			Source:         source,
			ContentPreview: preview,
			Score:          score,
		})
	}
	return out
}

// resultRows normalizes a tool result's "results" value into rows,
// accepting both the shape a handler returns directly ([]map[string]any)
// and the shape it decodes into after a JSON round trip through the
// toolmanager cache ([]any of map[string]interface{}).
func resultRows(v any) []map[string]any {
	switch rows := v.(type) {
	case []map[string]any:
		return rows
	case []any:
		out := make([]map[string]any, 0, len(rows))
		for _, r := range rows {
			if row, ok := r.(map[string]any); ok {
				out = append(out, row)
			}
		}
		return out
	default:
		return nil
	}
}

// withSystemPrompt ensures the transcript carries the SRE system prompt
// as its leading message, without duplicating it on repeated Plan
// iterations.
func withSystemPrompt(msgs []llm.Message) []llm.Message {
	if len(msgs) > 0 && msgs[0].Role == llm.RoleSystem {
		return msgs
	}
	out := make([]llm.Message, 0, len(msgs)+1)
	out = append(out, llm.Message{Role: llm.RoleSystem, Content: SystemPrompt})
	out = append(out, msgs...)
	return out
}

// summarizeSignals renders a compact, bounded summary of the collected
// ResultEnvelopes for the diagnose prompt. Ported from
// helpers.py::summarize_signals: each value truncated, dict values
// JSON-rendered and truncated, at most maxItems lines with a truncation
// marker past that.
func summarizeSignals(envelopes []toolmanager.ResultEnvelope, maxItems int) string {
	if len(envelopes) == 0 {
		return "- No tool signals captured"
	}
	const valueTruncate = 500
	const dictTruncate = 1200

	lines := make([]string, 0, maxItems+1)
	for i, env := range envelopes {
		if i >= maxItems {
			lines = append(lines, "- … (truncated)")
			break
		}
		if len(env.Data) > 0 {
			raw, _ := json.Marshal(env.Data)
			snippet := string(raw)
			if len(snippet) > dictTruncate {
				snippet = snippet[:dictTruncate]
			}
			lines = append(lines, fmt.Sprintf("- %s: %s", env.ToolKey, snippet))
			continue
		}
		value := fmt.Sprintf("%v", env.Status)
		if len(value) > valueTruncate {
			value = value[:valueTruncate]
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", env.ToolKey, value))
	}
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}
