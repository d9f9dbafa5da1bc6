package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis-sre/agentcore/llm"
	"github.com/redis-sre/agentcore/toolmanager"
)

// ProblemSpec is one distinct problem area the diagnose stage identified.
// Ported from subgraphs/diagnose.py::ProblemSpec.
type ProblemSpec struct {
	ID            string   `json:"id"`
	Category      string   `json:"category"`
	Title         string   `json:"title"`
	Severity      string   `json:"severity"`
	Scope         string   `json:"scope"`
	EvidenceKeys  []string `json:"evidence_keys"`
}

// allowedCategories is the closed set diagnose normalizes Category into;
// anything else becomes "Other" (subgraphs/diagnose.py::ALLOWED_CATEGORIES).
var allowedCategories = map[string]bool{
	"NodeInMaintenanceMode": true,
	"ReplicationMismatch":   true,
	"MemoryPressure":        true,
	"Performance":           true,
	"Configuration":         true,
	"Other":                 true,
}

// allowedSeverity is the closed set diagnose normalizes Severity into.
var allowedSeverity = map[string]bool{
	"critical": true, "high": true, "medium": true, "low": true,
}

// maxDiagnoseSignalItems bounds how many signal lines the diagnose
// prompt includes (helpers.py::summarize_signals default).
const maxDiagnoseSignalItems = 8

// problemSpecSchema is the JSON Schema the Anthropic adapter forces the
// diagnose call to emit: a bare array of ProblemSpec rows.
var problemSpecSchema = map[string]any{
	"type": "array",
	"items": map[string]any{
		"type":     "object",
		"required": []any{"id"},
		"properties": map[string]any{
			"id":            map[string]any{"type": "string"},
			"category":      map[string]any{"type": "string"},
			"title":         map[string]any{"type": "string"},
			"severity":      map[string]any{"type": "string"},
			"scope":         map[string]any{"type": "string"},
			"evidence_keys": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
	},
}

// Diagnose summarizes the collected signals and asks the high-reasoning
// model for a strict JSON array of problems, then parses and normalizes
// the result (spec.md §4.5 step 3). Only runs when envelopes is
// non-empty; an empty envelope set yields no problems, and Run then
// passes the Plan-stage assistant message straight to the gated Correct.
func Diagnose(ctx context.Context, model llm.Client, envelopes []toolmanager.ResultEnvelope) ([]ProblemSpec, error) {
	if len(envelopes) == 0 {
		return nil, nil
	}
	summary := summarizeSignals(envelopes, maxDiagnoseSignalItems)

	var resp *llm.Response
	err := withRetry(ctx, defaultRetry, func(ctx context.Context) error {
		var callErr error
		resp, callErr = model.Complete(ctx, &llm.Request{
			ModelClass: llm.ClassHighReasoning,
			Messages: []llm.Message{
				{Role: llm.RoleSystem, Content: diagnosePrompt(summary)},
			},
			StructuredOutputSchema: problemSpecSchema,
		})
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("agent: diagnose: %w", err)
	}
	return parseProblems(resp.Message.Content), nil
}

// parseProblems parses a JSON array of ProblemSpec from raw LLM text,
// tolerating a fenced code block, and normalizing each row. Returns an
// empty slice on any parse failure rather than an error, matching
// diagnose.py::parse_problems's fail-soft behavior (a malformed
// diagnosis degrades to "no distinct problems found", not a workflow
// error).
func parseProblems(text string) []ProblemSpec {
	raw := parseJSONMaybeFenced(text)
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]ProblemSpec, 0, len(items))
	for _, item := range items {
		row, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if spec, ok := normalizeProblem(row); ok {
			out = append(out, spec)
		}
	}
	return out
}

// normalizeProblem applies diagnose.py::_normalize_problem's rules:
// category into the closed set else "Other", severity into the closed
// set else "medium", scope default "cluster", evidence keys coerced to
// strings, missing id drops the row.
func normalizeProblem(row map[string]any) (ProblemSpec, bool) {
	id := strings.TrimSpace(stringOrEmpty(row["id"]))
	if id == "" {
		return ProblemSpec{}, false
	}
	category := strings.TrimSpace(stringOrDefault(row["category"], "Other"))
	if !allowedCategories[category] {
		category = "Other"
	}
	title := strings.TrimSpace(stringOrDefault(row["title"], category))
	if title == "" {
		title = "Issue"
	}
	severity := strings.ToLower(strings.TrimSpace(stringOrDefault(row["severity"], "medium")))
	if !allowedSeverity[severity] {
		severity = "medium"
	}
	scope := strings.TrimSpace(stringOrDefault(row["scope"], "cluster"))
	if scope == "" {
		scope = "cluster"
	}

	var keys []string
	if raw, ok := row["evidence_keys"].([]any); ok {
		for _, k := range raw {
			switch v := k.(type) {
			case string:
				keys = append(keys, v)
			case float64:
				keys = append(keys, strconv.FormatFloat(v, 'f', -1, 64))
			case bool:
				// Python's isinstance(True, int) is true, so the original
				// keeps booleans through its str(int)-style coercion,
				// landing on "True"/"False" rather than Go's lowercase form.
				if v {
					keys = append(keys, "True")
				} else {
					keys = append(keys, "False")
				}
			}
		}
	}

	return ProblemSpec{ID: id, Category: category, Title: title, Severity: severity, Scope: scope, EvidenceKeys: keys}, true
}

func stringOrEmpty(v any) string {
	s, _ := v.(string)
	return s
}

func stringOrDefault(v any, def string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return def
}

// parseJSONMaybeFenced parses JSON text that may be wrapped in a
// markdown code fence (``` or ```json), ported from
// helpers.py::parse_json_maybe_fenced. Returns nil on failure.
func parseJSONMaybeFenced(text string) any {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.Trim(s, "` \n")
		if strings.HasPrefix(strings.ToLower(s), "json\n") {
			s = s[len("json\n"):]
		}
	}
	var out any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

// envelopesByKeys returns the subset of envelopes whose ToolKey appears
// in keys, preserving envelope order. Used to scope evidence handed to
// each recommendation worker to the problem's own evidence_keys (spec.md
// §4.5 step 4).
func envelopesByKeys(envelopes []toolmanager.ResultEnvelope, keys []string) []toolmanager.ResultEnvelope {
	if len(keys) == 0 {
		return envelopes
	}
	wanted := make(map[string]bool, len(keys))
	for _, k := range keys {
		wanted[k] = true
	}
	out := make([]toolmanager.ResultEnvelope, 0, len(envelopes))
	for _, env := range envelopes {
		if wanted[env.ToolKey] {
			out = append(out, env)
		}
	}
	return out
}
