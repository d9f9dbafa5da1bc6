package agent

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/redis-sre/agentcore/llm"
	"github.com/redis-sre/agentcore/telemetry"
	"github.com/redis-sre/agentcore/toolmanager"
)

// correctorMaxToolSteps bounds the corrector's tool budget (spec.md §4.5
// step 6, "bounded tool budget (default 2)").
const correctorMaxToolSteps = 2

// gatingPatterns are the risk signals that trigger the Safety/Fact
// Corrector; designed directly from spec.md §4.5 step 6's own examples
// ("recommends CONFIG SET on hosted variants, fabricated commands, URLs
// needing validation, or an rladmin block needs dedup/check") since no
// equivalent detector exists in the filtered original source.
var gatingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)CONFIG\s+SET`),
	regexp.MustCompile(`(?i)rladmin\s+tune`),
	regexp.MustCompile(`https?://\S+`),
	regexp.MustCompile(`(?i)re_admin_\w+|redis_cli_\w+|loki_\w+|prometheus_\w+`),
}

// hostedInstanceTypes marks instance_type values where a CONFIG SET
// style suggestion is categorically unsafe (managed/hosted deployments
// forbid direct config writes).
var hostedInstanceTypes = map[string]bool{
	"redis_enterprise": true,
	"redis_cloud":      true,
}

// needsCorrection reports whether draft contains a gating pattern,
// deciding whether the corrector runs at all (spec.md §4.5 step 6: "If
// gating patterns are absent, the corrector is skipped entirely").
func needsCorrection(draft string, instance InstanceFacts) bool {
	if strings.TrimSpace(draft) == "" {
		return false
	}
	for _, pat := range gatingPatterns {
		if pat.MatchString(draft) {
			return true
		}
	}
	if instanceType, _ := instance["instance_type"].(string); hostedInstanceTypes[instanceType] {
		if regexp.MustCompile(`(?i)CONFIG\s`).MatchString(draft) {
			return true
		}
	}
	return false
}

// Correct runs the Safety/Fact Corrector subgraph when needsCorrection
// reports a risk pattern; otherwise returns draft unchanged with no
// edits applied (spec.md §4.5 step 6). The corrector is edit-only: it
// may only use its bounded tool budget and structured-output synthesis
// to replace the response text, never to add new topics.
func Correct(ctx context.Context, model llm.Client, tools *toolmanager.Manager, tracer telemetry.Tracer, draft string, instance InstanceFacts) (CorrectionResult, error) {
	if !needsCorrection(draft, instance) {
		return CorrectionResult{EditedResponse: draft}, nil
	}

	instanceJSON, _ := json.Marshal(instance)
	loop := workerLoop{
		Model:       model,
		Tools:       tools,
		Tracer:      tracer,
		SpanPrefix:  "correct",
		Budget:      correctorMaxToolSteps,
		SynthPrompt: correctorSystemPrompt,
		SynthSchema: correctionResultSchema,
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: correctorSystemPrompt},
		{Role: llm.RoleUser, Content: "Original response to correct (verbatim):\n" + draft +
			"\n\nInstance facts (JSON):\n" + string(instanceJSON)},
	}

	raw, err := loop.run(ctx, messages)
	if err != nil {
		return CorrectionResult{}, err
	}

	var result CorrectionResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil || strings.TrimSpace(result.EditedResponse) == "" {
		// Parsing failed or the model returned nothing usable; the
		// corrector is advisory only, so fall back to the draft unedited
		// rather than fail the whole turn.
		return CorrectionResult{EditedResponse: draft}, nil
	}
	if len(result.EditsApplied) == 0 {
		result.EditedResponse = draft
	}
	return result, nil
}
