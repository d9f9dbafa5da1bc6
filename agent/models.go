package agent

// Citation is the recommendation worker's in-output citation shape:
// a plain source label plus a short supporting snippet. Deliberately
// simpler than knowledge.Citation (which carries document hash/chunk
// index for the knowledge_sources progress event and Q&A records) —
// ported from models.py::Citation, the structured-output shape the LLM
// itself produces inline in a Recommendation.
type Citation struct {
	Source  string `json:"source"`
	Snippet string `json:"snippet,omitempty"`
}

// Topic is a per-problem unit of work handed to a recommendation worker:
// a ProblemSpec enriched with a narrative describing what was found.
// Ported from models.py::Topic.
type Topic struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Category     string   `json:"category"`
	Severity     string   `json:"severity"`
	Scope        string   `json:"scope"`
	Narrative    string   `json:"narrative"`
	EvidenceKeys []string `json:"evidence_keys"`
}

// topicFromProblem promotes a diagnosed ProblemSpec into a Topic for the
// recommendation stage.
func topicFromProblem(p ProblemSpec) Topic {
	return Topic{
		ID:           p.ID,
		Title:        p.Title,
		Category:     p.Category,
		Severity:     p.Severity,
		Scope:        p.Scope,
		Narrative:    p.Title,
		EvidenceKeys: p.EvidenceKeys,
	}
}

// RecommendationStep is one actionable step within a Recommendation.
// Ported from models.py::RecommendationStep.
type RecommendationStep struct {
	Description string     `json:"description"`
	Commands    []string   `json:"commands,omitempty"`
	APIExamples []string   `json:"api_examples,omitempty"`
	Citations   []Citation `json:"citations,omitempty"`
}

// Recommendation is a per-topic structured-output result from the
// recommendation worker. Ported from models.py::Recommendation.
type Recommendation struct {
	TopicID      string               `json:"topic_id"`
	Title        string               `json:"title,omitempty"`
	Steps        []RecommendationStep `json:"steps,omitempty"`
	Risks        []string             `json:"risks,omitempty"`
	Verification []string             `json:"verification,omitempty"`
}

// recommendationSchema is the JSON Schema the Anthropic adapter forces
// the recommendation synth call to emit.
var recommendationSchema = map[string]any{
	"type": "object",
	"required": []any{"topic_id", "steps"},
	"properties": map[string]any{
		"topic_id": map[string]any{"type": "string"},
		"title":    map[string]any{"type": "string"},
		"steps": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []any{"description"},
				"properties": map[string]any{
					"description":  map[string]any{"type": "string"},
					"commands":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"api_examples": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"citations": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"source":  map[string]any{"type": "string"},
								"snippet": map[string]any{"type": "string"},
							},
						},
					},
				},
			},
		},
		"risks":        map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"verification": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
	},
}

// CorrectionResult is the Safety/Fact Corrector's structured-output
// result: the edited response plus a short list of edits applied.
// Ported from the synth prompt's stated contract in
// subgraphs/safety_fact_corrector.py (CorrectionResult itself lives
// outside the filtered original_source; shape inferred from the synth
// prompt's "Return the edited text and a short list of edits applied").
type CorrectionResult struct {
	EditedResponse string   `json:"edited_response"`
	EditsApplied   []string `json:"edits_applied"`
}

var correctionResultSchema = map[string]any{
	"type":     "object",
	"required": []any{"edited_response", "edits_applied"},
	"properties": map[string]any{
		"edited_response": map[string]any{"type": "string"},
		"edits_applied":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
	},
}
