package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis-sre/agentcore/llm"
	"github.com/redis-sre/agentcore/telemetry"
	"github.com/redis-sre/agentcore/toolmanager"
)

// recommendMaxToolSteps bounds each per-topic worker's knowledge-search
// budget (subgraphs/recommendation_worker.py::max_tool_steps default 3).
const recommendMaxToolSteps = 3

// Recommend runs one per-topic recommendation worker: a short
// knowledge-search loop scoped to the topic's own evidence, followed by
// a forced-schema synth call (spec.md §4.5 step 4). Safe to run
// concurrently for distinct topics; each call gets its own workerLoop
// state.
func Recommend(ctx context.Context, model llm.Client, tools *toolmanager.Manager, tracer telemetry.Tracer, topic Topic, evidence []toolmanager.ResultEnvelope, instance InstanceFacts) (Recommendation, error) {
	topicJSON, _ := json.Marshal(topic)
	evidenceJSON, _ := json.Marshal(evidence)
	instanceJSON, _ := json.Marshal(instance)

	loop := workerLoop{
		Model:       model,
		Tools:       tools,
		Tracer:      tracer,
		SpanPrefix:  "recommend",
		Budget:      recommendMaxToolSteps,
		SynthPrompt: recommendationSystemPrompt,
		SynthSchema: recommendationSchema,
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: recommendationSystemPrompt},
		{Role: llm.RoleUser, Content: fmt.Sprintf(
			"Topic (JSON):\n%s\n\nInstance Facts (JSON):\n%s\n\nEvidence (JSON):\n%s",
			topicJSON, instanceJSON, evidenceJSON,
		)},
	}

	raw, err := loop.run(ctx, messages)
	if err != nil {
		return Recommendation{}, err
	}

	var rec Recommendation
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		rec = Recommendation{
			TopicID: topic.ID,
			Title:   topic.Title,
			Steps: []RecommendationStep{
				{Description: "Investigate further; the recommendation worker could not produce a structured plan for this topic."},
			},
		}
	}
	// The topic id always reflects the input topic, never a model-provided
	// value (ported from recommendation_worker.py's synth_node override).
	rec.TopicID = topic.ID
	return rec, nil
}
