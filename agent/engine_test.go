package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/redis-sre/agentcore/llm"
)

// TestRunOutOfScopeEchoesUserMessage covers spec.md §8 scenario 1: an
// out-of-scope message short-circuits before Plan, with no corrector
// pass and the final response equal to the user's own message verbatim.
func TestRunOutOfScopeEchoesUserMessage(t *testing.T) {
	client := &fakeClient{responses: []fakeTurn{
		{content: "out_of_scope"},
	}}
	state := NewState([]llm.Message{{Role: llm.RoleUser, Content: "hello world"}}, "s1", "u1", nil)

	result, err := Run(context.Background(), Deps{Model: client}, state, "hello world")
	require.NoError(t, err)
	require.Equal(t, "hello world", result.Response)
	require.Empty(t, result.EditsApplied)
	require.Equal(t, 1, client.calls)
}

// TestRunSkipsCorrectorWhenDraftHasNoGatedPattern covers the no-problems
// path returning the Plan draft verbatim, since it contains nothing the
// corrector gates on.
func TestRunSkipsCorrectorWhenDraftHasNoGatedPattern(t *testing.T) {
	client := &fakeClient{responses: []fakeTurn{
		{content: "in_scope"},
		{content: "Everything looks healthy."},
	}}
	tools, err := newNoopToolManager()
	require.NoError(t, err)
	state := NewState([]llm.Message{{Role: llm.RoleUser, Content: "is my instance healthy?"}}, "s1", "u1", nil)

	result, err := Run(context.Background(), Deps{Model: client, Tools: tools, KnowledgeTools: tools}, state, "is my instance healthy?")
	require.NoError(t, err)
	require.Equal(t, "Everything looks healthy.", result.Response)
	require.Empty(t, result.EditsApplied)
	require.Equal(t, 2, client.calls)
}

// TestRunCorrectsRiskyConfigSetEvenWithoutDiagnosedProblems covers
// spec.md §8 scenario 3: a draft recommending CONFIG SET on a hosted
// instance must go through the corrector and come back edited, even when
// Diagnose found no distinct problems (Plan made no tool calls).
func TestRunCorrectsRiskyConfigSetEvenWithoutDiagnosedProblems(t *testing.T) {
	client := &fakeClient{responses: []fakeTurn{
		{content: "in_scope"},
		{content: "Try running CONFIG SET maxmemory 100mb to free up space."},
		{content: "no further research needed"},
		{content: `{"edited_response":"Open a support ticket to adjust maxmemory; this is a hosted instance.","edits_applied":["removed unsafe CONFIG SET step"]}`},
	}}
	tools, err := newNoopToolManager()
	require.NoError(t, err)
	state := NewState(
		[]llm.Message{{Role: llm.RoleUser, Content: "how do I free up memory?"}},
		"s1", "u1", InstanceFacts{"instance_type": "redis_enterprise"},
	)

	result, err := Run(context.Background(), Deps{Model: client, Tools: tools, KnowledgeTools: tools}, state, "how do I free up memory?")
	require.NoError(t, err)
	require.NotContains(t, result.Response, "CONFIG SET")
	require.Equal(t, []string{"removed unsafe CONFIG SET step"}, result.EditsApplied)
}

// TestActionsFromRecommendationDedupesAcrossTopics covers spec.md line 117
// step 5 and the worked example at line 230: two different problems whose
// recommendations happen to prescribe the identical step must collapse to
// one merged action, which requires actionsFromRecommendation to never key
// Args on anything unique-per-topic (e.g. the topic id itself).
func TestActionsFromRecommendationDedupesAcrossTopics(t *testing.T) {
	step := RecommendationStep{Description: "restart the proxy", Commands: []string{"systemctl restart proxy"}}
	actionsT1 := actionsFromRecommendation(ProblemSpec{ID: "t1", Scope: "cluster"}, Recommendation{TopicID: "t1", Steps: []RecommendationStep{step}})
	actionsT2 := actionsFromRecommendation(ProblemSpec{ID: "t2", Scope: "cluster"}, Recommendation{TopicID: "t2", Steps: []RecommendationStep{step}})

	merged := dedupeActions([]ProblemResult{{Actions: actionsT1}, {Actions: actionsT2}})
	require.Len(t, merged, 1)
}

// TestRunMultiTopicDiagnoseProducesSortedRecommendations covers spec.md
// §8 scenario 4's shape: two diagnosed topics each run their own
// recommendation worker, and the reduced plan carries both in severity
// order.
func TestRunMultiTopicDiagnoseProducesSortedRecommendations(t *testing.T) {
	client := &fakeClient{responses: []fakeTurn{
		{content: "in_scope"},
		{
			content: "checking signals",
			toolCalls: []llm.ToolCall{
				{ID: "call-1", Name: "redis.admin.info", Arguments: []byte(`{}`)},
			},
		},
		{content: "Investigating further."},
		{content: `[
			{"id":"t1","category":"Other","title":"Connectivity issue","severity":"high","scope":"db","evidence_keys":[]},
			{"id":"t2","category":"Performance","title":"Slow queries","severity":"critical","scope":"db","evidence_keys":[]}
		]`},
		{content: "researching t1"},
		{content: `{"topic_id":"t1","title":"Connectivity issue","steps":[{"description":"restart the proxy"}]}`},
		{content: "researching t2"},
		{content: `{"topic_id":"t2","title":"Slow queries","steps":[{"description":"tune maxmemory-policy"}]}`},
	}}
	tools, err := newNoopToolManager()
	require.NoError(t, err)

	state := NewState([]llm.Message{{Role: llm.RoleUser, Content: "investigate my cluster"}}, "s1", "u1", nil)
	deps := Deps{Model: client, Tools: tools, KnowledgeTools: tools}

	result, err := Run(context.Background(), deps, state, "investigate my cluster")
	require.NoError(t, err)
	require.Len(t, result.Problems, 2)
	require.Equal(t, "t2", result.Problems[0].ID)
	require.Equal(t, "t1", result.Problems[1].ID)
}
