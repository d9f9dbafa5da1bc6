package agent

import (
	"context"
	"testing"

	"github.com/redis-sre/agentcore/toolmanager"
	"github.com/stretchr/testify/require"
)

func TestDiagnoseReturnsNilWithoutEvidence(t *testing.T) {
	problems, err := Diagnose(context.Background(), &fakeClient{}, nil)
	require.NoError(t, err)
	require.Nil(t, problems)
}

func TestDiagnoseParsesAndNormalizesProblems(t *testing.T) {
	client := &fakeClient{responses: []fakeTurn{{content: "```json\n" +
		`[{"id":"p1","category":"MemoryPressure","title":"High memory","severity":"HIGH","evidence_keys":["redis_cli.info"]},` +
		`{"id":"p2","category":"bogus","severity":"noise"}]` +
		"\n```"}}}

	envelopes := []toolmanager.ResultEnvelope{{ToolKey: "redis_cli.info", Status: "success"}}
	problems, err := Diagnose(context.Background(), client, envelopes)
	require.NoError(t, err)
	require.Len(t, problems, 2)

	require.Equal(t, "p1", problems[0].ID)
	require.Equal(t, "MemoryPressure", problems[0].Category)
	require.Equal(t, "high", problems[0].Severity)
	require.Equal(t, []string{"redis_cli.info"}, problems[0].EvidenceKeys)

	require.Equal(t, "Other", problems[1].Category)
	require.Equal(t, "medium", problems[1].Severity)
	require.Equal(t, "cluster", problems[1].Scope)
}

func TestDiagnoseDropsRowsMissingID(t *testing.T) {
	client := &fakeClient{responses: []fakeTurn{{content: `[{"category":"Other"}]`}}}
	envelopes := []toolmanager.ResultEnvelope{{ToolKey: "x"}}
	problems, err := Diagnose(context.Background(), client, envelopes)
	require.NoError(t, err)
	require.Empty(t, problems)
}

func TestDiagnoseFailsSoftOnUnparseableResponse(t *testing.T) {
	client := &fakeClient{responses: []fakeTurn{{content: "not json at all"}}}
	envelopes := []toolmanager.ResultEnvelope{{ToolKey: "x"}}
	problems, err := Diagnose(context.Background(), client, envelopes)
	require.NoError(t, err)
	require.Empty(t, problems)
}

func TestNormalizeProblemCoercesBooleanEvidenceKeys(t *testing.T) {
	spec, ok := normalizeProblem(map[string]any{
		"id":            "p1",
		"evidence_keys": []any{"redis_cli.info", true, false},
	})
	require.True(t, ok)
	require.Equal(t, []string{"redis_cli.info", "True", "False"}, spec.EvidenceKeys)
}

func TestEnvelopesByKeysFiltersAndPreservesOrder(t *testing.T) {
	envelopes := []toolmanager.ResultEnvelope{
		{ToolKey: "a"}, {ToolKey: "b"}, {ToolKey: "c"},
	}
	got := envelopesByKeys(envelopes, []string{"c", "a"})
	require.Equal(t, []toolmanager.ResultEnvelope{{ToolKey: "a"}, {ToolKey: "c"}}, got)
}

func TestEnvelopesByKeysEmptyKeysReturnsAll(t *testing.T) {
	envelopes := []toolmanager.ResultEnvelope{{ToolKey: "a"}}
	require.Equal(t, envelopes, envelopesByKeys(envelopes, nil))
}
