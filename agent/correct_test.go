package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNeedsCorrectionDetectsConfigSet(t *testing.T) {
	require.True(t, needsCorrection("run CONFIG SET maxmemory 100mb", nil))
}

func TestNeedsCorrectionDetectsInternalToolNameLeak(t *testing.T) {
	require.True(t, needsCorrection("call redis_cli_exec to check this", nil))
}

func TestNeedsCorrectionFalseOnCleanDraft(t *testing.T) {
	require.False(t, needsCorrection("use rladmin status to check shard placement", nil))
}

func TestNeedsCorrectionEmptyDraftNeverGates(t *testing.T) {
	require.False(t, needsCorrection("", InstanceFacts{"instance_type": "redis_enterprise"}))
}

func TestCorrectSkipsWhenNoGatingPatterns(t *testing.T) {
	client := &fakeClient{}
	result, err := Correct(context.Background(), client, nil, nil, "use rladmin status", nil)
	require.NoError(t, err)
	require.Equal(t, "use rladmin status", result.EditedResponse)
	require.Empty(t, result.EditsApplied)
	require.Equal(t, 0, client.calls)
}

func TestCorrectReturnsDraftWhenNoEditsApplied(t *testing.T) {
	client := &fakeClient{responses: []fakeTurn{
		{content: "looked it over"},
		{content: `{"edited_response":"","edits_applied":[]}`},
	}}
	result, err := Correct(context.Background(), client, nil, nil, "run CONFIG SET maxmemory 1gb", nil)
	require.NoError(t, err)
	require.Equal(t, "run CONFIG SET maxmemory 1gb", result.EditedResponse)
	require.Empty(t, result.EditsApplied)
}

func TestCorrectAppliesEditWhenReturned(t *testing.T) {
	client := &fakeClient{responses: []fakeTurn{
		{content: "looked it over"},
		{content: `{"edited_response":"use rladmin tune instead","edits_applied":["removed unsafe step"]}`},
	}}
	result, err := Correct(context.Background(), client, nil, nil, "run CONFIG SET maxmemory 1gb", nil)
	require.NoError(t, err)
	require.Equal(t, "use rladmin tune instead", result.EditedResponse)
	require.Equal(t, []string{"removed unsafe step"}, result.EditsApplied)
}
