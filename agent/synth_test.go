package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSynthReturnsDraftWhenNoProblems(t *testing.T) {
	got := Synth("just an answer", ReducedPlan{})
	require.Equal(t, "just an answer", got)
}

func TestSynthRendersProblemSectionsAndCitations(t *testing.T) {
	plan := Reduce([]ProblemResult{
		{
			Problem: ProblemSpec{ID: "p1", Title: "Memory pressure", Severity: "high"},
			Recommendation: Recommendation{
				TopicID: "p1",
				Steps: []RecommendationStep{
					{
						Description: "Increase maxmemory headroom",
						Commands:    []string{"rladmin status"},
						Citations:   []Citation{{Source: "kb://memory", Snippet: "headroom guidance"}},
					},
				},
				Risks: []string{"brief unavailability during failover"},
			},
		},
	}, nil)

	out := Synth("draft", plan)
	require.Contains(t, out, "### Memory pressure")
	require.Contains(t, out, "Increase maxmemory headroom")
	require.Contains(t, out, "`rladmin status`")
	require.Contains(t, out, "kb://memory")
	require.Contains(t, out, "Risks: brief unavailability during failover")
	require.True(t, strings.HasSuffix(out, "\n"))
}
