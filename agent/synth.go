package agent

import (
	"fmt"
	"strings"
)

// Synth renders the final markdown assistant response from a reduced
// plan (spec.md §4.5 step 7). When plan has no problems, assistantDraft
// (the Plan stage's own final message) is returned unchanged.
func Synth(assistantDraft string, plan ReducedPlan) string {
	if len(plan.ProblemsSorted) == 0 {
		return assistantDraft
	}

	var b strings.Builder

	if len(plan.InitialAssessmentLines) > 0 {
		b.WriteString("## Initial assessment\n")
		b.WriteString(strings.Join(plan.InitialAssessmentLines, "\n"))
		b.WriteString("\n\n")
	}

	b.WriteString("## What I'm seeing\n")
	b.WriteString(strings.Join(plan.WhatImSeeingLines, "\n"))
	b.WriteString("\n\n")

	for _, res := range plan.ProblemsSorted {
		title := res.Problem.Title
		if title == "" {
			title = res.Problem.ID
		}
		b.WriteString(fmt.Sprintf("### %s\n", title))
		for _, step := range res.Recommendation.Steps {
			b.WriteString(fmt.Sprintf("- %s\n", step.Description))
			for _, cmd := range step.Commands {
				b.WriteString(fmt.Sprintf("  - `%s`\n", cmd))
			}
			for _, ex := range step.APIExamples {
				b.WriteString(fmt.Sprintf("  - `%s`\n", ex))
			}
			for _, c := range step.Citations {
				if c.Snippet != "" {
					b.WriteString(fmt.Sprintf("  - Source: %s — %s\n", c.Source, c.Snippet))
				} else {
					b.WriteString(fmt.Sprintf("  - Source: %s\n", c.Source))
				}
			}
		}
		if len(res.Recommendation.Risks) > 0 {
			b.WriteString("  - Risks: " + strings.Join(res.Recommendation.Risks, "; ") + "\n")
		}
		if len(res.Recommendation.Verification) > 0 {
			b.WriteString("  - Verify: " + strings.Join(res.Recommendation.Verification, "; ") + "\n")
		}
		b.WriteString("\n")
	}

	if len(plan.SkippedLines) > 0 {
		b.WriteString("## Not addressed this pass\n")
		b.WriteString(strings.Join(plan.SkippedLines, "\n"))
		b.WriteString("\n")
	}

	return strings.TrimRight(b.String(), "\n") + "\n"
}
