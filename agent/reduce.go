package agent

import (
	"fmt"
	"sort"
	"strings"
)

// severityOrder ranks severities for sorting, unknown values sort last.
// Ported from subgraphs/reduce.py::_SEVERITY_ORDER.
var severityOrder = map[string]int{
	"critical": 0,
	"high":     1,
	"medium":   2,
	"low":      3,
	"info":     4,
}

func severityRank(severity string) int {
	if rank, ok := severityOrder[strings.ToLower(severity)]; ok {
		return rank
	}
	return 999
}

// Action is one actionable step surfaced by a problem's recommendation,
// flattened out of its RecommendationStep for reduce-stage deduping.
// Ported from subgraphs/reduce.py's loose {target, verb, args} shape.
type Action struct {
	Target string
	Verb   string
	Args   map[string]any
	Step   RecommendationStep
}

// ProblemResult pairs a diagnosed problem with its recommendation and
// research summary, the reduce stage's per-problem input unit.
type ProblemResult struct {
	Problem        ProblemSpec
	Recommendation Recommendation
	Summary        string
	Actions        []Action
}

// ReducedPlan is the reduce stage's output: a merged, deduplicated,
// severity-sorted plan plus the narrative summary line sections synth
// assembles the final response from.
type ReducedPlan struct {
	MergedActions           []Action
	ProblemsSorted          []ProblemResult
	SkippedLines            []string
	InitialAssessmentLines  []string
	WhatImSeeingLines       []string
}

// actionKey is the hashable dedup key: target, verb, and args as a
// sorted tuple, mirroring subgraphs/reduce.py::_normalize_action.
func actionKey(a Action) string {
	keys := make([]string, 0, len(a.Args))
	for k := range a.Args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(a.Target)
	b.WriteByte('\x00')
	b.WriteString(a.Verb)
	for _, k := range keys {
		fmt.Fprintf(&b, "\x00%s=%v", k, a.Args[k])
	}
	return b.String()
}

// dedupeActions merges actions across every problem's recommendation,
// keeping the first occurrence of each (target, verb, args) key.
func dedupeActions(results []ProblemResult) []Action {
	seen := make(map[string]bool)
	merged := make([]Action, 0)
	for _, res := range results {
		for _, action := range res.Actions {
			key := actionKey(action)
			if seen[key] {
				continue
			}
			seen[key] = true
			merged = append(merged, action)
		}
	}
	return merged
}

// Reduce merges per-topic recommendations into one actionable plan:
// dedup actions, sort problems by severity, and build the summary-line
// sections synth needs (spec.md §4.5 step 5). leftover holds problems
// that were diagnosed but have no recommendation (Run passes the
// problems whose recommendation worker failed), surfaced as skipped
// lines rather than silently dropped.
func Reduce(results []ProblemResult, leftover []ProblemSpec) ReducedPlan {
	sorted := make([]ProblemResult, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool {
		return severityRank(sorted[i].Problem.Severity) < severityRank(sorted[j].Problem.Severity)
	})

	skipped := make([]string, 0, len(leftover))
	for _, p := range leftover {
		title := p.Title
		if title == "" {
			title = p.ID
		}
		sev := p.Severity
		if sev == "" {
			sev = "unknown"
		}
		skipped = append(skipped, fmt.Sprintf("- %s (severity: %s)", title, sev))
	}

	initial := make([]string, 0, len(sorted))
	seeing := make([]string, 0, len(sorted))
	for _, r := range sorted {
		title := r.Problem.Title
		if title == "" {
			title = r.Problem.ID
		}
		sev := r.Problem.Severity
		if sev == "" {
			sev = "unknown"
		}
		initial = append(initial, fmt.Sprintf("- %s (severity: %s)", title, sev))

		summary := strings.TrimSpace(r.Summary)
		if summary != "" {
			seeing = append(seeing, fmt.Sprintf("- %s: %s", title, summary))
		} else {
			seeing = append(seeing, fmt.Sprintf("- %s: (no summary)", title))
		}
	}

	return ReducedPlan{
		MergedActions:          dedupeActions(sorted),
		ProblemsSorted:         sorted,
		SkippedLines:           skipped,
		InitialAssessmentLines: initial,
		WhatImSeeingLines:      seeing,
	}
}
