package agent

import (
	"context"
	"fmt"

	"github.com/redis-sre/agentcore/knowledge"
	"github.com/redis-sre/agentcore/toolmanager"
	"golang.org/x/sync/errgroup"
)

// maxConcurrentRecommenders bounds the per-topic recommendation
// worker fan-out (spec.md §4.5 step 4, "parallel, bounded fan-out").
const maxConcurrentRecommenders = 4

// Result is the engine's final output for a single turn.
type Result struct {
	// Response is the final markdown assistant message, after reduce and
	// the gated correction pass.
	Response string

	// EditsApplied lists what the corrector changed, empty when the
	// corrector was skipped or found nothing to edit.
	EditsApplied []string

	// Problems is every diagnosed problem whose recommendation worker
	// succeeded, in severity order. Problems whose worker failed are not
	// listed here.
	Problems []ProblemSpec

	// Citations is every knowledge-base source retrieved during the
	// Plan stage's tool loop, in retrieval order (spec.md §4.9).
	Citations []knowledge.Citation
}

// Run executes the full engine for one turn: Route, Plan, Diagnose,
// bounded-parallel per-topic Recommend, Reduce, gated Correct, Synth
// (spec.md §4.5). An out-of-scope message short-circuits before Plan
// and the corrector never runs.
func Run(ctx context.Context, deps Deps, state *State, userMessage string) (Result, error) {
	// Route fails open: on a classification error it still reports InScope,
	// and the turn continues into Plan.
	scope, _ := Route(ctx, deps.Model, userMessage)
	if scope == OutOfScope {
		return Result{Response: userMessage}, nil
	}

	if err := Plan(ctx, deps, state); err != nil {
		return Result{}, fmt.Errorf("agent: run: %w", err)
	}

	draft, _ := lastAssistant(state.Messages)

	problems, err := Diagnose(ctx, deps.Model, state.SignalsEnvelopes)
	if err != nil {
		return Result{}, fmt.Errorf("agent: run: %w", err)
	}
	if len(problems) == 0 {
		// No diagnosed problems still means a response went out; the
		// corrector gates on the draft's own content, not on whether any
		// problem was found, so it must run here too (spec.md §4.5 step 6).
		correction, err := Correct(ctx, deps.Model, deps.KnowledgeTools, deps.Tracer, draft.Content, state.InstanceContext)
		if err != nil {
			return Result{}, fmt.Errorf("agent: run: %w", err)
		}
		return Result{Response: correction.EditedResponse, EditsApplied: correction.EditsApplied, Citations: state.Citations}, nil
	}

	results, leftover := recommendAll(ctx, deps, problems, state.SignalsEnvelopes, state.InstanceContext)
	plan := Reduce(results, leftover)
	synthesized := Synth(draft.Content, plan)

	correction, err := Correct(ctx, deps.Model, deps.KnowledgeTools, deps.Tracer, synthesized, state.InstanceContext)
	if err != nil {
		return Result{}, fmt.Errorf("agent: run: %w", err)
	}

	return Result{
		Response:     correction.EditedResponse,
		EditsApplied: correction.EditsApplied,
		Problems:     plan.problemsInOrder(),
		Citations:    state.Citations,
	}, nil
}

// recommendAll fans the diagnosed problems out to bounded-concurrent
// recommendation workers. A worker's own failure demotes its problem to
// leftover rather than failing the whole turn, since one bad topic
// should never block the rest of the plan.
func recommendAll(ctx context.Context, deps Deps, problems []ProblemSpec, envelopes []toolmanager.ResultEnvelope, instance InstanceFacts) ([]ProblemResult, []ProblemSpec) {
	results := make([]ProblemResult, len(problems))
	failed := make([]bool, len(problems))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentRecommenders)

	for i, problem := range problems {
		i, problem := i, problem
		g.Go(func() error {
			topic := topicFromProblem(problem)
			scoped := envelopesByKeys(envelopes, problem.EvidenceKeys)
			rec, err := Recommend(gctx, deps.Model, deps.KnowledgeTools, deps.Tracer, topic, scoped, instance)
			if err != nil {
				failed[i] = true
				return nil
			}
			results[i] = ProblemResult{
				Problem:        problem,
				Recommendation: rec,
				Summary:        rec.Title,
				Actions:        actionsFromRecommendation(problem, rec),
			}
			return nil
		})
	}
	_ = g.Wait()

	kept := make([]ProblemResult, 0, len(problems))
	leftover := make([]ProblemSpec, 0)
	for i, problem := range problems {
		if failed[i] {
			leftover = append(leftover, problem)
			continue
		}
		kept = append(kept, results[i])
	}
	return kept, leftover
}

// actionsFromRecommendation flattens a Recommendation's steps into
// reduce-stage Actions, keyed by the problem scope and step description
// since the worker's structured output has no separate verb/args pair.
// Args carries the step's own commands/API examples, the only fields that
// should discriminate one action from another. It never carries the topic
// id, which is unique per problem by construction and would defeat
// dedupeActions's (target, verb, args) key across topics (spec.md step 5).
func actionsFromRecommendation(problem ProblemSpec, rec Recommendation) []Action {
	actions := make([]Action, 0, len(rec.Steps))
	for _, step := range rec.Steps {
		args := map[string]any{}
		if len(step.Commands) > 0 {
			args["commands"] = step.Commands
		}
		if len(step.APIExamples) > 0 {
			args["api_examples"] = step.APIExamples
		}
		actions = append(actions, Action{
			Target: problem.Scope,
			Verb:   step.Description,
			Args:   args,
			Step:   step,
		})
	}
	return actions
}

func (p ReducedPlan) problemsInOrder() []ProblemSpec {
	out := make([]ProblemSpec, 0, len(p.ProblemsSorted))
	for _, r := range p.ProblemsSorted {
		out = append(out, r.Problem)
	}
	return out
}
