package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis-sre/agentcore/llm"
)

// Scope is the Route stage's classification of a user message.
type Scope string

const (
	InScope    Scope = "in_scope"
	OutOfScope Scope = "out_of_scope"
)

// Route classifies the most recent user message into InScope or
// OutOfScope using the small model class (spec.md §4.5 step 1). Falls
// back to InScope on any classification failure, since an unnecessary
// Plan pass is cheaper than silently dropping a real question.
func Route(ctx context.Context, model llm.Client, userMessage string) (Scope, error) {
	resp, err := model.Complete(ctx, &llm.Request{
		ModelClass: llm.ClassSmall,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: RoutePrompt},
			{Role: llm.RoleUser, Content: userMessage},
		},
		MaxTokens: 8,
	})
	if err != nil {
		return InScope, fmt.Errorf("agent: route: %w", err)
	}
	if strings.Contains(strings.ToLower(resp.Message.Content), string(OutOfScope)) {
		return OutOfScope, nil
	}
	return InScope, nil
}
