// Package llm defines the provider-agnostic model-client contract used by
// every reasoning stage in this module: Thread Store's subject generator,
// the router, diagnose, per-topic recommendation workers, the safety
// corrector, and synthesis. It condenses the teacher's multimodal
// runtime/agent/model.Client contract down to the text-plus-tool-call shape
// this domain actually needs — no images, documents, or citations parts,
// since those concerns live in the knowledge package instead.
package llm

import (
	"context"
	"encoding/json"
	"errors"
)

// Role identifies the speaker of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ModelClass selects a model family without naming a concrete provider
// identifier. Adapters map classes to provider model IDs.
type ModelClass string

const (
	// ClassDefault is used for synthesis and general reasoning.
	ClassDefault ModelClass = "default"

	// ClassHighReasoning is used for diagnose, where stricter JSON
	// adherence and deeper reasoning pay off. The safety corrector runs on
	// ClassDefault.
	ClassHighReasoning ModelClass = "high-reasoning"

	// ClassSmall is used for router classification and subject generation,
	// where latency and cost matter more than depth.
	ClassSmall ModelClass = "small"
)

type (
	// ToolCall is a tool invocation requested by the model.
	ToolCall struct {
		// ID is the provider-issued identifier correlating this call to its
		// eventual ToolResult message.
		ID string

		// Name is the tool identifier as declared in Request.Tools.
		Name string

		// Arguments is the canonical JSON arguments payload supplied by the
		// model. Callers validate and decode it against the tool's schema.
		Arguments json.RawMessage
	}

	// Message is a single turn in a conversation transcript.
	Message struct {
		// Role identifies the speaker for this message.
		Role Role

		// Content is the plain-text content of the message. For assistant
		// messages that only request tool calls, Content may be empty.
		Content string

		// ToolCalls lists tool invocations requested by the assistant. Only
		// meaningful when Role is RoleAssistant.
		ToolCalls []ToolCall

		// ToolCallID correlates a RoleTool message back to the ToolCall.ID
		// that produced it. Required when Role is RoleTool.
		ToolCallID string

		// Name optionally identifies the tool a RoleTool message answers,
		// for providers/log lines that want a human-readable label.
		Name string
	}

	// ToolDefinition describes a tool exposed to the model for a single
	// request.
	ToolDefinition struct {
		// Name is the tool identifier as seen by the model.
		Name string

		// Description explains when the model should call this tool.
		Description string

		// InputSchema is a JSON Schema object describing valid arguments.
		InputSchema any
	}

	// TokenUsage reports token accounting for a single Complete call.
	TokenUsage struct {
		InputTokens  int
		OutputTokens int
		TotalTokens  int
	}

	// Request captures the inputs to a single model invocation.
	Request struct {
		// Model is a provider-specific model identifier. When empty, the
		// adapter resolves ModelClass to one of its configured identifiers.
		Model string

		// ModelClass selects a model family when Model is empty.
		ModelClass ModelClass

		// Messages is the ordered transcript, including any system message.
		Messages []Message

		// Tools lists the tool definitions available to the model. Nil or
		// empty disables tool use for the request.
		Tools []ToolDefinition

		// Temperature controls sampling randomness.
		Temperature float32

		// MaxTokens caps output tokens for the call.
		MaxTokens int

		// StructuredOutputSchema, when non-nil, asks the adapter to force the
		// model to respond with JSON matching this schema (used by diagnose's
		// ProblemSpec array and the corrector's CorrectionResult). Not every
		// adapter implements structured output directly; the Anthropic
		// adapter emulates it with a single synthetic tool plus ToolChoice.
		StructuredOutputSchema any
	}

	// Response is the result of a single Complete call.
	Response struct {
		// Message is the assistant message produced by the model, including
		// any requested tool calls.
		Message Message

		// Usage reports token consumption for the call.
		Usage TokenUsage

		// StopReason records why generation stopped (provider-specific:
		// "end_turn", "tool_use", "max_tokens", ...).
		StopReason string
	}

	// Client is the provider-agnostic model client every reasoning stage
	// depends on. Implementations translate Requests into provider calls
	// and adapt provider responses back into Response.
	Client interface {
		// Complete performs a single non-streaming model invocation.
		Complete(ctx context.Context, req *Request) (*Response, error)
	}
)

// ErrRateLimited indicates the provider rejected the request due to rate
// limiting after exhausting any adapter-internal retries. Callers treat
// this as a transient infrastructure failure (spec.md §7) rather than
// retrying in a tight loop themselves.
var ErrRateLimited = errors.New("llm: rate limited")

// ErrStructuredOutputUnsupported indicates the adapter cannot honor
// Request.StructuredOutputSchema.
var ErrStructuredOutputUnsupported = errors.New("llm: structured output not supported")
