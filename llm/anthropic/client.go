// Package anthropic implements llm.Client on top of the Anthropic Claude
// Messages API via github.com/anthropics/anthropic-sdk-go. It is a condensed
// rewrite of the teacher's features/model/anthropic adapter: no image,
// document, citation, or thinking parts, and structured output is emulated
// with a single synthetic forced tool call rather than native multimodal
// content blocks.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/redis-sre/agentcore/llm"
)

// structuredOutputTool is the synthetic tool name used to force a JSON
// response matching Request.StructuredOutputSchema. Anthropic has no native
// "response_format" concept, so the adapter declares one tool, forces its
// use, and treats the tool call's arguments as the structured response.
const structuredOutputTool = "emit_structured_result"

type (
	// MessagesClient captures the subset of the Anthropic SDK client used by
	// the adapter, satisfied by *sdk.MessageService in production and a stub
	// in tests.
	MessagesClient interface {
		New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	}

	// Options configures the adapter's default model identifiers and
	// sampling parameters.
	Options struct {
		// DefaultModel is used for llm.ClassDefault and when Request.Model is
		// empty and ModelClass is unset.
		DefaultModel string

		// HighModel is used for llm.ClassHighReasoning.
		HighModel string

		// SmallModel is used for llm.ClassSmall.
		SmallModel string

		// MaxTokens is the default completion cap when a request does not
		// set MaxTokens.
		MaxTokens int

		// Temperature is used when a request does not set Temperature.
		Temperature float64
	}

	// Client implements llm.Client against the Anthropic Messages API.
	Client struct {
		msg          MessagesClient
		defaultModel string
		highModel    string
		smallModel   string
		maxTokens    int
		temperature  float64
	}
)

// New builds an Anthropic-backed llm.Client from an Anthropic Messages
// client and configuration options.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("anthropic: default model identifier is required")
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 4096
	}
	return &Client{
		msg:          msg,
		defaultModel: opts.DefaultModel,
		highModel:    opts.HighModel,
		smallModel:   opts.SmallModel,
		maxTokens:    opts.MaxTokens,
		temperature:  opts.Temperature,
	}, nil
}

// NewFromAPIKey constructs a client using the default Anthropic HTTP
// transport, using the provided API key and the model identifiers and
// defaults given in opts.
func NewFromAPIKey(apiKey string, opts Options) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, opts)
}

// Complete issues a single Messages.New request and translates the result
// back into an llm.Response.
func (c *Client) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	params, forcedStructured, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	msg, err := c.msg.New(ctx, *params)
	if err != nil {
		if errors.Is(err, llm.ErrRateLimited) {
			return nil, fmt.Errorf("%w: %w", llm.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("anthropic: messages.new: %w", err)
	}
	return translateResponse(msg, forcedStructured)
}

func (c *Client) prepareRequest(req *llm.Request) (*sdk.MessageNewParams, bool, error) {
	if len(req.Messages) == 0 {
		return nil, false, errors.New("anthropic: messages are required")
	}
	modelID := c.resolveModelID(req)
	msgs, system, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, false, err
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	params := sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
		Model:     sdk.Model(modelID),
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}
	if t := req.Temperature; t > 0 {
		params.Temperature = sdk.Float(float64(t))
	} else if c.temperature > 0 {
		params.Temperature = sdk.Float(c.temperature)
	}

	tools, err := encodeTools(req.Tools)
	if err != nil {
		return nil, false, err
	}
	forcedStructured := false
	if req.StructuredOutputSchema != nil {
		schema, err := toInputSchema(req.StructuredOutputSchema)
		if err != nil {
			return nil, false, fmt.Errorf("anthropic: structured output schema: %w", err)
		}
		structuredTool := sdk.ToolUnionParamOfTool(schema, structuredOutputTool)
		if structuredTool.OfTool != nil {
			structuredTool.OfTool.Description = sdk.String("Emit the final structured result. Always call this tool exactly once with the complete result.")
		}
		tools = append(tools, structuredTool)
		params.ToolChoice = sdk.ToolChoiceParamOfTool(structuredOutputTool)
		forcedStructured = true
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	return &params, forcedStructured, nil
}

// resolveModelID decides which concrete model identifier to use. Request.Model
// takes precedence; otherwise ModelClass maps to a configured identifier,
// falling back to DefaultModel.
func (c *Client) resolveModelID(req *llm.Request) string {
	if req.Model != "" {
		return req.Model
	}
	switch req.ModelClass {
	case llm.ClassHighReasoning:
		if c.highModel != "" {
			return c.highModel
		}
	case llm.ClassSmall:
		if c.smallModel != "" {
			return c.smallModel
		}
	}
	return c.defaultModel
}

func encodeMessages(msgs []llm.Message) ([]sdk.MessageParam, string, error) {
	conversation := make([]sdk.MessageParam, 0, len(msgs))
	var system string

	for _, m := range msgs {
		switch m.Role {
		case llm.RoleSystem:
			if m.Content != "" {
				if system != "" {
					system += "\n\n"
				}
				system += m.Content
			}
		case llm.RoleUser:
			conversation = append(conversation, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		case llm.RoleAssistant:
			blocks := make([]sdk.ContentBlockParamUnion, 0, 1+len(m.ToolCalls))
			if m.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var input any = json.RawMessage(tc.Arguments)
				blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			conversation = append(conversation, sdk.NewAssistantMessage(blocks...))
		case llm.RoleTool:
			if m.ToolCallID == "" {
				return nil, "", errors.New("anthropic: tool message missing tool_call_id")
			}
			conversation = append(conversation, sdk.NewUserMessage(
				sdk.NewToolResultBlock(m.ToolCallID, m.Content, false),
			))
		default:
			return nil, "", fmt.Errorf("anthropic: unsupported message role %q", m.Role)
		}
	}
	if len(conversation) == 0 {
		return nil, "", errors.New("anthropic: at least one user/assistant message is required")
	}
	return conversation, system, nil
}

func encodeTools(defs []llm.ToolDefinition) ([]sdk.ToolUnionParam, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	out := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		if def.Name == "" {
			return nil, errors.New("anthropic: tool missing name")
		}
		if def.Description == "" {
			return nil, fmt.Errorf("anthropic: tool %q is missing description", def.Name)
		}
		schema, err := toInputSchema(def.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("anthropic: tool %q schema: %w", def.Name, err)
		}
		u := sdk.ToolUnionParamOfTool(schema, def.Name)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(def.Description)
		}
		out = append(out, u)
	}
	return out, nil
}

func toInputSchema(schema any) (sdk.ToolInputSchemaParam, error) {
	if schema == nil {
		return sdk.ToolInputSchemaParam{}, nil
	}
	var raw json.RawMessage
	switch v := schema.(type) {
	case json.RawMessage:
		raw = v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return sdk.ToolInputSchemaParam{}, err
		}
		raw = data
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return sdk.ToolInputSchemaParam{}, err
	}
	return sdk.ToolInputSchemaParam{ExtraFields: m}, nil
}

func translateResponse(msg *sdk.Message, forcedStructured bool) (*llm.Response, error) {
	if msg == nil {
		return nil, errors.New("anthropic: response message is nil")
	}
	out := llm.Message{Role: llm.RoleAssistant}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			out.Content += block.Text
		case "tool_use":
			if forcedStructured && block.Name == structuredOutputTool {
				out.Content = string(block.Input)
				continue
			}
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: json.RawMessage(block.Input),
			})
		}
	}
	resp := &llm.Response{
		Message:    out,
		StopReason: string(msg.StopReason),
	}
	if u := msg.Usage; u.InputTokens != 0 || u.OutputTokens != 0 {
		resp.Usage = llm.TokenUsage{
			InputTokens:  int(u.InputTokens),
			OutputTokens: int(u.OutputTokens),
			TotalTokens:  int(u.InputTokens + u.OutputTokens),
		}
	}
	return resp, nil
}
