package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	anthropicBaseURL = "https://api.anthropic.com"

	// The Messages API requires max_tokens on every request.
	anthropicDefaultMaxTokens = 4096
)

// AnthropicProvider talks to the Anthropic Messages API.
type AnthropicProvider struct {
	client anthropic.Client
	model  string
}

// NewAnthropicProvider creates an Anthropic provider.
func NewAnthropicProvider(baseURL, apiKey, model string, httpClient *http.Client) (*AnthropicProvider, error) {
	if baseURL == "" {
		baseURL = anthropicBaseURL
	}
	if apiKey == "" {
		return nil, &ConfigurationError{SDKError: SDKError{Message: "anthropic API key is required"}}
	}
	if model == "" {
		model = DefaultModel("anthropic")
	}
	opts := []option.RequestOption{
		option.WithBaseURL(baseURL),
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &AnthropicProvider{
		client: anthropic.NewClient(opts...),
		model:  model,
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) SupportsNativeTools() bool { return true }

// Complete sends a Messages API request.
func (p *AnthropicProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	msg, err := p.client.Messages.New(ctx, p.buildParams(req))
	if err != nil {
		return nil, p.translateError(err)
	}
	return p.buildResponse(msg), nil
}

// Stream sends a streaming Messages API request.
func (p *AnthropicProvider) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	stream := p.client.Messages.NewStreaming(ctx, p.buildParams(req))

	ch := make(chan StreamEvent, 64)
	go func() {
		defer close(ch)
		defer stream.Close()

		ch <- StreamEvent{Type: StreamStart}

		msg := anthropic.Message{}
		for stream.Next() {
			event := stream.Current()
			if err := msg.Accumulate(event); err != nil {
				ch <- StreamEvent{Type: StreamError, Error: &StreamErrorType{SDKError: SDKError{Message: "accumulating message", Cause: err}}}
				return
			}
			switch ev := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok {
					ch <- StreamEvent{Type: TextDelta, Delta: delta.Text}
				}
			}
		}
		if err := stream.Err(); err != nil {
			ch <- StreamEvent{Type: StreamError, Error: p.translateError(err)}
			return
		}

		resp := p.buildResponse(&msg)
		for i := range resp.ToolCalls {
			ch <- StreamEvent{Type: ToolCallEnd, ToolCall: &resp.ToolCalls[i]}
		}
		ch <- StreamEvent{
			Type:         StreamFinish,
			FinishReason: resp.FinishReason,
			Usage:        &resp.Usage,
			Response:     resp,
		}
	}()
	return ch, nil
}

func (p *AnthropicProvider) buildParams(req Request) anthropic.MessageNewParams {
	model := req.Model
	if model == "" {
		model = p.model
	}
	maxTokens := int64(anthropicDefaultMaxTokens)
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		maxTokens = int64(*req.MaxTokens)
	}

	messages, system := convertAnthropicMessages(req.Messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	if len(system) > 0 {
		params.System = system
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if len(req.Tools) > 0 {
		params.Tools = convertAnthropicTools(req.Tools)
	}
	return params
}

// convertAnthropicMessages splits system text out of the message list and
// maps tool traffic onto tool_use and tool_result blocks. Consecutive tool
// results are merged into a single user turn.
func convertAnthropicMessages(messages []Message) ([]anthropic.MessageParam, []anthropic.TextBlockParam) {
	var system []anthropic.TextBlockParam
	result := make([]anthropic.MessageParam, 0, len(messages))

	var pendingResults []anthropic.ContentBlockParamUnion
	flush := func() {
		if len(pendingResults) > 0 {
			result = append(result, anthropic.NewUserMessage(pendingResults...))
			pendingResults = nil
		}
	}

	for _, msg := range messages {
		if msg.Role == RoleTool {
			isError := strings.HasPrefix(msg.Content, "Error")
			pendingResults = append(pendingResults, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, isError))
			continue
		}
		flush()

		switch msg.Role {
		case RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: msg.Content})
		case RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				args := tc.Arguments
				if args == nil {
					args = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, args, tc.Name))
			}
			if len(blocks) == 0 {
				blocks = append(blocks, anthropic.NewTextBlock(""))
			}
			result = append(result, anthropic.NewAssistantMessage(blocks...))
		default:
			result = append(result, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	flush()
	return result, system
}

func convertAnthropicTools(defs []ToolDefinition) []anthropic.ToolUnionParam {
	result := make([]anthropic.ToolUnionParam, len(defs))
	for i, def := range defs {
		schema := schemaOrEmpty(def.Parameters)
		input := anthropic.ToolInputSchemaParam{
			Properties: schema["properties"],
		}
		if required := stringSlice(schema["required"]); len(required) > 0 {
			input.Required = required
		}
		result[i] = anthropic.ToolUnionParamOfTool(input, def.Name)
		if def.Description != "" {
			result[i].OfTool.Description = anthropic.String(def.Description)
		}
	}
	return result
}

func stringSlice(v any) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

func (p *AnthropicProvider) buildResponse(msg *anthropic.Message) *Response {
	resp := &Response{
		ID:           msg.ID,
		Model:        string(msg.Model),
		Provider:     p.Name(),
		FinishReason: normalizeFinishReason(string(msg.StopReason)),
		Usage: Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
			TotalTokens:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}

	var text strings.Builder
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(b.Text)
		case anthropic.ToolUseBlock:
			args := map[string]any{}
			if len(b.Input) > 0 {
				if err := json.Unmarshal(b.Input, &args); err != nil || args == nil {
					args = map[string]any{}
				}
			}
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{ID: b.ID, Name: b.Name, Arguments: args})
		}
	}
	resp.Content = text.String()
	return resp
}

func (p *AnthropicProvider) translateError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return ErrorFromStatusCode(apiErr.StatusCode, apiErr.Error(), p.Name(), "", err)
	}
	return translateTransportError(p.Name(), err)
}
