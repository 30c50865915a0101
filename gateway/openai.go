package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	openAIBaseURL   = "https://api.openai.com/v1"
	deepSeekBaseURL = "https://api.deepseek.com"
)

// OpenAIProvider talks to the OpenAI chat completions API, or any API that
// speaks the same wire format (DeepSeek).
type OpenAIProvider struct {
	client openai.Client
	name   string
	model  string

	// flattenTools rewrites tool traffic as plain assistant text for backends
	// that reject the tool role.
	flattenTools bool
}

// OpenAIOption configures an OpenAIProvider.
type OpenAIOption func(*openAIConfig)

type openAIConfig struct {
	name         string
	httpClient   *http.Client
	flattenTools bool
}

// WithProviderName overrides the name reported by the provider.
func WithProviderName(name string) OpenAIOption {
	return func(c *openAIConfig) {
		c.name = name
	}
}

// WithHTTPClient sets the HTTP client used for API calls.
func WithHTTPClient(hc *http.Client) OpenAIOption {
	return func(c *openAIConfig) {
		c.httpClient = hc
	}
}

// WithFlattenedToolMessages sends tool calls and tool results as assistant text.
func WithFlattenedToolMessages() OpenAIOption {
	return func(c *openAIConfig) {
		c.flattenTools = true
	}
}

// NewOpenAIProvider creates an OpenAI provider. Retries are left to the
// gateway client's retry middleware.
func NewOpenAIProvider(baseURL, apiKey, model string, opts ...OpenAIOption) (*OpenAIProvider, error) {
	cfg := &openAIConfig{name: "openai"}
	for _, opt := range opts {
		opt(cfg)
	}
	if baseURL == "" {
		baseURL = openAIBaseURL
	}
	if apiKey == "" {
		return nil, &ConfigurationError{SDKError: SDKError{Message: cfg.name + " API key is required"}}
	}
	if model == "" {
		model = DefaultModel(cfg.name)
	}

	clientOpts := []option.RequestOption{
		option.WithBaseURL(baseURL),
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.httpClient != nil {
		clientOpts = append(clientOpts, option.WithHTTPClient(cfg.httpClient))
	}

	return &OpenAIProvider{
		client:       openai.NewClient(clientOpts...),
		name:         cfg.name,
		model:        model,
		flattenTools: cfg.flattenTools,
	}, nil
}

// NewDeepSeekProvider creates a provider for the DeepSeek API, which is
// OpenAI compatible but does not accept tool-role messages.
func NewDeepSeekProvider(baseURL, apiKey, model string, opts ...OpenAIOption) (*OpenAIProvider, error) {
	if baseURL == "" {
		baseURL = deepSeekBaseURL
	}
	opts = append([]OpenAIOption{WithProviderName("deepseek"), WithFlattenedToolMessages()}, opts...)
	return NewOpenAIProvider(baseURL, apiKey, model, opts...)
}

func (p *OpenAIProvider) Name() string { return p.name }

func (p *OpenAIProvider) SupportsNativeTools() bool { return true }

// Complete sends a chat completion request.
func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	params := p.buildParams(req)

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, p.translateError(err)
	}
	if len(completion.Choices) == 0 {
		return nil, &ProviderError{
			SDKError: SDKError{Message: "response contained no choices"},
			Provider: p.name,
		}
	}

	choice := completion.Choices[0]
	resp := &Response{
		ID:           completion.ID,
		Model:        completion.Model,
		Provider:     p.name,
		Content:      choice.Message.Content,
		FinishReason: normalizeFinishReason(choice.FinishReason),
		Usage: Usage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:  int(completion.Usage.TotalTokens),
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: ParseArguments(tc.Function.Arguments),
		})
	}
	if resp.ID == "" {
		resp.ID = "resp_" + uuid.New().String()[:8]
	}
	return resp, nil
}

// Stream sends a streaming chat completion request.
func (p *OpenAIProvider) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	params := p.buildParams(req)
	stream := p.client.Chat.Completions.NewStreaming(ctx, params)

	ch := make(chan StreamEvent, 64)
	go func() {
		defer close(ch)
		defer stream.Close()

		ch <- StreamEvent{Type: StreamStart}

		acc := openai.ChatCompletionAccumulator{}
		for stream.Next() {
			chunk := stream.Current()
			acc.AddChunk(chunk)

			if tool, ok := acc.JustFinishedToolCall(); ok {
				ch <- StreamEvent{Type: ToolCallEnd, ToolCall: &ToolCall{
					ID:        tool.ID,
					Name:      tool.Name,
					Arguments: ParseArguments(tool.Arguments),
				}}
			}
			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
				ch <- StreamEvent{Type: TextDelta, Delta: chunk.Choices[0].Delta.Content}
			}
		}
		if err := stream.Err(); err != nil {
			ch <- StreamEvent{Type: StreamError, Error: p.translateError(err)}
			return
		}

		finish := FinishStop
		if len(acc.Choices) > 0 {
			finish = normalizeFinishReason(acc.Choices[0].FinishReason)
		}
		ch <- StreamEvent{
			Type:         StreamFinish,
			FinishReason: finish,
			Usage: &Usage{
				InputTokens:  int(acc.Usage.PromptTokens),
				OutputTokens: int(acc.Usage.CompletionTokens),
				TotalTokens:  int(acc.Usage.TotalTokens),
			},
		}
	}()
	return ch, nil
}

func (p *OpenAIProvider) buildParams(req Request) openai.ChatCompletionNewParams {
	model := req.Model
	if model == "" {
		model = p.model
	}
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: p.convertMessages(req.Messages),
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.MaxTokens != nil {
		params.MaxTokens = openai.Int(int64(*req.MaxTokens))
	}
	if len(req.Tools) > 0 {
		params.Tools = convertOpenAITools(req.Tools)
	}
	return params
}

func (p *OpenAIProvider) convertMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			result = append(result, openai.SystemMessage(msg.Content))
		case RoleUser:
			result = append(result, openai.UserMessage(msg.Content))
		case RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				result = append(result, openai.AssistantMessage(msg.Content))
				continue
			}
			if p.flattenTools {
				result = append(result, openai.AssistantMessage(describeToolCalls(msg)))
				continue
			}
			assistant := openai.ChatCompletionAssistantMessageParam{}
			if msg.Content != "" {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
					OfString: openai.String(msg.Content),
				}
			}
			for _, tc := range msg.ToolCalls {
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: tc.ID,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      tc.Name,
							Arguments: tc.ArgumentsJSON(),
						},
					},
				})
			}
			result = append(result, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case RoleTool:
			if p.flattenTools {
				result = append(result, openai.AssistantMessage(fmt.Sprintf("Tool result (%s): %s", msg.ToolCallID, msg.Content)))
				continue
			}
			result = append(result, openai.ToolMessage(msg.Content, msg.ToolCallID))
		default:
			result = append(result, openai.UserMessage(msg.Content))
		}
	}
	return result
}

// describeToolCalls renders an assistant turn's tool calls as text.
func describeToolCalls(msg Message) string {
	var sb strings.Builder
	sb.WriteString(msg.Content)
	sb.WriteString("\n\nTool calls made:\n")
	for _, tc := range msg.ToolCalls {
		fmt.Fprintf(&sb, "- %s: %s\n", tc.Name, tc.ArgumentsJSON())
	}
	return sb.String()
}

func convertOpenAITools(defs []ToolDefinition) []openai.ChatCompletionToolUnionParam {
	result := make([]openai.ChatCompletionToolUnionParam, len(defs))
	for i, def := range defs {
		params := openai.FunctionParameters{}
		for k, v := range schemaOrEmpty(def.Parameters) {
			params[k] = v
		}
		result[i] = openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        def.Name,
			Description: openai.String(def.Description),
			Parameters:  params,
		})
	}
	return result
}

// schemaOrEmpty returns a JSON Schema object, defaulting to an empty object schema.
func schemaOrEmpty(schema map[string]any) map[string]any {
	if len(schema) == 0 {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return schema
}

func normalizeFinishReason(raw string) string {
	switch raw {
	case "stop", "end_turn", "stop_sequence", "":
		return FinishStop
	case "length", "max_tokens":
		return FinishLength
	case "tool_calls", "tool_use", "function_call":
		return FinishToolCalls
	case "content_filter", "refusal":
		return FinishContentFilter
	default:
		return FinishOther
	}
}

func (p *OpenAIProvider) translateError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return ErrorFromStatusCode(apiErr.StatusCode, apiErr.Message, p.name, apiErr.Code, err)
	}
	return translateTransportError(p.name, err)
}

// translateTransportError classifies errors that never reached an HTTP status.
func translateTransportError(provider string, err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return &AbortError{SDKError: SDKError{Message: "request cancelled", Cause: err}}
	case errors.Is(err, context.DeadlineExceeded):
		return &RequestTimeoutError{SDKError: SDKError{Message: "request timed out", Cause: err}}
	default:
		return &NetworkError{SDKError: SDKError{Message: provider + " request failed", Cause: err}}
	}
}
