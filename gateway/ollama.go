package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/ollama/ollama/api"
)

const ollamaBaseURL = "http://localhost:11434"

// OllamaProvider talks to a local Ollama server.
type OllamaProvider struct {
	client *api.Client
	model  string
}

// NewOllamaProvider creates an Ollama provider.
func NewOllamaProvider(baseURL, model string, httpClient *http.Client) (*OllamaProvider, error) {
	if baseURL == "" {
		baseURL = ollamaBaseURL
	}
	if model == "" {
		model = DefaultModel("ollama")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, &ConfigurationError{SDKError: SDKError{Message: "invalid Ollama URL", Cause: err}}
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OllamaProvider{
		client: api.NewClient(parsed, httpClient),
		model:  model,
	}, nil
}

func (p *OllamaProvider) Name() string { return "ollama" }

// ListModels returns the models installed on the Ollama server.
func (p *OllamaProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	resp, err := p.client.List(ctx)
	if err != nil {
		return nil, p.translateError(err)
	}
	models := make([]ModelInfo, 0, len(resp.Models))
	for _, m := range resp.Models {
		models = append(models, ModelInfo{
			ID:            m.Name,
			Provider:      "ollama",
			DisplayName:   m.Name,
			SupportsTools: ModelSupportsToolCalling(m.Name),
		})
	}
	return models, nil
}

// SupportsNativeTools reports whether the configured model accepts tool
// definitions. Models without support answer in text and rely on recovery.
func (p *OllamaProvider) SupportsNativeTools() bool {
	return ModelSupportsToolCalling(p.model)
}

// Complete sends a non-streaming chat request.
func (p *OllamaProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	chatReq := p.buildRequest(req, false)

	var final api.ChatResponse
	var content strings.Builder
	var calls []api.ToolCall
	err := p.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		calls = append(calls, resp.Message.ToolCalls...)
		if resp.Done {
			final = resp
		}
		return nil
	})
	if err != nil {
		return nil, p.translateError(err)
	}

	out := &Response{
		ID:           "resp_" + uuid.New().String()[:8],
		Model:        chatReq.Model,
		Provider:     p.Name(),
		Content:      content.String(),
		ToolCalls:    convertOllamaToolCalls(calls),
		FinishReason: normalizeFinishReason(final.DoneReason),
		Usage: Usage{
			InputTokens:  final.PromptEvalCount,
			OutputTokens: final.EvalCount,
			TotalTokens:  final.PromptEvalCount + final.EvalCount,
		},
	}
	if len(out.ToolCalls) > 0 {
		out.FinishReason = FinishToolCalls
	}
	return out, nil
}

// Stream sends a streaming chat request.
func (p *OllamaProvider) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	chatReq := p.buildRequest(req, true)

	ch := make(chan StreamEvent, 64)
	go func() {
		defer close(ch)
		ch <- StreamEvent{Type: StreamStart}

		var final api.ChatResponse
		var sawCalls bool
		err := p.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
			if resp.Message.Content != "" {
				ch <- StreamEvent{Type: TextDelta, Delta: resp.Message.Content}
			}
			for _, tc := range convertOllamaToolCalls(resp.Message.ToolCalls) {
				ch <- StreamEvent{Type: ToolCallEnd, ToolCall: &tc}
				sawCalls = true
			}
			if resp.Done {
				final = resp
			}
			return nil
		})
		if err != nil {
			ch <- StreamEvent{Type: StreamError, Error: p.translateError(err)}
			return
		}

		finish := normalizeFinishReason(final.DoneReason)
		if sawCalls {
			finish = FinishToolCalls
		}
		ch <- StreamEvent{
			Type:         StreamFinish,
			FinishReason: finish,
			Usage: &Usage{
				InputTokens:  final.PromptEvalCount,
				OutputTokens: final.EvalCount,
				TotalTokens:  final.PromptEvalCount + final.EvalCount,
			},
		}
	}()
	return ch, nil
}

func (p *OllamaProvider) buildRequest(req Request, stream bool) *api.ChatRequest {
	model := req.Model
	if model == "" {
		model = p.model
	}
	options := map[string]any{}
	if req.Temperature != nil {
		options["temperature"] = *req.Temperature
	}
	if req.MaxTokens != nil {
		options["num_predict"] = *req.MaxTokens
	}

	chatReq := &api.ChatRequest{
		Model:    model,
		Messages: convertOllamaMessages(req.Messages),
		Stream:   &stream,
		Options:  options,
	}
	if len(req.Tools) > 0 && ModelSupportsToolCalling(model) {
		chatReq.Tools = convertOllamaTools(req.Tools)
	}
	return chatReq
}

func convertOllamaMessages(messages []Message) []api.Message {
	result := make([]api.Message, 0, len(messages))
	for _, msg := range messages {
		m := api.Message{Role: string(msg.Role), Content: msg.Content}
		for _, tc := range msg.ToolCalls {
			m.ToolCalls = append(m.ToolCalls, api.ToolCall{
				Function: api.ToolCallFunction{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		result = append(result, m)
	}
	return result
}

func convertOllamaToolCalls(calls []api.ToolCall) []ToolCall {
	if len(calls) == 0 {
		return nil
	}
	result := make([]ToolCall, len(calls))
	for i, call := range calls {
		args := map[string]any(call.Function.Arguments)
		if args == nil {
			args = map[string]any{}
		}
		result[i] = ToolCall{
			ID:        "call_" + uuid.New().String()[:8],
			Name:      call.Function.Name,
			Arguments: args,
		}
	}
	return result
}

func convertOllamaTools(defs []ToolDefinition) []api.Tool {
	tools := make([]api.Tool, 0, len(defs))
	for _, def := range defs {
		schema := schemaOrEmpty(def.Parameters)
		params := api.ToolFunctionParameters{
			Type:       "object",
			Required:   stringSlice(schema["required"]),
			Properties: make(map[string]api.ToolProperty),
		}
		if props, ok := schema["properties"].(map[string]any); ok {
			for name, prop := range props {
				params.Properties[name] = convertOllamaProperty(prop)
			}
		}
		tools = append(tools, api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  params,
			},
		})
	}
	return tools
}

func convertOllamaProperty(value any) api.ToolProperty {
	prop := api.ToolProperty{}

	propMap, ok := value.(map[string]any)
	if !ok {
		b, err := json.Marshal(value)
		if err != nil {
			return prop
		}
		if err := json.Unmarshal(b, &propMap); err != nil {
			return prop
		}
	}

	switch t := propMap["type"].(type) {
	case string:
		prop.Type = api.PropertyType{t}
	case []string:
		prop.Type = api.PropertyType(t)
	case []any:
		prop.Type = api.PropertyType(stringSlice(t))
	}
	if desc, ok := propMap["description"].(string); ok {
		prop.Description = desc
	}
	if enum, ok := propMap["enum"].([]any); ok {
		prop.Enum = enum
	}
	if items, ok := propMap["items"]; ok {
		prop.Items = items
	}
	if anyOf, ok := propMap["anyOf"].([]any); ok {
		for _, item := range anyOf {
			prop.AnyOf = append(prop.AnyOf, convertOllamaProperty(item))
		}
	}
	return prop
}

func (p *OllamaProvider) translateError(err error) error {
	if err == nil {
		return nil
	}
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		msg := statusErr.ErrorMessage
		if msg == "" {
			msg = statusErr.Status
		}
		return ErrorFromStatusCode(statusErr.StatusCode, fmt.Sprintf("ollama: %s", msg), p.Name(), "", err)
	}
	return translateTransportError(p.Name(), err)
}

// Model families known to accept tool definitions, checked most specific first.
var toolCallingPrefixes = []struct {
	prefix    string
	supported bool
}{
	{"llama3.3", true},
	{"llama3.2", true},
	{"llama3.1", true},
	{"llama3-gradient", false},
	{"command-r", true},
	{"qwen", true},
	{"mistral", true},
	{"nemotron", true},
	{"granite3", true},
	{"codellama", false},
	{"llama3", false},
	{"deepseek", false},
	{"phi", false},
	{"gemma", false},
}

// ModelSupportsToolCalling reports whether an Ollama model accepts tools.
// Unknown models are assumed not to.
func ModelSupportsToolCalling(model string) bool {
	model = strings.ToLower(model)
	for _, entry := range toolCallingPrefixes {
		if strings.HasPrefix(model, entry.prefix) {
			return entry.supported
		}
	}
	return false
}
