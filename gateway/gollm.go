package gateway

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/teilomillet/gollm"
)

// GollmProvider wraps a gollm.LLM. gollm returns plain text, so tool calls
// come back embedded in the content and are recovered by the caller.
type GollmProvider struct {
	provider string
	llm      gollm.LLM
	model    string
}

// GollmOption configures a GollmProvider.
type GollmOption func(*gollmConfig)

type gollmConfig struct {
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	extraOpts   []gollm.ConfigOption
}

// WithGollmModel sets the default model.
func WithGollmModel(model string) GollmOption {
	return func(c *gollmConfig) {
		c.model = model
	}
}

// WithGollmMaxTokens sets the default max tokens.
func WithGollmMaxTokens(n int) GollmOption {
	return func(c *gollmConfig) {
		c.maxTokens = n
	}
}

// WithGollmTemperature sets the default temperature.
func WithGollmTemperature(t float64) GollmOption {
	return func(c *gollmConfig) {
		c.temperature = t
	}
}

// WithGollmOptions adds extra gollm configuration options.
func WithGollmOptions(opts ...gollm.ConfigOption) GollmOption {
	return func(c *gollmConfig) {
		c.extraOpts = append(c.extraOpts, opts...)
	}
}

// NewGollmProvider creates a gollm-backed provider for the named backend
// (any provider gollm knows). If apiKey is empty gollm reads it from the
// environment.
func NewGollmProvider(backend, apiKey string, opts ...GollmOption) (*GollmProvider, error) {
	cfg := &gollmConfig{
		apiKey:      apiKey,
		maxTokens:   4000,
		temperature: 0.7,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	model := cfg.model
	if model == "" {
		model = DefaultModel(backend)
	}
	if model == "" {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: fmt.Sprintf("no model configured for gollm backend %q", backend),
		}}
	}

	gollmOpts := []gollm.ConfigOption{
		gollm.SetProvider(backend),
		gollm.SetModel(model),
		gollm.SetMaxTokens(cfg.maxTokens),
		gollm.SetTemperature(cfg.temperature),
		gollm.SetMaxRetries(0), // the client's retry middleware owns retries
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if cfg.apiKey != "" {
		gollmOpts = append(gollmOpts, gollm.SetAPIKey(cfg.apiKey))
	}
	gollmOpts = append(gollmOpts, cfg.extraOpts...)

	llm, err := gollm.NewLLM(gollmOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gollm LLM for provider %s: %w", backend, err)
	}

	return &GollmProvider{
		provider: backend,
		llm:      llm,
		model:    model,
	}, nil
}

// NewGollmProviderFromLLM wraps an existing gollm.LLM instance.
func NewGollmProviderFromLLM(backend string, llm gollm.LLM) *GollmProvider {
	return &GollmProvider{
		provider: backend,
		llm:      llm,
	}
}

func (p *GollmProvider) Name() string { return p.provider }

func (p *GollmProvider) SupportsNativeTools() bool { return false }

// Complete sends a blocking request and returns the generated text.
func (p *GollmProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	prompt := translateGollmRequest(req)
	p.applyRequestOptions(req)

	text, err := p.llm.Generate(ctx, prompt)
	if err != nil {
		return nil, p.translateError(err)
	}
	return p.buildResponse(req, text), nil
}

// Stream sends a streaming request, falling back to a single delta when the
// backend cannot stream.
func (p *GollmProvider) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	prompt := translateGollmRequest(req)
	p.applyRequestOptions(req)

	ch := make(chan StreamEvent, 64)

	if !p.llm.SupportsStreaming() {
		go func() {
			defer close(ch)
			ch <- StreamEvent{Type: StreamStart}

			text, err := p.llm.Generate(ctx, prompt)
			if err != nil {
				ch <- StreamEvent{Type: StreamError, Error: p.translateError(err)}
				return
			}
			ch <- StreamEvent{Type: TextDelta, Delta: text}

			resp := p.buildResponse(req, text)
			ch <- StreamEvent{Type: StreamFinish, FinishReason: resp.FinishReason, Usage: &resp.Usage, Response: resp}
		}()
		return ch, nil
	}

	stream, err := p.llm.Stream(ctx, prompt)
	if err != nil {
		return nil, p.translateError(err)
	}

	go func() {
		defer close(ch)
		defer stream.Close()

		ch <- StreamEvent{Type: StreamStart}

		var full strings.Builder
		for {
			token, err := stream.Next(ctx)
			if err == io.EOF {
				break
			}
			if err != nil {
				ch <- StreamEvent{Type: StreamError, Error: p.translateError(err)}
				return
			}
			if token == nil {
				continue
			}
			ch <- StreamEvent{Type: TextDelta, Delta: token.Text}
			full.WriteString(token.Text)
		}

		resp := p.buildResponse(req, full.String())
		ch <- StreamEvent{Type: StreamFinish, FinishReason: resp.FinishReason, Usage: &resp.Usage, Response: resp}
	}()

	return ch, nil
}

// translateGollmRequest flattens the conversation into a single gollm prompt.
// Tool traffic is rendered as labelled text since gollm has no tool roles.
func translateGollmRequest(req Request) *gollm.Prompt {
	var systemPrompt strings.Builder
	var parts []string

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			systemPrompt.WriteString(msg.Content)
			systemPrompt.WriteString("\n")
		case RoleUser:
			parts = append(parts, msg.Content)
		case RoleAssistant:
			if msg.Content != "" {
				parts = append(parts, "[Assistant]: "+msg.Content)
			}
			for _, tc := range msg.ToolCalls {
				parts = append(parts, fmt.Sprintf("[Tool Call]: {\"name\": %q, \"arguments\": %s}", tc.Name, tc.ArgumentsJSON()))
			}
		case RoleTool:
			prefix := "[Tool Result]"
			if strings.HasPrefix(msg.Content, "Error") {
				prefix = "[Tool Error]"
			}
			parts = append(parts, prefix+": "+msg.Content)
		}
	}

	promptText := strings.Join(parts, "\n")
	if promptText == "" {
		promptText = "Hello"
	}

	var promptOpts []gollm.PromptOption
	if systemPrompt.Len() > 0 {
		promptOpts = append(promptOpts, gollm.WithSystemPrompt(strings.TrimSpace(systemPrompt.String()), gollm.CacheTypeEphemeral))
	}
	if req.MaxTokens != nil {
		promptOpts = append(promptOpts, gollm.WithMaxLength(*req.MaxTokens))
	}
	if len(req.Tools) > 0 {
		tools := make([]gollm.Tool, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, gollm.Tool{
				Type: "function",
				Function: gollm.Function{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  schemaOrEmpty(t.Parameters),
				},
			})
		}
		promptOpts = append(promptOpts, gollm.WithTools(tools))
	}

	return gollm.NewPrompt(promptText, promptOpts...)
}

func (p *GollmProvider) applyRequestOptions(req Request) {
	if req.Model != "" {
		p.llm.SetOption("model", req.Model)
	}
	if req.Temperature != nil {
		p.llm.SetOption("temperature", *req.Temperature)
	}
	if req.MaxTokens != nil {
		p.llm.SetOption("max_tokens", *req.MaxTokens)
	}
}

func (p *GollmProvider) buildResponse(req Request, text string) *Response {
	model := req.Model
	if model == "" {
		model = p.model
	}
	in := estimateTokens(req)
	out := len(text) / 4
	return &Response{
		ID:           "resp_" + uuid.New().String()[:8],
		Model:        model,
		Provider:     p.provider,
		Content:      text,
		FinishReason: FinishStop,
		// gollm does not expose usage; these are rough estimates.
		Usage: Usage{InputTokens: in, OutputTokens: out, TotalTokens: in + out},
	}
}

// translateError converts a gollm error into the gateway error hierarchy.
func (p *GollmProvider) translateError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	lower := strings.ToLower(msg)
	base := SDKError{Message: msg, Cause: err}

	switch {
	case strings.Contains(lower, "401") || strings.Contains(lower, "unauthorized") || strings.Contains(lower, "invalid api key"):
		return &AuthenticationError{ProviderError: ProviderError{SDKError: base, Provider: p.provider, StatusCode: 401}}
	case strings.Contains(lower, "403") || strings.Contains(lower, "forbidden"):
		return &AccessDeniedError{ProviderError: ProviderError{SDKError: base, Provider: p.provider, StatusCode: 403}}
	case strings.Contains(lower, "404") || strings.Contains(lower, "not found"):
		return &NotFoundError{ProviderError: ProviderError{SDKError: base, Provider: p.provider, StatusCode: 404}}
	case strings.Contains(lower, "429") || strings.Contains(lower, "rate limit"):
		return &RateLimitError{ProviderError: ProviderError{SDKError: base, Provider: p.provider, StatusCode: 429, Retryable: true}}
	case strings.Contains(lower, "context length") || strings.Contains(lower, "too many tokens"):
		return &ContextLengthError{ProviderError: ProviderError{SDKError: base, Provider: p.provider, StatusCode: 413}}
	case strings.Contains(lower, "500") || strings.Contains(lower, "internal server"):
		return &ServerError{ProviderError: ProviderError{SDKError: base, Provider: p.provider, StatusCode: 500, Retryable: true}}
	case strings.Contains(lower, "timeout"):
		return &RequestTimeoutError{SDKError: base}
	case strings.Contains(lower, "content filter") || strings.Contains(lower, "safety"):
		return &ContentFilterError{ProviderError: ProviderError{SDKError: base, Provider: p.provider}}
	default:
		return &ProviderError{SDKError: base, Provider: p.provider, Retryable: true}
	}
}

// estimateTokens gives a rough token count for the request messages.
func estimateTokens(req Request) int {
	total := 0
	for _, msg := range req.Messages {
		total += len(msg.Content) / 4
	}
	if total == 0 {
		total = 10
	}
	return total
}
