package gateway

import (
	"fmt"
	"net/http"
	"os"
	"strings"
)

// ProviderType selects a backend implementation.
type ProviderType string

const (
	ProviderTypeOpenAI    ProviderType = "openai"
	ProviderTypeAnthropic ProviderType = "anthropic"
	ProviderTypeDeepSeek  ProviderType = "deepseek"
	ProviderTypeOllama    ProviderType = "ollama"
	ProviderTypeGollm     ProviderType = "gollm"
)

// ProviderTypes lists every supported provider type.
var ProviderTypes = []ProviderType{
	ProviderTypeOpenAI,
	ProviderTypeAnthropic,
	ProviderTypeDeepSeek,
	ProviderTypeOllama,
	ProviderTypeGollm,
}

// ProviderConfig holds everything needed to construct a provider.
type ProviderConfig struct {
	Type    ProviderType
	BaseURL string
	APIKey  string
	Model   string

	// Backend names the gollm backend (e.g. "openai", "groq") when Type is gollm.
	Backend string

	HTTPClient *http.Client
}

// apiKeyEnv maps provider types to the environment variable consulted when
// no key is configured.
var apiKeyEnv = map[ProviderType]string{
	ProviderTypeOpenAI:    "OPENAI_API_KEY",
	ProviderTypeAnthropic: "ANTHROPIC_API_KEY",
	ProviderTypeDeepSeek:  "DEEPSEEK_API_KEY",
}

// ParseProviderType converts a user-facing provider id to a ProviderType.
func ParseProviderType(id string) (ProviderType, error) {
	t := ProviderType(strings.ToLower(strings.TrimSpace(id)))
	for _, known := range ProviderTypes {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown provider type: %q", id)
}

// NewProvider creates a provider based on configuration.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		if env, ok := apiKeyEnv[cfg.Type]; ok {
			apiKey = os.Getenv(env)
		}
	}

	switch cfg.Type {
	case ProviderTypeOpenAI:
		return NewOpenAIProvider(cfg.BaseURL, apiKey, cfg.Model, WithHTTPClient(cfg.HTTPClient))
	case ProviderTypeDeepSeek:
		return NewDeepSeekProvider(cfg.BaseURL, apiKey, cfg.Model, WithHTTPClient(cfg.HTTPClient))
	case ProviderTypeAnthropic:
		return NewAnthropicProvider(cfg.BaseURL, apiKey, cfg.Model, cfg.HTTPClient)
	case ProviderTypeOllama:
		return NewOllamaProvider(cfg.BaseURL, cfg.Model, cfg.HTTPClient)
	case ProviderTypeGollm:
		backend := cfg.Backend
		if backend == "" {
			backend = "openai"
		}
		return NewGollmProvider(backend, apiKey, WithGollmModel(cfg.Model))
	default:
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: fmt.Sprintf("unknown provider type: %s", cfg.Type),
		}}
	}
}
