package gateway

// ModelInfo describes a known model in the catalog.
type ModelInfo struct {
	ID            string   `json:"id"`
	Provider      string   `json:"provider"`
	DisplayName   string   `json:"display_name"`
	ContextWindow int      `json:"context_window"`
	SupportsTools bool     `json:"supports_tools"`
	Aliases       []string `json:"aliases,omitempty"`
}

// Models is the built-in model catalog. The first entry per provider is its default.
var Models = []ModelInfo{
	// OpenAI
	{
		ID: "gpt-4o", Provider: "openai", DisplayName: "GPT-4o",
		ContextWindow: 128000, SupportsTools: true,
		Aliases: []string{"gpt4o"},
	},
	{
		ID: "gpt-4o-mini", Provider: "openai", DisplayName: "GPT-4o Mini",
		ContextWindow: 128000, SupportsTools: true,
		Aliases: []string{"gpt4o-mini"},
	},

	// Anthropic
	{
		ID: "claude-3-5-sonnet-20241022", Provider: "anthropic", DisplayName: "Claude 3.5 Sonnet",
		ContextWindow: 200000, SupportsTools: true,
		Aliases: []string{"sonnet", "claude-sonnet"},
	},
	{
		ID: "claude-3-5-haiku-20241022", Provider: "anthropic", DisplayName: "Claude 3.5 Haiku",
		ContextWindow: 200000, SupportsTools: true,
		Aliases: []string{"haiku", "claude-haiku"},
	},

	// DeepSeek
	{
		ID: "deepseek-chat", Provider: "deepseek", DisplayName: "DeepSeek Chat",
		ContextWindow: 64000, SupportsTools: true,
	},
	{
		ID: "deepseek-reasoner", Provider: "deepseek", DisplayName: "DeepSeek Reasoner",
		ContextWindow: 64000, SupportsTools: false,
	},

	// Ollama (local)
	{
		ID: "llama3.2:latest", Provider: "ollama", DisplayName: "Llama 3.2",
		ContextWindow: 128000, SupportsTools: true,
		Aliases: []string{"llama3.2"},
	},
	{
		ID: "deepseek-coder:33b", Provider: "ollama", DisplayName: "DeepSeek Coder 33B",
		ContextWindow: 16000, SupportsTools: false,
	},
}

// GetModelInfo returns the catalog entry for a model, or nil if unknown.
func GetModelInfo(modelID string) *ModelInfo {
	for i := range Models {
		if Models[i].ID == modelID {
			return &Models[i]
		}
		for _, alias := range Models[i].Aliases {
			if alias == modelID {
				return &Models[i]
			}
		}
	}
	return nil
}

// ListModels returns all known models, optionally filtered by provider.
func ListModels(provider string) []ModelInfo {
	if provider == "" {
		result := make([]ModelInfo, len(Models))
		copy(result, Models)
		return result
	}
	var result []ModelInfo
	for _, m := range Models {
		if m.Provider == provider {
			result = append(result, m)
		}
	}
	return result
}

// DefaultModel returns the default model id for a provider, or "" if the
// catalog has none.
func DefaultModel(provider string) string {
	for _, m := range Models {
		if m.Provider == provider {
			return m.ID
		}
	}
	return ""
}
