package gateway

import "testing"

func TestParseProviderType(t *testing.T) {
	for _, id := range []string{"openai", "Anthropic", " deepseek ", "ollama", "gollm"} {
		if _, err := ParseProviderType(id); err != nil {
			t.Errorf("ParseProviderType(%q): unexpected error %v", id, err)
		}
	}
	if _, err := ParseProviderType("gemini"); err == nil {
		t.Error("expected error for unsupported provider")
	}
}

func TestNewProvider(t *testing.T) {
	tests := []struct {
		cfg  ProviderConfig
		name string
	}{
		{ProviderConfig{Type: ProviderTypeOpenAI, APIKey: "sk-test"}, "openai"},
		{ProviderConfig{Type: ProviderTypeDeepSeek, APIKey: "sk-test"}, "deepseek"},
		{ProviderConfig{Type: ProviderTypeAnthropic, APIKey: "sk-test"}, "anthropic"},
		{ProviderConfig{Type: ProviderTypeOllama, BaseURL: "http://localhost:11434"}, "ollama"},
	}
	for _, tt := range tests {
		p, err := NewProvider(tt.cfg)
		if err != nil {
			t.Errorf("NewProvider(%s): unexpected error %v", tt.cfg.Type, err)
			continue
		}
		if p.Name() != tt.name {
			t.Errorf("NewProvider(%s): expected name %q, got %q", tt.cfg.Type, tt.name, p.Name())
		}
	}
}

func TestNewProviderMissingKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := NewProvider(ProviderConfig{Type: ProviderTypeOpenAI})
	if _, ok := err.(*ConfigurationError); !ok {
		t.Errorf("expected ConfigurationError, got %T (%v)", err, err)
	}
}

func TestNewProviderKeyFromEnv(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-env")
	if _, err := NewProvider(ProviderConfig{Type: ProviderTypeAnthropic}); err != nil {
		t.Errorf("expected key from environment, got %v", err)
	}
}

func TestNewProviderUnknown(t *testing.T) {
	if _, err := NewProvider(ProviderConfig{Type: "bogus"}); err == nil {
		t.Error("expected error for unknown provider type")
	}
}

func TestDeepSeekFlattensToolMessages(t *testing.T) {
	p, err := NewDeepSeekProvider("", "sk-test", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.flattenTools {
		t.Error("expected deepseek to flatten tool messages")
	}
	if p.model != "deepseek-chat" {
		t.Errorf("expected default model deepseek-chat, got %q", p.model)
	}
}
