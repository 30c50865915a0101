// Package config loads planact configuration from YAML or TOML files with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/martinemde/planact/agent"
	"github.com/martinemde/planact/gateway"
)

// EnvPrefix prefixes every environment override, e.g. PLANACT_SERVER_PORT.
const EnvPrefix = "PLANACT_"

// DefaultSearchPaths returns the config file search order.
// ./planact.yaml, ./planact.toml, ~/.config/planact/config.{yaml,toml},
// /etc/planact/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"planact.yaml", "planact.toml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, ".config", "planact", "config.yaml"),
			filepath.Join(home, ".config", "planact", "config.toml"),
		)
	}
	return append(paths, "/etc/planact/config.yaml")
}

// FindConfig returns explicit if it is set and exists. Otherwise it returns
// the first of DefaultSearchPaths that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file %s: %w", explicit, err)
		}
		return explicit, nil
	}
	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config is the top-level planact configuration.
type Config struct {
	LogLevel  string `yaml:"log_level" toml:"log_level" env:"LOG_LEVEL" validate:"omitempty,oneof=trace debug info warn warning error TRACE DEBUG INFO WARN WARNING ERROR"`
	LogFormat string `yaml:"log_format" toml:"log_format" env:"LOG_FORMAT" validate:"oneof=text json"`

	Server   ServerConfig   `yaml:"server" toml:"server" envPrefix:"SERVER_"`
	Provider ProviderConfig `yaml:"provider" toml:"provider" envPrefix:"PROVIDER_"`
	Agent    AgentConfig    `yaml:"agent" toml:"agent" envPrefix:"AGENT_"`
	Storage  StorageConfig  `yaml:"storage" toml:"storage" envPrefix:"STORAGE_"`
	Tools    ToolsConfig    `yaml:"tools" toml:"tools" envPrefix:"TOOLS_"`
	Policy   PolicyConfig   `yaml:"policy" toml:"policy" envPrefix:"POLICY_"`

	MCPServers []MCPServerConfig `yaml:"mcp_servers" toml:"mcp_servers" validate:"dive"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Address         string `yaml:"address" toml:"address" env:"ADDRESS"`
	Port            int    `yaml:"port" toml:"port" env:"PORT" validate:"min=1,max=65535"`
	ShutdownTimeout int    `yaml:"shutdown_timeout_sec" toml:"shutdown_timeout_sec" env:"SHUTDOWN_TIMEOUT_SEC" validate:"min=0"`
}

// ListenAddr returns host:port.
func (s ServerConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", s.Address, s.Port)
}

// ProviderConfig selects and configures the model backend.
type ProviderConfig struct {
	Type    string `yaml:"type" toml:"type" env:"TYPE" validate:"required,oneof=openai anthropic deepseek ollama gollm"`
	BaseURL string `yaml:"base_url" toml:"base_url" env:"BASE_URL" validate:"omitempty,url"`
	// APIKey falls back to the provider's usual variable (OPENAI_API_KEY, ...).
	APIKey  string `yaml:"api_key" toml:"api_key" env:"API_KEY"`
	Model   string `yaml:"model" toml:"model" env:"MODEL"`
	Backend string `yaml:"backend" toml:"backend" env:"BACKEND"`

	MaxRetries     int `yaml:"max_retries" toml:"max_retries" env:"MAX_RETRIES" validate:"min=0,max=10"`
	RequestTimeout int `yaml:"request_timeout_sec" toml:"request_timeout_sec" env:"REQUEST_TIMEOUT_SEC" validate:"min=0"`
}

// AgentConfig mirrors agent.Config.
type AgentConfig struct {
	AutonomyLevel        string   `yaml:"autonomy_level" toml:"autonomy_level" env:"AUTONOMY_LEVEL" validate:"oneof=full semi supervised"`
	MaxIterations        int      `yaml:"max_iterations" toml:"max_iterations" env:"MAX_ITERATIONS" validate:"min=1"`
	ApprovalRequired     []string `yaml:"approval_required" toml:"approval_required" env:"APPROVAL_REQUIRED" envSeparator:","`
	Temperature          float64  `yaml:"temperature" toml:"temperature" env:"TEMPERATURE" validate:"min=0,max=2"`
	MaxTokens            int      `yaml:"max_tokens" toml:"max_tokens" env:"MAX_TOKENS" validate:"min=1"`
	SystemPrompt         string   `yaml:"system_prompt" toml:"system_prompt" env:"SYSTEM_PROMPT"`
	HallucinationMarkers []string `yaml:"hallucination_markers" toml:"hallucination_markers"`
	MaxToolResultChars   int      `yaml:"max_tool_result_chars" toml:"max_tool_result_chars" env:"MAX_TOOL_RESULT_CHARS" validate:"min=0"`
	LoopDetectionWindow  int      `yaml:"loop_detection_window" toml:"loop_detection_window" env:"LOOP_DETECTION_WINDOW" validate:"min=0"`
	Stream               bool     `yaml:"stream" toml:"stream" env:"STREAM"`
}

// StorageConfig selects the conversation store.
type StorageConfig struct {
	Driver string `yaml:"driver" toml:"driver" env:"DRIVER" validate:"oneof=memory sqlite"`
	Path   string `yaml:"path" toml:"path" env:"PATH" validate:"required_if=Driver sqlite"`
}

// ToolsConfig configures the built-in tools.
type ToolsConfig struct {
	WorkingDir        string `yaml:"working_dir" toml:"working_dir" env:"WORKING_DIR"`
	CommandTimeoutSec int    `yaml:"command_timeout_sec" toml:"command_timeout_sec" env:"COMMAND_TIMEOUT_SEC" validate:"min=0"`
	DisableCommands   bool   `yaml:"disable_commands" toml:"disable_commands" env:"DISABLE_COMMANDS"`
}

// PolicyConfig points at an optional rego approval policy.
type PolicyConfig struct {
	File string `yaml:"file" toml:"file" env:"FILE"`
}

// MCPServerConfig starts an MCP server over stdio and registers its tools.
type MCPServerConfig struct {
	Name    string   `yaml:"name" toml:"name" validate:"required"`
	Command string   `yaml:"command" toml:"command" validate:"required"`
	Args    []string `yaml:"args" toml:"args"`
	Env     []string `yaml:"env" toml:"env"`
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	ac := agent.DefaultConfig()
	return &Config{
		LogLevel:  "info",
		LogFormat: "text",
		Server: ServerConfig{
			Address:         "127.0.0.1",
			Port:            8000,
			ShutdownTimeout: 10,
		},
		Provider: ProviderConfig{
			Type:       string(gateway.ProviderTypeOllama),
			MaxRetries: gateway.DefaultRetryPolicy().MaxRetries,
		},
		Agent: AgentConfig{
			AutonomyLevel:       string(ac.AutonomyLevel),
			MaxIterations:       ac.MaxIterations,
			ApprovalRequired:    ac.ApprovalRequiredNames,
			Temperature:         ac.Temperature,
			MaxTokens:           ac.MaxTokens,
			MaxToolResultChars:  ac.MaxToolResultChars,
			LoopDetectionWindow: ac.LoopDetectionWindow,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			Path:   "planact.db",
		},
		Tools: ToolsConfig{
			CommandTimeoutSec: 30,
		},
	}
}

// Load reads the config file at path over the defaults, then applies
// PLANACT_* environment overrides and validates the result. ${VAR}
// references in the file are expanded first. An empty path loads the
// defaults and the environment only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		expanded := os.ExpandEnv(string(data))

		switch strings.ToLower(filepath.Ext(path)) {
		case ".toml":
			if _, err := toml.Decode(expanded, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		default:
			if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from PLANACT_* environment variables.
func (c *Config) ApplyEnv() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every field constraint and reports all violations.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, len(verrs))
	for i, fe := range verrs {
		if fe.Param() != "" {
			msgs[i] = fmt.Sprintf("%s: failed %s=%s (got %v)", fe.Namespace(), fe.Tag(), fe.Param(), fe.Value())
		} else {
			msgs[i] = fmt.Sprintf("%s: failed %s", fe.Namespace(), fe.Tag())
		}
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// EngineConfig converts the agent section to an agent.Config.
func (c *Config) EngineConfig() (agent.Config, error) {
	level, err := agent.ParseAutonomyLevel(c.Agent.AutonomyLevel)
	if err != nil {
		return agent.Config{}, err
	}
	return agent.Config{
		AutonomyLevel:         level,
		MaxIterations:         c.Agent.MaxIterations,
		ApprovalRequiredNames: append([]string(nil), c.Agent.ApprovalRequired...),
		Temperature:           c.Agent.Temperature,
		MaxTokens:             c.Agent.MaxTokens,
		Model:                 c.Provider.Model,
		SystemPrompt:          c.Agent.SystemPrompt,
		HallucinationMarkers:  append([]string(nil), c.Agent.HallucinationMarkers...),
		MaxToolResultChars:    c.Agent.MaxToolResultChars,
		LoopDetectionWindow:   c.Agent.LoopDetectionWindow,
		EventBuffer:           agent.DefaultConfig().EventBuffer,
		Stream:                c.Agent.Stream,
	}, nil
}

// GatewayConfig converts the provider section to a gateway.ProviderConfig.
func (c *Config) GatewayConfig() (gateway.ProviderConfig, error) {
	pt, err := gateway.ParseProviderType(c.Provider.Type)
	if err != nil {
		return gateway.ProviderConfig{}, err
	}
	return gateway.ProviderConfig{
		Type:    pt,
		BaseURL: c.Provider.BaseURL,
		APIKey:  c.Provider.APIKey,
		Model:   c.Provider.Model,
		Backend: c.Provider.Backend,
	}, nil
}

// RetryPolicy returns the gateway retry policy for the provider section.
func (c *Config) RetryPolicy() gateway.RetryPolicy {
	p := gateway.DefaultRetryPolicy()
	p.MaxRetries = c.Provider.MaxRetries
	return p
}

// RequestTimeout returns the per-request model timeout, or 0 for none.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Provider.RequestTimeout) * time.Second
}
