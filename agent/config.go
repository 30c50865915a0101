package agent

import (
	"fmt"
	"slices"
)

// AutonomyLevel controls how much the engine may do without asking.
type AutonomyLevel string

const (
	// AutonomyFull executes every tool call without approval.
	AutonomyFull AutonomyLevel = "full"
	// AutonomySemi asks for approval only for tools named in
	// Config.ApprovalRequiredNames.
	AutonomySemi AutonomyLevel = "semi"
	// AutonomySupervised asks for approval before every tool call.
	AutonomySupervised AutonomyLevel = "supervised"
)

// ParseAutonomyLevel validates a user-supplied autonomy level.
func ParseAutonomyLevel(s string) (AutonomyLevel, error) {
	switch l := AutonomyLevel(s); l {
	case AutonomyFull, AutonomySemi, AutonomySupervised:
		return l, nil
	}
	return "", fmt.Errorf("invalid autonomy level %q (want full, semi or supervised)", s)
}

// Config holds engine settings. A copy is taken at the start of every run,
// so SetConfig only affects later runs.
type Config struct {
	AutonomyLevel         AutonomyLevel `json:"autonomy_level"`
	MaxIterations         int           `json:"max_iterations"`
	ApprovalRequiredNames []string      `json:"approval_required_names"`

	Temperature  float64 `json:"temperature"`
	MaxTokens    int     `json:"max_tokens"`
	Model        string  `json:"model,omitempty"`
	SystemPrompt string  `json:"system_prompt,omitempty"`

	// HallucinationMarkers replaces the default structural markers when set.
	HallucinationMarkers []string `json:"hallucination_markers,omitempty"`

	// MaxToolResultChars bounds the tool result stored in the conversation.
	// Zero disables truncation.
	MaxToolResultChars int `json:"max_tool_result_chars"`

	// LoopDetectionWindow is the number of recent tool calls checked for a
	// repeating pattern. Zero disables loop detection.
	LoopDetectionWindow int `json:"loop_detection_window"`

	// EventBuffer is the number of events queued ahead of the consumer.
	// Zero keeps the run in lockstep with the reader.
	EventBuffer int `json:"event_buffer"`

	// Stream requests responses through the gateway's streaming call when
	// it has one.
	Stream bool `json:"stream"`
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		AutonomyLevel: AutonomySemi,
		MaxIterations: 10,
		ApprovalRequiredNames: []string{
			"terminate_instance",
			"delete_resource",
			"delete_file",
			"execute_command",
		},
		Temperature:         0.7,
		MaxTokens:           4000,
		MaxToolResultChars:  30000,
		LoopDetectionWindow: 6,
	}
}

// RequiresApprovalByName reports whether name is in the approval list.
func (c Config) RequiresApprovalByName(name string) bool {
	return slices.Contains(c.ApprovalRequiredNames, name)
}

// clone returns a copy that shares no slices with c.
func (c Config) clone() Config {
	c.ApprovalRequiredNames = slices.Clone(c.ApprovalRequiredNames)
	c.HallucinationMarkers = slices.Clone(c.HallucinationMarkers)
	return c
}

// normalize fills zero values with defaults.
func (c Config) normalize() Config {
	d := DefaultConfig()
	if c.AutonomyLevel == "" {
		c.AutonomyLevel = d.AutonomyLevel
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = d.MaxIterations
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = d.MaxTokens
	}
	if c.EventBuffer < 0 {
		c.EventBuffer = 0
	}
	return c
}
