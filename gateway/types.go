package gateway

import (
	"encoding/json"
	"strings"
)

// Role identifies who produced a message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of the model input.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// SystemMessage creates a system Message.
func SystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: text}
}

// UserMessage creates a user Message.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

// AssistantMessage creates an assistant Message, optionally carrying tool calls.
func AssistantMessage(text string, calls ...ToolCall) Message {
	return Message{Role: RoleAssistant, Content: text, ToolCalls: calls}
}

// ToolResultMessage creates a tool result Message.
func ToolResultMessage(toolCallID, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: toolCallID}
}

// ToolCall is a model-initiated tool invocation.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ArgumentsJSON returns the arguments encoded as a JSON object.
func (tc ToolCall) ArgumentsJSON() string {
	if len(tc.Arguments) == 0 {
		return "{}"
	}
	b, err := json.Marshal(tc.Arguments)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// ParseArguments decodes a JSON argument string. Malformed or empty input
// yields an empty map.
func ParseArguments(raw string) map[string]any {
	args := map[string]any{}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return args
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil || args == nil {
		return map[string]any{}
	}
	return args
}

// ToolDefinition describes a tool the model can call.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// Usage tracks token consumption.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add returns a new Usage that is the sum of u and other.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
		TotalTokens:  u.TotalTokens + other.TotalTokens,
	}
}

// Finish reasons reported by providers, normalized.
const (
	FinishStop          = "stop"
	FinishLength        = "length"
	FinishToolCalls     = "tool_calls"
	FinishContentFilter = "content_filter"
	FinishOther         = "other"
)

// Request is the input for Complete and Stream.
type Request struct {
	Model       string           `json:"model"`
	Messages    []Message        `json:"messages"`
	Provider    string           `json:"provider,omitempty"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
	MaxTokens   *int             `json:"max_tokens,omitempty"`
}

// Response is the output of Complete.
type Response struct {
	ID           string     `json:"id"`
	Model        string     `json:"model"`
	Provider     string     `json:"provider"`
	Content      string     `json:"content"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	FinishReason string     `json:"finish_reason"`
	Usage        Usage      `json:"usage"`
}

// StreamEventType identifies the kind of stream event.
type StreamEventType string

const (
	StreamStart  StreamEventType = "stream_start"
	TextDelta    StreamEventType = "text_delta"
	ToolCallEnd  StreamEventType = "tool_call_end"
	StreamFinish StreamEventType = "finish"
	StreamError  StreamEventType = "error"
)

// StreamEvent is a single event from a streaming response.
type StreamEvent struct {
	Type         StreamEventType `json:"type"`
	Delta        string          `json:"delta,omitempty"`
	ToolCall     *ToolCall       `json:"tool_call,omitempty"`
	FinishReason string          `json:"finish_reason,omitempty"`
	Usage        *Usage          `json:"usage,omitempty"`
	Response     *Response       `json:"response,omitempty"`
	Error        error           `json:"-"`
}

// StreamAccumulator collects stream events into a complete Response.
type StreamAccumulator struct {
	text         strings.Builder
	toolCalls    []ToolCall
	finishReason string
	usage        *Usage
	response     *Response
	err          error
}

// NewStreamAccumulator creates a new StreamAccumulator.
func NewStreamAccumulator() *StreamAccumulator {
	return &StreamAccumulator{}
}

// Process ingests a single stream event.
func (sa *StreamAccumulator) Process(event StreamEvent) {
	switch event.Type {
	case TextDelta:
		sa.text.WriteString(event.Delta)
	case ToolCallEnd:
		if event.ToolCall != nil {
			sa.toolCalls = append(sa.toolCalls, *event.ToolCall)
		}
	case StreamFinish:
		sa.finishReason = event.FinishReason
		sa.usage = event.Usage
		sa.response = event.Response
	case StreamError:
		if sa.err == nil {
			sa.err = event.Error
		}
	}
}

// Err returns the first stream error seen, if any.
func (sa *StreamAccumulator) Err() error {
	return sa.err
}

// Response returns the accumulated response.
func (sa *StreamAccumulator) Response() *Response {
	if sa.response != nil {
		return sa.response
	}
	fr := FinishStop
	if sa.finishReason != "" {
		fr = sa.finishReason
	}
	usage := Usage{}
	if sa.usage != nil {
		usage = *sa.usage
	}
	return &Response{
		Content:      sa.text.String(),
		ToolCalls:    sa.toolCalls,
		FinishReason: fr,
		Usage:        usage,
	}
}

// Collect drains a stream into a Response.
func Collect(ch <-chan StreamEvent) (*Response, error) {
	acc := NewStreamAccumulator()
	for ev := range ch {
		acc.Process(ev)
	}
	if err := acc.Err(); err != nil {
		return nil, err
	}
	return acc.Response(), nil
}
