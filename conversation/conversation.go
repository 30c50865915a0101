// Package conversation stores conversations and assembles them into model
// input.
package conversation

import (
	"errors"
	"slices"
	"time"

	"github.com/martinemde/planact/gateway"
)

var (
	// ErrNoActiveConversation is returned when no conversation id is given
	// and none is current.
	ErrNoActiveConversation = errors.New("no active conversation")

	// ErrConversationNotFound is returned for unknown conversation ids.
	ErrConversationNotFound = errors.New("conversation not found")
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ParseRole validates a role name.
func ParseRole(s string) (Role, bool) {
	switch r := Role(s); r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return r, true
	}
	return "", false
}

// FunctionCall is the function part of a stored tool call.
type FunctionCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolCallRef is the stored shape of a tool call requested by the assistant.
type ToolCallRef struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// ToolCall converts the stored call back to a gateway tool call.
func (r ToolCallRef) ToolCall() gateway.ToolCall {
	args := r.Function.Arguments
	if args == nil {
		args = map[string]any{}
	}
	return gateway.ToolCall{ID: r.ID, Name: r.Function.Name, Arguments: args}
}

// RefsFromCalls converts gateway tool calls to their stored shape.
func RefsFromCalls(calls []gateway.ToolCall) []ToolCallRef {
	if len(calls) == 0 {
		return nil
	}
	refs := make([]ToolCallRef, len(calls))
	for i, c := range calls {
		refs[i] = ToolCallRef{
			ID:   c.ID,
			Type: "function",
			Function: FunctionCall{
				Name:      c.Name,
				Arguments: c.Arguments,
			},
		}
	}
	return refs
}

// Message is one entry in a conversation. Messages are never modified after
// they are appended.
type Message struct {
	Role       Role           `json:"role"`
	Content    string         `json:"content"`
	Timestamp  time.Time      `json:"timestamp"`
	ToolCalls  []ToolCallRef  `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Conversation is an ordered message history.
type Conversation struct {
	ID        string         `json:"id"`
	Messages  []Message      `json:"messages"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Info describes a conversation without its messages.
type Info struct {
	ID           string         `json:"id"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	MessageCount int            `json:"message_count"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// SearchResult is a message matching a search query.
type SearchResult struct {
	ConversationID string  `json:"conversation_id"`
	Message        Message `json:"message"`
}

func (c *Conversation) info() Info {
	return Info{
		ID:           c.ID,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
		MessageCount: len(c.Messages),
		Metadata:     cloneMap(c.Metadata),
	}
}

// clone returns a copy that shares no slices or maps with c.
func (c *Conversation) clone() *Conversation {
	out := *c
	out.Messages = cloneMessages(c.Messages)
	out.Metadata = cloneMap(c.Metadata)
	return &out
}

// clone returns a copy of m that shares no slices or maps with it.
func (m Message) clone() Message {
	m.Metadata = cloneMap(m.Metadata)
	if m.ToolCalls != nil {
		calls := make([]ToolCallRef, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			tc.Function.Arguments = cloneMap(tc.Function.Arguments)
			calls[i] = tc
		}
		m.ToolCalls = calls
	}
	return m
}

func cloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.clone()
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

// cloneValue copies the JSON-shaped containers inside v.
func cloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		return cloneMap(v)
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return slices.Clone(v)
	default:
		return v
	}
}
