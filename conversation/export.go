package conversation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"
)

type exportedMessage struct {
	Role       Role           `json:"role"`
	Content    string         `json:"content"`
	Timestamp  string         `json:"timestamp"`
	ToolCalls  []ToolCallRef  `json:"tool_calls"`
	ToolCallID *string        `json:"tool_call_id"`
	Metadata   map[string]any `json:"metadata"`
}

type exportedConversation struct {
	ConversationID string            `json:"conversation_id"`
	CreatedAt      string            `json:"created_at"`
	UpdatedAt      string            `json:"updated_at"`
	Messages       []exportedMessage `json:"messages"`
	Metadata       map[string]any    `json:"metadata"`
}

func exportTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Export renders a conversation as indented JSON. Importing the output and
// exporting again yields the same bytes.
func (m *Manager) Export(ctx context.Context, conversationID string) ([]byte, error) {
	id, err := m.resolve(conversationID)
	if err != nil {
		return nil, err
	}
	c, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	out := exportedConversation{
		ConversationID: c.ID,
		CreatedAt:      exportTime(c.CreatedAt),
		UpdatedAt:      exportTime(c.UpdatedAt),
		Messages:       make([]exportedMessage, len(c.Messages)),
		Metadata:       c.Metadata,
	}
	for i, msg := range c.Messages {
		em := exportedMessage{
			Role:      msg.Role,
			Content:   msg.Content,
			Timestamp: exportTime(msg.Timestamp),
			ToolCalls: msg.ToolCalls,
			Metadata:  msg.Metadata,
		}
		if msg.ToolCallID != "" {
			tcid := msg.ToolCallID
			em.ToolCallID = &tcid
		}
		out.Messages[i] = em
	}
	return json.MarshalIndent(out, "", "  ")
}

// Import stores a conversation produced by Export, replacing any
// conversation with the same id.
func (m *Manager) Import(ctx context.Context, data []byte) (*Conversation, error) {
	var in exportedConversation
	dec := json.NewDecoder(bytes.NewReader(data))
	// Keep numbers as written so a re-export is identical.
	dec.UseNumber()
	if err := dec.Decode(&in); err != nil {
		return nil, fmt.Errorf("decode conversation: %w", err)
	}
	if in.ConversationID == "" {
		return nil, fmt.Errorf("decode conversation: conversation_id is required")
	}

	c := &Conversation{
		ID:       in.ConversationID,
		Metadata: in.Metadata,
		Messages: make([]Message, len(in.Messages)),
	}
	var err error
	if c.CreatedAt, err = time.Parse(time.RFC3339Nano, in.CreatedAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if c.UpdatedAt, err = time.Parse(time.RFC3339Nano, in.UpdatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	for i, em := range in.Messages {
		role, ok := ParseRole(string(em.Role))
		if !ok {
			return nil, fmt.Errorf("message %d: invalid role %q", i, em.Role)
		}
		ts, err := time.Parse(time.RFC3339Nano, em.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("message %d: parse timestamp: %w", i, err)
		}
		msg := Message{
			Role:      role,
			Content:   em.Content,
			Timestamp: ts,
			ToolCalls: em.ToolCalls,
			Metadata:  em.Metadata,
		}
		if em.ToolCallID != nil {
			msg.ToolCallID = *em.ToolCallID
		}
		c.Messages[i] = msg
	}

	if err := m.store.Put(ctx, c); err != nil {
		return nil, fmt.Errorf("store conversation: %w", err)
	}
	return c, nil
}
