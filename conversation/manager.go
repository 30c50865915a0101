package conversation

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/martinemde/planact/gateway"
)

// MessageOption sets optional message fields.
type MessageOption func(*Message)

// WithToolCalls records the tool calls an assistant message requested.
func WithToolCalls(calls []ToolCallRef) MessageOption {
	return func(m *Message) {
		m.ToolCalls = calls
	}
}

// WithToolCallID links a tool message to the call it answers.
func WithToolCallID(id string) MessageOption {
	return func(m *Message) {
		m.ToolCallID = id
	}
}

// WithMetadata attaches metadata to a message.
func WithMetadata(md map[string]any) MessageOption {
	return func(m *Message) {
		m.Metadata = maps.Clone(md)
	}
}

// Manager tracks the current conversation and assembles model input on top
// of a Store. Every method taking a conversation id treats "" as the current
// conversation.
type Manager struct {
	store Store

	mu      sync.RWMutex
	current string
}

// NewManager creates a Manager over store.
func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// Store returns the underlying store.
func (m *Manager) Store() Store {
	return m.store
}

// SetCurrent makes id the current conversation, creating it if needed.
func (m *Manager) SetCurrent(ctx context.Context, id string) error {
	if id == "" {
		return ErrNoActiveConversation
	}
	if _, err := m.store.Create(ctx, id); err != nil {
		return err
	}
	m.mu.Lock()
	m.current = id
	m.mu.Unlock()
	return nil
}

// Current returns the current conversation id, or "".
func (m *Manager) Current() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

func (m *Manager) resolve(id string) (string, error) {
	if id != "" {
		return id, nil
	}
	if cur := m.Current(); cur != "" {
		return cur, nil
	}
	return "", ErrNoActiveConversation
}

// AddMessage appends a message, creating the conversation if needed.
func (m *Manager) AddMessage(ctx context.Context, role Role, content, conversationID string, opts ...MessageOption) (Message, error) {
	id, err := m.resolve(conversationID)
	if err != nil {
		return Message{}, err
	}
	msg := Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
		Metadata:  map[string]any{},
	}
	for _, opt := range opts {
		opt(&msg)
	}
	if err := m.store.Append(ctx, id, msg); err != nil {
		return Message{}, fmt.Errorf("append message: %w", err)
	}
	return msg, nil
}

// GetMessages returns the last limit messages (all when limit <= 0) in
// append order. Unknown conversations have no messages.
func (m *Manager) GetMessages(ctx context.Context, conversationID string, limit int, includeSystem bool) ([]Message, error) {
	id, err := m.resolve(conversationID)
	if err != nil {
		return nil, err
	}
	msgs, err := m.store.Messages(ctx, id)
	if errors.Is(err, ErrConversationNotFound) {
		return []Message{}, nil
	}
	if err != nil {
		return nil, err
	}

	if !includeSystem {
		filtered := msgs[:0]
		for _, msg := range msgs {
			if msg.Role != RoleSystem {
				filtered = append(filtered, msg)
			}
		}
		msgs = filtered
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

// AssembleForModel returns the conversation as model input, with
// systemPrompt first when it is not empty.
func (m *Manager) AssembleForModel(ctx context.Context, conversationID, systemPrompt string) ([]gateway.Message, error) {
	msgs, err := m.GetMessages(ctx, conversationID, 0, true)
	if err != nil {
		return nil, err
	}

	out := make([]gateway.Message, 0, len(msgs)+1)
	if systemPrompt != "" {
		out = append(out, gateway.SystemMessage(systemPrompt))
	}
	for _, msg := range msgs {
		gm := gateway.Message{
			Role:       gateway.Role(msg.Role),
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		for _, ref := range msg.ToolCalls {
			gm.ToolCalls = append(gm.ToolCalls, ref.ToolCall())
		}
		out = append(out, gm)
	}
	return out, nil
}

// Clear removes every message of a conversation.
func (m *Manager) Clear(ctx context.Context, conversationID string) error {
	id, err := m.resolve(conversationID)
	if err != nil {
		return err
	}
	return m.store.Clear(ctx, id)
}

// Delete removes a conversation. Deleting the current conversation leaves
// none current.
func (m *Manager) Delete(ctx context.Context, conversationID string) error {
	id, err := m.resolve(conversationID)
	if err != nil {
		return err
	}
	if err := m.store.Delete(ctx, id); err != nil {
		return err
	}
	m.mu.Lock()
	if m.current == id {
		m.current = ""
	}
	m.mu.Unlock()
	return nil
}

// Summary describes a conversation by message counts.
type Summary struct {
	ConversationID    string         `json:"conversation_id"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	TotalMessages     int            `json:"total_messages"`
	UserMessages      int            `json:"user_messages"`
	AssistantMessages int            `json:"assistant_messages"`
	ToolExecutions    int            `json:"tool_executions"`
	Metadata          map[string]any `json:"metadata"`
}

// Summary returns message counts for a conversation.
func (m *Manager) Summary(ctx context.Context, conversationID string) (Summary, error) {
	id, err := m.resolve(conversationID)
	if err != nil {
		return Summary{}, err
	}
	c, err := m.store.Get(ctx, id)
	if err != nil {
		return Summary{}, err
	}
	s := Summary{
		ConversationID: c.ID,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
		TotalMessages:  len(c.Messages),
		Metadata:       c.Metadata,
	}
	if s.Metadata == nil {
		s.Metadata = map[string]any{}
	}
	for _, msg := range c.Messages {
		switch msg.Role {
		case RoleUser:
			s.UserMessages++
		case RoleAssistant:
			s.AssistantMessages++
		case RoleTool:
			s.ToolExecutions++
		}
	}
	return s, nil
}

// List returns conversations, most recently updated first.
func (m *Manager) List(ctx context.Context, limit int) ([]Info, error) {
	return m.store.List(ctx, limit)
}

// Search returns messages containing query, newest first.
func (m *Manager) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if query == "" {
		return []SearchResult{}, nil
	}
	return m.store.Search(ctx, query, limit)
}
