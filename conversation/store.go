package conversation

import "context"

// Store persists conversations. Implementations must keep messages in
// append order and be safe for concurrent use.
type Store interface {
	// Create returns the conversation with id, creating it if missing.
	Create(ctx context.Context, id string) (*Conversation, error)
	// Get returns the conversation with its messages.
	Get(ctx context.Context, id string) (*Conversation, error)
	// Append adds a message, creating the conversation if missing.
	Append(ctx context.Context, id string, msg Message) error
	// Messages returns all messages of a conversation in append order.
	Messages(ctx context.Context, id string) ([]Message, error)
	// Clear removes all messages but keeps the conversation.
	Clear(ctx context.Context, id string) error
	// Delete removes the conversation and its messages.
	Delete(ctx context.Context, id string) error
	// List returns conversations, most recently updated first.
	List(ctx context.Context, limit int) ([]Info, error)
	// Search returns messages containing query, newest first.
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
	// Put stores conv as given, replacing any conversation with the same id.
	Put(ctx context.Context, conv *Conversation) error
}
