package conversation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps conversations in process memory.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{conversations: make(map[string]*Conversation)}
}

func (s *MemoryStore) Create(_ context.Context, id string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrCreate(id).clone(), nil
}

// getOrCreate must be called with s.mu held for writing.
func (s *MemoryStore) getOrCreate(id string) *Conversation {
	c, ok := s.conversations[id]
	if !ok {
		now := time.Now().UTC()
		c = &Conversation{
			ID:        id,
			CreatedAt: now,
			UpdatedAt: now,
			Metadata:  map[string]any{},
		}
		s.conversations[id] = c
	}
	return c
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}
	return c.clone(), nil
}

func (s *MemoryStore) Append(_ context.Context, id string, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.getOrCreate(id)
	c.Messages = append(c.Messages, msg.clone())
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) Messages(_ context.Context, id string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}
	return cloneMessages(c.Messages), nil
}

func (s *MemoryStore) Clear(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}
	c.Messages = nil
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[id]; !ok {
		return fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}
	delete(s.conversations, id)
	return nil
}

func (s *MemoryStore) List(_ context.Context, limit int) ([]Info, error) {
	s.mu.RLock()
	infos := make([]Info, 0, len(s.conversations))
	for _, c := range s.conversations {
		infos = append(infos, c.info())
	}
	s.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].UpdatedAt.Equal(infos[j].UpdatedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].UpdatedAt.After(infos[j].UpdatedAt)
	})
	if limit > 0 && len(infos) > limit {
		infos = infos[:limit]
	}
	return infos, nil
}

func (s *MemoryStore) Search(_ context.Context, query string, limit int) ([]SearchResult, error) {
	s.mu.RLock()
	var results []SearchResult
	for id, c := range s.conversations {
		for _, m := range c.Messages {
			if strings.Contains(m.Content, query) {
				results = append(results, SearchResult{ConversationID: id, Message: m.clone()})
			}
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Message.Timestamp.After(results[j].Message.Timestamp)
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *MemoryStore) Put(_ context.Context, conv *Conversation) error {
	if conv == nil || conv.ID == "" {
		return fmt.Errorf("conversation id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[conv.ID] = conv.clone()
	return nil
}
