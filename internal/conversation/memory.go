package conversation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mubot/mu/internal/chat"
)

// MemoryStore keeps conversations in process memory. It backs the
// "memory" storage mode and most tests. All data is lost on restart.
//
// MemoryStore is safe for concurrent use by multiple goroutines.
type MemoryStore struct {
	mu    sync.RWMutex
	convs map[uuid.UUID]*memoryConversation
}

type memoryConversation struct {
	meta Conversation
	msgs []chat.Message
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{convs: make(map[uuid.UUID]*memoryConversation)}
}

// Create starts a new conversation.
func (s *MemoryStore) Create(_ context.Context, title string) (Conversation, error) {
	now := time.Now().UTC()
	conv := Conversation{
		ID:        uuid.New(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs[conv.ID] = &memoryConversation{meta: conv}
	return conv, nil
}

// Get returns one conversation by ID.
func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.convs[id]
	if !ok {
		return Conversation{}, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	return c.meta, nil
}

// List returns conversations ordered by most recent activity first.
func (s *MemoryStore) List(_ context.Context, limit, offset int) ([]Conversation, error) {
	limit = NormalizeListLimit(limit)
	if offset < 0 {
		offset = 0
	}

	s.mu.RLock()
	all := make([]Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		all = append(all, c.meta)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].UpdatedAt.Equal(all[j].UpdatedAt) {
			return all[i].UpdatedAt.After(all[j].UpdatedAt)
		}
		return all[i].ID.String() < all[j].ID.String()
	})

	if offset >= len(all) {
		return []Conversation{}, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// Delete removes a conversation and all its messages.
func (s *MemoryStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.convs[id]; !ok {
		return fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	delete(s.convs, id)
	return nil
}

// SetTitle renames a conversation.
func (s *MemoryStore) SetTitle(_ context.Context, id uuid.UUID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[id]
	if !ok {
		return fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	c.meta.Title = title
	c.meta.UpdatedAt = time.Now().UTC()
	return nil
}

// History returns all stored messages for a conversation, oldest first.
func (s *MemoryStore) History(_ context.Context, conversationID uuid.UUID) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.convs[conversationID]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}

	out := make([]chat.Message, len(c.msgs))
	copy(out, c.msgs)
	return out, nil
}

// Append durably adds messages to the end of the conversation.
func (s *MemoryStore) Append(_ context.Context, conversationID uuid.UUID, msgs ...chat.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[conversationID]
	if !ok {
		return fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}

	now := time.Now().UTC()
	for _, msg := range msgs {
		if msg.ID == uuid.Nil {
			msg.ID = uuid.New()
		}
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = now
		}
		msg.ConversationID = conversationID
		c.msgs = append(c.msgs, msg)
	}
	c.meta.MessageCount = len(c.msgs)
	c.meta.UpdatedAt = now
	return nil
}
