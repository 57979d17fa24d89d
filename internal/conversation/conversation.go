// Package conversation provides conversation persistence for mu.
//
// A Conversation is the container for an ordered exchange of messages
// between a user and the assistant. The package ships three Store
// implementations sharing one contract:
//
//   - [PostgresStore] for production, with per-conversation sequence
//     numbers assigned inside a transaction
//   - [FileStore] for single-node development, one JSONL file per
//     conversation guarded by an advisory file lock
//   - [MemoryStore] for tests and ephemeral deployments
//
// # Transaction Safety
//
// Append writes all messages of a turn atomically. PostgresStore locks the
// conversation row with SELECT ... FOR UPDATE before assigning sequence
// numbers, so concurrent writers cannot interleave a turn. If any step
// fails, the whole batch rolls back and the history stays pairwise intact.
package conversation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mubot/mu/internal/chat"
)

// Conversation is the application-level view of one conversation.
type Conversation struct {
	ID           uuid.UUID `json:"id"`
	Title        string    `json:"title"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Store is the persistence contract shared by all backends. History and
// Append satisfy the chat engine's store port; the rest is the session
// surface the transport layer needs.
//
// Append must write every message of the batch atomically and in order. A
// partially written turn would leave a user message without its assistant
// partner, which the history assembler rejects as corruption on the next
// load.
type Store interface {
	// Create starts a new conversation. Title may be empty.
	Create(ctx context.Context, title string) (Conversation, error)

	// Get returns one conversation, or ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (Conversation, error)

	// List returns conversations ordered by most recent activity first.
	List(ctx context.Context, limit, offset int) ([]Conversation, error)

	// Delete removes a conversation and all its messages, or ErrNotFound.
	Delete(ctx context.Context, id uuid.UUID) error

	// SetTitle renames a conversation, or ErrNotFound.
	SetTitle(ctx context.Context, id uuid.UUID, title string) error

	// History returns all stored messages oldest first, or ErrNotFound
	// when the conversation does not exist. An existing conversation with
	// no messages returns an empty slice.
	History(ctx context.Context, conversationID uuid.UUID) ([]chat.Message, error)

	// Append durably adds messages to the end of the conversation, or
	// ErrNotFound when the conversation does not exist.
	Append(ctx context.Context, conversationID uuid.UUID, msgs ...chat.Message) error
}
