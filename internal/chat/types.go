package chat

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message. The set is closed: anything else
// is rejected at the history boundary instead of being passed through.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Message is one conversation turn.
//
// System entries may exist in persisted history (older writers produced
// them) but are never forwarded to the model as turns; only the current
// request's composed system prompt occupies that role.
type Message struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewMessage creates a message with a fresh ID and the current time.
func NewMessage(conversationID uuid.UUID, role Role, content string) Message {
	return Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
}

// Request is one inbound user turn.
type Request struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	Message        string    `json:"message"`

	// PersonaID, when set, overrides the user's configured persona for
	// this request only.
	PersonaID string `json:"persona_id,omitempty"`

	// DisableTools withholds tool declarations from the routing call,
	// forcing a direct answer.
	DisableTools bool `json:"disable_tools,omitempty"`
}

// Result is the non-streaming view of a completed request.
type Result struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	MessageID      uuid.UUID `json:"message_id"`
	Text           string    `json:"text"`
}
