package chat

import (
	"context"

	"github.com/google/uuid"

	"github.com/mubot/mu/internal/persona"
	"github.com/mubot/mu/internal/tools"
)

// StreamCallback receives incremental assistant text as the provider
// produces it. Returning an error aborts the provider call.
type StreamCallback func(ctx context.Context, delta string) error

// LLMRequest is one provider call: instructions, conversation turns, the
// tools the model may request, and the results of tools already run.
type LLMRequest struct {
	System      string
	Messages    []Message
	Tools       []tools.Declaration
	ToolResults []tools.Invocation
}

// LLMReply is the provider's response. Text and ToolCalls are not mutually
// exclusive; some models emit text before requesting tools.
type LLMReply struct {
	Text      string
	ToolCalls []tools.Call
}

// LLMClient generates model responses. Implementations deliver text through
// onDelta incrementally when the provider supports streaming; onDelta may be
// nil for non-streamed calls. On success Text carries the complete response
// text whether or not it was streamed.
type LLMClient interface {
	Generate(ctx context.Context, req LLMRequest, onDelta StreamCallback) (LLMReply, error)
}

// ConversationStore loads and durably appends conversation messages.
// Append must write all messages atomically and in order, so a failed turn
// can never leave a user message without its assistant partner.
type ConversationStore interface {
	History(ctx context.Context, conversationID uuid.UUID) ([]Message, error)
	Append(ctx context.Context, conversationID uuid.UUID, msgs ...Message) error
}

// PersonaSource picks the persona for a request. Resolution never fails;
// broken tiers degrade until a builtin fallback answers.
type PersonaSource interface {
	Resolve(ctx context.Context, userID, overrideID string) persona.Persona
}

// ToolRunner advertises and executes tools. ExecuteAll settles every call;
// unknown names, handler errors, timeouts, and panics all come back as
// structured per-invocation errors, never as a batch failure.
type ToolRunner interface {
	Declarations() []tools.Declaration
	ExecuteAll(ctx context.Context, calls []tools.Call) []tools.Invocation
}
