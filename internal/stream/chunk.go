package stream

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// Chunk is one framed unit of streamed response text.
//
// Text always carries the raw bytes so that concatenation across the whole
// response reconstructs the provider output exactly. IsBoundary reports
// whether the chunk ends at a safe rendering point: trailing whitespace, a
// complete directive, or the end of the stream. It is false only for text
// cut short by a directive opener mid-word and for demoted directive spans.
type Chunk struct {
	Text       string          `json:"text"`
	IsBoundary bool            `json:"is_boundary"`
	Directive  json.RawMessage `json:"directive,omitempty"`
}

// Final is the payload of the terminal signal. It is sent exactly once per
// response, strictly after the assistant message has been handed to the
// persistence layer (saved, or its retry budget exhausted).
type Final struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	MessageID      uuid.UUID `json:"message_id"`
	Text           string    `json:"text"`
}

// Sink is the transport-facing consumer of a framed response. Implementations
// deliver chunks in call order; Send returning an error cancels the stream
// (typically a disconnected client).
type Sink interface {
	Send(ctx context.Context, c Chunk) error
	Done(ctx context.Context, f Final) error
}
