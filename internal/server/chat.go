package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/mubot/mu/internal/chat"
	"github.com/mubot/mu/internal/conversation"
	"github.com/mubot/mu/internal/log"
	"github.com/mubot/mu/internal/server/sse"
	"github.com/mubot/mu/internal/stream"
)

// maxChatBodyBytes bounds an inbound chat request body.
const maxChatBodyBytes = 1 << 20

// chatRequest is the JSON body of a streaming chat request. An empty
// conversation_id starts a new conversation whose id is reported in the
// done event.
type chatRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message"`
	PersonaID      string `json:"persona_id,omitempty"`
	UserID         string `json:"user_id,omitempty"`
}

type chatHandler struct {
	engine ChatEngine
	store  conversation.Store
	logger log.Logger
}

// resolveConversation returns the target conversation, creating one with a
// generated title when the request names none.
func (h *chatHandler) resolveConversation(ctx context.Context, req chatRequest) (uuid.UUID, error) {
	if req.ConversationID != "" {
		id, err := uuid.Parse(req.ConversationID)
		if err != nil {
			return uuid.Nil, errBadConversationID
		}
		if _, err := h.store.Get(ctx, id); err != nil {
			return uuid.Nil, err
		}
		return id, nil
	}

	title, err := h.engine.GenerateTitle(ctx, req.Message)
	if err != nil {
		h.logger.Warn("title generation failed, using truncated message", "error", err)
		title = truncateTitle(req.Message)
	}
	conv, err := h.store.Create(ctx, title)
	if err != nil {
		return uuid.Nil, err
	}
	return conv.ID, nil
}

var errBadConversationID = errors.New("invalid conversation id")

func truncateTitle(s string) string {
	const maxTitle = 60
	runes := []rune(s)
	if len(runes) <= maxTitle {
		return s
	}
	return string(runes[:maxTitle-1]) + "…"
}

// stream handles POST /api/v1/chat/stream. The reply is SSE: chunk events
// carrying framed stream.Chunk JSON, then exactly one done event after the
// turn is persisted, or an error event.
func (h *chatHandler) stream(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBodyBytes)

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body", h.logger)
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "empty_message", "message is required", h.logger)
		return
	}

	ctx := r.Context()
	convID, err := h.resolveConversation(ctx, req)
	if err != nil {
		h.writeResolveError(w, err)
		return
	}

	writer, err := sse.NewWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "streaming not supported", h.logger)
		return
	}

	sink := &sseSink{writer: writer}
	_, err = h.engine.ExecuteStream(ctx, chat.Request{
		ConversationID: convID,
		UserID:         req.UserID,
		Message:        req.Message,
		PersonaID:      req.PersonaID,
	}, sink)
	if err != nil {
		code, msg := mapEngineError(err)
		h.logger.Error("chat stream failed",
			"conversation_id", convID,
			"code", code,
			"error", err,
		)
		if werr := writer.WriteError(code, msg); werr != nil {
			h.logger.Debug("error event not delivered", "error", werr)
		}
	}
}

func (h *chatHandler) writeResolveError(w http.ResponseWriter, err error) {
	status, code, msg := mapResolveError(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("resolving conversation", "error", err)
	}
	writeError(w, status, code, msg, h.logger)
}

// mapResolveError translates conversation resolution failures. Both the SSE
// and websocket paths report the same codes.
func mapResolveError(err error) (status int, code, message string) {
	switch {
	case errors.Is(err, errBadConversationID):
		return http.StatusBadRequest, "invalid_conversation_id", "conversation id is not a valid uuid"
	case errors.Is(err, conversation.ErrNotFound):
		return http.StatusNotFound, "conversation_not_found", "conversation does not exist"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

// mapEngineError translates pipeline failures into wire error codes.
func mapEngineError(err error) (code, message string) {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		return "empty_message", "message is required"
	case errors.Is(err, chat.ErrHistoryCorrupt):
		return "history_corrupt", "stored conversation history is corrupt"
	case errors.Is(err, chat.ErrProviderUnavailable):
		return "provider_unavailable", "model provider unavailable, try again later"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled", "request canceled"
	default:
		return "internal_error", "internal server error"
	}
}

// sseSink adapts the SSE writer to the engine's stream.Sink port. Chunk
// order on the wire is Send call order; the done event follows the engine's
// persistence-before-terminal contract.
type sseSink struct {
	writer *sse.Writer
}

func (s *sseSink) Send(ctx context.Context, c stream.Chunk) error {
	return s.writer.WriteEvent(ctx, sse.EventChunk, c)
}

func (s *sseSink) Done(ctx context.Context, f stream.Final) error {
	// Deliberately ignores ctx cancellation state beyond the write itself:
	// if the client is still connected the terminal signal must go out.
	return s.writer.WriteEvent(context.WithoutCancel(ctx), sse.EventDone, f)
}
