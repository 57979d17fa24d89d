package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mubot/mu/internal/chat"
	"github.com/mubot/mu/internal/stream"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadLimit    = maxChatBodyBytes
)

// wsFrame is a server-to-client websocket message. Type is one of
// "chunk", "done", or "error".
type wsFrame struct {
	Type  string        `json:"type"`
	Chunk *stream.Chunk `json:"chunk,omitempty"`
	Final *stream.Final `json:"final,omitempty"`
	Code  string        `json:"code,omitempty"`
	Error string        `json:"error,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Origin is enforced by the CORS middleware configuration; the
	// upgrader accepts what the middleware let through.
	CheckOrigin: func(*http.Request) bool { return true },
}

// websocket handles GET /api/v1/chat/ws. The client sends one JSON request
// frame per turn; the server answers with chunk frames followed by exactly
// one done or error frame, then waits for the next request on the same
// connection.
func (h *chatHandler) websocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsReadLimit)

	ctx := r.Context()
	for {
		var req chatRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("websocket read", "error", err)
			}
			return
		}
		if !h.serveTurn(ctx, conn, req) {
			return
		}
	}
}

// serveTurn runs one chat turn over the connection. It reports whether the
// connection is still usable for another turn.
func (h *chatHandler) serveTurn(ctx context.Context, conn *websocket.Conn, req chatRequest) bool {
	if req.Message == "" {
		return h.writeFrame(conn, wsFrame{Type: "error", Code: "empty_message", Error: "message is required"}) == nil
	}

	convID, err := h.resolveConversation(ctx, req)
	if err != nil {
		status, code, msg := mapResolveError(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("resolving conversation", "error", err)
		}
		return h.writeFrame(conn, wsFrame{Type: "error", Code: code, Error: msg}) == nil
	}

	sink := &wsSink{handler: h, conn: conn}
	_, err = h.engine.ExecuteStream(ctx, chat.Request{
		ConversationID: convID,
		UserID:         req.UserID,
		Message:        req.Message,
		PersonaID:      req.PersonaID,
	}, sink)
	if err != nil {
		code, msg := mapEngineError(err)
		h.logger.Error("websocket turn failed", "conversation_id", convID, "code", code, "error", err)
		return h.writeFrame(conn, wsFrame{Type: "error", Code: code, Error: msg}) == nil
	}
	return true
}

func (h *chatHandler) writeFrame(conn *websocket.Conn, f wsFrame) error {
	if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(f)
}

// wsSink adapts a websocket connection to the engine's stream.Sink port.
type wsSink struct {
	handler *chatHandler
	conn    *websocket.Conn
}

func (s *wsSink) Send(ctx context.Context, c stream.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.handler.writeFrame(s.conn, wsFrame{Type: "chunk", Chunk: &c})
}

func (s *wsSink) Done(_ context.Context, f stream.Final) error {
	return s.handler.writeFrame(s.conn, wsFrame{Type: "done", Final: &f})
}
