// Package server exposes the chat pipeline over HTTP: an SSE streaming
// endpoint, a WebSocket mirror of the same protocol, the minimal
// conversation CRUD the transports need, and health/metrics probes.
package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mubot/mu/internal/chat"
	"github.com/mubot/mu/internal/conversation"
	"github.com/mubot/mu/internal/log"
	"github.com/mubot/mu/internal/stream"
)

// ChatEngine is the orchestration surface the transports consume.
// *chat.Engine satisfies it; tests substitute a scripted fake.
type ChatEngine interface {
	ExecuteStream(ctx context.Context, req chat.Request, sink stream.Sink) (chat.Result, error)
	GenerateTitle(ctx context.Context, message string) (string, error)
}

// Config contains everything the HTTP server needs.
type Config struct {
	Engine ChatEngine         // required
	Store  conversation.Store // required
	Logger log.Logger         // required

	Pool        *pgxpool.Pool // optional: nil disables the db readiness probe
	CORSOrigins []string      // allowed origins; empty disables CORS headers
	TrustProxy  bool          // trust X-Real-IP/X-Forwarded-For
	RateBurst   int           // per-IP burst, 0 = default 60
}

func (c *Config) validate() error {
	if c.Engine == nil {
		return errors.New("chat engine is required")
	}
	if c.Store == nil {
		return errors.New("conversation store is required")
	}
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}

// Server is the HTTP API server.
type Server struct {
	mux *http.ServeMux
}

// New creates a server with all routes configured.
func New(cfg Config) (*Server, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger

	ch := &chatHandler{
		engine: cfg.Engine,
		store:  cfg.Store,
		logger: logger,
	}
	cv := &conversationHandler{
		store:  cfg.Store,
		logger: logger,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/chat/stream", ch.stream)
	mux.HandleFunc("GET /api/v1/chat/ws", ch.websocket)

	mux.HandleFunc("POST /api/v1/conversations", cv.create)
	mux.HandleFunc("GET /api/v1/conversations", cv.list)
	mux.HandleFunc("GET /api/v1/conversations/{id}", cv.get)
	mux.HandleFunc("GET /api/v1/conversations/{id}/messages", cv.messages)
	mux.HandleFunc("PATCH /api/v1/conversations/{id}", cv.rename)
	mux.HandleFunc("DELETE /api/v1/conversations/{id}", cv.remove)

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Middleware stack, outermost first:
	//   Recovery → RequestID → Logging → CORS → RateLimit → Routes
	// RequestID precedes Logging so request_id lands in log attributes;
	// CORS precedes RateLimit so preflight OPTIONS gets proper headers.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Probes and metrics bypass the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /healthz", health)
	topMux.Handle("GET /readyz", readiness(cfg.Pool))
	topMux.Handle("GET /metrics", promhttp.Handler())
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
