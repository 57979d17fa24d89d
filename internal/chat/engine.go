package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/mubot/mu/internal/log"
	"github.com/mubot/mu/internal/observability"
	"github.com/mubot/mu/internal/stream"
	"github.com/mubot/mu/internal/tools"
)

// fallbackResponseMessage replaces an empty provider response so the client
// never receives a silent stream.
const fallbackResponseMessage = "I could not generate a response. Please try rephrasing your message."

const (
	// DefaultCallTimeout bounds each provider attempt independently.
	DefaultCallTimeout = 2 * time.Minute

	// DefaultPersistRetries is how many times a failed message save is
	// retried before the turn is abandoned to observability.
	DefaultPersistRetries = 2

	// DefaultPersistBackoff is the delay before the first save retry;
	// it doubles per attempt.
	DefaultPersistBackoff = 100 * time.Millisecond

	persistAttemptTimeout = 10 * time.Second
)

// Config assembles an Engine.
type Config struct {
	LLM      LLMClient
	Store    ConversationStore
	Personas PersonaSource
	Tools    ToolRunner // optional; nil answers every request directly
	Logger   log.Logger

	Budget  TokenBudget
	Retry   RetryConfig
	Circuit CircuitBreakerConfig
	Limiter *rate.Limiter // optional; nil gets a default limiter

	CallTimeout    time.Duration
	PersistRetries int
	PersistBackoff time.Duration
}

func (c *Config) validate() error {
	if c.LLM == nil {
		return errors.New("llm client is required")
	}
	if c.Store == nil {
		return errors.New("conversation store is required")
	}
	if c.Personas == nil {
		return errors.New("persona source is required")
	}
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}

// Engine runs one request through the full pipeline: assemble history and
// persona, route, execute requested tools, finalize, frame the stream, and
// persist the turn before the terminal signal.
//
// An Engine holds no per-request state and is safe for concurrent use; each
// call builds its context explicitly and passes it by value through the
// stages, so one request's persona or history can never leak into another's.
type Engine struct {
	llm      LLMClient
	store    ConversationStore
	personas PersonaSource
	tools    ToolRunner
	logger   log.Logger

	budget  TokenBudget
	retry   RetryConfig
	breaker *CircuitBreaker
	limiter *rate.Limiter

	callTimeout    time.Duration
	persistRetries int
	persistBackoff time.Duration
}

// NewEngine creates an Engine, applying defaults for unset tuning fields.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	if cfg.Budget.MaxHistoryTokens <= 0 {
		cfg.Budget = DefaultTokenBudget()
	}
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.Retry.InitialInterval <= 0 {
		cfg.Retry.InitialInterval = DefaultRetryConfig().InitialInterval
	}
	if cfg.Retry.MaxInterval <= 0 {
		cfg.Retry.MaxInterval = DefaultRetryConfig().MaxInterval
	}
	if cfg.Limiter == nil {
		cfg.Limiter = rate.NewLimiter(10, 30)
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.PersistRetries <= 0 {
		cfg.PersistRetries = DefaultPersistRetries
	}
	if cfg.PersistBackoff <= 0 {
		cfg.PersistBackoff = DefaultPersistBackoff
	}

	return &Engine{
		llm:            cfg.LLM,
		store:          cfg.Store,
		personas:       cfg.Personas,
		tools:          cfg.Tools,
		logger:         cfg.Logger,
		budget:         cfg.Budget,
		retry:          cfg.Retry,
		breaker:        NewCircuitBreaker(cfg.Circuit),
		limiter:        cfg.Limiter,
		callTimeout:    cfg.CallTimeout,
		persistRetries: cfg.PersistRetries,
		persistBackoff: cfg.PersistBackoff,
	}, nil
}

// streamState is the per-request plumbing between the framer and the sink.
type streamState struct {
	framer  *stream.Framer
	chunks  int   // chunks delivered to the sink
	sendErr error // first sink failure, set when the client goes away
}

// ExecuteStream runs a request and streams the framed response through sink.
// The returned Result carries the complete response text; it is valid only
// when the error is nil.
func (e *Engine) ExecuteStream(ctx context.Context, req Request, sink stream.Sink) (Result, error) {
	start := time.Now()
	observability.ActiveStreams.Inc()
	defer observability.ActiveStreams.Dec()
	defer func() {
		observability.RequestDuration.Observe(time.Since(start).Seconds())
	}()

	res, err := e.run(ctx, req, sink)
	observability.RequestCount.WithLabelValues(outcomeLabel(err)).Inc()
	return res, err
}

// Execute runs a request without a transport, returning only the final
// Result. Used by callers that do not stream, such as the CLI.
func (e *Engine) Execute(ctx context.Context, req Request) (Result, error) {
	return e.ExecuteStream(ctx, req, nopSink{})
}

func (e *Engine) run(ctx context.Context, req Request, sink stream.Sink) (Result, error) {
	if sink == nil {
		return Result{}, errors.New("stream sink is required")
	}
	if req.ConversationID == uuid.Nil {
		return Result{}, errors.New("conversation id is required")
	}
	if strings.TrimSpace(req.Message) == "" {
		return Result{}, ErrEmptyMessage
	}

	logger := e.logger.With("conversation_id", req.ConversationID)

	// Resolved once; every provider call in this request uses it. Routing
	// and finalizing must never see different prompts.
	p := e.personas.Resolve(ctx, req.UserID, req.PersonaID)

	history, err := e.store.History(ctx, req.ConversationID)
	if err != nil {
		return Result{}, fmt.Errorf("load history: %w", err)
	}
	turns, err := AssembleHistory(history, e.budget.MaxHistoryTokens)
	if err != nil {
		return Result{}, err
	}

	userMsg := NewMessage(req.ConversationID, RoleUser, req.Message)
	msgs := append(turns, userMsg)

	st := &streamState{}
	st.framer = stream.NewFramer(func(c stream.Chunk) error {
		if err := sink.Send(ctx, c); err != nil {
			st.sendErr = err
			return err
		}
		st.chunks++
		observability.StreamChunks.Inc()
		return nil
	})

	var decls []tools.Declaration
	if e.tools != nil && !req.DisableTools {
		decls = e.tools.Declarations()
	}

	var answer strings.Builder

	// Routing: the model either answers directly, collapsing this call
	// into the final answer, or requests tools.
	reply, text, err := e.generate(ctx, LLMRequest{
		System:   p.SystemPrompt,
		Messages: msgs,
		Tools:    decls,
	}, st)
	if err != nil {
		return Result{}, e.abort(ctx, req, userMsg, text, st, err)
	}

	if len(reply.ToolCalls) > 0 && len(decls) > 0 {
		// Text streamed before the tool request stays part of the answer
		// once the client has seen it. Fragments still buffered are strays
		// from the routing turn and are dropped.
		if st.framer.Emitted() {
			answer.WriteString(text)
		} else {
			st.framer.Reset()
		}

		logger.Debug("routing selected tools", "calls", len(reply.ToolCalls))
		invs := e.tools.ExecuteAll(ctx, reply.ToolCalls)
		for _, inv := range invs {
			if inv.Err != nil {
				logger.Warn("tool settled with error",
					"tool", inv.Call.Name, "error", inv.Err)
			}
		}

		// Finalizing: same persona, tool results appended, no tools
		// offered so the model must answer.
		reply, text, err = e.generate(ctx, LLMRequest{
			System:      p.SystemPrompt,
			Messages:    msgs,
			ToolResults: invs,
		}, st)
		if err != nil {
			return Result{}, e.abort(ctx, req, userMsg, answer.String()+text, st, err)
		}
	}
	answer.WriteString(text)

	if answer.Len() == 0 {
		logger.Warn("provider returned empty response, using fallback")
		if err := st.framer.Push(fallbackResponseMessage); err != nil {
			return Result{}, e.abort(ctx, req, userMsg, answer.String(), st, err)
		}
		answer.WriteString(fallbackResponseMessage)
	}

	if err := st.framer.Flush(); err != nil {
		return Result{}, e.abort(ctx, req, userMsg, answer.String(), st, err)
	}

	// The save completes (or exhausts its retries) strictly before the
	// terminal signal. A client that closes on "done" must never race a
	// pending save.
	assistantMsg := NewMessage(req.ConversationID, RoleAssistant, answer.String())
	if err := e.persist(ctx, req.ConversationID, userMsg, assistantMsg); err != nil {
		logger.Error("turn not persisted, sending terminal signal anyway",
			"message_id", assistantMsg.ID, "error", err)
	}

	final := stream.Final{
		ConversationID: req.ConversationID,
		MessageID:      assistantMsg.ID,
		Text:           answer.String(),
	}
	if err := sink.Done(ctx, final); err != nil {
		// The turn is saved; a client that vanished between the last chunk
		// and the terminal signal loses nothing.
		logger.Warn("terminal signal not delivered", "error", err)
	}

	logger.Debug("request complete",
		"message_id", assistantMsg.ID,
		"chunks", st.chunks,
		"chars", answer.Len(),
	)

	return Result{
		ConversationID: req.ConversationID,
		MessageID:      assistantMsg.ID,
		Text:           answer.String(),
	}, nil
}

// generate runs one provider call with rate limiting, circuit breaking, and
// a bounded retry for transient failures. Retrying is only safe while the
// client has seen nothing from the failed attempt: emitted chunks cannot be
// recalled, so a failure after emission surfaces immediately. The returned
// string is the text this call contributed to the stream (on failure, the
// partial text of the last attempt).
func (e *Engine) generate(ctx context.Context, req LLMRequest, st *streamState) (LLMReply, string, error) {
	var lastErr error
	var partial strings.Builder
	delay := e.retry.InitialInterval

	for attempt := 0; attempt <= e.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			observability.ProviderRetries.Inc()
			e.logger.Info("retrying provider call", "attempt", attempt+1, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return LLMReply{}, partial.String(), ctx.Err()
			}
			delay = min(delay*2, e.retry.MaxInterval)
		}

		if err := e.limiter.Wait(ctx); err != nil {
			return LLMReply{}, partial.String(), err
		}
		if err := e.breaker.Allow(); err != nil {
			return LLMReply{}, partial.String(), fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
		}

		cp := st.framer.Checkpoint()
		chunksBefore := st.chunks
		partial.Reset()

		deltas := 0
		onDelta := func(_ context.Context, delta string) error {
			if delta == "" {
				return nil
			}
			deltas++
			partial.WriteString(delta)
			return st.framer.Push(delta)
		}

		callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
		reply, err := e.llm.Generate(callCtx, req, onDelta)
		cancel()

		if err == nil {
			e.breaker.Success()
			// A reply that arrived unstreamed still flows through the
			// framer so the transport sees one pipeline.
			if deltas == 0 && reply.Text != "" && len(reply.ToolCalls) == 0 {
				if perr := st.framer.Push(reply.Text); perr != nil {
					return LLMReply{}, partial.String(), perr
				}
				partial.WriteString(reply.Text)
			}
			return reply, partial.String(), nil
		}

		e.breaker.Failure()

		if st.sendErr != nil || ctx.Err() != nil {
			// The client went away or the request was canceled; not a
			// provider failure.
			return LLMReply{}, partial.String(), err
		}
		lastErr = err
		if !retryableError(err) {
			break
		}
		if st.chunks != chunksBefore {
			e.logger.Warn("provider failed after chunks were sent, not retrying", "error", err)
			break
		}
		st.framer.Restore(cp)
	}

	return LLMReply{}, partial.String(), fmt.Errorf("%w: %w", ErrProviderUnavailable, lastErr)
}

// abort cleans up a failed request. A client disconnect still gets the
// partial turn persisted; provider failures surface without saving a half
// answer the client was told is an error.
func (e *Engine) abort(ctx context.Context, req Request, userMsg Message, partial string, st *streamState, cause error) error {
	if st.sendErr == nil && ctx.Err() == nil {
		return cause
	}
	if partial == "" {
		return cause
	}

	assistant := NewMessage(req.ConversationID, RoleAssistant, partial)
	if err := e.persist(ctx, req.ConversationID, userMsg, assistant); err != nil {
		e.logger.Error("partial turn not persisted after disconnect",
			"conversation_id", req.ConversationID, "error", err)
	} else {
		e.logger.Info("persisted partial turn after disconnect",
			"conversation_id", req.ConversationID, "message_id", assistant.ID)
	}
	return cause
}

// persist appends the turn with bounded backoff retries. It deliberately
// survives the caller's cancellation: a disconnected client must not be able
// to abort the save.
func (e *Engine) persist(ctx context.Context, conversationID uuid.UUID, msgs ...Message) error {
	pctx := context.WithoutCancel(ctx)
	delay := e.persistBackoff
	var lastErr error

	for attempt := 0; attempt <= e.persistRetries; attempt++ {
		if attempt > 0 {
			observability.PersistenceRetries.Inc()
			time.Sleep(delay)
			delay *= 2
		}

		actx, cancel := context.WithTimeout(pctx, persistAttemptTimeout)
		err := e.store.Append(actx, conversationID, msgs...)
		cancel()
		if err == nil {
			if attempt > 0 {
				e.logger.Info("persisted after retry",
					"conversation_id", conversationID, "attempts", attempt+1)
			}
			return nil
		}
		lastErr = err
		e.logger.Warn("persist attempt failed",
			"conversation_id", conversationID,
			"attempt", attempt+1,
			"error", err,
		)
	}

	observability.PersistenceFailures.Inc()
	return fmt.Errorf("%w: %w", ErrPersistenceFailed, lastErr)
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrHistoryCorrupt):
		return "history_corrupt"
	case errors.Is(err, ErrProviderUnavailable):
		return "provider_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}

// nopSink discards the stream; Execute uses it to run the pipeline for the
// Result alone.
type nopSink struct{}

func (nopSink) Send(context.Context, stream.Chunk) error { return nil }
func (nopSink) Done(context.Context, stream.Final) error { return nil }
