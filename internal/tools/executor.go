package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mubot/mu/internal/log"
	"github.com/mubot/mu/internal/observability"
)

const (
	// DefaultMaxConcurrent bounds the tool fan-out within one router turn.
	DefaultMaxConcurrent = 4

	// DefaultCallTimeout applies to each invocation independently.
	DefaultCallTimeout = 30 * time.Second
)

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	Registry *Registry
	Logger   log.Logger

	// MaxConcurrent bounds concurrent invocations. Default: DefaultMaxConcurrent.
	MaxConcurrent int

	// CallTimeout is the per-invocation deadline. Default: DefaultCallTimeout.
	CallTimeout time.Duration
}

func (c *ExecutorConfig) validate() error {
	if c.Registry == nil {
		return errors.New("registry is required")
	}
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}

// Executor runs model-requested tool calls against the registry. Calls in
// one batch run concurrently up to the fan-out limit; the caller blocks until
// all of them settle.
type Executor struct {
	registry *Registry
	logger   log.Logger
	limit    int
	timeout  time.Duration
}

// NewExecutor creates an Executor.
func NewExecutor(cfg ExecutorConfig) (*Executor, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid executor config: %w", err)
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	return &Executor{
		registry: cfg.Registry,
		logger:   cfg.Logger,
		limit:    cfg.MaxConcurrent,
		timeout:  cfg.CallTimeout,
	}, nil
}

// Declarations lists the registered tools, for advertising to the model.
func (e *Executor) Declarations() []Declaration {
	return e.registry.Declarations()
}

// ExecuteAll runs every call and returns one Invocation per call, in request
// order. Failures never abort the batch: an unknown name, a handler error, a
// timeout, or a panic all settle as a structured Err on that invocation while
// the rest proceed.
func (e *Executor) ExecuteAll(ctx context.Context, calls []Call) []Invocation {
	if len(calls) == 0 {
		return nil
	}

	out := make([]Invocation, len(calls))

	var g errgroup.Group
	g.SetLimit(e.limit)
	for i, call := range calls {
		g.Go(func() error {
			out[i] = e.execute(ctx, call)
			return nil
		})
	}
	// Closures never return errors; outcomes are carried per invocation.
	_ = g.Wait()

	return out
}

func (e *Executor) execute(ctx context.Context, call Call) (inv Invocation) {
	inv = Invocation{Call: call}
	start := time.Now()
	defer func() {
		inv.Elapsed = time.Since(start)
		status := "ok"
		if inv.Err != nil {
			status = "error"
		}
		observability.ToolExecutions.WithLabelValues(call.Name, status).Inc()
	}()

	h, err := e.registry.Lookup(call.Name)
	if err != nil {
		e.logger.Warn("tool lookup failed", "tool", call.Name, "error", err)
		inv.Err = err
		return inv
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("tool panicked", "tool", call.Name, "panic", r)
			inv.Err = &ExecutionError{Tool: call.Name, Stage: "panic", Err: fmt.Errorf("%v", r)}
		}
	}()

	output, err := h.Execute(callCtx, call.Args)
	if err != nil {
		stage := "execute"
		if errors.Is(err, context.DeadlineExceeded) {
			stage = "timeout"
		}
		e.logger.Warn("tool execution failed",
			"tool", call.Name,
			"stage", stage,
			"error", err,
		)
		inv.Err = &ExecutionError{Tool: call.Name, Stage: stage, Err: err}
		return inv
	}

	e.logger.Debug("tool executed", "tool", call.Name, "elapsed", time.Since(start))
	inv.Output = output
	return inv
}
