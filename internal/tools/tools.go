package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
)

// ErrUnknownTool is returned by Registry.Lookup for names no handler claims.
// The engine degrades such calls to a direct continuation instead of failing
// the request.
var ErrUnknownTool = errors.New("unknown tool")

// Declaration describes a tool to the model and to protocol surfaces such as
// the MCP server.
type Declaration struct {
	Name        string
	Description string
	InputSchema *jsonschema.Schema
}

// Call is a single tool invocation requested by the model.
type Call struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

// Invocation is an executed Call together with its outcome. Err is non-nil
// for lookup failures, handler errors, timeouts, and panics; the request
// continues either way.
type Invocation struct {
	Call    Call
	Output  json.RawMessage
	Err     error
	Elapsed time.Duration
}

// Payload returns the model-facing result for this invocation: the tool
// output on success, or a structured error object the model can acknowledge.
func (inv Invocation) Payload() json.RawMessage {
	if inv.Err != nil {
		raw, _ := json.Marshal(map[string]string{
			"tool":  inv.Call.Name,
			"error": inv.Err.Error(),
		})
		return raw
	}
	if len(inv.Output) == 0 {
		return json.RawMessage(`{}`)
	}
	return inv.Output
}

// Handler is the capability interface every tool implements.
type Handler interface {
	Declaration() Declaration
	Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error)
}

// ExecutionError is a handler-level failure converted into data. Stage is
// one of "execute", "timeout", or "panic".
type ExecutionError struct {
	Tool  string
	Stage string
	Err   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool %s %s: %v", e.Tool, e.Stage, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// funcHandler adapts a typed function to the Handler interface.
type funcHandler struct {
	decl Declaration
	fn   func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)
}

func (h *funcHandler) Declaration() Declaration {
	return h.decl
}

func (h *funcHandler) Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	return h.fn(ctx, args)
}

// New creates a Handler from a typed function. The input schema is derived
// from the In struct's json and jsonschema tags; arguments are decoded and
// results encoded through a JSON round trip so tools with different types
// can share one registry.
func New[In, Out any](name, description string, fn func(ctx context.Context, in In) (Out, error)) (Handler, error) {
	if name == "" {
		return nil, errors.New("tool name is required")
	}
	schema, err := jsonschema.For[In](nil)
	if err != nil {
		return nil, fmt.Errorf("derive input schema for %s: %w", name, err)
	}

	return &funcHandler{
		decl: Declaration{
			Name:        name,
			Description: description,
			InputSchema: schema,
		},
		fn: func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
			var in In
			if len(args) > 0 {
				if err := json.Unmarshal(args, &in); err != nil {
					return nil, fmt.Errorf("decode %s arguments: %w", name, err)
				}
			}
			out, err := fn(ctx, in)
			if err != nil {
				return nil, err
			}
			raw, err := json.Marshal(out)
			if err != nil {
				return nil, fmt.Errorf("encode %s result: %w", name, err)
			}
			return raw, nil
		},
	}, nil
}
