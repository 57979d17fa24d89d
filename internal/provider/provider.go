// Package provider implements the chat engine's LLM port on top of Genkit.
//
// The adapter owns the translation in both directions: conversation turns
// and tool results become Genkit messages, and Genkit's streamed chunks and
// returned tool requests become the engine's deltas and tool calls. Tool
// execution stays with the engine: generation runs with returned tool
// requests so the model can ask for a tool without Genkit running it.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"google.golang.org/genai"

	"github.com/mubot/mu/internal/chat"
	"github.com/mubot/mu/internal/log"
	"github.com/mubot/mu/internal/tools"
)

// Config assembles a Client.
type Config struct {
	Genkit *genkit.Genkit
	// ModelName is the provider-qualified model, e.g. "googleai/gemini-2.5-flash".
	ModelName string
	// Registry's tools are registered with Genkit at construction so the
	// model sees their declarations. Optional.
	Registry *tools.Registry

	Temperature float32
	MaxTokens   int
	Logger      log.Logger
}

// Client calls the model through Genkit. It is stateless per request and
// safe for concurrent use.
type Client struct {
	g         *genkit.Genkit
	modelName string
	refs      map[string]ai.ToolRef
	temp      float32
	maxTokens int
	logger    log.Logger
}

// New creates a Client and registers the registry's tools with Genkit.
// Registration is name-keyed and happens once; two Clients sharing one
// Genkit instance must not share a registry.
func New(cfg Config) (*Client, error) {
	if cfg.Genkit == nil {
		return nil, errors.New("genkit instance is required")
	}
	if cfg.ModelName == "" {
		return nil, errors.New("model name is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}

	c := &Client{
		g:         cfg.Genkit,
		modelName: cfg.ModelName,
		refs:      make(map[string]ai.ToolRef),
		temp:      cfg.Temperature,
		maxTokens: cfg.MaxTokens,
		logger:    cfg.Logger,
	}

	if cfg.Registry != nil {
		for _, name := range cfg.Registry.Names() {
			handler, err := cfg.Registry.Lookup(name)
			if err != nil {
				return nil, fmt.Errorf("registry lookup %q: %w", name, err)
			}
			decl := handler.Declaration()
			// The handler delegates back to the registry tool so direct
			// Genkit callers get real behavior, but generation runs with
			// returned tool requests and never reaches it.
			tool := genkit.DefineTool(cfg.Genkit, decl.Name, decl.Description,
				func(toolCtx *ai.ToolContext, input map[string]any) (json.RawMessage, error) {
					raw, err := json.Marshal(input)
					if err != nil {
						return nil, fmt.Errorf("encoding tool input: %w", err)
					}
					return handler.Execute(toolCtx.Context, raw)
				})
			c.refs[decl.Name] = tool
		}
		c.logger.Debug("registered tools with genkit", "count", len(c.refs))
	}

	return c, nil
}

// Generate implements chat.LLMClient. When onDelta is non-nil the response
// streams through it; Text always carries the complete response afterwards.
func (c *Client) Generate(ctx context.Context, req chat.LLMRequest, onDelta chat.StreamCallback) (chat.LLMReply, error) {
	msgs := buildMessages(req)

	opts := []ai.GenerateOption{
		ai.WithModelName(c.modelName),
		ai.WithMessages(msgs...),
		ai.WithConfig(c.generationConfig()),
	}
	if req.System != "" {
		opts = append(opts, ai.WithSystem(req.System))
	}

	if len(req.Tools) > 0 {
		refs := make([]ai.ToolRef, 0, len(req.Tools))
		for _, decl := range req.Tools {
			ref, ok := c.refs[decl.Name]
			if !ok {
				// A declaration the client never registered cannot be
				// offered; skip it rather than fail the call.
				c.logger.Warn("skipping undeclared tool", "tool", decl.Name)
				continue
			}
			refs = append(refs, ref)
		}
		if len(refs) > 0 {
			// The engine owns tool execution; Genkit hands the requests
			// back instead of dispatching them.
			opts = append(opts, ai.WithTools(refs...), ai.WithReturnToolRequests(true))
		}
	}

	if onDelta != nil {
		opts = append(opts, ai.WithStreaming(func(ctx context.Context, chunk *ai.ModelResponseChunk) error {
			return onDelta(ctx, chunk.Text())
		}))
	}

	resp, err := genkit.Generate(ctx, c.g, opts...)
	if err != nil {
		return chat.LLMReply{}, fmt.Errorf("generating response: %w", err)
	}

	return buildReply(resp)
}

func (c *Client) generationConfig() *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if c.temp > 0 {
		cfg.Temperature = genai.Ptr(c.temp)
	}
	if c.maxTokens > 0 {
		cfg.MaxOutputTokens = int32(c.maxTokens)
	}
	return cfg
}

// buildMessages converts the engine's request into Genkit messages: the
// conversation turns, then, when tools already ran, the request/response
// exchange the finalizing call carries.
//
// System rows never appear here; the history assembler filters them and the
// composed system prompt travels separately via WithSystem.
func buildMessages(req chat.LLMRequest) []*ai.Message {
	msgs := make([]*ai.Message, 0, len(req.Messages)+2)
	for _, m := range req.Messages {
		switch m.Role {
		case chat.RoleUser:
			msgs = append(msgs, ai.NewUserMessage(ai.NewTextPart(m.Content)))
		case chat.RoleAssistant:
			msgs = append(msgs, ai.NewModelMessage(ai.NewTextPart(m.Content)))
		case chat.RoleSystem:
			// Filtered upstream; dropped defensively if one slips through.
		}
	}

	if len(req.ToolResults) > 0 {
		reqParts := make([]*ai.Part, 0, len(req.ToolResults))
		respParts := make([]*ai.Part, 0, len(req.ToolResults))
		for _, inv := range req.ToolResults {
			reqParts = append(reqParts, ai.NewToolRequestPart(&ai.ToolRequest{
				Name:  inv.Call.Name,
				Ref:   inv.Call.ID,
				Input: decodeJSON(inv.Call.Args),
			}))
			respParts = append(respParts, ai.NewToolResponsePart(&ai.ToolResponse{
				Name:   inv.Call.Name,
				Ref:    inv.Call.ID,
				Output: decodeJSON(inv.Payload()),
			}))
		}
		msgs = append(msgs,
			&ai.Message{Role: ai.RoleModel, Content: reqParts},
			&ai.Message{Role: ai.RoleTool, Content: respParts},
		)
	}

	return msgs
}

// buildReply converts a Genkit response into the engine's reply shape.
func buildReply(resp *ai.ModelResponse) (chat.LLMReply, error) {
	reply := chat.LLMReply{Text: resp.Text()}

	for _, tr := range resp.ToolRequests() {
		args, err := json.Marshal(tr.Input)
		if err != nil {
			return chat.LLMReply{}, fmt.Errorf("encoding tool request arguments: %w", err)
		}
		reply.ToolCalls = append(reply.ToolCalls, tools.Call{
			ID:   tr.Ref,
			Name: tr.Name,
			Args: args,
		})
	}

	return reply, nil
}

// decodeJSON turns raw JSON into the any-typed value Genkit parts carry.
// Undecodable input degrades to the raw string so nothing is lost.
func decodeJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}
