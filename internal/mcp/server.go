// Package mcp exposes the tool registry over the Model Context Protocol,
// so external MCP clients can call the same tools the chat engine uses.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mubot/mu/internal/log"
	"github.com/mubot/mu/internal/tools"
)

// Config holds MCP server configuration.
type Config struct {
	Name     string
	Version  string
	Registry *tools.Registry
	Logger   log.Logger
}

func (c *Config) validate() error {
	if c.Name == "" {
		return errors.New("server name is required")
	}
	if c.Version == "" {
		return errors.New("server version is required")
	}
	if c.Registry == nil {
		return errors.New("tool registry is required")
	}
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}

// Server wraps the MCP SDK server around the tool registry.
type Server struct {
	mcpServer *mcp.Server
	logger    log.Logger
}

// NewServer creates an MCP server advertising every registered tool.
func NewServer(cfg Config) (*Server, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, nil)

	s := &Server{mcpServer: mcpServer, logger: cfg.Logger}
	for _, decl := range cfg.Registry.Declarations() {
		handler, err := cfg.Registry.Lookup(decl.Name)
		if err != nil {
			return nil, fmt.Errorf("registering %s: %w", decl.Name, err)
		}
		s.addTool(decl, handler)
	}
	return s, nil
}

// addTool bridges one registry handler to the MCP tool surface. Handler
// failures become error results rather than protocol errors, so the client
// model sees what went wrong and can adjust.
func (s *Server) addTool(decl tools.Declaration, handler tools.Handler) {
	tool := &mcp.Tool{
		Name:        decl.Name,
		Description: decl.Description,
		InputSchema: decl.InputSchema,
	}

	mcp.AddTool(s.mcpServer, tool, func(ctx context.Context, _ *mcp.CallToolRequest, in map[string]any) (*mcp.CallToolResult, any, error) {
		args, err := json.Marshal(in)
		if err != nil {
			return nil, nil, fmt.Errorf("encoding %s arguments: %w", decl.Name, err)
		}

		out, err := handler.Execute(ctx, args)
		if err != nil {
			s.logger.Warn("tool call failed", "tool", decl.Name, "error", err)
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
				IsError: true,
			}, nil, nil
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(out)}},
		}, nil, nil
	})
}

// Run serves the MCP protocol on the given transport until ctx is done.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	return s.mcpServer.Run(ctx, transport)
}
