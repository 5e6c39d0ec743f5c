package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/skribblez2718/penny-sub000/internal/engine"
	"github.com/skribblez2718/penny-sub000/internal/taskstate"
)

// Engine is the task API the tools call. *engine.Engine implements it.
type Engine interface {
	Start(ctx context.Context, workflowID, taskID string, metadata map[string]string) (*engine.Outcome, error)
	Resume(ctx context.Context, taskID string) (*engine.Outcome, error)
	Answer(ctx context.Context, taskID string, answers map[string]string) (*engine.Outcome, error)
	Abort(ctx context.Context, taskID, reason string) (*engine.Outcome, error)
	Status(ctx context.Context, taskID string) (*engine.Outcome, error)
	List(ctx context.Context) ([]*taskstate.TaskInstance, error)
	Workflows() []string
}

// Server is the penny MCP server.
type Server struct {
	mcp          *mcp.Server
	engine       Engine
	metrics      *Metrics
	toolRegistry *ToolRegistry
	logger       *zap.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "penny")
	Name string

	// Version is the server version (default: "dev")
	Version string

	// Logger for structured logging
	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "penny",
		Version: "dev",
		Logger:  zap.NewNop(),
	}
}

// NewServer creates an MCP server over eng.
func NewServer(cfg *Config, eng Engine) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if eng == nil {
		return nil, fmt.Errorf("engine is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	name, version := cfg.Name, cfg.Version
	if name == "" {
		name = "penny"
	}
	if version == "" {
		version = "dev"
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    name,
			Version: version,
		},
		nil,
	)

	s := &Server{
		mcp:          mcpServer,
		engine:       eng,
		metrics:      NewMetrics(logger),
		toolRegistry: NewToolRegistry(),
		logger:       logger,
	}

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	return s, nil
}

// Tools returns the registered tool names.
func (s *Server) Tools() []string {
	return s.toolRegistry.ListNames()
}

// Run starts the MCP server on the stdio transport.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	return s.serve(ctx, &mcp.StdioTransport{})
}

func (s *Server) serve(ctx context.Context, transport mcp.Transport) error {
	if err := s.mcp.Run(ctx, transport); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}
