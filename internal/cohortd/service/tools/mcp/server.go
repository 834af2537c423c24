package mcp

import (
	"context"
	"fmt"
	"sync"

	mcptool "github.com/cloudwego/eino-ext/components/tool/mcp"
	"github.com/cloudwego/eino/components/tool"
	"github.com/kiosk404/cohort/pkg/logger"
	"github.com/kiosk404/cohort/pkg/version"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// Status is the connection state of one server.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	}
	return "unknown"
}

// server is one MCP connection and the tools it exposes.
type server struct {
	name string
	cfg  *ServerConfig

	mu     sync.RWMutex
	cli    *client.Client
	tools  []tool.BaseTool
	status Status
	err    error
}

func newServer(name string, cfg *ServerConfig) *server {
	return &server{name: name, cfg: cfg}
}

func (s *server) state() (Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status, s.err
}

func (s *server) Tools() []tool.BaseTool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]tool.BaseTool(nil), s.tools...)
}

func (s *server) fail(err error) error {
	s.status = StatusError
	s.err = err
	return fmt.Errorf("mcp server %q: %w", s.name, err)
}

func (s *server) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusConnecting
	s.err = nil

	var (
		cli *client.Client
		err error
	)
	switch s.cfg.Transport {
	case TransportSSE:
		if cli, err = client.NewSSEMCPClient(s.cfg.URL); err == nil {
			// SSE clients open their event stream explicitly; stdio starts on creation.
			err = cli.Start(ctx)
		}
	default:
		cli, err = client.NewStdioMCPClient(s.cfg.Command, s.cfg.Env, s.cfg.Args...)
	}
	if err != nil {
		if cli != nil {
			_ = cli.Close()
		}
		return s.fail(fmt.Errorf("create client: %w", err))
	}

	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{Name: "cohortd", Version: version.Get().GitVersion}
	if _, err := cli.Initialize(ctx, req); err != nil {
		_ = cli.Close()
		return s.fail(fmt.Errorf("initialize: %w", err))
	}

	tools, err := mcptool.GetTools(ctx, &mcptool.Config{Cli: cli, ToolNameList: s.cfg.ToolFilter})
	if err != nil {
		_ = cli.Close()
		return s.fail(fmt.Errorf("list tools: %w", err))
	}

	s.cli = cli
	s.tools = tools
	s.status = StatusConnected
	logger.Info("[MCP] server %s connected with %d tools", s.name, len(tools))
	return nil
}

func (s *server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cli != nil {
		if err := s.cli.Close(); err != nil {
			logger.Warn("[MCP] server %s: close failed: %v", s.name, err)
		}
		s.cli = nil
	}
	s.tools = nil
	s.status = StatusDisconnected
	s.err = nil
}
