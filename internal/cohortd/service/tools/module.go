// Package tools wires the tool invoker with builtin and MCP tools.
package tools

import (
	"context"

	"github.com/cloudwego/eino/components/tool"
	"github.com/kiosk404/cohort/internal/cohortd/service/tools/builtin"
	"github.com/kiosk404/cohort/internal/cohortd/service/tools/domain/service"
	"github.com/kiosk404/cohort/internal/cohortd/service/tools/mcp"
	"github.com/kiosk404/cohort/pkg/logger"
	"github.com/spf13/afero"
)

type Config struct {
	// SandboxRoot is the directory file tools may read; empty disables file access.
	SandboxRoot string
	// MCPConfigFile is an mcp.json path; empty skips MCP.
	MCPConfigFile string
	// Fs overrides the sandbox filesystem.
	Fs afero.Fs
	// Extra tools registered after the builtins.
	Extra []tool.BaseTool
}

type completedConfig struct {
	*Config
}

type CompletedConfig struct {
	*completedConfig
}

func (c *Config) Complete() CompletedConfig {
	if c.Fs == nil {
		c.Fs = builtin.SandboxFs(c.SandboxRoot)
	}
	return CompletedConfig{&completedConfig{c}}
}

type Module struct {
	Invoker service.Invoker
	MCP     *mcp.Pool
}

// New registers builtins, then MCP tools. MCP connection failures are logged
// and leave the builtins usable.
func (c CompletedConfig) New(ctx context.Context) (*Module, error) {
	inv := service.NewInvoker()
	for _, def := range builtin.Definitions(c.Fs, nil) {
		if err := inv.Register(ctx, service.NewDefinedTool(def)); err != nil {
			return nil, err
		}
	}
	if err := inv.Register(ctx, c.Extra...); err != nil {
		return nil, err
	}

	m := &Module{Invoker: inv}
	cfg, err := mcp.LoadConfig(c.MCPConfigFile)
	if err != nil {
		return nil, err
	}
	if len(cfg.Servers) > 0 {
		m.MCP = mcp.NewPool(cfg)
		if err := m.MCP.Connect(ctx); err != nil {
			logger.Warn("[Tools] %v", err)
		}
		if err := inv.Register(ctx, m.MCP.Tools()...); err != nil {
			m.MCP.Close()
			return nil, err
		}
	}
	logger.Info("[Tools] %d tools registered: %v", len(inv.Names()), inv.Names())
	return m, nil
}

func (m *Module) Close() {
	if m.MCP != nil {
		m.MCP.Close()
	}
}
