// Package mcp discovers tools exposed by external MCP servers.
package mcp

import (
	"fmt"
	"os"
	"sort"

	"github.com/kiosk404/cohort/pkg/utils/json"
)

const (
	TransportStdio = "stdio"
	TransportSSE   = "sse"
)

// Config is the mcp.json file, in the Claude Desktop layout:
//
//	{"mcpServers": {"fs": {"command": "npx", "args": ["-y", "@modelcontextprotocol/server-filesystem", "/data"]}}}
type Config struct {
	Servers map[string]*ServerConfig `json:"mcpServers"`
}

// ServerConfig is one MCP server.
type ServerConfig struct {
	// Transport is stdio (default) or sse.
	Transport string   `json:"transport,omitempty"`
	Command   string   `json:"command,omitempty"`
	Args      []string `json:"args,omitempty"`
	// Env entries are KEY=VALUE.
	Env []string `json:"env,omitempty"`
	URL string   `json:"url,omitempty"`
	// ToolFilter limits the exposed tools; empty exposes all.
	ToolFilter []string `json:"toolFilter,omitempty"`
}

// LoadConfig reads path. A missing file is an empty config.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{Servers: map[string]*ServerConfig{}}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read MCP config %q: %w", path, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse MCP config %q: %w", path, err)
	}
	if cfg.Servers == nil {
		cfg.Servers = map[string]*ServerConfig{}
	}
	return cfg, nil
}

// Validate fills the default transport and reports incomplete servers.
func (c *Config) Validate() []error {
	var errs []error
	for _, name := range c.Names() {
		srv := c.Servers[name]
		if srv.Transport == "" {
			srv.Transport = TransportStdio
		}
		switch srv.Transport {
		case TransportStdio:
			if srv.Command == "" {
				errs = append(errs, fmt.Errorf("mcpServers.%s: command is required for stdio transport", name))
			}
		case TransportSSE:
			if srv.URL == "" {
				errs = append(errs, fmt.Errorf("mcpServers.%s: url is required for sse transport", name))
			}
		default:
			errs = append(errs, fmt.Errorf("mcpServers.%s: unsupported transport %q", name, srv.Transport))
		}
	}
	return errs
}

// Names returns the server names sorted.
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.Servers))
	for n := range c.Servers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
