package mcp

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/kiosk404/cohort/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// ServerInfo reports one server's state.
type ServerInfo struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Tools  int    `json:"tools"`
	Error  string `json:"error,omitempty"`
}

// Pool holds every configured MCP server.
type Pool struct {
	order   []string
	servers map[string]*server
}

func NewPool(cfg *Config) *Pool {
	p := &Pool{servers: map[string]*server{}}
	for _, name := range cfg.Names() {
		p.order = append(p.order, name)
		p.servers[name] = newServer(name, cfg.Servers[name])
	}
	return p
}

// Connect dials every server concurrently. It fails only when every server fails.
func (p *Pool) Connect(ctx context.Context) error {
	if len(p.order) == 0 {
		return nil
	}
	var g errgroup.Group
	for _, name := range p.order {
		srv := p.servers[name]
		g.Go(func() error {
			if err := srv.Connect(ctx); err != nil {
				logger.Warn("[MCP] %v", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	connected := 0
	for _, srv := range p.servers {
		if st, _ := srv.state(); st == StatusConnected {
			connected++
		}
	}
	logger.Info("[MCP] %d/%d servers connected", connected, len(p.servers))
	if connected == 0 {
		return fmt.Errorf("all %d MCP servers failed to connect", len(p.servers))
	}
	return nil
}

// Tools returns the tools of every connected server in name order.
func (p *Pool) Tools() []tool.BaseTool {
	var all []tool.BaseTool
	for _, name := range p.order {
		all = append(all, p.servers[name].Tools()...)
	}
	return all
}

// Reconnect re-dials one server.
func (p *Pool) Reconnect(ctx context.Context, name string) error {
	srv, ok := p.servers[name]
	if !ok {
		return fmt.Errorf("mcp server %q not configured", name)
	}
	srv.Close()
	return srv.Connect(ctx)
}

func (p *Pool) Servers() []ServerInfo {
	out := make([]ServerInfo, 0, len(p.order))
	for _, name := range p.order {
		srv := p.servers[name]
		st, err := srv.state()
		info := ServerInfo{Name: name, Status: st.String(), Tools: len(srv.Tools())}
		if err != nil {
			info.Error = err.Error()
		}
		out = append(out, info)
	}
	return out
}

func (p *Pool) Close() {
	for _, srv := range p.servers {
		srv.Close()
	}
}
