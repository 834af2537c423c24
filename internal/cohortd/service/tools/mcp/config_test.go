package mcp

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Empty(t, cfg.Servers)

	path := filepath.Join(t.TempDir(), "mcp.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"mcpServers":{
		"fs":{"command":"npx","args":["-y","server-filesystem","/data"],"toolFilter":["read_file"]},
		"web":{"transport":"sse","url":"http://127.0.0.1:9000/sse"},
		"bad":{"transport":"sse"},
		"odd":{"transport":"grpc"}
	}}`), 0o644))

	cfg, err = LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"bad", "fs", "odd", "web"}, cfg.Names())

	errs := cfg.Validate()
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0].Error(), "mcpServers.bad")
	assert.Contains(t, errs[1].Error(), "unsupported transport")
	assert.Equal(t, TransportStdio, cfg.Servers["fs"].Transport)

	pool := NewPool(cfg)
	infos := pool.Servers()
	require.Len(t, infos, 4)
	assert.Equal(t, "disconnected", infos[0].Status)
	assert.Empty(t, pool.Tools())
	assert.Error(t, pool.Reconnect(t.Context(), "missing"))
	pool.Close()
}
