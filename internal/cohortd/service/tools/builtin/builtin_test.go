package builtin

import (
	"context"
	"testing"
	"time"

	"github.com/kiosk404/cohort/internal/cohortd/service/tools/domain/entity"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		expr string
		want float64
		err  bool
	}{
		{"1 + 2 * 3", 7, false},
		{"(1200 - 950) / 950 * 100", 26.315789473684212, false},
		{"2 ^ 10", 1024, false},
		{"-sqrt(16) + abs(-1)", -3, false},
		{"max(3, round(2.6))", 3, false},
		{"10 % 4", 2, false},
		{"1 / 0", 0, true},
		{"os.Exit(1)", 0, true},
		{`"text"`, 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := Evaluate(tt.expr)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func byName(t *testing.T, fs afero.Fs, name string) entity.ToolDefinition {
	t.Helper()
	now := func() time.Time { return time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC) }
	for _, d := range Definitions(fs, now) {
		if d.Name == name {
			return d
		}
	}
	t.Fatalf("no builtin %s", name)
	return entity.ToolDefinition{}
}

func TestFileTools(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/reports/q1.md", []byte("Revenue grew.\nRisk: currency exposure\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/reports/q2.md", []byte("Flat quarter.\n"), 0o644))

	out, err := byName(t, fs, "read_file").Handler(ctx, map[string]interface{}{"path": "../reports/q1.md"})
	require.NoError(t, err)
	assert.Equal(t, "Revenue grew.\nRisk: currency exposure\n", out.(map[string]interface{})["content"])

	out, err = byName(t, fs, "list_files").Handler(ctx, map[string]interface{}{"path": "reports"})
	require.NoError(t, err)
	assert.Equal(t, []string{"q1.md", "q2.md"}, out.(map[string]interface{})["entries"])

	out, err = byName(t, fs, "search_files").Handler(ctx, map[string]interface{}{"query": "RISK"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/reports/q1.md:2: Risk: currency exposure"}, out.(map[string]interface{})["matches"])

	_, err = byName(t, fs, "read_file").Handler(ctx, map[string]interface{}{"path": "/missing"})
	assert.Error(t, err)
}

func TestCurrentTime(t *testing.T) {
	def := byName(t, afero.NewMemMapFs(), "current_time")
	out, err := def.Handler(context.Background(), map[string]interface{}{"timezone": "Asia/Tokyo"})
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01T18:30:00+09:00", out.(map[string]interface{})["now"])

	_, err = def.Handler(context.Background(), map[string]interface{}{"timezone": "Mars/Olympus"})
	assert.Error(t, err)
}

func TestSandboxIsReadOnly(t *testing.T) {
	fs := SandboxFs(t.TempDir())
	assert.Error(t, afero.WriteFile(fs, "/x.txt", []byte("x"), 0o644))
}
