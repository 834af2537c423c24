package util

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAge(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		ago  time.Duration
		want string
	}{
		{30 * time.Second, "30s"},
		{5 * time.Minute, "5m"},
		{3 * time.Hour, "3h"},
		{72 * time.Hour, "3d"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Age(now.Add(-tt.ago), now))
	}
	assert.Equal(t, "-", Age(time.Time{}, now))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "a b c", Truncate("a\n b\t c", 10))
	assert.Equal(t, "abcd…", Truncate("abcdefgh", 5))
}

func TestStatusWithoutColor(t *testing.T) {
	assert.Equal(t, "failed", Status("failed", false))
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintJSON(&buf, map[string]int{"a": 1}))
	assert.JSONEq(t, `{"a":1}`, buf.String())
}

func TestNewTable(t *testing.T) {
	table := NewTable("ID", "STATUS")
	table.AddRow("t1", "delivered")
	out := table.String()
	assert.Contains(t, out, "STATUS")
	assert.Contains(t, out, "delivered")
}

func TestRenderMarkdownPlain(t *testing.T) {
	out := RenderMarkdown("# Budget\n\nTotal is **42**.", 80, false)
	assert.Contains(t, out, "Budget")
	assert.Contains(t, out, "42")
}
