// Package builtin holds the in-process tools every deployment ships with.
package builtin

import (
	"time"

	"github.com/kiosk404/cohort/internal/cohortd/service/tools/domain/entity"
	"github.com/spf13/afero"
)

// Definitions returns the builtin tools. File tools see only fs, which
// callers root at the sandbox directory.
func Definitions(fs afero.Fs, now func() time.Time) []entity.ToolDefinition {
	if now == nil {
		now = time.Now
	}
	return []entity.ToolDefinition{
		calculatorTool(),
		currentTimeTool(now),
		readFileTool(fs),
		listFilesTool(fs),
		searchFilesTool(fs),
	}
}

// SandboxFs confines file tools to root. An empty root means no file access.
func SandboxFs(root string) afero.Fs {
	if root == "" {
		return afero.NewReadOnlyFs(afero.NewMemMapFs())
	}
	return afero.NewReadOnlyFs(afero.NewBasePathFs(afero.NewOsFs(), root))
}

func stringArg(args map[string]interface{}, name string) string {
	s, _ := args[name].(string)
	return s
}

func intArg(args map[string]interface{}, name string, def int) int {
	switch v := args[name].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return def
}
