package builtin

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/kiosk404/cohort/internal/cohortd/service/tools/domain/entity"
	"github.com/spf13/afero"
)

const (
	maxReadBytes   = 64 << 10
	maxListEntries = 200
	maxMatches     = 50
)

func currentTimeTool(now func() time.Time) entity.ToolDefinition {
	return entity.ToolDefinition{
		Name:        "current_time",
		Description: "Return the current date and time in RFC 3339, optionally in an IANA time zone.",
		Parameters: []entity.ParameterDef{
			{Name: "timezone", Type: "string", Description: "e.g. Europe/Berlin; defaults to UTC"},
		},
		Handler: func(_ context.Context, args map[string]interface{}) (interface{}, error) {
			loc := time.UTC
			if tz := stringArg(args, "timezone"); tz != "" {
				l, err := time.LoadLocation(tz)
				if err != nil {
					return nil, fmt.Errorf("unknown time zone %q", tz)
				}
				loc = l
			}
			return map[string]interface{}{"now": now().In(loc).Format(time.RFC3339)}, nil
		},
	}
}

func cleanPath(p string) string {
	return path.Clean("/" + strings.TrimSpace(p))
}

func readFileTool(fs afero.Fs) entity.ToolDefinition {
	return entity.ToolDefinition{
		Name:        "read_file",
		Description: "Read a text file from the shared workspace. Large files are truncated.",
		Parameters: []entity.ParameterDef{
			{Name: "path", Type: "string", Description: "path relative to the workspace root", Required: true},
		},
		Handler: func(_ context.Context, args map[string]interface{}) (interface{}, error) {
			f, err := fs.Open(cleanPath(stringArg(args, "path")))
			if err != nil {
				return nil, err
			}
			defer f.Close()
			data, err := io.ReadAll(io.LimitReader(f, maxReadBytes+1))
			if err != nil {
				return nil, err
			}
			truncated := len(data) > maxReadBytes
			if truncated {
				data = data[:maxReadBytes]
			}
			return map[string]interface{}{"content": string(data), "truncated": truncated}, nil
		},
	}
}

func listFilesTool(fs afero.Fs) entity.ToolDefinition {
	return entity.ToolDefinition{
		Name:        "list_files",
		Description: "List the entries of a workspace directory.",
		Parameters: []entity.ParameterDef{
			{Name: "path", Type: "string", Description: "directory relative to the workspace root; defaults to the root"},
		},
		Handler: func(_ context.Context, args map[string]interface{}) (interface{}, error) {
			infos, err := afero.ReadDir(fs, cleanPath(stringArg(args, "path")))
			if err != nil {
				return nil, err
			}
			entries := make([]string, 0, len(infos))
			for _, fi := range infos {
				if len(entries) == maxListEntries {
					break
				}
				name := fi.Name()
				if fi.IsDir() {
					name += "/"
				}
				entries = append(entries, name)
			}
			return map[string]interface{}{"entries": entries, "total": len(infos)}, nil
		},
	}
}

func searchFilesTool(fs afero.Fs) entity.ToolDefinition {
	return entity.ToolDefinition{
		Name:        "search_files",
		Description: "Search workspace text files for lines containing a phrase (case-insensitive).",
		Parameters: []entity.ParameterDef{
			{Name: "query", Type: "string", Description: "phrase to look for", Required: true},
			{Name: "path", Type: "string", Description: "directory to search; defaults to the root"},
			{Name: "limit", Type: "integer", Description: "maximum matches, at most 50"},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			query := strings.ToLower(stringArg(args, "query"))
			if query == "" {
				return nil, fmt.Errorf("query is empty")
			}
			limit := intArg(args, "limit", maxMatches)
			if limit <= 0 || limit > maxMatches {
				limit = maxMatches
			}

			var matches []string
			err := afero.Walk(fs, cleanPath(stringArg(args, "path")), func(p string, fi os.FileInfo, err error) error {
				if err != nil {
					return err
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if fi.IsDir() || fi.Size() > maxReadBytes*16 {
					return nil
				}
				f, err := fs.Open(p)
				if err != nil {
					return nil
				}
				defer f.Close()
				sc := bufio.NewScanner(f)
				for line := 1; sc.Scan(); line++ {
					if strings.Contains(strings.ToLower(sc.Text()), query) {
						matches = append(matches, fmt.Sprintf("%s:%d: %s", p, line, strings.TrimSpace(sc.Text())))
						if len(matches) == limit {
							return io.EOF
						}
					}
				}
				return nil
			})
			if err != nil && err != io.EOF {
				return nil, err
			}
			return map[string]interface{}{"matches": matches}, nil
		},
	}
}
