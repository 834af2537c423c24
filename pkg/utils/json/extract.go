package json

import (
	"fmt"
	"strings"
)

// UnmarshalLenient decodes the first JSON object embedded in text, which may
// be wrapped in a markdown code fence or surrounded by prose, as model
// output often is.
func UnmarshalLenient(text string, v interface{}) error {
	obj, ok := ExtractObject(text)
	if !ok {
		return fmt.Errorf("no JSON object found in %q", truncate(text, 80))
	}
	return UnmarshalString(obj, v)
}

// ExtractObject returns the outermost balanced {...} span of text.
func ExtractObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
