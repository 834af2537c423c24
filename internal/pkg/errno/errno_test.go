package errno

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKinds(t *testing.T) {
	cause := errors.New("503 overloaded")

	tests := []struct {
		name     string
		err      error
		kind     error
		terminal bool
	}{
		{"configuration", NewConfigurationError("persona cfo", "unknown model %q", "x/y"), ErrConfiguration, true},
		{"provider", &ProviderError{Provider: "openai", Model: "gpt-4o", Reason: "unavailable", Attempts: 3, Cause: cause}, ErrProvider, false},
		{"content policy", &ContentPolicyError{Provider: "openai", Model: "gpt-4o", Message: "refused"}, ErrContentPolicy, true},
		{"permission", &PermissionDeniedError{PersonaID: "analyst", Tool: "read_file"}, ErrPermissionDenied, true},
		{"budget", &ToolCallBudgetExceededError{TaskID: "t1", Limit: 5, Attempt: 6}, ErrToolCallBudgetExceeded, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("subtask s1: %w", tt.err)
			assert.ErrorIs(t, wrapped, tt.kind)
			assert.Equal(t, tt.terminal, IsTerminalSubtaskError(wrapped))
		})
	}
}

func TestProviderErrorUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := &ProviderError{Provider: "ollama", Model: "llama3", Reason: "unavailable", Attempts: 2, Cause: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "after 2 attempt(s)")
}
