// Package errno holds the domain error taxonomy shared by every cohort module.
//
// Kinds are sentinels matched with errors.Is. Typed errors carry the details
// and report their kind through Is, so callers can branch on the kind and
// still log the specifics.
package errno

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is fatal and surfaced before any generation cost is incurred.
	ErrConfiguration = errors.New("configuration error")
	// ErrProvider is transient and retried with backoff before surfacing.
	ErrProvider = errors.New("provider error")
	// ErrContentPolicy is a non-retriable provider refusal.
	ErrContentPolicy = errors.New("content policy violation")
	// ErrPermissionDenied means a tool is outside the persona allow-list.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrToolCallBudgetExceeded means the per-task tool budget is spent.
	ErrToolCallBudgetExceeded = errors.New("tool call budget exceeded")

	ErrTaskNotFound      = errors.New("task not found")
	ErrTaskExists        = errors.New("task already exists")
	ErrPersonaNotFound   = errors.New("persona not found")
	ErrJobNotFound       = errors.New("batch job not found")
	ErrMemberNotFound    = errors.New("batch member not found")
	ErrTaskTerminal      = errors.New("task already terminal")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrAborted           = errors.New("aborted")
	ErrSubtaskTimeout    = errors.New("subtask timed out")
	ErrReviewUnavailable = errors.New("review unavailable")
	ErrEngineClosed      = errors.New("engine closed")
)

// ConfigurationError reports a malformed persona graph, an unknown model id
// or any other setup problem.
type ConfigurationError struct {
	Subject string
	Reason  string
	Cause   error
}

// NewConfigurationError builds a ConfigurationError for subject.
func NewConfigurationError(subject, format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Subject: subject, Reason: fmt.Sprintf(format, args...)}
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("configuration error: %s: %s", e.Subject, e.Reason)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error        { return e.Cause }
func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// ProviderError is a transient backend failure that survived the retry policy.
type ProviderError struct {
	Provider string
	Model    string
	Reason   string
	Attempts int
	Cause    error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error: %s/%s (%s) after %d attempt(s): %v",
		e.Provider, e.Model, e.Reason, e.Attempts, e.Cause)
}

func (e *ProviderError) Unwrap() error        { return e.Cause }
func (e *ProviderError) Is(target error) bool { return target == ErrProvider }

// ContentPolicyError is a provider refusal that must not be retried.
type ContentPolicyError struct {
	Provider string
	Model    string
	Message  string
}

func (e *ContentPolicyError) Error() string {
	return fmt.Sprintf("content policy violation: %s/%s: %s", e.Provider, e.Model, e.Message)
}

func (e *ContentPolicyError) Is(target error) bool { return target == ErrContentPolicy }

// PermissionDeniedError reports a tool call outside the persona allow-list.
type PermissionDeniedError struct {
	PersonaID string
	Tool      string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("permission denied: persona %q may not call tool %q", e.PersonaID, e.Tool)
}

func (e *PermissionDeniedError) Is(target error) bool { return target == ErrPermissionDenied }

// ToolCallBudgetExceededError is returned on the first attempt past the per-task cap.
type ToolCallBudgetExceededError struct {
	TaskID  string
	Limit   int
	Attempt int
}

func (e *ToolCallBudgetExceededError) Error() string {
	return fmt.Sprintf("tool call budget exceeded: task %q attempt %d exceeds limit %d", e.TaskID, e.Attempt, e.Limit)
}

func (e *ToolCallBudgetExceededError) Is(target error) bool {
	return target == ErrToolCallBudgetExceeded
}

// IsTerminalSubtaskError reports whether err ends a subtask without retry.
func IsTerminalSubtaskError(err error) bool {
	return errors.Is(err, ErrPermissionDenied) ||
		errors.Is(err, ErrToolCallBudgetExceeded) ||
		errors.Is(err, ErrContentPolicy) ||
		errors.Is(err, ErrConfiguration)
}
