package entity

import "time"

// BatchPrompt is one member of a deferred submission.
type BatchPrompt struct {
	// CustomID ties the result back to the member request.
	CustomID     string    `json:"custom_id"`
	TaskID       string    `json:"task_id"`
	PersonaID    string    `json:"persona_id"`
	Ref          ModelRef  `json:"ref"`
	Reasoning    Reasoning `json:"reasoning"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	Prompt       string    `json:"prompt"`
	JSON         bool      `json:"json,omitempty"`
}

// BatchHandle identifies a submitted job at the provider.
type BatchHandle struct {
	ProviderID  string    `json:"provider_id"`
	RemoteID    string    `json:"remote_id"`
	SubmittedAt time.Time `json:"submitted_at"`
	// Native is false when the deferred in-process client serves the job.
	Native bool `json:"native"`
}

// RemoteState is the provider's own view of a batch job.
type RemoteState string

const (
	RemoteStateValidating RemoteState = "validating"
	RemoteStateInProgress RemoteState = "in_progress"
	RemoteStateFinalizing RemoteState = "finalizing"
	RemoteStateCompleted  RemoteState = "completed"
	RemoteStateFailed     RemoteState = "failed"
	RemoteStateExpired    RemoteState = "expired"
	RemoteStateCancelling RemoteState = "cancelling"
	RemoteStateCancelled  RemoteState = "cancelled"
)

// IsTerminal reports whether the provider will make no further progress.
func (s RemoteState) IsTerminal() bool {
	switch s {
	case RemoteStateCompleted, RemoteStateFailed, RemoteStateExpired, RemoteStateCancelled:
		return true
	}
	return false
}

// BatchStatus is the result of polling a handle.
type BatchStatus struct {
	State     RemoteState `json:"state"`
	Total     int         `json:"total"`
	Completed int         `json:"completed"`
	Failed    int         `json:"failed"`
	// OutputRef points at downloadable results once the provider reports completion.
	OutputRef string `json:"output_ref,omitempty"`
	ErrorRef  string `json:"error_ref,omitempty"`
	Message   string `json:"message,omitempty"`
}

// BatchItemResult is one downloaded member result. Exactly one of Text/Error is meaningful.
type BatchItemResult struct {
	CustomID string      `json:"custom_id"`
	Text     string      `json:"text,omitempty"`
	Usage    *TokenUsage `json:"usage,omitempty"`
	Cost     float64     `json:"cost"`
	Error    string      `json:"error,omitempty"`
}
