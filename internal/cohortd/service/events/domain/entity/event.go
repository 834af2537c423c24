package entity

import "time"

// EventType distinguishes what an Event reports.
type EventType string

const (
	// EventTypeStatus is emitted on every task state transition.
	EventTypeStatus EventType = "status"
	// EventTypeCost is emitted on every metered generation call.
	EventTypeCost EventType = "cost"
	// EventTypeProgress reports subtask completion without a state change.
	EventTypeProgress EventType = "progress"
	// EventTypeBatch reports batch job transitions.
	EventTypeBatch EventType = "batch"
)

// Event is one entry of a task's event stream.
type Event struct {
	// Seq is assigned by the bus and strictly increases across all tasks.
	Seq       uint64    `json:"seq"`
	TaskID    string    `json:"task_id"`
	Type      EventType `json:"type"`
	Status    string    `json:"status,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Progress  float64   `json:"progress,omitempty"`
	CostDelta float64   `json:"cost_delta,omitempty"`
	PersonaID string    `json:"persona_id,omitempty"`
	At        time.Time `json:"at"`
}

// Terminal reports whether e is the final status event of a task.
func (e *Event) Terminal() bool {
	if e.Type != EventTypeStatus {
		return false
	}
	switch e.Status {
	case "delivered", "answered", "failed", "cancelled":
		return true
	}
	return false
}
