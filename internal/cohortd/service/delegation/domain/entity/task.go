package entity

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	reviewentity "github.com/kiosk404/cohort/internal/cohortd/service/review/domain/entity"
	"github.com/kiosk404/cohort/internal/pkg/errno"
)

// TaskStatus is the lifecycle state of a Task.
//
// State machine:
//
//	Received → Classifying → Answered
//	                       → Delegated → Awaiting → Synthesizing → Reviewing → Delivered
//	                                                    ↑             ↓
//	                                                    └─ Reworking ←┘
//
// Any non-terminal state may move to Failed or Cancelled.
type TaskStatus string

const (
	TaskStatusReceived     TaskStatus = "received"
	TaskStatusClassifying  TaskStatus = "classifying"
	TaskStatusAnswered     TaskStatus = "answered"
	TaskStatusDelegated    TaskStatus = "delegated"
	TaskStatusAwaiting     TaskStatus = "awaiting"
	TaskStatusSynthesizing TaskStatus = "synthesizing"
	TaskStatusReviewing    TaskStatus = "reviewing"
	TaskStatusReworking    TaskStatus = "reworking"
	TaskStatusDelivered    TaskStatus = "delivered"
	TaskStatusFailed       TaskStatus = "failed"
	TaskStatusCancelled    TaskStatus = "cancelled"
)

func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusAnswered, TaskStatusDelivered, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// Mode selects the generation path specialists are served through.
type Mode string

const (
	ModeSync  Mode = "sync"
	ModeBatch Mode = "batch"
)

// ParseMode maps "" to sync.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeSync:
		return ModeSync, nil
	case ModeBatch:
		return ModeBatch, nil
	}
	return "", errno.NewConfigurationError("mode", "unknown mode %q, want sync or batch", s)
}

// TargetAuto lets the coordinator route the command.
const TargetAuto = "auto"

// Task is one command flowing through the engine. Child tasks are created
// when a command fans out to several managers; they share the root's
// CorrelationID and point at it through ParentID.
type Task struct {
	ID            string     `json:"id"`
	Command       string     `json:"command"`
	TargetPersona string     `json:"target_persona"`
	Status        TaskStatus `json:"status"`
	Mode          Mode       `json:"mode"`
	Detail        string     `json:"detail,omitempty"`
	Progress      float64    `json:"progress"`

	ParentID      string   `json:"parent_id,omitempty"`
	CorrelationID string   `json:"correlation_id"`
	ChildIDs      []string `json:"child_ids,omitempty"`
	// ManagerID is the manager a child task was fanned out to.
	ManagerID string `json:"manager_id,omitempty"`

	ReworkCount int `json:"rework_count"`
	ToolCalls   int `json:"tool_calls"`
	// Partial is set when some contributions failed and the task continued without them.
	Partial  bool                   `json:"partial,omitempty"`
	Failures []string               `json:"failures,omitempty"`
	Findings []string               `json:"findings,omitempty"`
	Artifact *reviewentity.Artifact `json:"artifact,omitempty"`
	Error    string                 `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// IsRoot reports whether the task was submitted by a caller.
func (t *Task) IsRoot() bool { return t.ParentID == "" }

func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	cp.ChildIDs = append([]string(nil), t.ChildIDs...)
	cp.Failures = append([]string(nil), t.Failures...)
	cp.Findings = append([]string(nil), t.Findings...)
	cp.Artifact = t.Artifact.Clone()
	return &cp
}

// TaskFilter narrows List. Zero values match everything.
type TaskFilter struct {
	Statuses      []TaskStatus
	CorrelationID string
	// RootsOnly hides child tasks.
	RootsOnly bool
	Limit     int
}

func (f *TaskFilter) Match(t *Task) bool {
	if f == nil {
		return true
	}
	if f.RootsOnly && !t.IsRoot() {
		return false
	}
	if f.CorrelationID != "" && t.CorrelationID != f.CorrelationID {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if t.Status == s {
			return true
		}
	}
	return false
}

// SortTasks orders tasks newest first, ties by id, and applies the filter's
// limit.
func SortTasks(tasks []*Task, filter *TaskFilter) []*Task {
	slices.SortFunc(tasks, func(a, b *Task) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	if filter != nil && filter.Limit > 0 && len(tasks) > filter.Limit {
		tasks = tasks[:filter.Limit]
	}
	return tasks
}

// SubmitRequest is a command handed to the engine.
type SubmitRequest struct {
	Command string `json:"command"`
	// TargetPersona is a persona id or "auto" (the default).
	TargetPersona string `json:"target_persona,omitempty"`
	Mode          Mode   `json:"mode,omitempty"`
}

func (r *SubmitRequest) Validate() error {
	if strings.TrimSpace(r.Command) == "" {
		return errno.NewConfigurationError("command", "command text is empty")
	}
	if _, err := ParseMode(string(r.Mode)); err != nil {
		return err
	}
	return nil
}

// TransitionError reports a move outside the transition table.
type TransitionError struct {
	TaskID   string
	From, To TaskStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("task %s: %s -> %s: %v", e.TaskID, e.From, e.To, errno.ErrInvalidTransition)
}

func (e *TransitionError) Is(target error) bool { return target == errno.ErrInvalidTransition }
