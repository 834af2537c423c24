package entity

import (
	"sort"
	"time"

	llmentity "github.com/kiosk404/cohort/internal/cohortd/service/llm/domain/entity"
)

// MemberState is the lifecycle of one request inside a job.
type MemberState string

const (
	MemberStatePending   MemberState = "pending"
	MemberStateSubmitted MemberState = "submitted"
	MemberStateSucceeded MemberState = "succeeded"
	MemberStateFailed    MemberState = "failed"
	MemberStateCancelled MemberState = "cancelled"
)

func (s MemberState) IsTerminal() bool {
	return s == MemberStateSucceeded || s == MemberStateFailed || s == MemberStateCancelled
}

// Member is one generation request served through the batch channel.
type Member struct {
	ID        string `json:"id"`
	JobID     string `json:"job_id,omitempty"`
	TaskID    string `json:"task_id"`
	SubtaskID string `json:"subtask_id"`
	PersonaID string `json:"persona_id"`

	Ref          llmentity.ModelRef  `json:"ref"`
	Reasoning    llmentity.Reasoning `json:"reasoning"`
	SystemPrompt string              `json:"system_prompt,omitempty"`
	Prompt       string              `json:"prompt"`

	State  MemberState           `json:"state"`
	Output string                `json:"output,omitempty"`
	Usage  *llmentity.TokenUsage `json:"usage,omitempty"`
	Cost   float64               `json:"cost"`
	Error  string                `json:"error,omitempty"`

	EnqueuedAt time.Time  `json:"enqueued_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func (m *Member) Clone() *Member {
	cp := *m
	if m.Usage != nil {
		u := *m.Usage
		cp.Usage = &u
	}
	return &cp
}

// Finish moves the member to a terminal state. A terminal member is never
// finished twice; the return value says whether this call did it.
func (m *Member) Finish(state MemberState, output, errMsg string, now time.Time) bool {
	if m.State.IsTerminal() {
		return false
	}
	m.State = state
	m.Output = output
	m.Error = errMsg
	m.FinishedAt = &now
	return true
}

// BatchPrompt converts the member into the gateway batch prompt.
func (m *Member) BatchPrompt() *llmentity.BatchPrompt {
	return &llmentity.BatchPrompt{
		CustomID:     m.ID,
		TaskID:       m.TaskID,
		PersonaID:    m.PersonaID,
		Ref:          m.Ref,
		Reasoning:    m.Reasoning,
		SystemPrompt: m.SystemPrompt,
		Prompt:       m.Prompt,
	}
}

// Deliver receives every member exactly once when it reaches a terminal state.
type Deliver func(m *Member)

// MemberFilter narrows member listings. Zero values match everything.
type MemberFilter struct {
	JobID  string
	TaskID string
	States []MemberState
}

func (f *MemberFilter) Match(m *Member) bool {
	if f == nil {
		return true
	}
	if f.JobID != "" && m.JobID != f.JobID {
		return false
	}
	if f.TaskID != "" && m.TaskID != f.TaskID {
		return false
	}
	if len(f.States) == 0 {
		return true
	}
	for _, s := range f.States {
		if m.State == s {
			return true
		}
	}
	return false
}

// SortMembers orders members by enqueue time.
func SortMembers(members []*Member) []*Member {
	sort.SliceStable(members, func(i, j int) bool {
		if !members[i].EnqueuedAt.Equal(members[j].EnqueuedAt) {
			return members[i].EnqueuedAt.Before(members[j].EnqueuedAt)
		}
		return members[i].ID < members[j].ID
	})
	return members
}
