package entity

import (
	"fmt"
	"sort"
	"time"

	llmentity "github.com/kiosk404/cohort/internal/cohortd/service/llm/domain/entity"
	"github.com/kiosk404/cohort/internal/pkg/errno"
)

// JobState is the lifecycle of one grouped submission.
//
// State machine: Queued → Submitted → Polling → Completed | Failed | Expired | Cancelled
type JobState string

const (
	JobStateQueued    JobState = "queued"
	JobStateSubmitted JobState = "submitted"
	JobStatePolling   JobState = "polling"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
	JobStateExpired   JobState = "expired"
	JobStateCancelled JobState = "cancelled"
)

func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateCompleted, JobStateFailed, JobStateExpired, JobStateCancelled:
		return true
	}
	return false
}

var jobTransitions = map[JobState][]JobState{
	JobStateQueued:    {JobStateSubmitted, JobStateFailed, JobStateCancelled},
	JobStateSubmitted: {JobStatePolling, JobStateFailed, JobStateExpired, JobStateCancelled},
	JobStatePolling:   {JobStatePolling, JobStateCompleted, JobStateFailed, JobStateExpired, JobStateCancelled},
}

// CanTransition reports whether from → to is in the job transition table.
func CanTransition(from, to JobState) bool {
	for _, s := range jobTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// BatchJob groups member requests submitted together to one provider.
type BatchJob struct {
	ID        string   `json:"id"`
	Provider  string   `json:"provider"`
	MemberIDs []string `json:"member_ids"`
	State     JobState `json:"state"`

	// RemoteID and Native identify the job at the provider once submitted.
	RemoteID string `json:"remote_id,omitempty"`
	Native   bool   `json:"native,omitempty"`
	// ResultRef points at the downloadable output.
	ResultRef     string `json:"result_ref,omitempty"`
	FetchAttempts int    `json:"fetch_attempts,omitempty"`
	Error         string `json:"error,omitempty"`

	CreatedAt    time.Time  `json:"created_at"`
	SubmittedAt  *time.Time `json:"submitted_at,omitempty"`
	LastPolledAt *time.Time `json:"last_polled_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// Transition moves the job to next, stamping CompletedAt on terminal states.
func (j *BatchJob) Transition(next JobState, now time.Time) error {
	if !CanTransition(j.State, next) {
		return fmt.Errorf("batch job %s: %s -> %s: %w", j.ID, j.State, next, errno.ErrInvalidTransition)
	}
	j.State = next
	if next.IsTerminal() {
		j.CompletedAt = &now
	}
	return nil
}

// Handle rebuilds the gateway handle of a submitted job.
func (j *BatchJob) Handle() *llmentity.BatchHandle {
	h := &llmentity.BatchHandle{ProviderID: j.Provider, RemoteID: j.RemoteID, Native: j.Native}
	if j.SubmittedAt != nil {
		h.SubmittedAt = *j.SubmittedAt
	}
	return h
}

func (j *BatchJob) Clone() *BatchJob {
	cp := *j
	cp.MemberIDs = append([]string(nil), j.MemberIDs...)
	return &cp
}

// JobFilter narrows List. Zero values match everything.
type JobFilter struct {
	Provider string
	States   []JobState
	Limit    int
}

func (f *JobFilter) Match(j *BatchJob) bool {
	if f == nil {
		return true
	}
	if f.Provider != "" && j.Provider != f.Provider {
		return false
	}
	if len(f.States) == 0 {
		return true
	}
	for _, s := range f.States {
		if j.State == s {
			return true
		}
	}
	return false
}

// SortJobs orders jobs newest first and applies the filter limit.
func SortJobs(jobs []*BatchJob, filter *JobFilter) []*BatchJob {
	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
		}
		return jobs[i].ID < jobs[j].ID
	})
	if filter != nil && filter.Limit > 0 && len(jobs) > filter.Limit {
		jobs = jobs[:filter.Limit]
	}
	return jobs
}
