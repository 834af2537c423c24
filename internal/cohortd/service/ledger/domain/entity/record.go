package entity

import (
	"fmt"
	"time"
)

// CostRecord is one metered generation call. Records are never updated.
type CostRecord struct {
	ID              string    `json:"id"`
	TaskID          string    `json:"task_id"`
	PersonaID       string    `json:"persona_id"`
	Provider        string    `json:"provider"`
	Model           string    `json:"model"`
	InputTokens     int       `json:"input_tokens"`
	OutputTokens    int       `json:"output_tokens"`
	CacheReadTokens int       `json:"cache_read_tokens"`
	Cost            float64   `json:"cost"`
	Batch           bool      `json:"batch"`
	Timestamp       time.Time `json:"timestamp"`
}

// Filter narrows Query and Summarize. Zero fields match everything.
type Filter struct {
	TaskIDs   []string  `json:"task_ids,omitempty"`
	PersonaID string    `json:"persona_id,omitempty"`
	Provider  string    `json:"provider,omitempty"`
	Batch     *bool     `json:"batch,omitempty"`
	Since     time.Time `json:"since,omitempty"`
	Until     time.Time `json:"until,omitempty"`
	Limit     int       `json:"limit,omitempty"`
}

// Match reports whether r passes every set field of f.
func (f *Filter) Match(r *CostRecord) bool {
	if f == nil {
		return true
	}
	if len(f.TaskIDs) > 0 {
		found := false
		for _, id := range f.TaskIDs {
			if id == r.TaskID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.PersonaID != "" && f.PersonaID != r.PersonaID {
		return false
	}
	if f.Provider != "" && f.Provider != r.Provider {
		return false
	}
	if f.Batch != nil && *f.Batch != r.Batch {
		return false
	}
	if !f.Since.IsZero() && r.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !r.Timestamp.Before(f.Until) {
		return false
	}
	return true
}

// GroupBy selects the Summarize dimension.
type GroupBy string

const (
	GroupByPersona  GroupBy = "persona"
	GroupByProvider GroupBy = "provider"
	GroupByModel    GroupBy = "model"
	GroupByTask     GroupBy = "task"
)

// ParseGroupBy defaults to persona.
func ParseGroupBy(s string) (GroupBy, error) {
	switch GroupBy(s) {
	case "":
		return GroupByPersona, nil
	case GroupByPersona, GroupByProvider, GroupByModel, GroupByTask:
		return GroupBy(s), nil
	}
	return "", fmt.Errorf("unknown group-by %q (want persona, provider, model or task)", s)
}

// Key returns the grouping value of r.
func (g GroupBy) Key(r *CostRecord) string {
	switch g {
	case GroupByProvider:
		return r.Provider
	case GroupByModel:
		return r.Provider + "/" + r.Model
	case GroupByTask:
		return r.TaskID
	default:
		return r.PersonaID
	}
}

// Summary aggregates the records sharing one group key.
type Summary struct {
	Key             string  `json:"key"`
	Calls           int     `json:"calls"`
	InputTokens     int     `json:"input_tokens"`
	OutputTokens    int     `json:"output_tokens"`
	CacheReadTokens int     `json:"cache_read_tokens"`
	Cost            float64 `json:"cost"`
}

func (s *Summary) Add(r *CostRecord) {
	s.Calls++
	s.InputTokens += r.InputTokens
	s.OutputTokens += r.OutputTokens
	s.CacheReadTokens += r.CacheReadTokens
	s.Cost += r.Cost
}
