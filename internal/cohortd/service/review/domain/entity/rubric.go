package entity

import "sort"

// DefaultThreshold is the per-section pass score when a rubric sets none.
const DefaultThreshold = 0.7

// Rubric is the versioned review standard of one division.
type Rubric struct {
	Division  string          `json:"division" yaml:"division"`
	Version   string          `json:"version" yaml:"version"`
	Threshold float64         `json:"threshold" yaml:"threshold"`
	Reviewer  string          `json:"reviewer,omitempty" yaml:"reviewer,omitempty"`
	Sections  []RubricSection `json:"sections,omitempty" yaml:"sections,omitempty"`
}

// RubricSection states what one artifact section must satisfy.
type RubricSection struct {
	ID       string `json:"id" yaml:"id"`
	Criteria string `json:"criteria" yaml:"criteria"`
	Required bool   `json:"required,omitempty" yaml:"required,omitempty"`
}

// Criteria returns the criteria for section id, if the rubric names it.
func (r *Rubric) Criteria(id string) (string, bool) {
	for _, s := range r.Sections {
		if s.ID == id {
			return s.Criteria, true
		}
	}
	return "", false
}

// SectionVerdict is the reviewer's judgement of one section.
type SectionVerdict struct {
	Score  float64 `json:"score"`
	Passed bool    `json:"passed"`
	Reason string  `json:"reason,omitempty"`
}

// ReviewReport is consumed once by the rework step.
type ReviewReport struct {
	ArtifactID    string                     `json:"artifact_id"`
	RubricVersion string                     `json:"rubric_version"`
	Score         float64                    `json:"score"`
	Passed        bool                       `json:"passed"`
	Sections      map[string]*SectionVerdict `json:"sections"`
	// Rejections maps each failed section id to its reason.
	Rejections map[string]string `json:"rejections,omitempty"`
}

// RejectedIDs returns the rejected section ids sorted.
func (r *ReviewReport) RejectedIDs() []string {
	ids := make([]string, 0, len(r.Rejections))
	for id := range r.Rejections {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Findings renders the rejections as human-readable lines.
func (r *ReviewReport) Findings() []string {
	var out []string
	for _, id := range r.RejectedIDs() {
		out = append(out, id+": "+r.Rejections[id])
	}
	return out
}
