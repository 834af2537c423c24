package entity

import "time"

// SubtaskMode orders execution inside one delegation.
type SubtaskMode string

const (
	SubtaskIndependent SubtaskMode = "independent"
	SubtaskSequential  SubtaskMode = "sequential"
)

// SubtaskSpec is one unit of work a manager hands to a specialist.
type SubtaskSpec struct {
	ID           string      `json:"id"`
	SpecialistID string      `json:"specialist_id"`
	Instruction  string      `json:"instruction"`
	Mode         SubtaskMode `json:"mode"`
	// Blocking fails the whole task when this subtask fails.
	Blocking bool `json:"blocking,omitempty"`
	// Section is the artifact section the output becomes.
	Section string `json:"section"`
	Title   string `json:"title,omitempty"`
}

// Delegation is the plan one manager made for one task. A task has at most
// one active delegation; it is archived when the task ends.
type Delegation struct {
	TaskID    string         `json:"task_id"`
	ManagerID string         `json:"manager_id"`
	Subtasks  []*SubtaskSpec `json:"subtasks"`
	// Results is filled in plan order once every subtask is terminal.
	Results []*SubtaskResult `json:"results,omitempty"`
	// Notes record decomposition fixes such as dropped unknown specialists.
	Notes     []string   `json:"notes,omitempty"`
	Fallback  bool       `json:"fallback,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	Archived  *time.Time `json:"archived,omitempty"`
}

func (d *Delegation) Subtask(id string) *SubtaskSpec {
	for _, s := range d.Subtasks {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// Path names the generation channel that produced a result.
type Path string

const (
	PathSync  Path = "sync"
	PathBatch Path = "batch"
)

// SubtaskResult is the append-only outcome of one subtask.
type SubtaskResult struct {
	SubtaskID    string        `json:"subtask_id"`
	TaskID       string        `json:"task_id"`
	SpecialistID string        `json:"specialist_id"`
	Success      bool          `json:"success"`
	Output       string        `json:"output,omitempty"`
	Cost         float64       `json:"cost"`
	Duration     time.Duration `json:"duration"`
	Error        string        `json:"error,omitempty"`
	Cancelled    bool          `json:"cancelled,omitempty"`
	Path         Path          `json:"path"`
}

// Contributed reports whether the result carries usable output.
func (r *SubtaskResult) Contributed() bool {
	return r.Success && r.Output != ""
}

func (d *Delegation) Clone() *Delegation {
	cp := *d
	cp.Subtasks = make([]*SubtaskSpec, len(d.Subtasks))
	for i, s := range d.Subtasks {
		sc := *s
		cp.Subtasks[i] = &sc
	}
	cp.Results = make([]*SubtaskResult, 0, len(d.Results))
	for _, r := range d.Results {
		if r == nil {
			continue
		}
		rc := *r
		cp.Results = append(cp.Results, &rc)
	}
	cp.Notes = append([]string(nil), d.Notes...)
	return &cp
}
