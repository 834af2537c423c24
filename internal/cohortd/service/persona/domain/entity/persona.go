package entity

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/jinzhu/copier"
)

// Tier is a persona's rank in the hierarchy.
type Tier string

const (
	TierCoordinator Tier = "coordinator"
	TierManager     Tier = "manager"
	TierSpecialist  Tier = "specialist"
	TierWorker      Tier = "worker"
)

// Rank orders tiers from the top: coordinator is 0. Unknown tiers rank -1.
func (t Tier) Rank() int {
	switch t {
	case TierCoordinator:
		return 0
	case TierManager:
		return 1
	case TierSpecialist:
		return 2
	case TierWorker:
		return 3
	default:
		return -1
	}
}

func (t Tier) Valid() bool { return t.Rank() >= 0 }

// Persona dresses a generation call with a model, a role and permissions.
type Persona struct {
	ID           string   `json:"id" yaml:"id"`
	Name         string   `json:"name,omitempty" yaml:"name,omitempty"`
	Tier         Tier     `json:"tier" yaml:"tier"`
	Model        string   `json:"model" yaml:"model"`
	Fallbacks    []string `json:"fallbacks,omitempty" yaml:"fallbacks,omitempty"`
	Reasoning    string   `json:"reasoning,omitempty" yaml:"reasoning,omitempty"`
	Tools        []string `json:"tools,omitempty" yaml:"tools,omitempty"`
	Division     string   `json:"division,omitempty" yaml:"division,omitempty"`
	ParentID     string   `json:"parent,omitempty" yaml:"parent,omitempty"`
	Description  string   `json:"description,omitempty" yaml:"description,omitempty"`
	SystemPrompt string   `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	// Batch prefers the discounted batch channel for this persona's work.
	Batch bool `json:"batch,omitempty" yaml:"batch,omitempty"`

	// ChildIDs is derived from the other personas' ParentID.
	ChildIDs []string `json:"child_ids,omitempty" yaml:"-"`
	// Version counts accepted updates since the process started.
	Version int `json:"version" yaml:"-"`
}

// Clone returns a deep copy.
func (p *Persona) Clone() *Persona {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Fallbacks = append([]string(nil), p.Fallbacks...)
	cp.Tools = append([]string(nil), p.Tools...)
	cp.ChildIDs = append([]string(nil), p.ChildIDs...)
	return &cp
}

// Allows reports whether tool is on the allow-list.
func (p *Persona) Allows(tool string) bool {
	for _, t := range p.Tools {
		if t == tool {
			return true
		}
	}
	return false
}

// DisplayName falls back to the id.
func (p *Persona) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID
}

// SameContent compares everything except derived fields.
func (p *Persona) SameContent(o *Persona) bool {
	a, b := p.Clone(), o.Clone()
	a.ChildIDs, b.ChildIDs = nil, nil
	a.Version, b.Version = 0, 0
	return reflect.DeepEqual(a, b)
}

// PersonaPatch is a partial update. Nil pointers and empty lists leave the
// field unchanged.
type PersonaPatch struct {
	Name         *string  `json:"name,omitempty"`
	Tier         *Tier    `json:"tier,omitempty"`
	Model        *string  `json:"model,omitempty"`
	Fallbacks    []string `json:"fallbacks,omitempty"`
	Reasoning    *string  `json:"reasoning,omitempty"`
	Tools        []string `json:"tools,omitempty"`
	Division     *string  `json:"division,omitempty"`
	ParentID     *string  `json:"parent,omitempty"`
	Description  *string  `json:"description,omitempty"`
	SystemPrompt *string  `json:"system_prompt,omitempty"`
	Batch        *bool    `json:"batch,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (pp *PersonaPatch) Empty() bool {
	return pp == nil || (pp.Name == nil && pp.Tier == nil && pp.Model == nil && len(pp.Fallbacks) == 0 &&
		pp.Reasoning == nil && len(pp.Tools) == 0 && pp.Division == nil && pp.ParentID == nil &&
		pp.Description == nil && pp.SystemPrompt == nil && pp.Batch == nil)
}

// Apply returns a copy of p with the patch merged in.
func (pp *PersonaPatch) Apply(p *Persona) (*Persona, error) {
	out := p.Clone()
	if pp == nil {
		return out, nil
	}
	if err := copier.CopyWithOption(out, pp, copier.Option{IgnoreEmpty: true, DeepCopy: true}); err != nil {
		return nil, fmt.Errorf("failed to apply patch to persona %s: %w", p.ID, err)
	}
	out.ParentID = strings.TrimSpace(out.ParentID)
	return out, nil
}

// InDivision reports whether p's division equals prefix or lies beneath it.
func (p *Persona) InDivision(prefix string) bool {
	prefix = strings.Trim(prefix, "/")
	div := strings.Trim(p.Division, "/")
	return prefix == "" || div == prefix || strings.HasPrefix(div, prefix+"/")
}
