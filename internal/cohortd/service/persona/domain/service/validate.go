package service

import (
	"context"
	"sort"

	llmentity "github.com/kiosk404/cohort/internal/cohortd/service/llm/domain/entity"
	"github.com/kiosk404/cohort/internal/cohortd/service/persona/domain/entity"
	"github.com/kiosk404/cohort/internal/pkg/errno"
)

// ModelResolver maps a persona's model id to a registered model.
type ModelResolver interface {
	Resolve(ctx context.Context, model string) (llmentity.ModelRef, error)
}

// graph is an immutable validated persona set.
type graph struct {
	byID        map[string]*entity.Persona
	children    map[string][]string
	coordinator string
}

// buildGraph validates personas as a whole and derives the child index.
func buildGraph(ctx context.Context, personas []*entity.Persona, resolver ModelResolver) (*graph, error) {
	g := &graph{
		byID:     make(map[string]*entity.Persona, len(personas)),
		children: make(map[string][]string),
	}
	for _, p := range personas {
		if p.ID == "" {
			return nil, errno.NewConfigurationError("persona", "missing id")
		}
		if _, dup := g.byID[p.ID]; dup {
			return nil, errno.NewConfigurationError("persona "+p.ID, "duplicate id")
		}
		if err := validateOne(ctx, p, resolver); err != nil {
			return nil, err
		}
		g.byID[p.ID] = p
		if p.Tier == entity.TierCoordinator {
			if g.coordinator != "" {
				return nil, errno.NewConfigurationError("persona "+p.ID, "second coordinator (already %s)", g.coordinator)
			}
			g.coordinator = p.ID
		}
	}
	if len(personas) > 0 && g.coordinator == "" {
		return nil, errno.NewConfigurationError("persona graph", "no coordinator")
	}

	for _, p := range personas {
		if p.Tier == entity.TierCoordinator {
			if p.ParentID != "" {
				return nil, errno.NewConfigurationError("persona "+p.ID, "coordinator cannot have a parent")
			}
			continue
		}
		if p.ParentID == "" {
			return nil, errno.NewConfigurationError("persona "+p.ID, "missing parent")
		}
		parent, ok := g.byID[p.ParentID]
		if !ok {
			return nil, errno.NewConfigurationError("persona "+p.ID, "unknown parent %q", p.ParentID)
		}
		if p.Tier.Rank() < parent.Tier.Rank() {
			return nil, errno.NewConfigurationError("persona "+p.ID, "tier %s outranks parent %s (%s)", p.Tier, parent.ID, parent.Tier)
		}
		g.children[p.ParentID] = append(g.children[p.ParentID], p.ID)
	}

	for id := range g.byID {
		if err := g.checkAcyclic(id); err != nil {
			return nil, err
		}
	}
	for _, ids := range g.children {
		sort.Strings(ids)
	}
	return g, nil
}

func (g *graph) checkAcyclic(id string) error {
	seen := map[string]bool{}
	for cur := id; cur != ""; cur = g.byID[cur].ParentID {
		if seen[cur] {
			return errno.NewConfigurationError("persona "+id, "parent chain forms a cycle through %s", cur)
		}
		seen[cur] = true
	}
	return nil
}

func validateOne(ctx context.Context, p *entity.Persona, resolver ModelResolver) error {
	subject := "persona " + p.ID
	if !p.Tier.Valid() {
		return errno.NewConfigurationError(subject, "unknown tier %q", p.Tier)
	}
	if p.ParentID == p.ID {
		return errno.NewConfigurationError(subject, "persona is its own parent")
	}
	if _, err := llmentity.ParseReasoning(p.Reasoning); err != nil {
		return &errno.ConfigurationError{Subject: subject, Reason: "bad reasoning depth", Cause: err}
	}
	if resolver == nil {
		return nil
	}
	for _, model := range append([]string{p.Model}, p.Fallbacks...) {
		if _, err := resolver.Resolve(ctx, model); err != nil {
			return &errno.ConfigurationError{Subject: subject, Reason: "unresolvable model " + model, Cause: err}
		}
	}
	return nil
}
