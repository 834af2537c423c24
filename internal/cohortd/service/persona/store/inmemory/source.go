package inmemory

import (
	"context"
	"sort"
	"sync"

	"github.com/kiosk404/cohort/internal/cohortd/service/persona/domain/entity"
	"github.com/kiosk404/cohort/internal/cohortd/service/persona/domain/repo"
)

var _ repo.PersonaSource = (*Source)(nil)

// Source holds persona definitions in memory.
type Source struct {
	mu       sync.Mutex
	personas map[string]*entity.Persona
}

func NewSource(personas ...*entity.Persona) *Source {
	s := &Source{personas: make(map[string]*entity.Persona, len(personas))}
	for _, p := range personas {
		s.personas[p.ID] = p.Clone()
	}
	return s
}

func (s *Source) Load(_ context.Context) ([]*entity.Persona, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*entity.Persona, 0, len(s.personas))
	for _, p := range s.personas {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Source) Save(_ context.Context, p *entity.Persona) error {
	s.mu.Lock()
	s.personas[p.ID] = p.Clone()
	s.mu.Unlock()
	return nil
}

// Put replaces a definition as an external edit would; call Reload to apply it.
func (s *Source) Put(p *entity.Persona) {
	_ = s.Save(context.Background(), p)
}

// Delete removes a definition.
func (s *Source) Delete(id string) {
	s.mu.Lock()
	delete(s.personas, id)
	s.mu.Unlock()
}
