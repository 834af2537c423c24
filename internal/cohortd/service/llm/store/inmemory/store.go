package inmemory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/kiosk404/cohort/internal/cohortd/service/llm/domain/entity"
	"github.com/kiosk404/cohort/internal/cohortd/service/llm/domain/repo"
)

var (
	_ repo.ModelRepository    = (*ModelStore)(nil)
	_ repo.ProviderRepository = (*ProviderStore)(nil)
)

// ModelStore keeps models in registration order.
type ModelStore struct {
	mu    sync.RWMutex
	byRef map[entity.ModelRef]*entity.ModelInstance
	order []entity.ModelRef
	def   entity.ModelRef
}

func NewModelStore() *ModelStore {
	return &ModelStore{byRef: make(map[entity.ModelRef]*entity.ModelInstance)}
}

func (s *ModelStore) Save(_ context.Context, m *entity.ModelInstance) error {
	ref := m.Ref()
	if ref.ProviderID == "" || ref.ModelID == "" {
		return fmt.Errorf("model %q needs both a provider and a model id", ref)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byRef[ref]; !ok {
		s.order = append(s.order, ref)
	}
	s.byRef[ref] = m
	if m.IsDefault {
		s.setDefaultLocked(ref)
	}
	return nil
}

func (s *ModelStore) Get(_ context.Context, ref entity.ModelRef) (*entity.ModelInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byRef[ref]
	if !ok {
		return nil, fmt.Errorf("model %s not registered", ref)
	}
	return m, nil
}

func (s *ModelStore) ByModelID(_ context.Context, modelID string) ([]*entity.ModelInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*entity.ModelInstance
	for _, ref := range s.order {
		if ref.ModelID == modelID {
			out = append(out, s.byRef[ref])
		}
	}
	return out, nil
}

func (s *ModelStore) Default(_ context.Context) (*entity.ModelInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.def.IsZero() {
		return nil, fmt.Errorf("no default model")
	}
	return s.byRef[s.def], nil
}

func (s *ModelStore) SetDefault(_ context.Context, ref entity.ModelRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byRef[ref]; !ok {
		return fmt.Errorf("model %s not registered", ref)
	}
	s.setDefaultLocked(ref)
	return nil
}

func (s *ModelStore) setDefaultLocked(ref entity.ModelRef) {
	if prev, ok := s.byRef[s.def]; ok {
		prev.IsDefault = false
	}
	s.byRef[ref].IsDefault = true
	s.def = ref
}

func (s *ModelStore) List(_ context.Context) ([]*entity.ModelInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*entity.ModelInstance, 0, len(s.order))
	for _, ref := range s.order {
		out = append(out, s.byRef[ref])
	}
	return out, nil
}

// ProviderStore keeps providers sorted by id.
type ProviderStore struct {
	mu        sync.RWMutex
	providers map[string]*entity.ModelProvider
}

func NewProviderStore() *ProviderStore {
	return &ProviderStore{providers: make(map[string]*entity.ModelProvider)}
}

func (s *ProviderStore) Save(_ context.Context, p *entity.ModelProvider) error {
	if p.ID == "" {
		return fmt.Errorf("provider needs an id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers[p.ID] = p
	return nil
}

func (s *ProviderStore) Get(_ context.Context, id string) (*entity.ModelProvider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.providers[id]
	if !ok {
		return nil, fmt.Errorf("provider %q not registered", id)
	}
	return p, nil
}

func (s *ProviderStore) List(_ context.Context) ([]*entity.ModelProvider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*entity.ModelProvider, 0, len(s.providers))
	for _, p := range s.providers {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b *entity.ModelProvider) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}
