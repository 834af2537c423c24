package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/kiosk404/cohort/internal/cohortd/service/persona/domain/entity"
	"github.com/kiosk404/cohort/internal/cohortd/service/persona/domain/repo"
	"github.com/kiosk404/cohort/internal/pkg/errno"
	"github.com/kiosk404/cohort/pkg/logger"
)

// Catalog is the read-mostly persona directory. Every returned persona is a
// snapshot; later updates never change it.
type Catalog interface {
	Get(id string) (*entity.Persona, error)
	ChildrenOf(id string) ([]*entity.Persona, error)
	// Update merges patch into one persona, validates the resulting graph and
	// writes it back to the source.
	Update(ctx context.Context, id string, patch *entity.PersonaPatch) (*entity.Persona, error)
	List() []*entity.Persona
	Coordinator() (*entity.Persona, error)
	Managers() []*entity.Persona
	// Reload re-reads the source; an invalid source leaves the catalog as it was.
	Reload(ctx context.Context) error
	// Watch reloads the catalog whenever a watchable source changes.
	Watch() error
	Close()
}

type slot = atomic.Pointer[entity.Persona]

// index is replaced whole whenever membership or links change. Slots are
// shared between indexes so single-entry updates stay lock-free for readers.
type index struct {
	slots       map[string]*slot
	children    map[string][]string
	coordinator string
}

type catalog struct {
	source   repo.PersonaSource
	resolver ModelResolver

	idx     atomic.Pointer[index]
	writeMu sync.Mutex

	stopWatch func()
}

var _ Catalog = (*catalog)(nil)

// NewCatalog loads source once. resolver may be nil to skip model checks.
func NewCatalog(ctx context.Context, source repo.PersonaSource, resolver ModelResolver) (Catalog, error) {
	c := &catalog{source: source, resolver: resolver}
	c.idx.Store(&index{slots: map[string]*slot{}, children: map[string][]string{}})
	if err := c.Reload(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *catalog) Watch() error {
	w, ok := c.source.(repo.Watchable)
	if !ok {
		return fmt.Errorf("persona source %T cannot be watched", c.source)
	}
	stop, err := w.Watch(func() {
		if err := c.Reload(context.Background()); err != nil {
			logger.Warn("[Persona] reload after change rejected, keeping previous catalog: %v", err)
		}
	})
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	c.stopWatch = stop
	c.writeMu.Unlock()
	return nil
}

func (c *catalog) snapshot(idx *index, id string) *entity.Persona {
	s, ok := idx.slots[id]
	if !ok {
		return nil
	}
	p := s.Load().Clone()
	p.ChildIDs = append([]string(nil), idx.children[id]...)
	return p
}

func (c *catalog) Get(id string) (*entity.Persona, error) {
	p := c.snapshot(c.idx.Load(), id)
	if p == nil {
		return nil, fmt.Errorf("%w: %s", errno.ErrPersonaNotFound, id)
	}
	return p, nil
}

func (c *catalog) ChildrenOf(id string) ([]*entity.Persona, error) {
	idx := c.idx.Load()
	if _, ok := idx.slots[id]; !ok {
		return nil, fmt.Errorf("%w: %s", errno.ErrPersonaNotFound, id)
	}
	out := make([]*entity.Persona, 0, len(idx.children[id]))
	for _, cid := range idx.children[id] {
		out = append(out, c.snapshot(idx, cid))
	}
	return out, nil
}

func (c *catalog) List() []*entity.Persona {
	idx := c.idx.Load()
	ids := make([]string, 0, len(idx.slots))
	for id := range idx.slots {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*entity.Persona, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.snapshot(idx, id))
	}
	return out
}

func (c *catalog) Coordinator() (*entity.Persona, error) {
	idx := c.idx.Load()
	if idx.coordinator == "" {
		return nil, errno.NewConfigurationError("persona graph", "no coordinator")
	}
	return c.snapshot(idx, idx.coordinator), nil
}

func (c *catalog) Managers() []*entity.Persona {
	var out []*entity.Persona
	for _, p := range c.List() {
		if p.Tier == entity.TierManager {
			out = append(out, p)
		}
	}
	return out
}

func (c *catalog) Update(ctx context.Context, id string, patch *entity.PersonaPatch) (*entity.Persona, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	idx := c.idx.Load()
	s, ok := idx.slots[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errno.ErrPersonaNotFound, id)
	}
	cur := s.Load()
	next, err := patch.Apply(cur)
	if err != nil {
		return nil, err
	}
	next.ID = id
	next.ChildIDs = nil

	all := make([]*entity.Persona, 0, len(idx.slots))
	for pid, ps := range idx.slots {
		if pid == id {
			all = append(all, next)
			continue
		}
		all = append(all, ps.Load())
	}
	g, err := buildGraph(ctx, all, c.resolver)
	if err != nil {
		return nil, err
	}
	if next.SameContent(cur) {
		return c.snapshot(idx, id), nil
	}

	if c.source != nil {
		if err := c.source.Save(ctx, next); err != nil {
			return nil, fmt.Errorf("failed to write persona %s: %w", id, err)
		}
	}
	next.Version = cur.Version + 1
	s.Store(next)
	if next.ParentID != cur.ParentID || next.Tier != cur.Tier {
		c.idx.Store(&index{slots: idx.slots, children: g.children, coordinator: g.coordinator})
	}
	logger.Info("[Persona] updated %s to version %d", id, next.Version)
	return c.snapshot(c.idx.Load(), id), nil
}

func (c *catalog) Reload(ctx context.Context) error {
	if c.source == nil {
		return nil
	}
	personas, err := c.source.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load personas: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	g, err := buildGraph(ctx, personas, c.resolver)
	if err != nil {
		return err
	}

	old := c.idx.Load()
	slots := make(map[string]*slot, len(personas))
	var added, changed int
	for _, p := range personas {
		p.ChildIDs = nil
		s, ok := old.slots[p.ID]
		switch {
		case !ok:
			s = &slot{}
			p.Version = 1
			s.Store(p)
			added++
		case !s.Load().SameContent(p):
			p.Version = s.Load().Version + 1
			s.Store(p)
			changed++
		}
		slots[p.ID] = s
	}
	c.idx.Store(&index{slots: slots, children: g.children, coordinator: g.coordinator})
	logger.Info("[Persona] catalog loaded: %d personas (%d new, %d changed, %d removed)",
		len(slots), added, changed, len(old.slots)+added-len(slots))
	return nil
}

func (c *catalog) Close() {
	c.writeMu.Lock()
	stop := c.stopWatch
	c.stopWatch = nil
	c.writeMu.Unlock()
	if stop != nil {
		stop()
	}
}
