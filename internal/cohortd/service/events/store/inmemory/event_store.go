package inmemory

import (
	"context"
	"sync"

	"github.com/kiosk404/cohort/internal/cohortd/service/events/domain/entity"
	"github.com/kiosk404/cohort/internal/cohortd/service/events/domain/repo"
)

var _ repo.EventRepository = (*EventStore)(nil)

// EventStore keeps events in memory, indexed by task.
type EventStore struct {
	mu     sync.RWMutex
	all    []*entity.Event
	byTask map[string][]*entity.Event
}

func NewEventStore() *EventStore {
	return &EventStore{byTask: make(map[string][]*entity.Event)}
}

func (s *EventStore) Append(_ context.Context, event *entity.Event) error {
	cp := *event
	s.mu.Lock()
	defer s.mu.Unlock()
	s.all = append(s.all, &cp)
	s.byTask[cp.TaskID] = append(s.byTask[cp.TaskID], &cp)
	return nil
}

func (s *EventStore) History(_ context.Context, taskID string) ([]*entity.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.all
	if taskID != "" {
		src = s.byTask[taskID]
	}
	out := make([]*entity.Event, 0, len(src))
	for _, e := range src {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (s *EventStore) LastSeq(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.all) == 0 {
		return 0, nil
	}
	return s.all[len(s.all)-1].Seq, nil
}
