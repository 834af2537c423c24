package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kiosk404/cohort/internal/cohortd/service/delegation/domain/entity"
	"github.com/kiosk404/cohort/internal/cohortd/service/delegation/domain/repo"
	"github.com/kiosk404/cohort/internal/pkg/errno"
)

var (
	_ repo.TaskRepository       = (*TaskStore)(nil)
	_ repo.DelegationRepository = (*DelegationStore)(nil)
)

// TaskStore is a map-backed task repository.
type TaskStore struct {
	mu    sync.RWMutex
	tasks map[string]*entity.Task
}

func NewTaskStore() *TaskStore {
	return &TaskStore{tasks: make(map[string]*entity.Task)}
}

func (s *TaskStore) Create(_ context.Context, task *entity.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.ID]; ok {
		return fmt.Errorf("task %q: %w", task.ID, errno.ErrTaskExists)
	}
	s.tasks[task.ID] = task.Clone()
	return nil
}

func (s *TaskStore) Update(_ context.Context, task *entity.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.ID]; !ok {
		return fmt.Errorf("task %q: %w", task.ID, errno.ErrTaskNotFound)
	}
	s.tasks[task.ID] = task.Clone()
	return nil
}

func (s *TaskStore) Get(_ context.Context, id string) (*entity.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %q: %w", id, errno.ErrTaskNotFound)
	}
	return t.Clone(), nil
}

func (s *TaskStore) List(_ context.Context, filter *entity.TaskFilter) ([]*entity.Task, error) {
	s.mu.RLock()
	out := make([]*entity.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if filter.Match(t) {
			out = append(out, t.Clone())
		}
	}
	s.mu.RUnlock()
	return entity.SortTasks(out, filter), nil
}

// DelegationStore is a map-backed delegation repository.
type DelegationStore struct {
	mu    sync.RWMutex
	plans map[string]*entity.Delegation
}

func NewDelegationStore() *DelegationStore {
	return &DelegationStore{plans: make(map[string]*entity.Delegation)}
}

func (s *DelegationStore) Save(_ context.Context, d *entity.Delegation) error {
	s.mu.Lock()
	s.plans[d.TaskID] = d.Clone()
	s.mu.Unlock()
	return nil
}

func (s *DelegationStore) Get(_ context.Context, taskID string) (*entity.Delegation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.plans[taskID]
	if !ok {
		return nil, fmt.Errorf("delegation for task %q: %w", taskID, errno.ErrTaskNotFound)
	}
	return d.Clone(), nil
}

func (s *DelegationStore) Archive(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.plans[taskID]; ok && d.Archived == nil {
		now := time.Now()
		d.Archived = &now
	}
	return nil
}
