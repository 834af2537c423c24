package inmemory

import (
	"context"
	"fmt"
	"sync"

	"github.com/kiosk404/cohort/internal/cohortd/service/batch/domain/entity"
	"github.com/kiosk404/cohort/internal/cohortd/service/batch/domain/repo"
	"github.com/kiosk404/cohort/internal/pkg/errno"
)

var (
	_ repo.JobRepository    = (*JobStore)(nil)
	_ repo.MemberRepository = (*MemberStore)(nil)
)

// JobStore is a map-backed job repository.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]*entity.BatchJob
}

func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]*entity.BatchJob)}
}

func (s *JobStore) Save(_ context.Context, job *entity.BatchJob) error {
	s.mu.Lock()
	s.jobs[job.ID] = job.Clone()
	s.mu.Unlock()
	return nil
}

func (s *JobStore) Get(_ context.Context, id string) (*entity.BatchJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("batch job %q: %w", id, errno.ErrJobNotFound)
	}
	return j.Clone(), nil
}

func (s *JobStore) List(_ context.Context, filter *entity.JobFilter) ([]*entity.BatchJob, error) {
	s.mu.RLock()
	out := make([]*entity.BatchJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		if filter.Match(j) {
			out = append(out, j.Clone())
		}
	}
	s.mu.RUnlock()
	return entity.SortJobs(out, filter), nil
}

// MemberStore is a map-backed member repository.
type MemberStore struct {
	mu      sync.RWMutex
	members map[string]*entity.Member
}

func NewMemberStore() *MemberStore {
	return &MemberStore{members: make(map[string]*entity.Member)}
}

func (s *MemberStore) Save(_ context.Context, m *entity.Member) error {
	s.mu.Lock()
	s.members[m.ID] = m.Clone()
	s.mu.Unlock()
	return nil
}

func (s *MemberStore) Get(_ context.Context, id string) (*entity.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[id]
	if !ok {
		return nil, fmt.Errorf("batch member %q: %w", id, errno.ErrMemberNotFound)
	}
	return m.Clone(), nil
}

func (s *MemberStore) List(_ context.Context, filter *entity.MemberFilter) ([]*entity.Member, error) {
	s.mu.RLock()
	out := make([]*entity.Member, 0)
	for _, m := range s.members {
		if filter.Match(m) {
			out = append(out, m.Clone())
		}
	}
	s.mu.RUnlock()
	return entity.SortMembers(out), nil
}
