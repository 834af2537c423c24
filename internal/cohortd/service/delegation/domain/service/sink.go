package service

import (
	"context"
	"sync"

	"github.com/kiosk404/cohort/internal/cohortd/service/delegation/domain/entity"
)

// ResultSink collects subtask results from the synchronous worker loop and
// the batch engine alike. The first result delivered for a subtask wins;
// later ones are dropped, so a timed-out subtask stays failed even if its
// batch member completes afterwards.
type ResultSink struct {
	mu        sync.Mutex
	results   map[string]*entity.SubtaskResult
	ready     map[string]chan struct{}
	onDeliver func(*entity.SubtaskResult)
}

// NewResultSink creates a sink. onDeliver runs once per accepted result and may be nil.
func NewResultSink(onDeliver func(*entity.SubtaskResult)) *ResultSink {
	return &ResultSink{
		results:   make(map[string]*entity.SubtaskResult),
		ready:     make(map[string]chan struct{}),
		onDeliver: onDeliver,
	}
}

func (s *ResultSink) readyLocked(id string) chan struct{} {
	ch, ok := s.ready[id]
	if !ok {
		ch = make(chan struct{})
		s.ready[id] = ch
	}
	return ch
}

// Expect registers a subtask before it is dispatched.
func (s *ResultSink) Expect(id string) {
	s.mu.Lock()
	s.readyLocked(id)
	s.mu.Unlock()
}

// Deliver records r unless a result for the subtask already arrived.
func (s *ResultSink) Deliver(r *entity.SubtaskResult) bool {
	s.mu.Lock()
	if _, done := s.results[r.SubtaskID]; done {
		s.mu.Unlock()
		return false
	}
	s.results[r.SubtaskID] = r
	close(s.readyLocked(r.SubtaskID))
	s.mu.Unlock()

	if s.onDeliver != nil {
		s.onDeliver(r)
	}
	return true
}

// Wait blocks until the subtask has a result or ctx is done.
func (s *ResultSink) Wait(ctx context.Context, id string) (*entity.SubtaskResult, bool) {
	s.mu.Lock()
	ch := s.readyLocked(id)
	s.mu.Unlock()

	select {
	case <-ch:
		return s.Get(id)
	case <-ctx.Done():
		// A result that raced the deadline still counts.
		return s.Get(id)
	}
}

func (s *ResultSink) Get(id string) (*entity.SubtaskResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.results[id]
	return r, ok
}

// Len returns how many results have been delivered.
func (s *ResultSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}
