package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kiosk404/cohort/internal/cohortd/service/events/domain/entity"
	"github.com/kiosk404/cohort/internal/cohortd/service/events/domain/repo"
	"github.com/kiosk404/cohort/internal/pkg/errno"
	"github.com/kiosk404/cohort/pkg/logger"
)

// DefaultBufferSize is the per-subscriber channel capacity.
const DefaultBufferSize = 100

// Forwarder receives every published event after it is stored.
// Forward must not block for long; it runs on the publisher's goroutine.
type Forwarder interface {
	Forward(event *entity.Event)
}

// Bus orders, persists and fans out task events.
type Bus interface {
	// Publish assigns the next sequence number, persists the event, then
	// delivers it to matching subscribers.
	Publish(ctx context.Context, event entity.Event) (uint64, error)
	// Subscribe streams events of taskID, or of every task when taskID is "".
	// The returned cancel func closes the channel.
	Subscribe(taskID string) (<-chan entity.Event, func())
	History(ctx context.Context, taskID string) ([]*entity.Event, error)
	Close()
}

type subscriber struct {
	id     uint64
	taskID string
	ch     chan entity.Event
	once   sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.ch) })
}

type bus struct {
	repo       repo.EventRepository
	forwarders []Forwarder
	bufferSize int

	mu     sync.Mutex
	seq    uint64
	nextID uint64
	subs   map[uint64]*subscriber
	closed bool
}

// NewBus resumes numbering after the last stored sequence.
func NewBus(ctx context.Context, r repo.EventRepository, bufferSize int, forwarders ...Forwarder) (Bus, error) {
	last, err := r.LastSeq(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read last event sequence: %w", err)
	}
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &bus{
		repo:       r,
		forwarders: forwarders,
		bufferSize: bufferSize,
		seq:        last,
		subs:       make(map[uint64]*subscriber),
	}, nil
}

func (b *bus) Publish(ctx context.Context, event entity.Event) (uint64, error) {
	if event.At.IsZero() {
		event.At = time.Now()
	}

	// Sequence assignment, persistence and delivery happen under one lock so
	// subscribers observe the same order as History.
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, errno.ErrEngineClosed
	}
	event.Seq = b.seq + 1
	if err := b.repo.Append(ctx, &event); err != nil {
		return 0, fmt.Errorf("failed to persist event for task %s: %w", event.TaskID, err)
	}
	b.seq = event.Seq

	for _, s := range b.subs {
		if s.taskID != "" && s.taskID != event.TaskID {
			continue
		}
		select {
		case s.ch <- event:
		default:
			logger.Warn("[EventBus] subscriber %d lagging, dropped event %d of task %s", s.id, event.Seq, event.TaskID)
		}
	}
	for _, f := range b.forwarders {
		f.Forward(&event)
	}
	return event.Seq, nil
}

func (b *bus) Subscribe(taskID string) (<-chan entity.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := &subscriber{taskID: taskID, ch: make(chan entity.Event, b.bufferSize)}
	if b.closed {
		s.close()
		return s.ch, func() {}
	}
	b.nextID++
	s.id = b.nextID
	b.subs[s.id] = s

	cancel := func() {
		b.mu.Lock()
		delete(b.subs, s.id)
		b.mu.Unlock()
		s.close()
	}
	return s.ch, cancel
}

func (b *bus) History(ctx context.Context, taskID string) ([]*entity.Event, error) {
	return b.repo.History(ctx, taskID)
}

func (b *bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		s.close()
		delete(b.subs, id)
	}
}
