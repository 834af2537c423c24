package repo

import (
	"context"

	"github.com/kiosk404/cohort/internal/cohortd/service/events/domain/entity"
)

// EventRepository persists the event stream.
type EventRepository interface {
	Append(ctx context.Context, event *entity.Event) error
	// History returns the events of taskID in sequence order; "" returns every event.
	History(ctx context.Context, taskID string) ([]*entity.Event, error)
	// LastSeq returns the highest sequence number stored, or 0.
	LastSeq(ctx context.Context) (uint64, error)
}
