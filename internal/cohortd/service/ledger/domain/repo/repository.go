package repo

import (
	"context"

	"github.com/kiosk404/cohort/internal/cohortd/service/ledger/domain/entity"
)

// Ledger is the append-only cost record store.
type Ledger interface {
	Append(ctx context.Context, record *entity.CostRecord) error
	// Query returns matching records oldest first.
	Query(ctx context.Context, filter *entity.Filter) ([]*entity.CostRecord, error)
	// Summarize groups matching records, sorted by key.
	Summarize(ctx context.Context, filter *entity.Filter, groupBy entity.GroupBy) ([]*entity.Summary, error)
	TotalForTask(ctx context.Context, taskID string) (float64, error)
	Close() error
}
