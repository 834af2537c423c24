package inmemory

import (
	"context"
	"sort"
	"sync"

	"github.com/kiosk404/cohort/internal/cohortd/service/ledger/domain/entity"
	"github.com/kiosk404/cohort/internal/cohortd/service/ledger/domain/repo"
)

var _ repo.Ledger = (*Ledger)(nil)

// Ledger is a mutex-guarded slice of records.
type Ledger struct {
	mu      sync.RWMutex
	records []*entity.CostRecord
}

func NewLedger() *Ledger {
	return &Ledger{}
}

func (l *Ledger) Append(_ context.Context, record *entity.CostRecord) error {
	cp := *record
	l.mu.Lock()
	l.records = append(l.records, &cp)
	l.mu.Unlock()
	return nil
}

func (l *Ledger) Query(_ context.Context, filter *entity.Filter) ([]*entity.CostRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*entity.CostRecord
	for _, r := range l.records {
		if !filter.Match(r) {
			continue
		}
		cp := *r
		out = append(out, &cp)
		if filter != nil && filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (l *Ledger) Summarize(_ context.Context, filter *entity.Filter, groupBy entity.GroupBy) ([]*entity.Summary, error) {
	l.mu.RLock()
	groups := make(map[string]*entity.Summary)
	for _, r := range l.records {
		if !filter.Match(r) {
			continue
		}
		key := groupBy.Key(r)
		s, ok := groups[key]
		if !ok {
			s = &entity.Summary{Key: key}
			groups[key] = s
		}
		s.Add(r)
	}
	l.mu.RUnlock()

	out := make([]*entity.Summary, 0, len(groups))
	for _, s := range groups {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (l *Ledger) TotalForTask(_ context.Context, taskID string) (float64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var total float64
	for _, r := range l.records {
		if r.TaskID == taskID {
			total += r.Cost
		}
	}
	return total, nil
}

func (l *Ledger) Close() error { return nil }
