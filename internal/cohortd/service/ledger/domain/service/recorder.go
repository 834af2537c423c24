package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	evententity "github.com/kiosk404/cohort/internal/cohortd/service/events/domain/entity"
	"github.com/kiosk404/cohort/internal/cohortd/service/ledger/domain/entity"
	"github.com/kiosk404/cohort/internal/cohortd/service/ledger/domain/repo"
	llmentity "github.com/kiosk404/cohort/internal/cohortd/service/llm/domain/entity"
	llmservice "github.com/kiosk404/cohort/internal/cohortd/service/llm/domain/service"
	"github.com/kiosk404/cohort/pkg/logger"
)

// Publisher is the event sink cost deltas are reported to.
type Publisher interface {
	Publish(ctx context.Context, event evententity.Event) (uint64, error)
}

var _ llmservice.Meter = (*Recorder)(nil)

// Recorder turns gateway charges into ledger records and cost events.
type Recorder struct {
	ledger repo.Ledger
	pub    Publisher
}

func NewRecorder(ledger repo.Ledger, pub Publisher) *Recorder {
	return &Recorder{ledger: ledger, pub: pub}
}

// Record appends the charge. A failed publish is logged; the record stays.
func (r *Recorder) Record(ctx context.Context, charge *llmentity.Charge) error {
	rec := RecordFromCharge(charge)
	if err := r.ledger.Append(ctx, rec); err != nil {
		return err
	}
	logger.Debug("[Ledger] task %s persona %s %s/%s cost %.6f batch=%v",
		rec.TaskID, rec.PersonaID, rec.Provider, rec.Model, rec.Cost, rec.Batch)

	if r.pub == nil || rec.TaskID == "" {
		return nil
	}
	_, err := r.pub.Publish(ctx, evententity.Event{
		TaskID:    rec.TaskID,
		Type:      evententity.EventTypeCost,
		PersonaID: rec.PersonaID,
		CostDelta: rec.Cost,
		Detail:    fmt.Sprintf("%s/%s", rec.Provider, rec.Model),
		At:        rec.Timestamp,
	})
	if err != nil {
		logger.Warn("[Ledger] failed to publish cost event of task %s: %v", rec.TaskID, err)
	}
	return nil
}

// RecordFromCharge copies a charge into a new CostRecord.
func RecordFromCharge(c *llmentity.Charge) *entity.CostRecord {
	rec := &entity.CostRecord{
		ID:        uuid.NewString(),
		TaskID:    c.TaskID,
		PersonaID: c.PersonaID,
		Provider:  c.Ref.ProviderID,
		Model:     c.Ref.ModelID,
		Cost:      c.Cost,
		Batch:     c.Batch,
		Timestamp: c.At,
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	if c.Usage != nil {
		rec.InputTokens = c.Usage.PromptTokens
		rec.OutputTokens = c.Usage.CompletionTokens
		rec.CacheReadTokens = c.Usage.CachedTokens
	}
	return rec
}
