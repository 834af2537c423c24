// Package ledgertest holds the behavior every Ledger implementation shares.
package ledgertest

import (
	"context"
	"testing"
	"time"

	"github.com/kiosk404/cohort/internal/cohortd/service/ledger/domain/entity"
	"github.com/kiosk404/cohort/internal/cohortd/service/ledger/domain/repo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises l, which must start empty.
func Run(t *testing.T, l repo.Ledger) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	records := []*entity.CostRecord{
		{ID: "r1", TaskID: "t1", PersonaID: "cfo", Provider: "openai", Model: "gpt-4o", InputTokens: 100, OutputTokens: 50, Cost: 0.5, Timestamp: base},
		{ID: "r2", TaskID: "t1", PersonaID: "analyst", Provider: "anthropic", Model: "claude", InputTokens: 200, OutputTokens: 10, CacheReadTokens: 40, Cost: 1.25, Timestamp: base.Add(time.Minute)},
		{ID: "r3", TaskID: "t2", PersonaID: "analyst", Provider: "openai", Model: "gpt-4o", InputTokens: 10, OutputTokens: 10, Cost: 0.25, Batch: true, Timestamp: base.Add(2 * time.Minute)},
	}
	for _, r := range records {
		require.NoError(t, l.Append(ctx, r))
	}

	t.Run("query all in order", func(t *testing.T) {
		got, err := l.Query(ctx, nil)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, []string{"r1", "r2", "r3"}, []string{got[0].ID, got[1].ID, got[2].ID})
		assert.True(t, got[1].Timestamp.Equal(base.Add(time.Minute)))
		assert.Equal(t, 40, got[1].CacheReadTokens)
	})

	t.Run("filters", func(t *testing.T) {
		batch := true
		tests := []struct {
			name   string
			filter *entity.Filter
			want   []string
		}{
			{"task", &entity.Filter{TaskIDs: []string{"t1"}}, []string{"r1", "r2"}},
			{"tasks", &entity.Filter{TaskIDs: []string{"t2", "t1"}}, []string{"r1", "r2", "r3"}},
			{"persona", &entity.Filter{PersonaID: "analyst"}, []string{"r2", "r3"}},
			{"provider", &entity.Filter{Provider: "openai"}, []string{"r1", "r3"}},
			{"batch", &entity.Filter{Batch: &batch}, []string{"r3"}},
			{"window", &entity.Filter{Since: base.Add(time.Minute), Until: base.Add(2 * time.Minute)}, []string{"r2"}},
			{"limit", &entity.Filter{Limit: 2}, []string{"r1", "r2"}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := l.Query(ctx, tt.filter)
				require.NoError(t, err)
				ids := make([]string, 0, len(got))
				for _, r := range got {
					ids = append(ids, r.ID)
				}
				assert.Equal(t, tt.want, ids)
			})
		}
	})

	t.Run("summarize", func(t *testing.T) {
		got, err := l.Summarize(ctx, nil, entity.GroupByPersona)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "analyst", got[0].Key)
		assert.Equal(t, 2, got[0].Calls)
		assert.Equal(t, 210, got[0].InputTokens)
		assert.InDelta(t, 1.5, got[0].Cost, 1e-9)

		byModel, err := l.Summarize(ctx, &entity.Filter{Provider: "openai"}, entity.GroupByModel)
		require.NoError(t, err)
		require.Len(t, byModel, 1)
		assert.Equal(t, "openai/gpt-4o", byModel[0].Key)
		assert.InDelta(t, 0.75, byModel[0].Cost, 1e-9)
	})

	t.Run("total for task", func(t *testing.T) {
		total, err := l.TotalForTask(ctx, "t1")
		require.NoError(t, err)
		assert.InDelta(t, 1.75, total, 1e-9)

		none, err := l.TotalForTask(ctx, "missing")
		require.NoError(t, err)
		assert.Zero(t, none)
	})
}
