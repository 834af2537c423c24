// Package storetest holds the behavior every task and delegation store shares.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/kiosk404/cohort/internal/cohortd/service/delegation/domain/entity"
	"github.com/kiosk404/cohort/internal/cohortd/service/delegation/domain/repo"
	"github.com/kiosk404/cohort/internal/pkg/errno"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunTasks exercises tasks, which must start empty.
func RunTasks(t *testing.T, tasks repo.TaskRepository) {
	ctx := context.Background()
	base := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)

	seed := []*entity.Task{
		{ID: "root", Command: "plan Q3", Status: entity.TaskStatusDelegated, CorrelationID: "root", ChildIDs: []string{"c1", "c2"}, CreatedAt: base},
		{ID: "c1", ParentID: "root", CorrelationID: "root", Status: entity.TaskStatusDelivered, CreatedAt: base.Add(time.Second)},
		{ID: "c2", ParentID: "root", CorrelationID: "root", Status: entity.TaskStatusFailed, CreatedAt: base.Add(time.Second)},
		{ID: "other", CorrelationID: "other", Status: entity.TaskStatusFailed, CreatedAt: base.Add(time.Minute)},
	}
	for _, task := range seed {
		require.NoError(t, tasks.Create(ctx, task))
	}

	t.Run("create is exclusive", func(t *testing.T) {
		assert.ErrorIs(t, tasks.Create(ctx, &entity.Task{ID: "root"}), errno.ErrTaskExists)
	})

	t.Run("get returns a copy", func(t *testing.T) {
		got, err := tasks.Get(ctx, "root")
		require.NoError(t, err)
		assert.Equal(t, []string{"c1", "c2"}, got.ChildIDs)
		got.ChildIDs[0] = "changed"

		again, err := tasks.Get(ctx, "root")
		require.NoError(t, err)
		assert.Equal(t, "c1", again.ChildIDs[0])

		_, err = tasks.Get(ctx, "missing")
		assert.ErrorIs(t, err, errno.ErrTaskNotFound)
	})

	t.Run("update", func(t *testing.T) {
		assert.ErrorIs(t, tasks.Update(ctx, &entity.Task{ID: "missing"}), errno.ErrTaskNotFound)

		got, err := tasks.Get(ctx, "root")
		require.NoError(t, err)
		got.Status = entity.TaskStatusDelivered
		got.Progress = 1
		require.NoError(t, tasks.Update(ctx, got))

		again, err := tasks.Get(ctx, "root")
		require.NoError(t, err)
		assert.Equal(t, entity.TaskStatusDelivered, again.Status)
		assert.InDelta(t, 1.0, again.Progress, 1e-9)
	})

	t.Run("list", func(t *testing.T) {
		tests := []struct {
			name   string
			filter *entity.TaskFilter
			want   []string
		}{
			{"all newest first", nil, []string{"other", "c1", "c2", "root"}},
			{"roots", &entity.TaskFilter{RootsOnly: true}, []string{"other", "root"}},
			{"correlation", &entity.TaskFilter{CorrelationID: "root"}, []string{"c1", "c2", "root"}},
			{"status", &entity.TaskFilter{Statuses: []entity.TaskStatus{entity.TaskStatusFailed}}, []string{"other", "c2"}},
			{"limit", &entity.TaskFilter{Limit: 2}, []string{"other", "c1"}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := tasks.List(ctx, tt.filter)
				require.NoError(t, err)
				ids := make([]string, 0, len(got))
				for _, task := range got {
					ids = append(ids, task.ID)
				}
				assert.Equal(t, tt.want, ids)
			})
		}
	})
}

// RunDelegations exercises plans, which must start empty.
func RunDelegations(t *testing.T, plans repo.DelegationRepository) {
	ctx := context.Background()

	_, err := plans.Get(ctx, "t1")
	require.ErrorIs(t, err, errno.ErrTaskNotFound)
	require.NoError(t, plans.Archive(ctx, "t1"), "archiving a missing plan is a no-op")

	plan := &entity.Delegation{
		TaskID:    "t1",
		ManagerID: "cfo",
		Subtasks: []*entity.SubtaskSpec{
			{ID: "s1", SpecialistID: "analyst", Instruction: "pull the numbers", Section: "Numbers"},
		},
		CreatedAt: time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, plans.Save(ctx, plan))

	got, err := plans.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "cfo", got.ManagerID)
	require.Len(t, got.Subtasks, 1)
	assert.Equal(t, "analyst", got.Subtasks[0].SpecialistID)
	assert.Nil(t, got.Archived)

	require.NoError(t, plans.Archive(ctx, "t1"))
	got, err = plans.Get(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, got.Archived)
	stamp := *got.Archived

	require.NoError(t, plans.Archive(ctx, "t1"))
	got, err = plans.Get(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, got.Archived.Equal(stamp), "archive keeps the first stamp")
}
