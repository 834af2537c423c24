package boltdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/kiosk404/cohort/internal/cohortd/service/batch/domain/entity"
	"github.com/kiosk404/cohort/internal/cohortd/service/batch/domain/repo"
	"github.com/kiosk404/cohort/internal/cohortd/service/batch/store/inmemory"
	"github.com/kiosk404/cohort/internal/pkg/errno"
	storage "github.com/kiosk404/cohort/internal/pkg/storage/boltdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stores struct {
	jobs    repo.JobRepository
	members repo.MemberRepository
}

func implementations(t *testing.T) map[string]func() stores {
	return map[string]func() stores{
		"inmemory": func() stores {
			return stores{inmemory.NewJobStore(), inmemory.NewMemberStore()}
		},
		"boltdb": func() stores {
			db, err := storage.Open(filepath.Join(t.TempDir(), "batch.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = db.Close() })
			jobs, err := NewJobStore(db)
			require.NoError(t, err)
			members, err := NewMemberStore(db)
			require.NoError(t, err)
			return stores{jobs, members}
		},
	}
}

func TestJobStore(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for name, open := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			s := open()

			_, err := s.jobs.Get(ctx, "missing")
			assert.ErrorIs(t, err, errno.ErrJobNotFound)

			for i, id := range []string{"j1", "j2", "j3"} {
				require.NoError(t, s.jobs.Save(ctx, &entity.BatchJob{
					ID:        id,
					Provider:  "openai",
					MemberIDs: []string{id + "-m"},
					State:     entity.JobStateSubmitted,
					CreatedAt: base.Add(time.Duration(i) * time.Minute),
				}))
			}

			j2, err := s.jobs.Get(ctx, "j2")
			require.NoError(t, err)
			j2.State = entity.JobStateCompleted
			j2.MemberIDs[0] = "mutated"
			require.NoError(t, s.jobs.Save(ctx, j2))

			all, err := s.jobs.List(ctx, nil)
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, []string{"j3", "j2", "j1"}, []string{all[0].ID, all[1].ID, all[2].ID})

			open, err := s.jobs.List(ctx, &entity.JobFilter{States: []entity.JobState{entity.JobStateSubmitted}, Limit: 1})
			require.NoError(t, err)
			require.Len(t, open, 1)
			assert.Equal(t, "j3", open[0].ID)

			got, err := s.jobs.Get(ctx, "j2")
			require.NoError(t, err)
			assert.Equal(t, entity.JobStateCompleted, got.State)
			assert.Equal(t, []string{"mutated"}, got.MemberIDs)
		})
	}
}

func TestMemberStore(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for name, open := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			s := open()

			_, err := s.members.Get(ctx, "missing")
			assert.ErrorIs(t, err, errno.ErrMemberNotFound)

			seed := []*entity.Member{
				{ID: "m2", JobID: "j1", TaskID: "t1", State: entity.MemberStateSubmitted, EnqueuedAt: base.Add(time.Second)},
				{ID: "m1", JobID: "j1", TaskID: "t1", State: entity.MemberStateSucceeded, EnqueuedAt: base},
				{ID: "m3", JobID: "j2", TaskID: "t2", State: entity.MemberStatePending, EnqueuedAt: base.Add(2 * time.Second)},
			}
			for _, m := range seed {
				require.NoError(t, s.members.Save(ctx, m))
			}

			inJob, err := s.members.List(ctx, &entity.MemberFilter{JobID: "j1"})
			require.NoError(t, err)
			require.Len(t, inJob, 2)
			assert.Equal(t, "m1", inJob[0].ID)
			assert.Equal(t, "m2", inJob[1].ID)

			open, err := s.members.List(ctx, &entity.MemberFilter{States: []entity.MemberState{entity.MemberStatePending, entity.MemberStateSubmitted}})
			require.NoError(t, err)
			assert.Len(t, open, 2)

			byTask, err := s.members.List(ctx, &entity.MemberFilter{TaskID: "t2"})
			require.NoError(t, err)
			require.Len(t, byTask, 1)
			assert.Equal(t, "m3", byTask[0].ID)
		})
	}
}
