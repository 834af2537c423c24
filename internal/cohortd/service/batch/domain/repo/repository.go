package repo

import (
	"context"

	"github.com/kiosk404/cohort/internal/cohortd/service/batch/domain/entity"
)

// JobRepository persists batch jobs.
type JobRepository interface {
	// Save inserts or replaces the job.
	Save(ctx context.Context, job *entity.BatchJob) error
	// Get returns errno.ErrJobNotFound for an unknown id.
	Get(ctx context.Context, id string) (*entity.BatchJob, error)
	// List returns matching jobs, newest first.
	List(ctx context.Context, filter *entity.JobFilter) ([]*entity.BatchJob, error)
}

// MemberRepository persists member requests. Members are never deleted.
type MemberRepository interface {
	Save(ctx context.Context, m *entity.Member) error
	// Get returns errno.ErrMemberNotFound for an unknown id.
	Get(ctx context.Context, id string) (*entity.Member, error)
	// List returns matching members in enqueue order.
	List(ctx context.Context, filter *entity.MemberFilter) ([]*entity.Member, error)
}
