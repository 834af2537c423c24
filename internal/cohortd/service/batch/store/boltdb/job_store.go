package boltdb

import (
	"context"
	"fmt"

	"github.com/kiosk404/cohort/internal/cohortd/service/batch/domain/entity"
	"github.com/kiosk404/cohort/internal/cohortd/service/batch/domain/repo"
	"github.com/kiosk404/cohort/internal/pkg/errno"
	"github.com/kiosk404/cohort/internal/pkg/storage/boltdb"
)

var (
	BucketJobs    = []byte("batch_jobs")
	BucketMembers = []byte("batch_members")
)

var (
	_ repo.JobRepository    = (*JobStore)(nil)
	_ repo.MemberRepository = (*MemberStore)(nil)
)

// JobStore is a BoltDB-backed job repository keyed by job id.
type JobStore struct {
	db *boltdb.DB
}

func NewJobStore(db *boltdb.DB) (*JobStore, error) {
	if err := db.EnsureBuckets(BucketJobs); err != nil {
		return nil, err
	}
	return &JobStore{db: db}, nil
}

func (s *JobStore) Save(_ context.Context, job *entity.BatchJob) error {
	return s.db.Put(BucketJobs, job.ID, job)
}

func (s *JobStore) Get(_ context.Context, id string) (*entity.BatchJob, error) {
	var job entity.BatchJob
	found, err := s.db.Get(BucketJobs, id, &job)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("batch job %q: %w", id, errno.ErrJobNotFound)
	}
	return &job, nil
}

func (s *JobStore) List(_ context.Context, filter *entity.JobFilter) ([]*entity.BatchJob, error) {
	jobs, err := boltdb.Scan(s.db, BucketJobs, filter.Match)
	if err != nil {
		return nil, fmt.Errorf("list batch jobs: %w", err)
	}
	return entity.SortJobs(jobs, filter), nil
}

// MemberStore is a BoltDB-backed member repository keyed by member id.
type MemberStore struct {
	db *boltdb.DB
}

func NewMemberStore(db *boltdb.DB) (*MemberStore, error) {
	if err := db.EnsureBuckets(BucketMembers); err != nil {
		return nil, err
	}
	return &MemberStore{db: db}, nil
}

func (s *MemberStore) Save(_ context.Context, m *entity.Member) error {
	return s.db.Put(BucketMembers, m.ID, m)
}

func (s *MemberStore) Get(_ context.Context, id string) (*entity.Member, error) {
	var m entity.Member
	found, err := s.db.Get(BucketMembers, id, &m)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("batch member %q: %w", id, errno.ErrMemberNotFound)
	}
	return &m, nil
}

func (s *MemberStore) List(_ context.Context, filter *entity.MemberFilter) ([]*entity.Member, error) {
	members, err := boltdb.Scan(s.db, BucketMembers, filter.Match)
	if err != nil {
		return nil, fmt.Errorf("list batch members: %w", err)
	}
	return entity.SortMembers(members), nil
}
