package boltdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/boltdb/bolt"
	"github.com/kiosk404/cohort/internal/cohortd/service/delegation/domain/entity"
	"github.com/kiosk404/cohort/internal/cohortd/service/delegation/domain/repo"
	"github.com/kiosk404/cohort/internal/pkg/errno"
	"github.com/kiosk404/cohort/internal/pkg/storage/boltdb"
	"github.com/kiosk404/cohort/pkg/utils/json"
)

var (
	BucketTasks       = []byte("tasks")
	BucketDelegations = []byte("delegations")
)

var (
	_ repo.TaskRepository       = (*TaskStore)(nil)
	_ repo.DelegationRepository = (*DelegationStore)(nil)
)

// TaskStore is a BoltDB-backed task repository keyed by task id.
type TaskStore struct {
	db *boltdb.DB
}

func NewTaskStore(db *boltdb.DB) (*TaskStore, error) {
	if err := db.EnsureBuckets(BucketTasks); err != nil {
		return nil, err
	}
	return &TaskStore{db: db}, nil
}

func (s *TaskStore) Create(_ context.Context, task *entity.Task) error {
	err := s.db.Insert(BucketTasks, task.ID, task)
	if errors.Is(err, boltdb.ErrExists) {
		return fmt.Errorf("task %q: %w", task.ID, errno.ErrTaskExists)
	}
	return err
}

func (s *TaskStore) Update(_ context.Context, task *entity.Task) error {
	return s.db.Replace(BucketTasks, task.ID, task, fmt.Errorf("task %q: %w", task.ID, errno.ErrTaskNotFound))
}

func (s *TaskStore) Get(_ context.Context, id string) (*entity.Task, error) {
	var task entity.Task
	found, err := s.db.Get(BucketTasks, id, &task)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("task %q: %w", id, errno.ErrTaskNotFound)
	}
	return &task, nil
}

// List returns matching tasks newest first.
func (s *TaskStore) List(_ context.Context, filter *entity.TaskFilter) ([]*entity.Task, error) {
	tasks, err := boltdb.Scan(s.db, BucketTasks, filter.Match)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return entity.SortTasks(tasks, filter), nil
}

// DelegationStore is a BoltDB-backed delegation repository keyed by task id.
type DelegationStore struct {
	db *boltdb.DB
}

func NewDelegationStore(db *boltdb.DB) (*DelegationStore, error) {
	if err := db.EnsureBuckets(BucketDelegations); err != nil {
		return nil, err
	}
	return &DelegationStore{db: db}, nil
}

func (s *DelegationStore) Save(_ context.Context, d *entity.Delegation) error {
	return s.db.Put(BucketDelegations, d.TaskID, d)
}

func (s *DelegationStore) Get(_ context.Context, taskID string) (*entity.Delegation, error) {
	var d entity.Delegation
	found, err := s.db.Get(BucketDelegations, taskID, &d)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("delegation for task %q: %w", taskID, errno.ErrTaskNotFound)
	}
	return &d, nil
}

func (s *DelegationStore) Archive(_ context.Context, taskID string) error {
	return s.db.Bolt().Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(BucketDelegations)
		data := b.Get([]byte(taskID))
		if data == nil {
			return nil
		}
		var d entity.Delegation
		if err := json.Unmarshal(data, &d); err != nil {
			return fmt.Errorf("failed to unmarshal delegation: %w", err)
		}
		if d.Archived != nil {
			return nil
		}
		now := time.Now()
		d.Archived = &now
		out, err := json.Marshal(&d)
		if err != nil {
			return err
		}
		return b.Put([]byte(taskID), out)
	})
}
