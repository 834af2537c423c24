package repo

import (
	"context"

	"github.com/kiosk404/cohort/internal/cohortd/service/delegation/domain/entity"
)

// TaskRepository persists task records. Get returns ErrTaskNotFound for unknown ids.
type TaskRepository interface {
	Create(ctx context.Context, task *entity.Task) error
	Update(ctx context.Context, task *entity.Task) error
	Get(ctx context.Context, id string) (*entity.Task, error)
	// List returns matching tasks, newest first.
	List(ctx context.Context, filter *entity.TaskFilter) ([]*entity.Task, error)
}

// DelegationRepository persists one delegation per task.
type DelegationRepository interface {
	Save(ctx context.Context, d *entity.Delegation) error
	Get(ctx context.Context, taskID string) (*entity.Delegation, error)
	// Archive stamps the delegation archived; missing delegations are ignored.
	Archive(ctx context.Context, taskID string) error
}
