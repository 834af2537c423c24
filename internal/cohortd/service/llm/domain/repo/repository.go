package repo

import (
	"context"

	"github.com/kiosk404/cohort/internal/cohortd/service/llm/domain/entity"
)

// ModelRepository holds the models the gateway may route to, keyed by ref.
type ModelRepository interface {
	// Save inserts or replaces the model with the same ref.
	Save(ctx context.Context, m *entity.ModelInstance) error
	Get(ctx context.Context, ref entity.ModelRef) (*entity.ModelInstance, error)
	// ByModelID returns every provider's model with a bare model id.
	ByModelID(ctx context.Context, modelID string) ([]*entity.ModelInstance, error)
	Default(ctx context.Context) (*entity.ModelInstance, error)
	SetDefault(ctx context.Context, ref entity.ModelRef) error
	// List returns models in registration order.
	List(ctx context.Context) ([]*entity.ModelInstance, error)
}

// ProviderRepository holds the registered providers.
type ProviderRepository interface {
	Save(ctx context.Context, p *entity.ModelProvider) error
	Get(ctx context.Context, id string) (*entity.ModelProvider, error)
	List(ctx context.Context) ([]*entity.ModelProvider, error)
}
