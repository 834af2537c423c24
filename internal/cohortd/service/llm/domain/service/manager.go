package service

import (
	"context"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/kiosk404/cohort/internal/cohortd/service/llm/domain/entity"
	"github.com/kiosk404/cohort/internal/cohortd/service/llm/provider/spi"
)

// ModelManager owns provider registration and hands out chat models.
type ModelManager interface {
	// Initialize registers the providers found in the registry and the
	// configuration. Call it once before anything else.
	Initialize(ctx context.Context) error

	Model(ctx context.Context, ref entity.ModelRef) (*entity.ModelInstance, error)
	// FindModels returns every model serving a bare model id.
	FindModels(ctx context.Context, modelID string) ([]*entity.ModelInstance, error)
	DefaultModel(ctx context.Context) (*entity.ModelInstance, error)
	ListModels(ctx context.Context) ([]*entity.ModelInstance, error)

	// ChatModel returns a cached chat model for ref tuned to the reasoning
	// depth and response format. Callers needing tool calling assert
	// ToolCallingChatModel on the result.
	ChatModel(ctx context.Context, ref entity.ModelRef, depth entity.Reasoning, format entity.ModelResponseFormat) (model.BaseChatModel, error)
	// BatchClient returns the provider's native batch client, or false when
	// the provider has none or has batch disabled.
	BatchClient(ctx context.Context, providerID string) (spi.BatchClient, bool, error)

	// Cooldown rests ref until the given time.
	Cooldown(ref entity.ModelRef, until time.Time)
	// CoolingDown reports whether ref is resting and until when.
	CoolingDown(ref entity.ModelRef) (time.Time, bool)
}
