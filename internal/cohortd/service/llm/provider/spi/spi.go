package spi

import (
	"context"

	"github.com/cloudwego/eino/components/model"
	"github.com/kiosk404/cohort/internal/cohortd/service/llm/domain/entity"
	"github.com/kiosk404/cohort/internal/pkg/options"
)

// ProviderPlugin turns a provider's configuration block into the provider
// record and its model catalog.
type ProviderPlugin interface {
	Name() string
	// DefaultConfig is the built-in block, with the API key left as an
	// ${ENV} reference. Callers may modify the returned value.
	DefaultConfig() *options.ProviderConfig
	BuildProvider(cfg *options.ProviderConfig) (*entity.ModelProvider, error)
	// BuildModels errors on a catalog entry without an id.
	BuildModels(provider *entity.ModelProvider, cfg *options.ProviderConfig) ([]*entity.ModelInstance, error)
}

// ChatModelPlugin extends ProviderPlugin with the ability to build Eino chat
// models for synchronous generation.
type ChatModelPlugin interface {
	ProviderPlugin
	BuildChatModel(ctx context.Context, call *entity.ChatCall) (model.BaseChatModel, error)
}

// BatchPlugin extends ProviderPlugin with the provider's native deferred
// submission channel.
type BatchPlugin interface {
	ProviderPlugin
	NewBatchClient(provider *entity.ModelProvider) (BatchClient, error)
}

// BatchClient talks to one provider's batch endpoint.
type BatchClient interface {
	// Submit uploads the prompts as one job. instances is keyed by ModelRef.String().
	Submit(ctx context.Context, prompts []*entity.BatchPrompt, instances map[string]*entity.ModelInstance) (*entity.BatchHandle, error)
	// Poll reports the provider's view of the job.
	Poll(ctx context.Context, handle *entity.BatchHandle) (*entity.BatchStatus, error)
	// Fetch downloads and parses every available member result.
	Fetch(ctx context.Context, handle *entity.BatchHandle, status *entity.BatchStatus) ([]*entity.BatchItemResult, error)
	// Cancel asks the provider to stop the job.
	Cancel(ctx context.Context, handle *entity.BatchHandle) error
}

// PluginFactory returns a fresh plugin; the registry stores factories so
// every manager gets its own instance.
type PluginFactory func() ProviderPlugin
