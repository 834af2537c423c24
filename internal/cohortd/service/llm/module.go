package llm

import (
	"context"
	"fmt"

	"github.com/kiosk404/cohort/internal/cohortd/service/llm/domain/service"
	"github.com/kiosk404/cohort/internal/cohortd/service/llm/provider"
	"github.com/kiosk404/cohort/internal/cohortd/service/llm/store/inmemory"
	"github.com/kiosk404/cohort/internal/pkg/options"
	"github.com/kiosk404/cohort/pkg/logger"
)

// Config holds the configuration for the LLM module.
type Config struct {
	ModelOptions *options.ModelOptions

	// BatchDiscount is the fraction taken off deferred (batch) calls.
	BatchDiscount float64
	// DeferredConcurrency bounds the in-process batch fallback.
	DeferredConcurrency int

	// OutOfTreeRegistry allows registering additional provider plugins
	// beyond the built-in ones. If nil, only in-tree providers are available.
	OutOfTreeRegistry *provider.Registry
	// DisableInTree leaves only the out-of-tree plugins. Tests use it.
	DisableInTree bool
}

// CompletedConfig is the validated and completed configuration.
type CompletedConfig struct {
	*Config
}

// Complete fills defaults.
func (c *Config) Complete() CompletedConfig {
	if c.ModelOptions == nil {
		c.ModelOptions = options.NewModelOptions()
	}
	if c.ModelOptions.Retry == nil {
		c.ModelOptions.Retry = options.NewModelOptions().Retry
	}
	if c.BatchDiscount < 0 || c.BatchDiscount >= 1 {
		c.BatchDiscount = 0.5
	}
	if c.DeferredConcurrency <= 0 {
		c.DeferredConcurrency = 4
	}
	return CompletedConfig{c}
}

// Module is the top-level LLM module.
type Module struct {
	Manager  service.ModelManager
	Gateway  service.Gateway
	Registry *provider.Registry
}

// New creates and initializes the LLM module. meter receives every
// synchronous charge and may be nil.
func (c CompletedConfig) New(ctx context.Context, meter service.Meter) (*Module, error) {
	registry := provider.NewRegistry()
	if !c.DisableInTree {
		registry = provider.NewInTreeRegistry()
	}
	if c.OutOfTreeRegistry != nil {
		if err := registry.Merge(c.OutOfTreeRegistry); err != nil {
			return nil, fmt.Errorf("failed to merge out-of-tree providers: %w", err)
		}
	}
	logger.Info("[LLM] provider registry initialized with %d plugins", registry.Len())

	manager := service.NewModelManager(c.ModelOptions, inmemory.NewModelStore(), inmemory.NewProviderStore(), registry)
	if err := manager.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize LLM module: %w", err)
	}

	gateway := service.NewGateway(service.GatewayConfig{
		Retry:               c.ModelOptions.Retry,
		CallTimeout:         c.ModelOptions.CallTimeout,
		BatchDiscount:       c.BatchDiscount,
		DeferredConcurrency: c.DeferredConcurrency,
		Cooldown:            c.ModelOptions.Cooldown,
	}, manager, meter)

	return &Module{
		Manager:  manager,
		Gateway:  gateway,
		Registry: registry,
	}, nil
}

// Close releases background batch work.
func (m *Module) Close() {
	m.Gateway.Close()
}
