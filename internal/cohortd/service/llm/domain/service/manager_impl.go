package service

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/kiosk404/cohort/internal/cohortd/service/llm/domain/entity"
	"github.com/kiosk404/cohort/internal/cohortd/service/llm/domain/repo"
	"github.com/kiosk404/cohort/internal/cohortd/service/llm/provider"
	"github.com/kiosk404/cohort/internal/cohortd/service/llm/provider/helper"
	"github.com/kiosk404/cohort/internal/cohortd/service/llm/provider/spi"
	"github.com/kiosk404/cohort/internal/pkg/options"
	"github.com/kiosk404/cohort/pkg/logger"
)

var _ ModelManager = (*modelManagerImpl)(nil)

// modelManagerImpl instantiates providers through a provider.Registry
// instead of hard-coding them.
type modelManagerImpl struct {
	opts      *options.ModelOptions
	models    repo.ModelRepository
	providers repo.ProviderRepository
	registry  *provider.Registry

	// plugins key: provider id, value: spi.ProviderPlugin.
	plugins sync.Map
	// chatModels key: "provider/model|depth|format".
	chatModels sync.Map
	// batchClients key: provider id, value: spi.BatchClient.
	batchClients sync.Map

	mu      sync.Mutex
	resting map[entity.ModelRef]time.Time
	now     func() time.Time
}

// NewModelManager creates a ModelManager over a populated registry,
// typically provider.NewInTreeRegistry().
func NewModelManager(opts *options.ModelOptions, models repo.ModelRepository, providers repo.ProviderRepository, registry *provider.Registry) ModelManager {
	return &modelManagerImpl{
		opts:      opts,
		models:    models,
		providers: providers,
		registry:  registry,
		resting:   make(map[entity.ModelRef]time.Time),
		now:       time.Now,
	}
}

func (m *modelManagerImpl) Model(ctx context.Context, ref entity.ModelRef) (*entity.ModelInstance, error) {
	return m.models.Get(ctx, ref)
}

func (m *modelManagerImpl) FindModels(ctx context.Context, modelID string) ([]*entity.ModelInstance, error) {
	return m.models.ByModelID(ctx, modelID)
}

func (m *modelManagerImpl) DefaultModel(ctx context.Context) (*entity.ModelInstance, error) {
	return m.models.Default(ctx)
}

func (m *modelManagerImpl) ListModels(ctx context.Context) ([]*entity.ModelInstance, error) {
	return m.models.List(ctx)
}

// --- Chat models ---

func (m *modelManagerImpl) ChatModel(ctx context.Context, ref entity.ModelRef, depth entity.Reasoning, format entity.ModelResponseFormat) (einoModel.BaseChatModel, error) {
	key := fmt.Sprintf("%s|%s|%s", ref, depth, format)
	if cm, ok := m.chatModels.Load(key); ok {
		return cm.(einoModel.BaseChatModel), nil
	}

	inst, err := m.models.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	plugin, err := m.plugin(ref.ProviderID)
	if err != nil {
		return nil, err
	}
	chat, ok := plugin.(spi.ChatModelPlugin)
	if !ok {
		return nil, fmt.Errorf("provider %q cannot build chat models", ref.ProviderID)
	}
	call, err := entity.NewChatCall(inst, entity.ParamsFor(depth, inst, format))
	if err != nil {
		return nil, err
	}
	cm, err := chat.BuildChatModel(ctx, call)
	if err != nil {
		return nil, fmt.Errorf("build chat model for %s: %w", ref, err)
	}

	actual, _ := m.chatModels.LoadOrStore(key, cm)
	return actual.(einoModel.BaseChatModel), nil
}

func (m *modelManagerImpl) plugin(providerID string) (spi.ProviderPlugin, error) {
	if p, ok := m.plugins.Load(providerID); ok {
		return p.(spi.ProviderPlugin), nil
	}
	factory, err := m.registry.Get(providerID)
	if err != nil {
		return nil, err
	}
	actual, _ := m.plugins.LoadOrStore(providerID, factory())
	return actual.(spi.ProviderPlugin), nil
}

// --- Batch ---

func (m *modelManagerImpl) BatchClient(ctx context.Context, providerID string) (spi.BatchClient, bool, error) {
	if c, ok := m.batchClients.Load(providerID); ok {
		return c.(spi.BatchClient), true, nil
	}

	prov, err := m.providers.Get(ctx, providerID)
	if err != nil {
		return nil, false, err
	}
	if !prov.Batch {
		return nil, false, nil
	}
	plugin, err := m.plugin(providerID)
	if err != nil {
		return nil, false, nil
	}
	batch, ok := plugin.(spi.BatchPlugin)
	if !ok {
		return nil, false, nil
	}

	client, err := batch.NewBatchClient(prov)
	if err != nil {
		return nil, false, fmt.Errorf("batch client for %q: %w", providerID, err)
	}
	actual, _ := m.batchClients.LoadOrStore(providerID, client)
	return actual.(spi.BatchClient), true, nil
}

// --- Cooldown ---

func (m *modelManagerImpl) Cooldown(ref entity.ModelRef, until time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if until.After(m.resting[ref]) {
		m.resting[ref] = until
	}
	logger.Info("[LLM] %s cooling down until %s", ref, until.Format(time.RFC3339))
}

func (m *modelManagerImpl) CoolingDown(ref entity.ModelRef) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.resting[ref]
	if !ok {
		return time.Time{}, false
	}
	if !m.now().Before(until) {
		delete(m.resting, ref)
		return time.Time{}, false
	}
	return until, true
}

// --- Initialization ---

// Initialize registers providers in three steps:
//
//  1. In merge mode, every registry plugin whose API key is present in the
//     environment, unless the configuration names the same provider.
//  2. Every configured provider, in id order.
//  3. The configured default model.
func (m *modelManagerImpl) Initialize(ctx context.Context) error {
	if m.opts == nil {
		logger.Info("[LLM] no model options given, nothing to register")
		return nil
	}
	logger.Info("[LLM] initializing (mode=%s, configured=%d, built-in=%d)",
		m.opts.Mode, len(m.opts.Providers), m.registry.Len())

	if m.opts.Mode != "replace" {
		m.discover(ctx)
	}

	for _, id := range slices.Sorted(maps.Keys(m.opts.Providers)) {
		if err := m.register(ctx, m.configured(id), m.opts.Providers[id]); err != nil {
			return fmt.Errorf("register provider %q: %w", id, err)
		}
	}

	if m.opts.DefaultProvider != "" && m.opts.DefaultModel != "" {
		ref := entity.ModelRef{ProviderID: m.opts.DefaultProvider, ModelID: m.opts.DefaultModel}
		if err := m.models.SetDefault(ctx, ref); err != nil {
			return fmt.Errorf("default model: %w", err)
		}
		logger.Info("[LLM] default model is %s", ref)
	}

	models, _ := m.models.List(ctx)
	providers, _ := m.providers.List(ctx)
	logger.Info("[LLM] ready with %d provider(s) and %d model(s)", len(providers), len(models))
	return nil
}

func (m *modelManagerImpl) discover(ctx context.Context) {
	m.registry.Range(func(name string, factory spi.PluginFactory) bool {
		if _, ok := m.opts.Providers[name]; ok {
			return true
		}
		plugin := factory()
		cfg := plugin.DefaultConfig()
		if helper.ExpandEnv(cfg.APIKey) == "" {
			return true
		}
		logger.Info("[LLM] found credentials for built-in provider %s", name)
		if err := m.register(ctx, plugin, cfg); err != nil {
			logger.Warn("[LLM] failed to register provider %q: %v", name, err)
		}
		return true
	})
}

// configured returns the registry plugin for id, or an OpenAI-compatible
// one for providers the registry does not know.
func (m *modelManagerImpl) configured(id string) spi.ProviderPlugin {
	if factory, err := m.registry.Get(id); err == nil {
		return factory()
	}
	return &helper.OpenAICompatible{Base: helper.Base{ID: id}}
}

func (m *modelManagerImpl) register(ctx context.Context, plugin spi.ProviderPlugin, cfg *options.ProviderConfig) error {
	prov, err := plugin.BuildProvider(cfg)
	if err != nil {
		return err
	}
	models, err := plugin.BuildModels(prov, cfg)
	if err != nil {
		return err
	}
	if err := m.providers.Save(ctx, prov); err != nil {
		return err
	}
	m.plugins.Store(prov.ID, plugin)
	for _, inst := range models {
		if err := m.models.Save(ctx, inst); err != nil {
			return fmt.Errorf("model %s: %w", inst.Ref(), err)
		}
	}
	logger.Info("[LLM] registered provider %s (api=%s, models=%d, batch=%t)", prov.ID, prov.API, len(models), prov.Batch)
	return nil
}
