// Package delegation wires the delegation engine.
package delegation

import (
	"context"
	"fmt"
	"time"

	"github.com/kiosk404/cohort/internal/cohortd/service/delegation/domain/entity"
	"github.com/kiosk404/cohort/internal/cohortd/service/delegation/domain/repo"
	"github.com/kiosk404/cohort/internal/cohortd/service/delegation/domain/service"
	"github.com/kiosk404/cohort/internal/cohortd/service/delegation/store/boltdb"
	"github.com/kiosk404/cohort/internal/cohortd/service/delegation/store/inmemory"
	toolentity "github.com/kiosk404/cohort/internal/cohortd/service/tools/domain/entity"
	storage "github.com/kiosk404/cohort/internal/pkg/storage/boltdb"
	"github.com/kiosk404/cohort/pkg/logger"
)

type Config struct {
	ReworkLimit      int
	SequentialWindow int
	MaxConcurrency   int
	SubtaskTimeout   time.Duration
	// BatchTimeout bounds the wait for a batch-dispatched subtask.
	BatchTimeout time.Duration
	ToolBudget   int
	// Routing nil selects entity.DefaultRoutingPolicy; zero fields are kept.
	Routing         *entity.RoutingPolicy
	ReviewCollapsed bool
	// Recover resumes unfinished tasks when the module starts.
	Recover bool
	// DB selects the bolt stores; nil keeps tasks in memory.
	DB *storage.DB
}

type completedConfig struct {
	*Config
}

type CompletedConfig struct {
	*completedConfig
}

func (c *Config) Complete() CompletedConfig {
	if c.ReworkLimit < 0 {
		c.ReworkLimit = service.DefaultReworkLimit
	}
	if c.SequentialWindow <= 0 {
		c.SequentialWindow = service.DefaultSequentialWindow
	}
	if c.SubtaskTimeout <= 0 {
		c.SubtaskTimeout = service.DefaultSubtaskTimeout
	}
	if c.ToolBudget <= 0 {
		c.ToolBudget = toolentity.DefaultToolBudget
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = service.DefaultBatchTimeout
	}
	if c.Routing == nil {
		policy := entity.DefaultRoutingPolicy
		c.Routing = &policy
	}
	return CompletedConfig{&completedConfig{c}}
}

type Module struct {
	Engine service.Engine
}

// New builds the engine over deps. Stores in deps are filled from the
// config when left nil.
func (c CompletedConfig) New(ctx context.Context, deps service.Dependencies) (*Module, error) {
	if deps.Tasks == nil || deps.Delegations == nil {
		tasks, delegations, err := c.stores()
		if err != nil {
			return nil, err
		}
		deps.Tasks, deps.Delegations = tasks, delegations
	}

	engine, err := service.NewEngine(service.EngineConfig{
		ReworkLimit:     c.ReworkLimit,
		ToolBudget:      c.ToolBudget,
		ReviewCollapsed: c.ReviewCollapsed,
		Executor: service.ExecutorConfig{
			MaxConcurrency:   c.MaxConcurrency,
			SequentialWindow: c.SequentialWindow,
			SubtaskTimeout:   c.SubtaskTimeout,
			BatchTimeout:     c.BatchTimeout,
		},
		Routing: c.Routing,
	}, deps)
	if err != nil {
		return nil, err
	}

	if c.Recover {
		if _, err := engine.Recover(ctx); err != nil {
			engine.Close()
			return nil, fmt.Errorf("failed to recover tasks: %w", err)
		}
	}
	logger.Info("[Delegation] engine ready (rework limit %d, window %d, tool budget %d)", c.ReworkLimit, c.SequentialWindow, c.ToolBudget)
	return &Module{Engine: engine}, nil
}

func (c CompletedConfig) stores() (repo.TaskRepository, repo.DelegationRepository, error) {
	if c.DB == nil {
		return inmemory.NewTaskStore(), inmemory.NewDelegationStore(), nil
	}
	tasks, err := boltdb.NewTaskStore(c.DB)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open task store: %w", err)
	}
	delegations, err := boltdb.NewDelegationStore(c.DB)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open delegation store: %w", err)
	}
	return tasks, delegations, nil
}

func (m *Module) Close() {
	m.Engine.Close()
}
