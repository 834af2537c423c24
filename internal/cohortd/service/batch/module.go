// Package batch wires the batch submission engine.
package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/kiosk404/cohort/internal/cohortd/service/batch/domain/repo"
	"github.com/kiosk404/cohort/internal/cohortd/service/batch/domain/service"
	"github.com/kiosk404/cohort/internal/cohortd/service/batch/store/boltdb"
	"github.com/kiosk404/cohort/internal/cohortd/service/batch/store/inmemory"
	storage "github.com/kiosk404/cohort/internal/pkg/storage/boltdb"
	"github.com/kiosk404/cohort/pkg/logger"
)

type Config struct {
	Debounce         time.Duration
	MaxWait          time.Duration
	MaxBatchSize     int
	PollInterval     time.Duration
	MaxFetchAttempts int
	MemberTimeout    time.Duration
	// DB selects the bolt stores; nil keeps jobs in memory.
	DB *storage.DB
}

type completedConfig struct {
	*Config
}

type CompletedConfig struct {
	*completedConfig
}

func (c *Config) Complete() CompletedConfig {
	if c.Debounce <= 0 {
		c.Debounce = service.DefaultDebounce
	}
	if c.MaxWait <= 0 {
		c.MaxWait = service.DefaultMaxWait
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = service.DefaultMaxBatchSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = service.DefaultPollInterval
	}
	if c.MaxFetchAttempts <= 0 {
		c.MaxFetchAttempts = service.DefaultMaxFetchAttempts
	}
	if c.MemberTimeout <= 0 {
		c.MemberTimeout = service.DefaultMemberTimeout
	}
	return CompletedConfig{&completedConfig{c}}
}

type Module struct {
	Engine service.Engine
}

// New recovers orphaned jobs and starts the poll loop. meter and bus may be nil.
func (c CompletedConfig) New(ctx context.Context, gateway service.Gateway, meter service.Meter, bus service.Publisher) (*Module, error) {
	jobs, members, err := c.stores()
	if err != nil {
		return nil, err
	}
	engine, err := service.NewEngine(service.EngineConfig{
		Debounce:         c.Debounce,
		MaxWait:          c.MaxWait,
		MaxBatchSize:     c.MaxBatchSize,
		PollInterval:     c.PollInterval,
		MaxFetchAttempts: c.MaxFetchAttempts,
		MemberTimeout:    c.MemberTimeout,
	}, gateway, jobs, members, meter, bus)
	if err != nil {
		return nil, err
	}
	if _, err := engine.Recover(ctx); err != nil {
		return nil, fmt.Errorf("failed to recover batch jobs: %w", err)
	}
	if err := engine.Start(ctx); err != nil {
		return nil, err
	}
	logger.Info("[Batch] module ready (max %d per job, max wait %s)", c.MaxBatchSize, c.MaxWait)
	return &Module{Engine: engine}, nil
}

func (c CompletedConfig) stores() (repo.JobRepository, repo.MemberRepository, error) {
	if c.DB == nil {
		return inmemory.NewJobStore(), inmemory.NewMemberStore(), nil
	}
	jobs, err := boltdb.NewJobStore(c.DB)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open batch job store: %w", err)
	}
	members, err := boltdb.NewMemberStore(c.DB)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open batch member store: %w", err)
	}
	return jobs, members, nil
}

func (m *Module) Close() {
	m.Engine.Stop()
}
