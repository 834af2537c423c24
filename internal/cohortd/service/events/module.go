// Package events wires the task event bus.
package events

import (
	"context"
	"fmt"

	"github.com/kiosk404/cohort/internal/cohortd/service/events/bridge"
	"github.com/kiosk404/cohort/internal/cohortd/service/events/domain/repo"
	"github.com/kiosk404/cohort/internal/cohortd/service/events/domain/service"
	"github.com/kiosk404/cohort/internal/cohortd/service/events/store/boltdb"
	"github.com/kiosk404/cohort/internal/cohortd/service/events/store/inmemory"
	storage "github.com/kiosk404/cohort/internal/pkg/storage/boltdb"
	"github.com/kiosk404/cohort/pkg/logger"
)

type Config struct {
	BufferSize    int
	NATSURL       string
	SubjectPrefix string
	// DB selects the bolt store; nil keeps events in memory.
	DB *storage.DB
}

type completedConfig struct {
	*Config
}

type CompletedConfig struct {
	*completedConfig
}

func (c *Config) Complete() CompletedConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = service.DefaultBufferSize
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = bridge.DefaultSubjectPrefix
	}
	return CompletedConfig{&completedConfig{c}}
}

// Module owns the bus and its optional NATS bridge.
type Module struct {
	Bus    service.Bus
	bridge *bridge.NATSBridge
}

func (c CompletedConfig) New(ctx context.Context) (*Module, error) {
	var (
		r   repo.EventRepository
		err error
	)
	if c.DB != nil {
		if r, err = boltdb.NewEventStore(c.DB); err != nil {
			return nil, fmt.Errorf("failed to open event store: %w", err)
		}
	} else {
		r = inmemory.NewEventStore()
	}

	m := &Module{}
	var forwarders []service.Forwarder
	if c.NATSURL != "" {
		if m.bridge, err = bridge.Dial(c.NATSURL, c.SubjectPrefix); err != nil {
			return nil, err
		}
		forwarders = append(forwarders, m.bridge)
		logger.Info("[EventBus] mirroring events to nats %s under %s", c.NATSURL, c.SubjectPrefix)
	}

	if m.Bus, err = service.NewBus(ctx, r, c.BufferSize, forwarders...); err != nil {
		m.Close()
		return nil, err
	}
	return m, nil
}

func (m *Module) Close() {
	if m.Bus != nil {
		m.Bus.Close()
	}
	if m.bridge != nil {
		m.bridge.Close()
	}
}
