// Package ledger wires the cost ledger and its gateway meter.
package ledger

import (
	"github.com/kiosk404/cohort/internal/cohortd/service/ledger/domain/repo"
	"github.com/kiosk404/cohort/internal/cohortd/service/ledger/domain/service"
	"github.com/kiosk404/cohort/internal/cohortd/service/ledger/store/inmemory"
	"github.com/kiosk404/cohort/internal/cohortd/service/ledger/store/sqlite"
	"github.com/kiosk404/cohort/internal/pkg/errno"
	"github.com/kiosk404/cohort/pkg/logger"
)

const (
	DriverInMemory = "inmemory"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Driver string
	Path   string
	// Publisher receives cost events; nil disables them.
	Publisher service.Publisher
}

type completedConfig struct {
	*Config
}

type CompletedConfig struct {
	*completedConfig
}

func (c *Config) Complete() CompletedConfig {
	if c.Driver == "" {
		c.Driver = DriverInMemory
	}
	return CompletedConfig{&completedConfig{c}}
}

type Module struct {
	Ledger   repo.Ledger
	Recorder *service.Recorder
}

func (c CompletedConfig) New() (*Module, error) {
	var l repo.Ledger
	switch c.Driver {
	case DriverSQLite:
		if c.Path == "" {
			return nil, errno.NewConfigurationError("ledger", "sqlite driver needs a path")
		}
		s, err := sqlite.Open(c.Path)
		if err != nil {
			return nil, err
		}
		l = s
		logger.Info("[Ledger] using sqlite ledger at %s", c.Path)
	default:
		l = inmemory.NewLedger()
	}
	return &Module{Ledger: l, Recorder: service.NewRecorder(l, c.Publisher)}, nil
}

func (m *Module) Close() error {
	return m.Ledger.Close()
}
