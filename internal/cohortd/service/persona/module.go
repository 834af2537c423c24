// Package persona wires the persona catalog.
package persona

import (
	"context"
	"time"

	"github.com/kiosk404/cohort/internal/cohortd/service/persona/domain/entity"
	"github.com/kiosk404/cohort/internal/cohortd/service/persona/domain/repo"
	"github.com/kiosk404/cohort/internal/cohortd/service/persona/domain/service"
	"github.com/kiosk404/cohort/internal/cohortd/service/persona/store/filesystem"
	"github.com/kiosk404/cohort/internal/cohortd/service/persona/store/inmemory"
	"github.com/kiosk404/cohort/internal/pkg/errno"
	"github.com/kiosk404/cohort/pkg/logger"
)

type Config struct {
	// Dir holds one file per persona. Empty uses Personas instead.
	Dir      string
	Watch    bool
	Debounce time.Duration
	Personas []*entity.Persona
}

type completedConfig struct {
	*Config
}

type CompletedConfig struct {
	*completedConfig
}

func (c *Config) Complete() CompletedConfig {
	if c.Debounce <= 0 {
		c.Debounce = filesystem.DefaultDebounce
	}
	return CompletedConfig{&completedConfig{c}}
}

type Module struct {
	Catalog service.Catalog
}

// New loads the catalog; resolver checks every persona's model.
func (c CompletedConfig) New(ctx context.Context, resolver service.ModelResolver) (*Module, error) {
	var source repo.PersonaSource
	if c.Dir != "" {
		source = filesystem.NewDirStore(c.Dir, c.Debounce)
	} else {
		if len(c.Personas) == 0 {
			return nil, errno.NewConfigurationError("personas", "neither a directory nor inline personas configured")
		}
		source = inmemory.NewSource(c.Personas...)
	}

	catalog, err := service.NewCatalog(ctx, source, resolver)
	if err != nil {
		return nil, err
	}
	if c.Watch && c.Dir != "" {
		if err := catalog.Watch(); err != nil {
			logger.Warn("[Persona] hot reload disabled: %v", err)
		}
	}
	return &Module{Catalog: catalog}, nil
}

func (m *Module) Close() {
	m.Catalog.Close()
}
