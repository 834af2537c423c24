// Package review wires the quality gate.
package review

import (
	"github.com/kiosk404/cohort/internal/cohortd/service/review/domain/entity"
	"github.com/kiosk404/cohort/internal/cohortd/service/review/domain/service"
	"github.com/kiosk404/cohort/internal/cohortd/service/review/store"
	"github.com/kiosk404/cohort/internal/pkg/errno"
)

type Config struct {
	RubricDir        string
	DefaultThreshold float64
	// DefaultReviewer is the persona scoring divisions whose rubric names none.
	DefaultReviewer string
}

type completedConfig struct {
	*Config
}

type CompletedConfig struct {
	*completedConfig
}

func (c *Config) Complete() CompletedConfig {
	if c.DefaultThreshold <= 0 || c.DefaultThreshold > 1 {
		c.DefaultThreshold = entity.DefaultThreshold
	}
	return CompletedConfig{&completedConfig{c}}
}

type Module struct {
	Gate    service.Gate
	Rubrics *store.RubricStore
}

// New loads rubrics and checks that every reviewer persona exists.
func (c CompletedConfig) New(gen service.Generator, personas service.PersonaLookup) (*Module, error) {
	fallback := &entity.Rubric{Version: "default", Threshold: c.DefaultThreshold, Reviewer: c.DefaultReviewer}
	rubrics, err := store.LoadDir(c.RubricDir, fallback)
	if err != nil {
		return nil, err
	}
	for _, r := range append(rubrics.List(), fallback) {
		if r.Reviewer == "" {
			return nil, errno.NewConfigurationError("rubric "+r.Division, "no reviewer persona configured")
		}
		if _, err := personas.Get(r.Reviewer); err != nil {
			return nil, &errno.ConfigurationError{Subject: "rubric " + r.Division, Reason: "unknown reviewer " + r.Reviewer, Cause: err}
		}
	}
	return &Module{Gate: service.NewGate(gen, personas, rubrics), Rubrics: rubrics}, nil
}
