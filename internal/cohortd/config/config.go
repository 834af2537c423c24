package config

import (
	"github.com/kiosk404/cohort/internal/cohortd/options"
)

// Config is the running configuration of cohortd.
type Config struct {
	*options.Options
}

// CreateConfigFromOptions creates the running configuration from completed options.
func CreateConfigFromOptions(opts *options.Options) (*Config, error) {
	return &Config{opts}, nil
}
