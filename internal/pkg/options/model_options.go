package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

// ModelOptions configures providers, the model price table and the gateway retry policy.
type ModelOptions struct {
	Mode            string                     `json:"mode"             mapstructure:"mode"`
	DefaultProvider string                     `json:"default-provider" mapstructure:"default-provider"`
	DefaultModel    string                     `json:"default-model"    mapstructure:"default-model"`
	Providers       map[string]*ProviderConfig `json:"providers"        mapstructure:"providers"`
	Retry           *RetryOptions              `json:"retry"            mapstructure:"retry"`
	// CallTimeout bounds one generation call, retries excluded.
	CallTimeout time.Duration `json:"call-timeout" mapstructure:"call-timeout"`
	// Cooldown rests a throttled model while a persona has other candidates.
	// Zero disables it.
	Cooldown time.Duration `json:"cooldown" mapstructure:"cooldown"`
}

// ProviderConfig describes one provider. APIKey accepts "${ENV}" references.
type ProviderConfig struct {
	BaseURL    string            `json:"base-url"    mapstructure:"base-url"`
	APIKey     string            `json:"-"           mapstructure:"api-key"`
	API        string            `json:"api"         mapstructure:"api"`
	AuthHeader *bool             `json:"auth-header" mapstructure:"auth-header"`
	Headers    map[string]string `json:"headers"     mapstructure:"headers"`
	// Batch enables the provider's native discounted batch endpoint.
	Batch  bool              `json:"batch"  mapstructure:"batch"`
	Models []ModelDefinition `json:"models" mapstructure:"models"`
}

type ModelDefinition struct {
	ID            string            `json:"id"             mapstructure:"id"`
	Name          string            `json:"name"           mapstructure:"name"`
	API           string            `json:"api"            mapstructure:"api"`
	Reasoning     bool              `json:"reasoning"      mapstructure:"reasoning"`
	Input         []string          `json:"input"          mapstructure:"input"`
	Cost          ModelCost         `json:"cost"           mapstructure:"cost"`
	ContextWindow int               `json:"context-window" mapstructure:"context-window"`
	MaxTokens     int               `json:"max-tokens"     mapstructure:"max-tokens"`
	Headers       map[string]string `json:"headers"        mapstructure:"headers"`
}

// ModelCost is the price table entry of a model, in currency units per million tokens.
type ModelCost struct {
	Input      float64 `json:"input"       mapstructure:"input"`
	Output     float64 `json:"output"      mapstructure:"output"`
	CacheRead  float64 `json:"cache-read"  mapstructure:"cache-read"`
	CacheWrite float64 `json:"cache-write" mapstructure:"cache-write"`
}

// RetryOptions is the exponential backoff applied to transient provider errors.
type RetryOptions struct {
	MaxAttempts     uint          `json:"max-attempts"     mapstructure:"max-attempts"`
	InitialInterval time.Duration `json:"initial-interval" mapstructure:"initial-interval"`
	MaxInterval     time.Duration `json:"max-interval"     mapstructure:"max-interval"`
	MaxElapsed      time.Duration `json:"max-elapsed"      mapstructure:"max-elapsed"`
}

func NewModelOptions() *ModelOptions {
	return &ModelOptions{
		Mode:      "merge",
		Providers: make(map[string]*ProviderConfig),
		Retry: &RetryOptions{
			MaxAttempts:     4,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     10 * time.Second,
			MaxElapsed:      2 * time.Minute,
		},
		CallTimeout: 3 * time.Minute,
		Cooldown:    30 * time.Second,
	}
}

func (o *ModelOptions) Validate() []error {
	var errs []error
	if o.Mode != "merge" && o.Mode != "replace" {
		errs = append(errs, fmt.Errorf("invalid model mode %q, must be 'merge' or 'replace'", o.Mode))
	}
	for id, p := range o.Providers {
		if p == nil {
			errs = append(errs, fmt.Errorf("provider %q: empty configuration", id))
			continue
		}
		if p.BaseURL == "" {
			errs = append(errs, fmt.Errorf("provider %q: base-url is required", id))
		}
		if len(p.Models) == 0 {
			errs = append(errs, fmt.Errorf("provider %q: at least one model is required", id))
		}
		for _, m := range p.Models {
			if m.ID == "" {
				errs = append(errs, fmt.Errorf("provider %q: model id is required", id))
			}
			if m.Cost.Input < 0 || m.Cost.Output < 0 || m.Cost.CacheRead < 0 {
				errs = append(errs, fmt.Errorf("provider %q: model %q has a negative price", id, m.ID))
			}
		}
	}
	if o.Cooldown < 0 {
		errs = append(errs, fmt.Errorf("--models.cooldown must not be negative"))
	}
	if o.Retry != nil && o.Retry.MaxAttempts == 0 {
		errs = append(errs, fmt.Errorf("--models.retry.max-attempts must be at least 1"))
	}
	return errs
}

func (o *ModelOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Mode, "models.mode", o.Mode, "Model provider merge mode: 'merge' or 'replace'.")
	fs.StringVar(&o.DefaultProvider, "models.default-provider", o.DefaultProvider, "Default provider ID.")
	fs.StringVar(&o.DefaultModel, "models.default-model", o.DefaultModel, "Default model ID.")
	fs.DurationVar(&o.CallTimeout, "models.call-timeout", o.CallTimeout, "Wall-clock limit of a single generation call.")
	fs.DurationVar(&o.Cooldown, "models.cooldown", o.Cooldown,
		"How long a rate limited model is skipped in favour of a persona's fallbacks. 0 disables.")
	fs.UintVar(&o.Retry.MaxAttempts, "models.retry.max-attempts", o.Retry.MaxAttempts,
		"Attempts per model for transient provider errors.")
	fs.DurationVar(&o.Retry.InitialInterval, "models.retry.initial-interval", o.Retry.InitialInterval,
		"First backoff interval between retries.")
	fs.DurationVar(&o.Retry.MaxInterval, "models.retry.max-interval", o.Retry.MaxInterval,
		"Upper bound of a single backoff interval.")
	fs.DurationVar(&o.Retry.MaxElapsed, "models.retry.max-elapsed", o.Retry.MaxElapsed,
		"Total time budget for retries of one call.")
}
