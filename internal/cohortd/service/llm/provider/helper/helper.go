package helper

import (
	"cmp"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/kiosk404/cohort/internal/cohortd/service/llm/domain/entity"
	"github.com/kiosk404/cohort/internal/pkg/options"
)

// Base implements the config-to-entity half of spi.ProviderPlugin. Defaults
// is the built-in catalog handed out by DefaultConfig.
type Base struct {
	ID       string
	Defaults options.ProviderConfig
}

func (b *Base) Name() string {
	return b.ID
}

// DefaultConfig returns a copy of the built-in catalog so callers may mutate it.
func (b *Base) DefaultConfig() *options.ProviderConfig {
	cfg := b.Defaults
	cfg.Models = slices.Clone(b.Defaults.Models)
	cfg.Headers = maps.Clone(b.Defaults.Headers)
	return &cfg
}

// BuildProvider turns a provider section into a ModelProvider. Credentials
// written as ${VAR} are read from the environment.
func (b *Base) BuildProvider(cfg *options.ProviderConfig) (*entity.ModelProvider, error) {
	api, err := entity.ModelAPIFromString(cfg.API)
	if err != nil {
		return nil, fmt.Errorf("provider %q: %w", b.ID, err)
	}

	p := &entity.ModelProvider{
		ID:         b.ID,
		Name:       b.ID,
		BaseURL:    cfg.BaseURL,
		APIKey:     ExpandEnv(cfg.APIKey),
		API:        api,
		Headers:    cfg.Headers,
		AuthHeader: cfg.AuthHeader == nil || *cfg.AuthHeader,
		Batch:      cfg.Batch,
	}
	return p, nil
}

// BuildModels creates one ready ModelInstance per catalog entry of cfg.
func (b *Base) BuildModels(p *entity.ModelProvider, cfg *options.ProviderConfig) ([]*entity.ModelInstance, error) {
	out := make([]*entity.ModelInstance, 0, len(cfg.Models))
	for i := range cfg.Models {
		def := &cfg.Models[i]
		if def.ID == "" {
			return nil, fmt.Errorf("provider %q: model #%d has no id", p.ID, i+1)
		}
		out = append(out, instanceOf(p, cfg, def))
	}
	return out, nil
}

func instanceOf(p *entity.ModelProvider, cfg *options.ProviderConfig, def *options.ModelDefinition) *entity.ModelInstance {
	m := &entity.ModelInstance{
		ModelID:       def.ID,
		ProviderID:    p.ID,
		DisplayName:   cmp.Or(def.Name, def.ID),
		ContextWindow: def.ContextWindow,
		MaxTokens:     def.MaxTokens,
		Reasoning:     def.Reasoning,
		InputTypes:    def.Input,
		Cost: entity.ModelCostInfo{
			Input:      def.Cost.Input,
			Output:     def.Cost.Output,
			CacheRead:  def.Cost.CacheRead,
			CacheWrite: def.Cost.CacheWrite,
		},
		Connection: entity.Connection{
			BaseURL: cfg.BaseURL,
			APIKey:  ExpandEnv(cfg.APIKey),
			Model:   def.ID,
			Headers: overlay(p.Headers, def.Headers),
		},
	}
	if len(m.InputTypes) == 0 {
		m.InputTypes = []string{"text"}
	}
	if m.Reasoning {
		m.Connection.ThinkingType = entity.ThinkingType_Enable
	}
	switch {
	case p.API.OpenAICompatible():
		m.Connection.OpenAI = &entity.OpenAIConnInfo{ByAzure: !p.AuthHeader}
	case p.API == entity.ModelAPI_GoogleGenerativeAI:
		m.Connection.Gemini = &entity.GeminiConnInfo{}
	}
	return m
}

// ExpandEnv resolves a "${VAR}" reference; any other string is returned as is.
func ExpandEnv(s string) string {
	if name, ok := EnvRef(s); ok {
		return os.Getenv(name)
	}
	return s
}

// EnvRef reports the variable named by a "${VAR}" reference.
func EnvRef(s string) (string, bool) {
	inner, ok := strings.CutPrefix(s, "${")
	if !ok {
		return "", false
	}
	return strings.CutSuffix(inner, "}")
}

func overlay(base, top map[string]string) map[string]string {
	if len(base)+len(top) == 0 {
		return nil
	}
	out := maps.Clone(base)
	if out == nil {
		out = make(map[string]string, len(top))
	}
	maps.Copy(out, top)
	return out
}
