package kimi

import (
	"github.com/kiosk404/cohort/internal/cohortd/service/llm/provider/helper"
	"github.com/kiosk404/cohort/internal/cohortd/service/llm/provider/spi"
	"github.com/kiosk404/cohort/internal/pkg/options"
)

const Name = "kimi"

// New returns Moonshot behind its OpenAI-compatible endpoint.
func New() spi.ProviderPlugin {
	return &helper.OpenAICompatible{Base: helper.Base{ID: Name, Defaults: options.ProviderConfig{
		BaseURL: "https://api.moonshot.cn/v1",
		APIKey:  "${MOONSHOT_API_KEY}",
		API:     "openai-completions",
		Models: []options.ModelDefinition{
			{ID: "kimi-k2.5", Name: "Kimi K2.5", Input: []string{"text"}, ContextWindow: 262144, MaxTokens: 8192, Cost: options.ModelCost{Input: 0.6, Output: 2.5, CacheRead: 0.15}},
		},
	}}}
}
