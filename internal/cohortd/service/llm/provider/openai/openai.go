package openai

import (
	"github.com/kiosk404/cohort/internal/cohortd/service/llm/domain/entity"
	"github.com/kiosk404/cohort/internal/cohortd/service/llm/provider/helper"
	"github.com/kiosk404/cohort/internal/cohortd/service/llm/provider/spi"
	"github.com/kiosk404/cohort/internal/pkg/options"
)

const Name = "openai"

var (
	_ spi.ChatModelPlugin = (*Plugin)(nil)
	_ spi.BatchPlugin     = (*Plugin)(nil)
)

// Plugin is the only provider that serves both the synchronous and the
// deferred channel out of the box.
type Plugin struct {
	helper.OpenAICompatible
}

func New() spi.ProviderPlugin {
	return &Plugin{OpenAICompatible: helper.OpenAICompatible{Base: helper.Base{ID: Name, Defaults: catalog}}}
}

// NewBatchClient returns a client for the /v1/batches endpoint.
func (p *Plugin) NewBatchClient(provider *entity.ModelProvider) (spi.BatchClient, error) {
	return helper.NewOpenAIBatchClient(provider)
}

var catalog = options.ProviderConfig{
	BaseURL: "https://api.openai.com/v1",
	APIKey:  "${OPENAI_API_KEY}",
	API:     "openai-completions",
	Models: []options.ModelDefinition{
		{ID: "gpt-4o", Name: "GPT-4o", Input: []string{"text", "image"}, ContextWindow: 128000, MaxTokens: 16384, Cost: options.ModelCost{Input: 2.5, Output: 10, CacheRead: 1.25}},
		{ID: "gpt-4o-mini", Name: "GPT-4o Mini", Input: []string{"text", "image"}, ContextWindow: 128000, MaxTokens: 16384, Cost: options.ModelCost{Input: 0.15, Output: 0.6, CacheRead: 0.075}},
		{ID: "gpt-5.2", Name: "GPT-5.2", Reasoning: true, Input: []string{"text", "image"}, ContextWindow: 400000, MaxTokens: 128000, Cost: options.ModelCost{Input: 1.75, Output: 14, CacheRead: 0.175}},
	},
}
