package glm

import (
	"github.com/kiosk404/cohort/internal/cohortd/service/llm/provider/helper"
	"github.com/kiosk404/cohort/internal/cohortd/service/llm/provider/spi"
	"github.com/kiosk404/cohort/internal/pkg/options"
)

const Name = "glm"

// New returns ZhiPu's GLM models behind their OpenAI-compatible endpoint.
func New() spi.ProviderPlugin {
	return &helper.OpenAICompatible{Base: helper.Base{ID: Name, Defaults: options.ProviderConfig{
		BaseURL: "https://open.bigmodel.cn/api/paas/v4",
		APIKey:  "${ZHIPU_API_KEY}",
		API:     "openai-completions",
		Models: []options.ModelDefinition{
			{ID: "glm-4.6", Name: "GLM-4.6", Reasoning: true, Input: []string{"text"}, ContextWindow: 200000, MaxTokens: 8192, Cost: options.ModelCost{Input: 0.6, Output: 2.2, CacheRead: 0.11}},
			{ID: "glm-5", Name: "GLM-5", Reasoning: true, Input: []string{"text"}, ContextWindow: 200000, MaxTokens: 8192, Cost: options.ModelCost{Input: 1, Output: 3.2, CacheRead: 0.2}},
		},
	}}}
}
