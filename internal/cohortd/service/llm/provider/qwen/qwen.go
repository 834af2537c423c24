package qwen

import (
	"context"

	"github.com/bytedance/gg/gptr"
	einoQwen "github.com/cloudwego/eino-ext/components/model/qwen"
	"github.com/cloudwego/eino/components/model"
	"github.com/kiosk404/cohort/internal/cohortd/service/llm/domain/entity"
	"github.com/kiosk404/cohort/internal/cohortd/service/llm/provider/helper"
	"github.com/kiosk404/cohort/internal/cohortd/service/llm/provider/spi"
	"github.com/kiosk404/cohort/internal/pkg/options"
)

const Name = "qwen"

const defaultTemperature float32 = 0.7

var (
	_ spi.ChatModelPlugin = (*Plugin)(nil)
	_ spi.BatchPlugin     = (*Plugin)(nil)
)

type Plugin struct {
	helper.Base
}

func New() spi.ProviderPlugin {
	return &Plugin{Base: helper.Base{ID: Name, Defaults: catalog}}
}

func (p *Plugin) BuildChatModel(ctx context.Context, call *entity.ChatCall) (model.BaseChatModel, error) {
	return einoQwen.NewChatModel(ctx, chatConfig(call))
}

// NewBatchClient uses DashScope's OpenAI-compatible batch endpoint.
func (p *Plugin) NewBatchClient(provider *entity.ModelProvider) (spi.BatchClient, error) {
	return helper.NewOpenAIBatchClient(provider)
}

// chatConfig reuses the OpenAI mapping since DashScope speaks the same dialect
// and only adds the thinking switch.
func chatConfig(call *entity.ChatCall) *einoQwen.ChatModelConfig {
	base := helper.OpenAIChatConfig(call)
	cfg := &einoQwen.ChatModelConfig{
		APIKey:           base.APIKey,
		BaseURL:          base.BaseURL,
		Model:            base.Model,
		MaxTokens:        base.MaxTokens,
		Temperature:      base.Temperature,
		TopP:             base.TopP,
		FrequencyPenalty: base.FrequencyPenalty,
		PresencePenalty:  base.PresencePenalty,
		ResponseFormat:   base.ResponseFormat,
		EnableThinking:   call.Thinking,
	}
	if cfg.Temperature == nil {
		cfg.Temperature = gptr.Of(defaultTemperature)
	}
	return cfg
}

var catalog = options.ProviderConfig{
	BaseURL: "https://dashscope.aliyuncs.com/compatible-mode/v1",
	APIKey:  "${DASHSCOPE_API_KEY}",
	API:     "openai-completions",
	Models: []options.ModelDefinition{
		{ID: "qwen-plus", Name: "Qwen Plus", Input: []string{"text"}, ContextWindow: 131072, MaxTokens: 8192, Cost: options.ModelCost{Input: 0.8, Output: 2}},
		{ID: "qwen-turbo", Name: "Qwen Turbo", Input: []string{"text"}, ContextWindow: 131072, MaxTokens: 8192, Cost: options.ModelCost{Input: 0.3, Output: 0.6}},
		{ID: "qwen-max", Name: "Qwen Max", Input: []string{"text"}, ContextWindow: 131072, MaxTokens: 8192, Cost: options.ModelCost{Input: 2.4, Output: 9.6}},
		{ID: "qwq-plus", Name: "QwQ Plus", Reasoning: true, Input: []string{"text"}, ContextWindow: 131072, MaxTokens: 8192, Cost: options.ModelCost{Input: 0.8, Output: 2}},
	},
}
