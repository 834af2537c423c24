package deepseek

import (
	"context"

	einoDeepseek "github.com/cloudwego/eino-ext/components/model/deepseek"
	"github.com/cloudwego/eino/components/model"
	"github.com/kiosk404/cohort/internal/cohortd/service/llm/domain/entity"
	"github.com/kiosk404/cohort/internal/cohortd/service/llm/provider/helper"
	"github.com/kiosk404/cohort/internal/cohortd/service/llm/provider/spi"
	"github.com/kiosk404/cohort/internal/pkg/options"
)

const Name = "deepseek"

// Used when the call does not pin a temperature.
const defaultTemperature float32 = 0.7

var _ spi.ChatModelPlugin = (*Plugin)(nil)

type Plugin struct {
	helper.Base
}

func New() spi.ProviderPlugin {
	return &Plugin{Base: helper.Base{ID: Name, Defaults: catalog}}
}

func (p *Plugin) BuildChatModel(ctx context.Context, call *entity.ChatCall) (model.BaseChatModel, error) {
	return einoDeepseek.NewChatModel(ctx, chatConfig(call))
}

func chatConfig(call *entity.ChatCall) *einoDeepseek.ChatModelConfig {
	cfg := &einoDeepseek.ChatModelConfig{
		APIKey:             call.Conn.APIKey,
		Model:              call.Conn.Model,
		BaseURL:            call.Conn.BaseURL,
		Temperature:        defaultTemperature,
		MaxTokens:          call.MaxTokens,
		FrequencyPenalty:   call.FrequencyPenalty,
		PresencePenalty:    call.PresencePenalty,
		ResponseFormatType: einoDeepseek.ResponseFormatTypeText,
	}
	if call.Temperature != nil {
		cfg.Temperature = *call.Temperature
	}
	if call.TopP != nil {
		cfg.TopP = *call.TopP
	}
	if call.JSON {
		cfg.ResponseFormatType = einoDeepseek.ResponseFormatTypeJSONObject
	}
	return cfg
}

var catalog = options.ProviderConfig{
	BaseURL: "https://api.deepseek.com/v1",
	APIKey:  "${DEEPSEEK_API_KEY}",
	API:     "openai-completions",
	Models: []options.ModelDefinition{
		{ID: "deepseek-chat", Name: "DeepSeek V3", Input: []string{"text"}, ContextWindow: 131072, MaxTokens: 8192, Cost: options.ModelCost{Input: 0.27, Output: 1.1, CacheRead: 0.07}},
		{ID: "deepseek-reasoner", Name: "DeepSeek R1", Reasoning: true, Input: []string{"text"}, ContextWindow: 131072, MaxTokens: 8192, Cost: options.ModelCost{Input: 0.55, Output: 2.19, CacheRead: 0.14}},
	},
}
