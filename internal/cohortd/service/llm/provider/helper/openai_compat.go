package helper

import (
	"cmp"
	"context"

	"github.com/bytedance/gg/gptr"
	einoOpenAI "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/kiosk404/cohort/internal/cohortd/service/llm/domain/entity"
)

const (
	defaultMaxTokens    = 4096
	defaultAzureVersion = "2024-06-01"
)

// OpenAICompatible builds chat models over the /chat/completions protocol.
// Providers that only differ by endpoint and catalog use it directly.
type OpenAICompatible struct {
	Base
}

func (p *OpenAICompatible) BuildChatModel(ctx context.Context, call *entity.ChatCall) (model.BaseChatModel, error) {
	return einoOpenAI.NewChatModel(ctx, OpenAIChatConfig(call))
}

// OpenAIChatConfig maps a call onto the eino OpenAI client config.
func OpenAIChatConfig(call *entity.ChatCall) *einoOpenAI.ChatModelConfig {
	format := einoOpenAI.ChatCompletionResponseFormatTypeText
	if call.JSON {
		format = einoOpenAI.ChatCompletionResponseFormatTypeJSONObject
	}
	cfg := &einoOpenAI.ChatModelConfig{
		Model:          call.Conn.Model,
		APIKey:         call.Conn.APIKey,
		BaseURL:        call.Conn.BaseURL,
		MaxTokens:      gptr.Of(call.MaxTokensOr(defaultMaxTokens)),
		Temperature:    call.Temperature,
		TopP:           call.TopP,
		ResponseFormat: &einoOpenAI.ChatCompletionResponseFormat{Type: format},
	}
	if call.FrequencyPenalty != 0 {
		cfg.FrequencyPenalty = gptr.Of(call.FrequencyPenalty)
	}
	if call.PresencePenalty != 0 {
		cfg.PresencePenalty = gptr.Of(call.PresencePenalty)
	}
	if az := call.Conn.OpenAI; az != nil && az.ByAzure {
		cfg.ByAzure = true
		cfg.APIVersion = cmp.Or(az.APIVersion, defaultAzureVersion)
	}
	return cfg
}
