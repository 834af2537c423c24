package anthropic

import (
	"context"

	einoClaude "github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino/components/model"
	"github.com/kiosk404/cohort/internal/cohortd/service/llm/domain/entity"
	"github.com/kiosk404/cohort/internal/cohortd/service/llm/provider/helper"
	"github.com/kiosk404/cohort/internal/cohortd/service/llm/provider/spi"
	"github.com/kiosk404/cohort/internal/pkg/options"
)

const Name = "anthropic"

// The Messages API rejects requests without max_tokens.
const fallbackMaxTokens = 4096

var _ spi.ChatModelPlugin = (*Plugin)(nil)

type Plugin struct {
	helper.Base
}

func New() spi.ProviderPlugin {
	return &Plugin{Base: helper.Base{ID: Name, Defaults: catalog}}
}

func (p *Plugin) BuildChatModel(ctx context.Context, call *entity.ChatCall) (model.BaseChatModel, error) {
	return einoClaude.NewChatModel(ctx, chatConfig(call))
}

func chatConfig(call *entity.ChatCall) *einoClaude.Config {
	cfg := &einoClaude.Config{
		APIKey:      call.Conn.APIKey,
		Model:       call.Conn.Model,
		MaxTokens:   call.MaxTokensOr(fallbackMaxTokens),
		Temperature: call.Temperature,
		TopP:        call.TopP,
		TopK:        call.TopK,
	}
	if url := call.Conn.BaseURL; url != "" {
		cfg.BaseURL = &url
	}
	return cfg
}

// Prices are per million tokens.
var catalog = options.ProviderConfig{
	BaseURL: "https://api.anthropic.com/v1",
	APIKey:  "${ANTHROPIC_API_KEY}",
	API:     "anthropic-messages",
	Models: []options.ModelDefinition{
		{ID: "claude-opus-4-6", Name: "Claude Opus 4.6", Reasoning: true, Input: []string{"text"}, ContextWindow: 200000, MaxTokens: 128000, Cost: options.ModelCost{Input: 5, Output: 25, CacheRead: 0.5}},
		{ID: "claude-sonnet-4-5", Name: "Claude Sonnet 4.5", Reasoning: true, Input: []string{"text"}, ContextWindow: 200000, MaxTokens: 64000, Cost: options.ModelCost{Input: 3, Output: 15, CacheRead: 0.3}},
		{ID: "claude-haiku-4-5", Name: "Claude Haiku 4.5", Input: []string{"text"}, ContextWindow: 200000, MaxTokens: 64000, Cost: options.ModelCost{Input: 1, Output: 5, CacheRead: 0.1}},
	},
}
