package ollama

import (
	"context"

	einoOllama "github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino/components/model"
	"github.com/kiosk404/cohort/internal/cohortd/service/llm/domain/entity"
	"github.com/kiosk404/cohort/internal/cohortd/service/llm/provider/helper"
	"github.com/kiosk404/cohort/internal/cohortd/service/llm/provider/spi"
	"github.com/kiosk404/cohort/internal/pkg/options"
)

const Name = "ollama"

const defaultBaseURL = "http://127.0.0.1:11434"

var _ spi.ChatModelPlugin = (*Plugin)(nil)

type Plugin struct {
	helper.Base
}

func New() spi.ProviderPlugin {
	return &Plugin{Base: helper.Base{ID: Name, Defaults: catalog}}
}

// BuildChatModel targets a local daemon. Local models are free unless the
// catalog prices them.
func (p *Plugin) BuildChatModel(ctx context.Context, call *entity.ChatCall) (model.BaseChatModel, error) {
	return einoOllama.NewChatModel(ctx, chatConfig(call))
}

func chatConfig(call *entity.ChatCall) *einoOllama.ChatModelConfig {
	opts := &einoOllama.Options{
		FrequencyPenalty: call.FrequencyPenalty,
		PresencePenalty:  call.PresencePenalty,
	}
	if call.Temperature != nil {
		opts.Temperature = *call.Temperature
	}
	if call.TopP != nil {
		opts.TopP = *call.TopP
	}
	if call.TopK != nil {
		opts.TopK = int(*call.TopK)
	}

	cfg := &einoOllama.ChatModelConfig{
		BaseURL: call.BaseURLOr(defaultBaseURL),
		Model:   call.Conn.Model,
		Options: opts,
	}
	if call.Thinking != nil {
		cfg.Thinking = &einoOllama.ThinkValue{Value: call.Thinking}
	}
	return cfg
}

var catalog = options.ProviderConfig{
	BaseURL: defaultBaseURL,
	APIKey:  "${OLLAMA_API_KEY}",
	API:     "ollama-generate",
	Models: []options.ModelDefinition{
		{ID: "llama3.1", Name: "Llama 3.1", Input: []string{"text"}, ContextWindow: 131072, MaxTokens: 8192},
		{ID: "qwen3", Name: "Qwen3 (local)", Reasoning: true, Input: []string{"text"}, ContextWindow: 40960, MaxTokens: 8192},
	},
}
