package gemini

import (
	"context"
	"fmt"

	einoGemini "github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino/components/model"
	"github.com/kiosk404/cohort/internal/cohortd/service/llm/domain/entity"
	"github.com/kiosk404/cohort/internal/cohortd/service/llm/provider/helper"
	"github.com/kiosk404/cohort/internal/cohortd/service/llm/provider/spi"
	"github.com/kiosk404/cohort/internal/pkg/options"
	"google.golang.org/genai"
)

const Name = "gemini"

const defaultBaseURL = "https://generativelanguage.googleapis.com/"

var _ spi.ChatModelPlugin = (*Plugin)(nil)

type Plugin struct {
	helper.Base
}

func New() spi.ProviderPlugin {
	return &Plugin{Base: helper.Base{ID: Name, Defaults: catalog}}
}

// BuildChatModel talks the google-generative-ai protocol, on Vertex AI when
// the connection names a project.
func (p *Plugin) BuildChatModel(ctx context.Context, call *entity.ChatCall) (model.BaseChatModel, error) {
	client, err := genai.NewClient(ctx, clientConfig(call.Conn))
	if err != nil {
		return nil, fmt.Errorf("genai client for %s: %w", call.Ref, err)
	}
	return einoGemini.NewChatModel(ctx, chatConfig(client, call))
}

func clientConfig(conn entity.Connection) *genai.ClientConfig {
	cfg := &genai.ClientConfig{
		APIKey:      conn.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: defaultBaseURL},
	}
	if conn.BaseURL != "" {
		cfg.HTTPOptions.BaseURL = conn.BaseURL
	}
	if v := conn.Gemini; v != nil {
		if v.Backend != 0 {
			cfg.Backend = genai.Backend(v.Backend)
		}
		cfg.Project = v.Project
		cfg.Location = v.Location
	}
	return cfg
}

func chatConfig(client *genai.Client, call *entity.ChatCall) *einoGemini.Config {
	cfg := &einoGemini.Config{
		Client:      client,
		Model:       call.Conn.Model,
		Temperature: call.Temperature,
		TopP:        call.TopP,
		TopK:        call.TopK,
	}
	if call.MaxTokens > 0 {
		n := call.MaxTokens
		cfg.MaxTokens = &n
	}
	if call.Thinking != nil {
		cfg.ThinkingConfig = &genai.ThinkingConfig{IncludeThoughts: *call.Thinking}
	}
	return cfg
}

var catalog = options.ProviderConfig{
	BaseURL: "https://generativelanguage.googleapis.com/v1beta",
	APIKey:  "${GOOGLE_API_KEY}",
	API:     "google-generative-ai",
	Models: []options.ModelDefinition{
		{ID: "gemini-2.5-pro", Name: "Gemini 2.5 Pro", Reasoning: true, Input: []string{"text", "image"}, ContextWindow: 1048576, MaxTokens: 65536, Cost: options.ModelCost{Input: 1.25, Output: 10, CacheRead: 0.31}},
		{ID: "gemini-2.5-flash", Name: "Gemini 2.5 Flash", Reasoning: true, Input: []string{"text", "image"}, ContextWindow: 1048576, MaxTokens: 65536, Cost: options.ModelCost{Input: 0.3, Output: 2.5, CacheRead: 0.075}},
		{ID: "gemini-2.0-flash", Name: "Gemini 2.0 Flash", Input: []string{"text", "image"}, ContextWindow: 1048576, MaxTokens: 8192, Cost: options.ModelCost{Input: 0.1, Output: 0.4, CacheRead: 0.025}},
	},
}
