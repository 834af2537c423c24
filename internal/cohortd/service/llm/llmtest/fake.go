// Package llmtest provides an in-process provider plugin for tests.
package llmtest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/kiosk404/cohort/internal/cohortd/service/llm/domain/entity"
	"github.com/kiosk404/cohort/internal/cohortd/service/llm/provider"
	"github.com/kiosk404/cohort/internal/cohortd/service/llm/provider/helper"
	"github.com/kiosk404/cohort/internal/cohortd/service/llm/provider/spi"
	"github.com/kiosk404/cohort/internal/pkg/options"
)

const Name = "fake"

// Responder produces the reply to one call. model is the model id.
type Responder func(ctx context.Context, model string, messages []*schema.Message, tools []*schema.ToolInfo) (*schema.Message, error)

// Backend is a scripted model backend shared by every fake chat model.
type Backend struct {
	mu        sync.RWMutex
	responder Responder
	calls     atomic.Int64
}

func NewBackend(r Responder) *Backend {
	return &Backend{responder: r}
}

// SetResponder swaps the responder.
func (b *Backend) SetResponder(r Responder) {
	b.mu.Lock()
	b.responder = r
	b.mu.Unlock()
}

// Calls returns how many Generate calls reached the backend.
func (b *Backend) Calls() int64 {
	return b.calls.Load()
}

func (b *Backend) generate(ctx context.Context, modelID string, msgs []*schema.Message, tools []*schema.ToolInfo) (*schema.Message, error) {
	b.calls.Add(1)
	b.mu.RLock()
	r := b.responder
	b.mu.RUnlock()
	if r == nil {
		return Reply("ok", 10, 5), nil
	}
	return r(ctx, modelID, msgs, tools)
}

// Reply builds an assistant message with usage.
func Reply(text string, prompt, completion int) *schema.Message {
	msg := schema.AssistantMessage(text, nil)
	msg.ResponseMeta = &schema.ResponseMeta{
		FinishReason: "stop",
		Usage: &schema.TokenUsage{
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      prompt + completion,
		},
	}
	return msg
}

// Plugin is a spi.ChatModelPlugin backed by a Backend.
type Plugin struct {
	helper.Base
	backend *Backend
}

var _ spi.ChatModelPlugin = (*Plugin)(nil)

func (p *Plugin) BuildChatModel(_ context.Context, call *entity.ChatCall) (model.BaseChatModel, error) {
	return &ChatModel{backend: p.backend, model: call.Ref.ModelID}, nil
}

// Registry returns a registry holding only the fake plugin.
func Registry(b *Backend) *provider.Registry {
	r := provider.NewRegistry()
	r.MustRegister(Name, func() spi.ProviderPlugin {
		return &Plugin{Base: helper.Base{ID: Name}, backend: b}
	})
	return r
}

// ModelOptions configures the fake provider with the given model ids,
// each priced at 1 per million input and 2 per million output tokens.
func ModelOptions(models ...string) *options.ModelOptions {
	opts := options.NewModelOptions()
	opts.Mode = "replace"
	opts.Retry.InitialInterval = 0
	opts.Retry.MaxInterval = 0
	cfg := &options.ProviderConfig{BaseURL: "http://fake.invalid", APIKey: "test"}
	for _, id := range models {
		cfg.Models = append(cfg.Models, options.ModelDefinition{
			ID: id, MaxTokens: 4096, Cost: options.ModelCost{Input: 1, Output: 2},
		})
	}
	opts.Providers[Name] = cfg
	return opts
}

// ChatModel is a model.ToolCallingChatModel delegating to a Backend.
type ChatModel struct {
	backend *Backend
	model   string
	tools   []*schema.ToolInfo
}

var _ model.ToolCallingChatModel = (*ChatModel)(nil)

func (m *ChatModel) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.backend.generate(ctx, m.model, input, m.tools)
}

func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (m *ChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return &ChatModel{backend: m.backend, model: m.model, tools: tools}, nil
}
