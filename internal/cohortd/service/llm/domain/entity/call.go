package entity

import (
	"errors"
	"fmt"
)

// ChatCall is everything a provider needs to build a chat model for one
// persona's call: where to connect and the settings resolved from its
// reasoning depth. Zero-valued settings mean the provider default.
type ChatCall struct {
	Ref  ModelRef
	Conn Connection

	Temperature      *float32
	TopP             *float32
	TopK             *int32
	MaxTokens        int
	FrequencyPenalty float32
	PresencePenalty  float32
	// JSON asks for a JSON object response where the protocol supports it.
	JSON bool
	// Thinking is nil when neither the model nor the depth has an opinion.
	Thinking *bool
}

var errNoConnection = errors.New("no connection info")

// NewChatCall resolves params against instance. The connection's thinking
// switch is the baseline and the depth may override it.
func NewChatCall(instance *ModelInstance, params *LLMParams) (*ChatCall, error) {
	if instance == nil {
		return nil, errors.New("nil model instance")
	}
	if instance.Connection.Model == "" {
		return nil, fmt.Errorf("model %s: %w", instance.Ref(), errNoConnection)
	}

	call := &ChatCall{Ref: instance.Ref(), Conn: instance.Connection}
	switch instance.Connection.ThinkingType {
	case ThinkingType_Enable:
		call.Thinking = boolPtr(true)
	case ThinkingType_Disable:
		call.Thinking = boolPtr(false)
	}
	if params == nil {
		return call, nil
	}

	call.Temperature = params.Temperature
	call.TopP = params.TopP
	call.TopK = params.TopK
	call.MaxTokens = params.MaxTokens
	call.FrequencyPenalty = params.FrequencyPenalty
	call.PresencePenalty = params.PresencePenalty
	call.JSON = params.ResponseFormat == ModelResponseFormatJSON
	if params.EnableThinking != nil {
		call.Thinking = params.EnableThinking
	}
	return call, nil
}

// MaxTokensOr returns the resolved token cap or def when unset.
func (c *ChatCall) MaxTokensOr(def int) int {
	if c.MaxTokens > 0 {
		return c.MaxTokens
	}
	return def
}

// BaseURLOr returns the configured endpoint or def when unset.
func (c *ChatCall) BaseURLOr(def string) string {
	if c.Conn.BaseURL != "" {
		return c.Conn.BaseURL
	}
	return def
}

func boolPtr(b bool) *bool { return &b }
