package entity

import (
	"fmt"

	"github.com/bytedance/gg/gptr"
)

// LLMParams are the generation settings of one call. Nil pointers leave the
// provider default in place.
type LLMParams struct {
	Temperature      *float32            `json:"temperature,omitempty"`
	FrequencyPenalty float32             `json:"frequency_penalty,omitempty"`
	PresencePenalty  float32             `json:"presence_penalty,omitempty"`
	MaxTokens        int                 `json:"max_tokens,omitempty"`
	TopP             *float32            `json:"top_p,omitempty"`
	TopK             *int32              `json:"top_k,omitempty"`
	ResponseFormat   ModelResponseFormat `json:"response_format"`
	EnableThinking   *bool               `json:"enable_thinking,omitempty"`
}

// ModelResponseFormat defines the format of the model's response.
type ModelResponseFormat int64

const (
	ModelResponseFormatText ModelResponseFormat = iota
	ModelResponseFormatJSON
	ModelResponseFormatMarkdown
)

func (f ModelResponseFormat) String() string {
	switch f {
	case ModelResponseFormatJSON:
		return "json"
	case ModelResponseFormatMarkdown:
		return "markdown"
	default:
		return "text"
	}
}

// Reasoning is the reasoning depth a persona asks of its model.
type Reasoning string

const (
	ReasoningLow    Reasoning = "low"
	ReasoningMedium Reasoning = "medium"
	ReasoningHigh   Reasoning = "high"
)

// ParseReasoning accepts the three depths; empty means medium.
func ParseReasoning(s string) (Reasoning, error) {
	switch Reasoning(s) {
	case "":
		return ReasoningMedium, nil
	case ReasoningLow, ReasoningMedium, ReasoningHigh:
		return Reasoning(s), nil
	}
	return "", fmt.Errorf("unknown reasoning depth %q, must be low, medium or high", s)
}

type depthProfile struct {
	temperature *float32
	maxTokens   int
	// thinking applies only to models that can reason.
	thinking *bool
}

var depthProfiles = map[Reasoning]depthProfile{
	ReasoningLow:    {temperature: gptr.Of(float32(0.2)), maxTokens: 2048, thinking: gptr.Of(false)},
	ReasoningMedium: {temperature: gptr.Of(float32(0.5)), maxTokens: 4096},
	ReasoningHigh:   {maxTokens: 16384, thinking: gptr.Of(true)},
}

// ParamsFor maps a reasoning depth onto generation parameters for instance.
// Unknown depths behave as medium. The token budget never exceeds the
// model's own limit.
func ParamsFor(depth Reasoning, instance *ModelInstance, format ModelResponseFormat) *LLMParams {
	profile, ok := depthProfiles[depth]
	if !ok {
		profile = depthProfiles[ReasoningMedium]
	}
	params := &LLMParams{
		ResponseFormat: format,
		Temperature:    clonePtr(profile.temperature),
		MaxTokens:      profile.maxTokens,
	}
	if instance == nil {
		return params
	}
	if instance.MaxTokens > 0 {
		params.MaxTokens = min(params.MaxTokens, instance.MaxTokens)
	}
	if instance.Reasoning {
		params.EnableThinking = clonePtr(profile.thinking)
	}
	return params
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	return gptr.Of(*p)
}
