package entity

import (
	"fmt"
	"strings"
)

// ModelInstance represents a concrete, usable model registered in the gateway.
type ModelInstance struct {
	ModelID     string `json:"model_id"`
	ProviderID  string `json:"provider_id"`
	DisplayName string `json:"display_name"`
	IsDefault   bool   `json:"is_default"`
	// Connection holds the resolved connection parameters.
	Connection    Connection    `json:"-"`
	Cost          ModelCostInfo `json:"cost"`
	ContextWindow int           `json:"context_window"`
	MaxTokens     int           `json:"max_tokens"`
	// Reasoning indicates whether this model supports extended thinking.
	Reasoning  bool     `json:"reasoning"`
	InputTypes []string `json:"input_types"`
}

// Ref returns the provider/model reference of the instance.
func (m *ModelInstance) Ref() ModelRef {
	return ModelRef{ProviderID: m.ProviderID, ModelID: m.ModelID}
}

// Connection carries what a provider plugin needs to build a chat model.
type Connection struct {
	BaseURL      string
	APIKey       string
	Model        string
	ThinkingType ThinkingType
	Headers      map[string]string
	// OpenAI holds Azure-specific switches for OpenAI-compatible endpoints.
	OpenAI *OpenAIConnInfo
	// Gemini holds Vertex AI settings.
	Gemini *GeminiConnInfo
}

type OpenAIConnInfo struct {
	ByAzure    bool
	APIVersion string
}

type GeminiConnInfo struct {
	Backend  int32
	Project  string
	Location string
}

type ThinkingType int32

const (
	ThinkingType_Default ThinkingType = 0
	ThinkingType_Enable  ThinkingType = 1
	ThinkingType_Disable ThinkingType = 2
)

// ModelCostInfo defines the cost of using a model (per million tokens).
type ModelCostInfo struct {
	Input      float64 `json:"input"`
	Output     float64 `json:"output"`
	CacheRead  float64 `json:"cache_read"`
	CacheWrite float64 `json:"cache_write"`
}

// Price computes the cost of usage. discount is the fraction taken off
// (0.5 halves the price); values outside [0,1) are ignored.
func (c ModelCostInfo) Price(usage *TokenUsage, discount float64) float64 {
	if usage == nil {
		return 0
	}
	cached := usage.CachedTokens
	if cached > usage.PromptTokens {
		cached = usage.PromptTokens
	}
	total := float64(usage.PromptTokens-cached)*c.Input +
		float64(cached)*c.CacheRead +
		float64(usage.CompletionTokens)*c.Output
	total /= 1_000_000
	if discount > 0 && discount < 1 {
		total *= 1 - discount
	}
	return total
}

// ModelRef is a reference to a model instance.
type ModelRef struct {
	ProviderID string `json:"provider_id"`
	ModelID    string `json:"model_id"`
}

func (r ModelRef) String() string {
	return fmt.Sprintf("%s/%s", r.ProviderID, r.ModelID)
}

// IsZero reports whether r is unset.
func (r ModelRef) IsZero() bool {
	return r.ProviderID == "" && r.ModelID == ""
}

// ParseModelRef splits "provider/model". A bare model id yields an empty provider.
// Model ids may themselves contain slashes (e.g. "openrouter/meta/llama"), so only
// the first separator is significant.
func ParseModelRef(s string) ModelRef {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "/"); i > 0 {
		return ModelRef{ProviderID: s[:i], ModelID: s[i+1:]}
	}
	return ModelRef{ModelID: s}
}
