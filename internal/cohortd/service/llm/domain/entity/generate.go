package entity

import (
	"time"

	"github.com/cloudwego/eino/schema"
)

// GenerateRequest is one synchronous generation on behalf of a persona.
type GenerateRequest struct {
	// TaskID and PersonaID attribute the cost of the call.
	TaskID    string `json:"task_id"`
	PersonaID string `json:"persona_id"`
	// Model is the persona's configured model identifier.
	Model string `json:"model"`
	// Fallbacks are tried in order when Model fails with a failover-worthy reason.
	Fallbacks    []string          `json:"fallbacks,omitempty"`
	Reasoning    Reasoning         `json:"reasoning"`
	SystemPrompt string            `json:"system_prompt,omitempty"`
	History      []*schema.Message `json:"history,omitempty"`
	Prompt       string            `json:"prompt"`
	// Tools are bound to the model for this call only.
	Tools []*schema.ToolInfo `json:"-"`
	JSON  bool               `json:"json,omitempty"`
}

// Messages assembles the conversation sent to the model.
func (r *GenerateRequest) Messages() []*schema.Message {
	msgs := make([]*schema.Message, 0, len(r.History)+2)
	if r.SystemPrompt != "" {
		msgs = append(msgs, schema.SystemMessage(r.SystemPrompt))
	}
	msgs = append(msgs, r.History...)
	if r.Prompt != "" {
		msgs = append(msgs, schema.UserMessage(r.Prompt))
	}
	return msgs
}

// GenerateResponse is the outcome of a successful generation.
type GenerateResponse struct {
	Text         string            `json:"text"`
	ToolCalls    []schema.ToolCall `json:"tool_calls,omitempty"`
	Message      *schema.Message   `json:"-"`
	Usage        *TokenUsage       `json:"usage,omitempty"`
	Cost         float64           `json:"cost"`
	Ref          ModelRef          `json:"ref"`
	Attempts     int               `json:"attempts"`
	FinishReason string            `json:"finish_reason,omitempty"`
}

type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	CachedTokens     int `json:"cached_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates other into u.
func (u *TokenUsage) Add(other *TokenUsage) {
	if other == nil {
		return
	}
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.CachedTokens += other.CachedTokens
	u.TotalTokens += other.TotalTokens
}

// UsageFromMessage extracts token usage reported on a model response.
func UsageFromMessage(msg *schema.Message) *TokenUsage {
	if msg == nil || msg.ResponseMeta == nil || msg.ResponseMeta.Usage == nil {
		return &TokenUsage{}
	}
	u := msg.ResponseMeta.Usage
	return &TokenUsage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		CachedTokens:     u.PromptTokenDetails.CachedTokens,
		TotalTokens:      u.TotalTokens,
	}
}

// Charge is one metered generation, handed to the Meter.
type Charge struct {
	TaskID    string      `json:"task_id"`
	PersonaID string      `json:"persona_id"`
	Ref       ModelRef    `json:"ref"`
	Usage     *TokenUsage `json:"usage"`
	Cost      float64     `json:"cost"`
	Batch     bool        `json:"batch"`
	At        time.Time   `json:"at"`
}
