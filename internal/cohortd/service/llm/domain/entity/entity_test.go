package entity

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type httpErr struct{ status int }

func (e httpErr) Error() string   { return fmt.Sprintf("http %d", e.status) }
func (e httpErr) StatusCode() int { return e.status }

type codeErr string

func (e codeErr) Error() string     { return "provider said no" }
func (e codeErr) ErrorCode() string { return string(e) }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Reason
	}{
		{"nil", nil, ReasonUnknown},
		{"canceled", fmt.Errorf("call: %w", context.Canceled), ReasonCanceled},
		{"deadline", context.DeadlineExceeded, ReasonTimeout},
		{"429", httpErr{429}, ReasonRateLimit},
		{"503", httpErr{503}, ReasonUnavailable},
		{"502", httpErr{502}, ReasonServerError},
		{"401", httpErr{401}, ReasonAuth},
		{"content filter message", errors.New("Output blocked by content filter"), ReasonContentPolicy},
		{"bad request", errors.New("400 bad request: malformed json"), ReasonFormat},
		{"classified", fmt.Errorf("wrapped: %w", &CallError{Reason: ReasonBilling}), ReasonBilling},
		{"error code", codeErr("rate_limit_exceeded"), ReasonRateLimit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestReasonPolicy(t *testing.T) {
	assert.True(t, ReasonRateLimit.Retryable())
	assert.False(t, ReasonContentPolicy.Retryable())
	assert.False(t, ReasonContentPolicy.Failover())
	assert.False(t, ReasonCanceled.Failover())
	assert.True(t, ReasonAuth.Failover())
	assert.True(t, ReasonRateLimit.Cools())
	assert.False(t, ReasonAuth.Cools())
}

func TestNewCallError(t *testing.T) {
	ref := ModelRef{ProviderID: "p", ModelID: "m"}
	ce := NewCallError(ref, httpErr{429})
	assert.Equal(t, ReasonRateLimit, ce.Reason)
	assert.Equal(t, 429, ce.Status)
	assert.Equal(t, "p/m: rate_limit (HTTP 429): http 429", ce.Error())
	assert.ErrorIs(t, ce, ce.Err)

	again := NewCallError(ModelRef{ProviderID: "x", ModelID: "y"}, fmt.Errorf("retry: %w", ce))
	assert.Same(t, ce, again)
	assert.Equal(t, ref, again.Ref)
}

func TestParseModelRef(t *testing.T) {
	assert.Equal(t, ModelRef{ProviderID: "openai", ModelID: "gpt-4o"}, ParseModelRef("openai/gpt-4o"))
	assert.Equal(t, ModelRef{ProviderID: "openrouter", ModelID: "meta/llama"}, ParseModelRef("openrouter/meta/llama"))
	assert.Equal(t, ModelRef{ModelID: "gpt-4o"}, ParseModelRef(" gpt-4o "))
	assert.True(t, ParseModelRef("").IsZero())
}

func TestPrice(t *testing.T) {
	cost := ModelCostInfo{Input: 2, Output: 8, CacheRead: 0.5}
	usage := &TokenUsage{PromptTokens: 1_000_000, CachedTokens: 200_000, CompletionTokens: 500_000}

	assert.InDelta(t, 1.6+0.1+4, cost.Price(usage, 0), 1e-9)
	assert.InDelta(t, (1.6+0.1+4)/2, cost.Price(usage, 0.5), 1e-9)
	assert.InDelta(t, 1.6+0.1+4, cost.Price(usage, 1.5), 1e-9)
	assert.Zero(t, cost.Price(nil, 0))
}

func TestParamsFor(t *testing.T) {
	reasoner := &ModelInstance{MaxTokens: 8192, Reasoning: true}

	low := ParamsFor(ReasoningLow, reasoner, ModelResponseFormatText)
	assert.Equal(t, 2048, low.MaxTokens)
	if assert.NotNil(t, low.EnableThinking) {
		assert.False(t, *low.EnableThinking)
	}

	high := ParamsFor(ReasoningHigh, reasoner, ModelResponseFormatJSON)
	assert.Equal(t, 8192, high.MaxTokens)
	assert.Equal(t, ModelResponseFormatJSON, high.ResponseFormat)
	if assert.NotNil(t, high.EnableThinking) {
		assert.True(t, *high.EnableThinking)
	}

	plain := ParamsFor(ReasoningHigh, &ModelInstance{MaxTokens: 4096}, ModelResponseFormatText)
	assert.Nil(t, plain.EnableThinking)

	odd := ParamsFor("odd", nil, ModelResponseFormatText)
	assert.Equal(t, 4096, odd.MaxTokens)
	require.NotNil(t, odd.Temperature)
	*odd.Temperature = 2
	again := ParamsFor(ReasoningMedium, nil, ModelResponseFormatText)
	assert.InDelta(t, 0.5, float64(*again.Temperature), 1e-6)

	_, err := ParseReasoning("extreme")
	assert.Error(t, err)
	r, err := ParseReasoning("")
	assert.NoError(t, err)
	assert.Equal(t, ReasoningMedium, r)
}

func TestCandidates(t *testing.T) {
	a := ModelRef{ProviderID: "p", ModelID: "a"}
	b := ModelRef{ProviderID: "p", ModelID: "b"}
	assert.Equal(t, []ModelRef{a, b}, Candidates(a, b, a, ModelRef{}))
}

func TestAttempts(t *testing.T) {
	a := ModelRef{ProviderID: "p", ModelID: "a"}
	b := ModelRef{ProviderID: "p", ModelID: "b"}
	attempts := Attempts{
		{Ref: a, Skipped: true, Error: "cooling down"},
		{Ref: b, Reason: ReasonRateLimit, Error: "slow down", Retries: 2},
	}
	assert.Equal(t, 3, attempts.Calls())
	last, ok := attempts.Last()
	assert.True(t, ok)
	assert.Equal(t, b, last.Ref)
	assert.Equal(t, "p/a: skipped (cooling down) | p/b: slow down (rate_limit)", attempts.String())

	_, ok = Attempts{{Ref: a, Skipped: true}}.Last()
	assert.False(t, ok)
}
