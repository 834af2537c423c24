package helper

import (
	"strings"
	"testing"

	"github.com/kiosk404/cohort/internal/cohortd/service/llm/domain/entity"
	"github.com/kiosk404/cohort/internal/pkg/options"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandEnv(t *testing.T) {
	t.Setenv("COHORT_TEST_KEY", "secret")
	assert.Equal(t, "secret", ExpandEnv("${COHORT_TEST_KEY}"))
	assert.Equal(t, "literal", ExpandEnv("literal"))
	assert.Equal(t, "", ExpandEnv("${COHORT_TEST_MISSING}"))

	name, ok := EnvRef("${COHORT_TEST_KEY}")
	assert.True(t, ok)
	assert.Equal(t, "COHORT_TEST_KEY", name)
	_, ok = EnvRef("plain")
	assert.False(t, ok)
	_, ok = EnvRef("${unterminated")
	assert.False(t, ok)
}

func TestBuildProviderAndModels(t *testing.T) {
	t.Setenv("COHORT_TEST_KEY", "secret")
	p := &Base{ID: "openai"}
	cfg := &options.ProviderConfig{
		BaseURL: "https://api.example.com/v1",
		APIKey:  "${COHORT_TEST_KEY}",
		Batch:   true,
		Headers: map[string]string{"X-Org": "acme"},
		Models: []options.ModelDefinition{
			{ID: "m1", Reasoning: true, Cost: options.ModelCost{Input: 1, Output: 2}, Headers: map[string]string{"X-Beta": "1"}},
			{ID: "m2", Name: "Model Two"},
		},
	}

	prov, err := p.BuildProvider(cfg)
	require.NoError(t, err)
	assert.Equal(t, "secret", prov.APIKey)
	assert.Equal(t, entity.ModelAPI_OpenAICompletions, prov.API)
	assert.True(t, prov.Batch)
	assert.True(t, prov.AuthHeader)

	models, err := p.BuildModels(prov, cfg)
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "m1", models[0].DisplayName)
	assert.Equal(t, entity.ThinkingType_Enable, models[0].Connection.ThinkingType)
	assert.Equal(t, map[string]string{"X-Org": "acme", "X-Beta": "1"}, models[0].Connection.Headers)
	require.NotNil(t, models[0].Connection.OpenAI)
	assert.False(t, models[0].Connection.OpenAI.ByAzure)
	assert.Equal(t, "Model Two", models[1].DisplayName)
	assert.Equal(t, []string{"text"}, models[1].InputTypes)

	_, err = p.BuildProvider(&options.ProviderConfig{API: "smoke-signals"})
	assert.Error(t, err)

	_, err = p.BuildModels(prov, &options.ProviderConfig{Models: []options.ModelDefinition{{Name: "anonymous"}}})
	assert.Error(t, err)
}

func TestDefaultConfigIsACopy(t *testing.T) {
	p := &Base{ID: "x", Defaults: options.ProviderConfig{Models: []options.ModelDefinition{{ID: "a"}}}}
	cfg := p.DefaultConfig()
	cfg.Models[0].ID = "changed"
	assert.Equal(t, "a", p.DefaultConfig().Models[0].ID)
}

func TestOpenAIChatConfig(t *testing.T) {
	temp := float32(0.2)
	call := &entity.ChatCall{
		Conn:        entity.Connection{Model: "gpt-4o", APIKey: "k", OpenAI: &entity.OpenAIConnInfo{ByAzure: true, APIVersion: "2024-06-01"}},
		Temperature: &temp,
		JSON:        true,
	}
	cfg := OpenAIChatConfig(call)
	assert.Equal(t, "gpt-4o", cfg.Model)
	assert.Equal(t, 4096, *cfg.MaxTokens)
	assert.Equal(t, &temp, cfg.Temperature)
	assert.True(t, cfg.ByAzure)
	assert.Equal(t, "2024-06-01", cfg.APIVersion)
	assert.EqualValues(t, "json_object", cfg.ResponseFormat.Type)
	assert.Nil(t, cfg.FrequencyPenalty)

	call.MaxTokens = 100
	call.JSON = false
	cfg = OpenAIChatConfig(call)
	assert.Equal(t, 100, *cfg.MaxTokens)
	assert.EqualValues(t, "text", cfg.ResponseFormat.Type)
}

func TestEncodeBatchInput(t *testing.T) {
	ref := entity.ModelRef{ProviderID: "openai", ModelID: "gpt-4o"}
	instances := map[string]*entity.ModelInstance{
		ref.String(): {ModelID: "gpt-4o", ProviderID: "openai", MaxTokens: 16384, Connection: entity.Connection{Model: "gpt-4o"}},
	}
	out, err := EncodeBatchInput([]*entity.BatchPrompt{
		{CustomID: "m-1", Ref: ref, SystemPrompt: "sys", Prompt: "hello", Reasoning: entity.ReasoningLow},
		{CustomID: "m-2", Ref: ref, Prompt: "json please", JSON: true},
	}, instances)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"custom_id":"m-1"`)
	assert.Contains(t, lines[0], `"url":"/v1/chat/completions"`)
	assert.Contains(t, lines[0], `"role":"system"`)
	assert.Contains(t, lines[0], `"max_tokens":2048`)
	assert.Contains(t, lines[1], `"response_format":{"type":"json_object"}`)

	_, err = EncodeBatchInput([]*entity.BatchPrompt{{CustomID: "x", Ref: entity.ModelRef{ProviderID: "openai", ModelID: "nope"}}}, instances)
	assert.Error(t, err)
}

func TestParseBatchOutput(t *testing.T) {
	input := `{"custom_id":"a","response":{"status_code":200,"body":{"choices":[{"message":{"content":"hi"},"finish_reason":"stop"}],"usage":{"prompt_tokens":10,"completion_tokens":2,"total_tokens":12,"prompt_tokens_details":{"cached_tokens":4}}}}}
{"custom_id":"b","error":{"code":"server_error","message":"boom"}}

{"custom_id":"c","response":{"status_code":200,"body":{"choices":[{"message":{"content":""},"finish_reason":"content_filter"}]}}}
{"custom_id":"d","response":{"status_code":500,"body":{}}}
`
	items, err := ParseBatchOutput(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, items, 4)

	assert.Equal(t, "hi", items[0].Text)
	assert.Equal(t, &entity.TokenUsage{PromptTokens: 10, CompletionTokens: 2, CachedTokens: 4, TotalTokens: 12}, items[0].Usage)
	assert.Equal(t, "server_error: boom", items[1].Error)
	assert.Contains(t, items[2].Error, "content_filter")
	assert.Equal(t, "status 500", items[3].Error)

	_, err = ParseBatchOutput(strings.NewReader("{not json}\n"))
	assert.Error(t, err)
	_, err = ParseBatchOutput(strings.NewReader(`{"response":{}}` + "\n"))
	assert.Error(t, err)
}
