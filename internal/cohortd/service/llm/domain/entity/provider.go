package entity

import (
	"fmt"
)

// ModelProvider is a backend that serves one or more models.
type ModelProvider struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	BaseURL string            `json:"base_url"`
	APIKey  string            `json:"-"`
	API     ModelAPI          `json:"api"`
	Headers map[string]string `json:"headers,omitempty"`
	// AuthHeader sends the key as a bearer token. When false it goes in an
	// api-key header instead.
	AuthHeader bool `json:"auth_header"`
	// Batch routes deferred submissions to the provider's native batch endpoint.
	Batch bool `json:"batch"`
}

// ModelAPI is the wire protocol a provider speaks.
type ModelAPI string

const (
	ModelAPI_OpenAICompletions  ModelAPI = "openai-completions"
	ModelAPI_OpenAIResponses    ModelAPI = "openai-responses"
	ModelAPI_AnthropicMessages  ModelAPI = "anthropic-messages"
	ModelAPI_GoogleGenerativeAI ModelAPI = "google-generative-ai"
	ModelAPI_OllamaGenerative   ModelAPI = "ollama-generate"
)

var knownAPIs = map[ModelAPI]bool{
	ModelAPI_OpenAICompletions:  true,
	ModelAPI_OpenAIResponses:    true,
	ModelAPI_AnthropicMessages:  true,
	ModelAPI_GoogleGenerativeAI: true,
	ModelAPI_OllamaGenerative:   true,
}

// ModelAPIFromString parses a protocol name. Empty means OpenAI completions,
// the dialect most third-party endpoints speak.
func ModelAPIFromString(s string) (ModelAPI, error) {
	if s == "" {
		return ModelAPI_OpenAICompletions, nil
	}
	if api := ModelAPI(s); knownAPIs[api] {
		return api, nil
	}
	return "", fmt.Errorf("unknown model API %q", s)
}

// OpenAICompatible reports whether the protocol is one of OpenAI's.
func (a ModelAPI) OpenAICompatible() bool {
	return a == ModelAPI_OpenAICompletions || a == ModelAPI_OpenAIResponses
}
