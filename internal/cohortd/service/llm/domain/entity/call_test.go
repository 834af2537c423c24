package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChatCall(t *testing.T) {
	inst := &ModelInstance{
		ProviderID: "qwen",
		ModelID:    "qwq-plus",
		MaxTokens:  8192,
		Reasoning:  true,
		Connection: Connection{Model: "qwq-plus", ThinkingType: ThinkingType_Enable},
	}

	call, err := NewChatCall(inst, nil)
	require.NoError(t, err)
	assert.Equal(t, ModelRef{ProviderID: "qwen", ModelID: "qwq-plus"}, call.Ref)
	require.NotNil(t, call.Thinking)
	assert.True(t, *call.Thinking)
	assert.Equal(t, 512, call.MaxTokensOr(512))

	call, err = NewChatCall(inst, ParamsFor(ReasoningLow, inst, ModelResponseFormatJSON))
	require.NoError(t, err)
	assert.False(t, *call.Thinking)
	assert.True(t, call.JSON)
	assert.Equal(t, 2048, call.MaxTokensOr(512))
	assert.Equal(t, "http://local", call.BaseURLOr("http://local"))

	_, err = NewChatCall(&ModelInstance{ProviderID: "qwen", ModelID: "bare"}, nil)
	assert.ErrorIs(t, err, errNoConnection)
	_, err = NewChatCall(nil, nil)
	assert.Error(t, err)
}
