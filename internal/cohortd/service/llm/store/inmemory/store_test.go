package inmemory

import (
	"context"
	"testing"

	"github.com/kiosk404/cohort/internal/cohortd/service/llm/domain/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModelStore(t *testing.T) {
	ctx := context.Background()
	s := NewModelStore()

	require.NoError(t, s.Save(ctx, &entity.ModelInstance{ProviderID: "openai", ModelID: "gpt-4o"}))
	require.NoError(t, s.Save(ctx, &entity.ModelInstance{ProviderID: "azure", ModelID: "gpt-4o"}))
	mini := &entity.ModelInstance{ProviderID: "openai", ModelID: "gpt-4o-mini", IsDefault: true}
	require.NoError(t, s.Save(ctx, mini))
	assert.Error(t, s.Save(ctx, &entity.ModelInstance{ModelID: "orphan"}))

	same, err := s.ByModelID(ctx, "gpt-4o")
	require.NoError(t, err)
	require.Len(t, same, 2)
	assert.Equal(t, "openai", same[0].ProviderID)

	def, err := s.Default(ctx)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", def.ModelID)

	ref := entity.ModelRef{ProviderID: "azure", ModelID: "gpt-4o"}
	require.NoError(t, s.SetDefault(ctx, ref))
	def, _ = s.Default(ctx)
	assert.Equal(t, ref, def.Ref())
	assert.False(t, mini.IsDefault)
	assert.Error(t, s.SetDefault(ctx, entity.ModelRef{ProviderID: "x", ModelID: "y"}))

	// Re-saving keeps the original position.
	require.NoError(t, s.Save(ctx, &entity.ModelInstance{ProviderID: "openai", ModelID: "gpt-4o", DisplayName: "again"}))
	all, _ := s.List(ctx)
	require.Len(t, all, 3)
	assert.Equal(t, "again", all[0].DisplayName)

	_, err = s.Get(ctx, entity.ModelRef{ProviderID: "openai", ModelID: "nope"})
	assert.Error(t, err)
}

func TestModelStoreWithoutDefault(t *testing.T) {
	_, err := NewModelStore().Default(context.Background())
	assert.Error(t, err)
}

func TestProviderStore(t *testing.T) {
	ctx := context.Background()
	s := NewProviderStore()
	require.NoError(t, s.Save(ctx, &entity.ModelProvider{ID: "qwen"}))
	require.NoError(t, s.Save(ctx, &entity.ModelProvider{ID: "anthropic"}))
	assert.Error(t, s.Save(ctx, &entity.ModelProvider{}))

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "anthropic", list[0].ID)

	_, err = s.Get(ctx, "missing")
	assert.Error(t, err)
}
