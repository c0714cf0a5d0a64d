//go:build !fastembed

package di

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestModelRegistry_DefaultLanguageLoads(t *testing.T) {
	cfg := loadTestConfig(t)
	registry := newModelRegistry(cfg, zap.NewNop(), nil)

	require.NoError(t, registry.EnsureLoaded(context.Background(), cfg.Languages.Default))
	assert.True(t, registry.IsLoaded(cfg.Languages.Default))

	bundle, err := registry.Get(cfg.Languages.Default)
	require.NoError(t, err)
	vec, err := bundle.Embedder.Embed(context.Background(), "Shipping takes five business days.")
	require.NoError(t, err)
	assert.Len(t, vec, cfg.Languages.Models[cfg.Languages.Default].Dimensions)
}
