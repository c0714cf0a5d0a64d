package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigLoader_Defaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("PORT", "")
	t.Setenv("SUPPORTED_LANGUAGES", "")

	cfg, err := NewConfigLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "8001", cfg.Server.Port)
	assert.Equal(t, 20, cfg.Ingestion.MaxPages)
	assert.Equal(t, 3000, cfg.Ingestion.CharsPerPage)
	assert.Equal(t, 1000, cfg.Ingestion.DetectSample)
	assert.Contains(t, cfg.Ingestion.AllowedTypes, "pdf")
	assert.Equal(t, []string{"en", "fr", "de", "es", "it", "zh"}, cfg.Languages.Supported)
	assert.Equal(t, "en", cfg.Languages.Default)
	assert.Equal(t, localModel("", 0, 0, 0)["provider"], cfg.Languages.Models["en"].Provider)
	assert.Equal(t, 384, cfg.Languages.Models["en"].Dimensions)
	assert.Equal(t, "ollama", cfg.Languages.Models["fr"].Provider)
	assert.Equal(t, 3, cfg.Retrieval.TopK)
	assert.Equal(t, "gemini-2.0-flash-exp", cfg.Generation.Model)
	assert.Equal(t, 120, cfg.Progress.KeepaliveSeconds)
	assert.Equal(t, 0, cfg.Progress.Capacity)
	assert.Equal(t, "memory", cfg.VectorStore.Provider)
}

func TestConfigLoader_EnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("PORT", "9090")
	t.Setenv("SUPPORTED_LANGUAGES", "fr, en")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("MAX_PAGES", "5")

	cfg, err := NewConfigLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, []string{"fr", "en"}, cfg.Languages.Supported)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, 5, cfg.Ingestion.MaxPages)
}

func TestConfigLoader_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "docqa.yaml")
	content := `
languages:
  supported: [de, en]
  default: de
  models:
    de:
      provider: hash
      max_tokens: 64
      dimensions: 32
    en:
      provider: hash
      max_tokens: 64
      dimensions: 32
vector_store:
  provider: qdrant
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("SUPPORTED_LANGUAGES", "")

	cfg, err := NewConfigLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "de", cfg.Languages.Default)
	assert.Equal(t, "hash", cfg.Languages.Models["de"].Provider)
	assert.Equal(t, 32, cfg.Languages.Models["de"].Dimensions)
	assert.Equal(t, "qdrant", cfg.VectorStore.Provider)
}

func TestConfigLoader_RejectsUnknownDefaultLanguage(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("SUPPORTED_LANGUAGES", "fr,de")

	_, err := NewConfigLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "default language")
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList(" a, ,b "))
	assert.Empty(t, splitList(" , "))
}
