package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configData := `
llm:
  base_url: "http://localhost:11434"
  model: "llama3"
  max_tokens: 1000
  temperature: 0.5
  timeout_seconds: 60
  banned_phrases:
    - "avada kedavra"

embedding:
  model: "nomic-embed-text"
  dimension: 768
  timeout_seconds: 15
  rate_limit: 4.0

store:
  backend: "pgvector"
  url: "postgres://localhost:5432/test"
  table_name: "test_docs"
  batch_size: 50

splitter:
  chunk_size: 500
  chunk_overlap: 100

loader:
  timeout_seconds: 10
  pdf_trim_top: 2
  pdf_trim_bottom: 1

retrieval:
  top_k: 5
  threshold: 0.25
  memory_window: 6

server:
  addr: ":9090"

ui:
  streaming: false
  theme: "dark"
`
	err := os.WriteFile(configPath, []byte(configData), 0644)
	require.NoError(t, err)

	config, err := LoadConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:11434", config.LLM.BaseURL)
	assert.Equal(t, "llama3", config.LLM.Model)
	assert.Equal(t, 1000, config.LLM.MaxTokens)
	assert.Equal(t, 0.5, config.LLM.Temperature)
	assert.Equal(t, []string{"avada kedavra"}, config.LLM.BannedPhrases)
	assert.Equal(t, 60*time.Second, config.LLM.Timeout())
	assert.Equal(t, "nomic-embed-text", config.Embedding.Model)
	assert.Equal(t, 768, config.Embedding.Dimension)
	assert.Equal(t, "pgvector", config.Store.Backend)
	assert.Equal(t, "postgres://localhost:5432/test", config.Store.URL)
	assert.Equal(t, 500, config.Splitter.ChunkSize)
	assert.Equal(t, 2, config.Loader.PDFTrimTop)
	assert.Equal(t, 5, config.Retrieval.TopK)
	assert.Equal(t, 0.25, config.Retrieval.Threshold)
	assert.Equal(t, ":9090", config.Server.Addr)
	assert.False(t, config.UI.Streaming)

	// Unset values fall back to defaults
	assert.Equal(t, "moondream", config.LLM.VisionModel)
	assert.Equal(t, "test_docs", config.Store.TableName)
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("OLLAMA_BASE_URL", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("LORE_ADDR", "")

	config, err := LoadConfig(filepath.Join(t.TempDir(), "missing-dir-marker"))
	require.Error(t, err)

	config, err = getDefaultConfig()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:11434", config.LLM.BaseURL)
	assert.Equal(t, "mistral", config.LLM.Model)
	assert.Equal(t, "memory", config.Store.Backend)
	assert.Equal(t, 768, config.Embedding.Dimension)
	assert.Equal(t, 250, config.Splitter.ChunkSize)
	assert.Equal(t, 4, config.Retrieval.TopK)
	assert.Equal(t, ":8080", config.Server.Addr)
	assert.Empty(t, config.Validate())
}

func TestConfigValidation(t *testing.T) {
	valid := func() Config {
		c := Config{}
		applyDefaults(&c)
		return c
	}

	tests := []struct {
		name     string
		mutate   func(*Config)
		expected []string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name: "bad llm settings",
			mutate: func(c *Config) {
				c.LLM.BaseURL = ""
				c.LLM.MaxTokens = 5000
				c.LLM.Temperature = 3.0
			},
			expected: []string{
				"llm.base_url: Ollama base URL is required",
				"llm.max_tokens: max_tokens must be between 1 and 4096",
				"llm.temperature: temperature must be between 0 and 2",
			},
		},
		{
			name: "unknown backend",
			mutate: func(c *Config) {
				c.Store.Backend = "redis"
			},
			expected: []string{"store.backend: unknown backend: redis"},
		},
		{
			name: "pgvector without url",
			mutate: func(c *Config) {
				c.Store.Backend = "pgvector"
				c.Store.URL = ""
			},
			expected: []string{"store.url: pgvector backend requires a database URL"},
		},
		{
			name: "overlap at chunk size",
			mutate: func(c *Config) {
				c.Splitter.ChunkSize = 100
				c.Splitter.ChunkOverlap = 100
			},
			expected: []string{"splitter.chunk_overlap: chunk_overlap must be less than chunk_size"},
		},
		{
			name: "negative overlap disables overlap",
			mutate: func(c *Config) {
				c.Splitter.ChunkOverlap = -1
			},
			expected: nil,
		},
		{
			name: "bad retrieval bounds",
			mutate: func(c *Config) {
				c.Retrieval.TopK = 0
				c.Retrieval.Threshold = 1.5
			},
			expected: []string{
				"retrieval.top_k: top_k must be positive",
				"retrieval.threshold: threshold must be between -1 and 1",
			},
		},
		{
			name: "negative embedding dimension",
			mutate: func(c *Config) {
				c.Embedding.Dimension = -1
			},
			expected: []string{"embedding.dimension: dimension must be positive"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := valid()
			tt.mutate(&config)

			errors := config.Validate()
			assert.Len(t, errors, len(tt.expected))
			for i, msg := range tt.expected {
				assert.Equal(t, msg, errors[i].Error())
			}
		})
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("OLLAMA_BASE_URL", "http://env-ollama:11434")
	t.Setenv("DATABASE_URL", "postgres://env-db:5432/test")
	t.Setenv("LORE_ADDR", ":7070")

	config := &Config{}
	mergeWithEnv(config)

	assert.Equal(t, "http://env-ollama:11434", config.LLM.BaseURL)
	assert.Equal(t, "postgres://env-db:5432/test", config.Store.URL)
	assert.Equal(t, ":7070", config.Server.Addr)
}
