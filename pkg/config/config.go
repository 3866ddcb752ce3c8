package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Store     StoreConfig     `yaml:"store"`
	Splitter  SplitterConfig  `yaml:"splitter"`
	Loader    LoaderConfig    `yaml:"loader"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Server    ServerConfig    `yaml:"server"`
	UI        UIConfig        `yaml:"ui"`
}

type LLMConfig struct {
	BaseURL        string   `yaml:"base_url"`
	Model          string   `yaml:"model"`
	VisionModel    string   `yaml:"vision_model"`
	MaxTokens      int      `yaml:"max_tokens"`
	Temperature    float64  `yaml:"temperature"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	BannedPhrases  []string `yaml:"banned_phrases"`
}

type EmbeddingConfig struct {
	Model          string  `yaml:"model"`
	Dimension      int     `yaml:"dimension"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	// Requests per second against the embedding endpoint. Zero disables
	// client-side limiting.
	RateLimit float64 `yaml:"rate_limit"`
}

type StoreConfig struct {
	Backend   string `yaml:"backend"` // memory, pgvector or chromem
	URL       string `yaml:"url"`
	TableName string `yaml:"table_name"`
	Path      string `yaml:"path"`
	BatchSize int    `yaml:"batch_size"`
}

type SplitterConfig struct {
	ChunkSize int `yaml:"chunk_size"`
	// ChunkOverlap zero means the default; negative disables overlap.
	ChunkOverlap int `yaml:"chunk_overlap"`
}

type LoaderConfig struct {
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	UserAgent      string `yaml:"user_agent"`
	PDFTrimTop     int    `yaml:"pdf_trim_top"`
	PDFTrimBottom  int    `yaml:"pdf_trim_bottom"`
}

type RetrievalConfig struct {
	TopK         int     `yaml:"top_k"`
	Threshold    float64 `yaml:"threshold"`
	MemoryWindow int     `yaml:"memory_window"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type UIConfig struct {
	Streaming bool   `yaml:"streaming"`
	Theme     string `yaml:"theme"`
}

func (l LLMConfig) Timeout() time.Duration {
	return time.Duration(l.TimeoutSeconds) * time.Second
}

func (e EmbeddingConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}

func (l LoaderConfig) Timeout() time.Duration {
	return time.Duration(l.TimeoutSeconds) * time.Second
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/lore/config.yaml"),
			"/etc/lore/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	// Merge with environment variables
	mergeWithEnv(&config)

	// Apply defaults for unset values
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.LLM.BaseURL == "" {
		config.LLM.BaseURL = "http://localhost:11434"
	}
	if config.LLM.Model == "" {
		config.LLM.Model = "mistral"
	}
	if config.LLM.VisionModel == "" {
		config.LLM.VisionModel = "moondream"
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 2000
	}
	if config.LLM.Temperature == 0 {
		config.LLM.Temperature = 0.7
	}
	if config.LLM.TimeoutSeconds == 0 {
		config.LLM.TimeoutSeconds = 120
	}

	if config.Embedding.Model == "" {
		config.Embedding.Model = "nomic-embed-text"
	}
	if config.Embedding.Dimension == 0 {
		config.Embedding.Dimension = 768
	}
	if config.Embedding.TimeoutSeconds == 0 {
		config.Embedding.TimeoutSeconds = 30
	}

	if config.Store.Backend == "" {
		config.Store.Backend = "memory"
	}
	if config.Store.TableName == "" {
		config.Store.TableName = "documents"
	}
	if config.Store.Path == "" {
		config.Store.Path = "lore.db"
	}
	if config.Store.BatchSize == 0 {
		config.Store.BatchSize = 100
	}

	if config.Splitter.ChunkSize == 0 {
		config.Splitter.ChunkSize = 250
	}
	if config.Splitter.ChunkOverlap == 0 {
		config.Splitter.ChunkOverlap = 25
	}

	if config.Loader.TimeoutSeconds == 0 {
		config.Loader.TimeoutSeconds = 30
	}
	if config.Loader.UserAgent == "" {
		config.Loader.UserAgent = "lore/1.0"
	}

	if config.Retrieval.TopK == 0 {
		config.Retrieval.TopK = 4
	}
	if config.Retrieval.MemoryWindow == 0 {
		config.Retrieval.MemoryWindow = 10
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}

	if config.UI.Theme == "" {
		config.UI.Theme = "default"
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Store.URL = dbURL
	}
	if addr := os.Getenv("LORE_ADDR"); addr != "" {
		config.Server.Addr = addr
	}
}
