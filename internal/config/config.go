package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"docqa/internal/domain"
	"docqa/internal/logging"
	"docqa/internal/tokens"
)

const (
	defaultMaxRetries  = 2
	defaultTemperature = 0.7
)

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL           string  `yaml:"base_url"`
	APIKeyEnv         string  `yaml:"api_key_env"`
	Model             string  `yaml:"model"`
	RequestDimension  bool    `yaml:"request_dimension"`
	TimeoutSecs       int     `yaml:"timeout_secs"`
	BatchSize         int     `yaml:"batch_size"`
	Concurrency       int     `yaml:"concurrency"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	MaxRetries        *int    `yaml:"max_retries,omitempty"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type      string                `yaml:"type"`
	Dimension int                   `yaml:"dimension"`
	OpenAI    *OpenAIEmbedderConfig `yaml:"openai,omitempty"`
}

// ChunkerConfig configures how documents are split into chunks.
type ChunkerConfig struct {
	MaxWords     int `yaml:"max_words"`
	OverlapWords int `yaml:"overlap_words"`
}

// IndexConfig selects and configures the vector index implementation.
type IndexConfig struct {
	Type   string        `yaml:"type"`
	Qdrant *QdrantConfig `yaml:"qdrant,omitempty"`
}

// QdrantConfig contains connection details for a Qdrant vector store. Each
// session creates its own collection named CollectionPrefix plus the session id.
type QdrantConfig struct {
	URL              string `yaml:"url"`
	APIKeyEnv        string `yaml:"api_key_env"`
	CollectionPrefix string `yaml:"collection_prefix"`
	TimeoutSecs      int    `yaml:"timeout_secs"`
	KeepCollection   bool   `yaml:"keep_collection"`
}

type OpenAILLMConfig struct {
	BaseURL    string `yaml:"base_url"`
	APIKeyEnv  string `yaml:"api_key_env"`
	Model      string `yaml:"model"`
	MaxRetries *int   `yaml:"max_retries,omitempty"`
}

// LLMConfig selects the language model used for answers and summaries.
type LLMConfig struct {
	Type      string           `yaml:"type"`
	OpenAI    *OpenAILLMConfig `yaml:"openai,omitempty"`
	MaxTokens int              `yaml:"max_tokens"`
	// Temperature is a pointer so an explicit 0 survives defaulting.
	Temperature *float64 `yaml:"temperature,omitempty"`
	TimeoutSecs int      `yaml:"timeout_secs"`
	// ExtractiveSentences is how many sentences the offline model cites.
	ExtractiveSentences int `yaml:"extractive_sentences"`
}

type RetrievalConfig struct {
	TopK     int     `yaml:"top_k"`
	MinScore float64 `yaml:"min_score"`
}

type SynthesisConfig struct {
	ContextTokens int `yaml:"context_tokens"`
	// TokenEncoding is a tiktoken encoding name, or "estimate" to count
	// tokens from words.
	TokenEncoding string `yaml:"token_encoding"`
}

type SessionConfig struct {
	MaxHistory int `yaml:"max_history"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Log       logging.Config  `yaml:"log"`
	Chunker   ChunkerConfig   `yaml:"chunker"`
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Index     IndexConfig     `yaml:"index"`
	LLM       LLMConfig       `yaml:"llm"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Synthesis SynthesisConfig `yaml:"synthesis"`
	Session   SessionConfig   `yaml:"session"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := defaultConfig()
			return cfg, nil
		}
		return nil, err
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyConfigDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/docqa/config.yaml.
// If neither exists, it writes defaults to ~/.config/docqa/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate rejects settings no component would accept.
func (c *AppConfig) Validate() error {
	switch {
	case c.Chunker.MaxWords <= 0:
		return domain.InvalidInputf("chunker.max_words must be positive, got %d", c.Chunker.MaxWords)
	case c.Chunker.OverlapWords < 0 || c.Chunker.OverlapWords >= c.Chunker.MaxWords:
		return domain.InvalidInputf("chunker.overlap_words must be within [0, %d), got %d", c.Chunker.MaxWords, c.Chunker.OverlapWords)
	case c.Embedder.Type != "hashing" && c.Embedder.Type != "openai":
		return domain.InvalidInputf("unknown embedder type %q", c.Embedder.Type)
	case c.Embedder.Dimension < 0:
		return domain.InvalidInputf("embedder.dimension must not be negative")
	case c.Index.Type != "memory" && c.Index.Type != "qdrant":
		return domain.InvalidInputf("unknown index type %q", c.Index.Type)
	case c.Index.Type == "qdrant" && (c.Index.Qdrant == nil || c.Index.Qdrant.URL == ""):
		return domain.InvalidInputf("index.qdrant.url is required for the qdrant index")
	case c.LLM.Type != "extractive" && c.LLM.Type != "openai":
		return domain.InvalidInputf("unknown llm type %q", c.LLM.Type)
	case c.LLM.Temperature != nil && (*c.LLM.Temperature < 0 || *c.LLM.Temperature > 2):
		return domain.InvalidInputf("llm.temperature must be within [0, 2], got %g", *c.LLM.Temperature)
	case c.Retrieval.TopK < 0:
		return domain.InvalidInputf("retrieval.top_k must not be negative")
	case c.Retrieval.MinScore < -1 || c.Retrieval.MinScore > 1:
		return domain.InvalidInputf("retrieval.min_score must be within [-1, 1], got %g", c.Retrieval.MinScore)
	case c.Session.MaxHistory < 0:
		return domain.InvalidInputf("session.max_history must not be negative")
	}
	return nil
}

// LLMTimeout is the per-call model timeout.
func (c *AppConfig) LLMTimeout() time.Duration {
	return time.Duration(c.LLM.TimeoutSecs) * time.Second
}

// Secret reads the environment variable named by env. An empty name yields "".
func Secret(env string) string {
	if env == "" {
		return ""
	}
	return os.Getenv(env)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "docqa", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		Log:       logging.Config{Level: "info", Format: "json"},
		Chunker:   ChunkerConfig{MaxWords: 500, OverlapWords: 100},
		Embedder:  EmbedderConfig{Type: "hashing"},
		Index:     IndexConfig{Type: "memory"},
		LLM:       LLMConfig{Type: "extractive"},
		Retrieval: RetrievalConfig{TopK: 5, MinScore: 0.3},
		Synthesis: SynthesisConfig{ContextTokens: 3000},
		Session:   SessionConfig{MaxHistory: 100},
	}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Chunker.MaxWords == 0 {
		cfg.Chunker.MaxWords = 500
		if cfg.Chunker.OverlapWords == 0 {
			cfg.Chunker.OverlapWords = 100
		}
	}
	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "hashing"
	}
	if cfg.Embedder.Type == "openai" {
		if cfg.Embedder.OpenAI == nil {
			cfg.Embedder.OpenAI = &OpenAIEmbedderConfig{}
		}
		o := cfg.Embedder.OpenAI
		if o.BaseURL == "" {
			o.BaseURL = "https://api.openai.com/v1"
		}
		if o.APIKeyEnv == "" {
			o.APIKeyEnv = "OPENAI_API_KEY"
		}
		if o.Model == "" {
			o.Model = "text-embedding-3-small"
		}
		if o.TimeoutSecs == 0 {
			o.TimeoutSecs = 30
		}
		if o.BatchSize == 0 {
			o.BatchSize = 100
		}
		if o.Concurrency == 0 {
			o.Concurrency = 4
		}
		if o.MaxRetries == nil {
			o.MaxRetries = intPtr(defaultMaxRetries)
		}
	}
	if cfg.Index.Type == "" {
		cfg.Index.Type = "memory"
	}
	if cfg.Index.Type == "qdrant" && cfg.Index.Qdrant != nil {
		q := cfg.Index.Qdrant
		if q.CollectionPrefix == "" {
			q.CollectionPrefix = "docqa-"
		}
		if q.APIKeyEnv == "" {
			q.APIKeyEnv = "QDRANT_API_KEY"
		}
		if q.TimeoutSecs == 0 {
			q.TimeoutSecs = 10
		}
	}
	if cfg.LLM.Type == "" {
		cfg.LLM.Type = "extractive"
	}
	if cfg.LLM.Type == "openai" {
		if cfg.LLM.OpenAI == nil {
			cfg.LLM.OpenAI = &OpenAILLMConfig{}
		}
		if cfg.LLM.OpenAI.BaseURL == "" {
			cfg.LLM.OpenAI.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.LLM.OpenAI.APIKeyEnv == "" {
			cfg.LLM.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
		}
		if cfg.LLM.OpenAI.Model == "" {
			cfg.LLM.OpenAI.Model = "gpt-4o-mini"
		}
		if cfg.LLM.OpenAI.MaxRetries == nil {
			cfg.LLM.OpenAI.MaxRetries = intPtr(defaultMaxRetries)
		}
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 500
	}
	if cfg.LLM.Temperature == nil {
		t := defaultTemperature
		cfg.LLM.Temperature = &t
	}
	if cfg.LLM.TimeoutSecs == 0 {
		cfg.LLM.TimeoutSecs = 60
	}
	if cfg.LLM.ExtractiveSentences == 0 {
		cfg.LLM.ExtractiveSentences = 2
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 5
	}
	if cfg.Synthesis.ContextTokens == 0 {
		cfg.Synthesis.ContextTokens = 3000
	}
	if cfg.Synthesis.TokenEncoding == "" {
		cfg.Synthesis.TokenEncoding = tokens.DefaultEncoding
	}
}

func intPtr(n int) *int { return &n }
