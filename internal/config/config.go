// Package config handles kb configuration and on-disk layout.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration, usually stored in ~/.config/kb/config.yml.
type Config struct {
	DataDir    string `yaml:"data_dir" validate:"required"`
	ListenAddr string `yaml:"listen_addr" validate:"required"`

	Log        LogConfig        `yaml:"log"`
	Generative GenerativeConfig `yaml:"generative"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Chunker    ChunkerConfig    `yaml:"chunker"`
	Search     SearchConfig     `yaml:"search"`
	Concepts   ConceptsConfig   `yaml:"concepts"`
	Similarity SimilarityConfig `yaml:"similarity"`
}

// LogConfig selects the zap preset and level.
type LogConfig struct {
	Mode  string `yaml:"mode" validate:"omitempty,oneof=development production"`
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
}

// RemoteConfig holds the call policy shared by every external service.
type RemoteConfig struct {
	APIKey            string  `yaml:"api_key,omitempty"`
	BaseURL           string  `yaml:"base_url,omitempty" validate:"omitempty,url"`
	Model             string  `yaml:"model" validate:"required"`
	TimeoutSecs       int     `yaml:"timeout_secs" validate:"gt=0"`
	MaxRetries        int     `yaml:"max_retries" validate:"gte=0,lte=10"`
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=0"`
}

// GenerativeConfig configures the generative model used for answers and concepts.
type GenerativeConfig struct {
	Provider     string `yaml:"provider" validate:"oneof=anthropic"`
	RemoteConfig `yaml:",inline"`
}

// EmbeddingConfig configures the embedding model.
type EmbeddingConfig struct {
	Provider     string `yaml:"provider" validate:"oneof=openai ollama hashing"`
	Dimensions   int    `yaml:"dimensions" validate:"gte=0"`
	BatchSize    int    `yaml:"batch_size" validate:"gte=0"`
	RemoteConfig `yaml:",inline"`
}

// ChunkerConfig configures the text splitter.
type ChunkerConfig struct {
	ChunkSize    int `yaml:"chunk_size" validate:"gt=0"`
	ChunkOverlap int `yaml:"chunk_overlap" validate:"gte=0,ltfield=ChunkSize"`
}

// SearchConfig configures retrieval and answer synthesis.
type SearchConfig struct {
	TopK            int `yaml:"top_k" validate:"gt=0"`
	MaxContextChars int `yaml:"max_context_chars" validate:"gt=0"`
}

// ConceptsConfig configures concept extraction and graph concept caps.
type ConceptsConfig struct {
	PreviewChars       int `yaml:"preview_chars" validate:"gt=0"`
	PerDocumentInGraph int `yaml:"per_document_in_graph" validate:"gt=0"`
	Concurrency        int `yaml:"concurrency" validate:"gt=0"`
}

// SimilarityConfig configures document-to-document similarity.
type SimilarityConfig struct {
	Threshold        float64 `yaml:"threshold" validate:"gte=0,lte=1"`
	MaxDocumentChars int     `yaml:"max_document_chars" validate:"gte=0"`
	Concurrency      int     `yaml:"concurrency" validate:"gt=0"`
}

// Layout names under DataDir.
const (
	UploadsDir    = "uploads"
	IndexDir      = "index"
	CacheDir      = "cache"
	DocVectorFile = "docvectors.gob"
)

// Environment variables that override file values.
const (
	EnvAnthropicKey = "ANTHROPIC_API_KEY"
	EnvOpenAIKey    = "OPENAI_API_KEY"
	EnvDataDir      = "KB_DATA_DIR"
	EnvListenAddr   = "KB_LISTEN_ADDR"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir:    "./data",
		ListenAddr: ":8000",
		Log:        LogConfig{Mode: "development", Level: "info"},
		Generative: GenerativeConfig{
			Provider: "anthropic",
			RemoteConfig: RemoteConfig{
				BaseURL:           "https://api.anthropic.com",
				Model:             "claude-3-7-sonnet-20250219",
				TimeoutSecs:       120,
				MaxRetries:        2,
				RequestsPerSecond: 2,
			},
		},
		Embedding: EmbeddingConfig{
			Provider:  "openai",
			BatchSize: 64,
			RemoteConfig: RemoteConfig{
				BaseURL:           "https://api.openai.com/v1",
				Model:             "text-embedding-3-small",
				TimeoutSecs:       60,
				MaxRetries:        2,
				RequestsPerSecond: 5,
			},
		},
		Chunker:  ChunkerConfig{ChunkSize: 1000, ChunkOverlap: 100},
		Search:   SearchConfig{TopK: 5, MaxContextChars: 12000},
		Concepts: ConceptsConfig{PreviewChars: 1500, PerDocumentInGraph: 3, Concurrency: 4},
		Similarity: SimilarityConfig{
			Threshold:        0.5,
			MaxDocumentChars: 24000,
			Concurrency:      4,
		},
	}
}

// Load reads configuration from path. A missing file yields defaults.
// Environment overrides are applied and the result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
			// defaults
		default:
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.DataDir = ExpandPath(cfg.DataDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes configuration to path, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvAnthropicKey); v != "" {
		c.Generative.APIKey = v
	}
	if v := os.Getenv(EnvOpenAIKey); v != "" {
		c.Embedding.APIKey = v
	}
	if v := os.Getenv(EnvDataDir); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv(EnvListenAddr); v != "" {
		c.ListenAddr = v
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct constraints. API keys are checked lazily by the
// clients that need them so offline commands keep working.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Masked returns a copy with credentials replaced, safe for printing.
func (c *Config) Masked() *Config {
	out := *c
	out.Generative.APIKey = mask(c.Generative.APIKey)
	out.Embedding.APIKey = mask(c.Embedding.APIKey)
	return &out
}

func mask(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****"
}

// UploadsPath returns the directory holding original uploaded files.
func (c *Config) UploadsPath() string {
	return filepath.Join(c.DataDir, UploadsDir)
}

// IndexPath returns the embedding index persistence directory.
func (c *Config) IndexPath() string {
	return filepath.Join(c.DataDir, IndexDir)
}

// DocVectorCachePath returns the whole-document embedding cache file.
func (c *Config) DocVectorCachePath() string {
	return filepath.Join(c.DataDir, CacheDir, DocVectorFile)
}

// EnsureLayout creates the data directories.
func (c *Config) EnsureLayout() error {
	for _, dir := range []string{c.UploadsPath(), c.IndexPath(), filepath.Join(c.DataDir, CacheDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}
