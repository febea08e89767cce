package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v", err)
	}
	if cfg.Chunker.ChunkSize != 1000 || cfg.Chunker.ChunkOverlap != 100 {
		t.Errorf("chunker defaults = %+v, want 1000/100", cfg.Chunker)
	}
	if cfg.Search.TopK != 5 {
		t.Errorf("TopK = %d, want 5", cfg.Search.TopK)
	}
	if cfg.Concepts.PreviewChars != 1500 || cfg.Concepts.PerDocumentInGraph != 3 {
		t.Errorf("concept defaults = %+v", cfg.Concepts)
	}
	if cfg.Similarity.Threshold != 0.5 {
		t.Errorf("Threshold = %v, want 0.5", cfg.Similarity.Threshold)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv(EnvAnthropicKey, "")
	t.Setenv(EnvOpenAIKey, "")
	t.Setenv(EnvDataDir, "")
	t.Setenv(EnvListenAddr, "")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ListenAddr != ":8000" {
		t.Errorf("ListenAddr = %q, want :8000", cfg.ListenAddr)
	}
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	content := `data_dir: /srv/kb
chunker:
  chunk_size: 500
  chunk_overlap: 50
embedding:
  provider: hashing
  model: local
  dimensions: 64
  timeout_secs: 5
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv(EnvAnthropicKey, "anthropic-key")
	t.Setenv(EnvOpenAIKey, "")
	t.Setenv(EnvDataDir, "")
	t.Setenv(EnvListenAddr, "127.0.0.1:9000")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DataDir != "/srv/kb" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.Chunker.ChunkSize != 500 || cfg.Chunker.ChunkOverlap != 50 {
		t.Errorf("Chunker = %+v", cfg.Chunker)
	}
	if cfg.Embedding.Provider != "hashing" || cfg.Embedding.Dimensions != 64 {
		t.Errorf("Embedding = %+v", cfg.Embedding)
	}
	// Fields not in the file keep their defaults.
	if cfg.Embedding.MaxRetries != 2 {
		t.Errorf("MaxRetries = %d, want default 2", cfg.Embedding.MaxRetries)
	}
	if cfg.Generative.APIKey != "anthropic-key" {
		t.Errorf("Generative.APIKey not taken from env")
	}
	if cfg.ListenAddr != "127.0.0.1:9000" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte("chunker: [1, 2"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"overlap not below size", func(c *Config) { c.Chunker.ChunkOverlap = 1000 }, true},
		{"zero chunk size", func(c *Config) { c.Chunker.ChunkSize = 0 }, true},
		{"unknown embedding provider", func(c *Config) { c.Embedding.Provider = "word2vec" }, true},
		{"threshold above one", func(c *Config) { c.Similarity.Threshold = 1.5 }, true},
		{"bad log mode", func(c *Config) { c.Log.Mode = "verbose" }, true},
		{"empty data dir", func(c *Config) { c.DataDir = "" }, true},
		{"bad base url", func(c *Config) { c.Generative.BaseURL = "not a url" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("error should wrap ErrInvalidConfig: %v", err)
			}
		})
	}
}

func TestMasked(t *testing.T) {
	cfg := Default()
	cfg.Generative.APIKey = "sk-ant-1234567890"
	cfg.Embedding.APIKey = "short"

	m := cfg.Masked()
	if strings.Contains(m.Generative.APIKey, "567890") {
		t.Errorf("Generative key not masked: %q", m.Generative.APIKey)
	}
	if m.Embedding.APIKey != "****" {
		t.Errorf("Embedding key = %q, want ****", m.Embedding.APIKey)
	}
	if cfg.Generative.APIKey != "sk-ant-1234567890" {
		t.Error("Masked must not modify the original")
	}
}

func TestPathFunctions(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/test/data"

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"UploadsPath", cfg.UploadsPath(), "/test/data/uploads"},
		{"IndexPath", cfg.IndexPath(), "/test/data/index"},
		{"DocVectorCachePath", cfg.DocVectorCachePath(), "/test/data/cache/docvectors.gob"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestEnsureLayout(t *testing.T) {
	cfg := Default()
	cfg.DataDir = t.TempDir()
	if err := cfg.EnsureLayout(); err != nil {
		t.Fatalf("EnsureLayout() error = %v", err)
	}
	for _, dir := range []string{cfg.UploadsPath(), cfg.IndexPath()} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("%s not created", dir)
		}
	}
}

func TestGlobalConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	want := "/custom/config/kb/config.yml"
	if got := GlobalConfigPath(); got != want {
		t.Errorf("GlobalConfigPath() = %q, want %q", got, want)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("Cannot get home directory")
	}

	tests := []struct {
		input string
		want  string
	}{
		{"~/data", filepath.Join(home, "data")},
		{"/absolute/path", "/absolute/path"},
		{"relative", "relative"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ExpandPath(tt.input); got != tt.want {
				t.Errorf("ExpandPath(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
