package embedding

import (
	"fmt"
	"time"

	"github.com/matsen/kbase/internal/config"
	"github.com/matsen/kbase/internal/logging"
	"github.com/matsen/kbase/internal/metrics"
	"github.com/matsen/kbase/internal/remote"
)

// New builds the provider selected by cfg.Provider.
func New(cfg config.EmbeddingConfig, logger *logging.Logger, m *metrics.Metrics) (Provider, error) {
	switch cfg.Provider {
	case "openai":
		p, err := NewOpenAIProvider(cfg.APIKey,
			WithOpenAIURL(orDefault(cfg.BaseURL, DefaultOpenAIURL)),
			WithOpenAIModel(orDefault(cfg.Model, DefaultOpenAIModel)),
			WithOpenAIDimensions(cfg.Dimensions),
			WithBatchSize(cfg.BatchSize),
			WithOpenAIClient(remoteClient("openai", cfg.RemoteConfig, logger, m)),
		)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "ollama":
		opts := []OllamaOption{
			WithOllamaURL(orDefault(cfg.BaseURL, DefaultOllamaURL)),
			WithOllamaModel(orDefault(cfg.Model, DefaultOllamaModel)),
			WithOllamaClient(remoteClient("ollama", cfg.RemoteConfig, logger, m)),
		}
		if cfg.Dimensions > 0 {
			opts = append(opts, WithOllamaDimensions(cfg.Dimensions))
		}
		return NewOllamaProvider(opts...), nil
	case "hashing":
		return NewHashingProvider(cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

func remoteClient(service string, rc config.RemoteConfig, logger *logging.Logger, m *metrics.Metrics) *remote.Client {
	return remote.New(service,
		remote.WithPolicy(remote.Policy{
			Timeout:           time.Duration(rc.TimeoutSecs) * time.Second,
			MaxRetries:        rc.MaxRetries,
			RequestsPerSecond: rc.RequestsPerSecond,
		}),
		remote.WithLogger(logger),
		remote.WithMetrics(m),
	)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
