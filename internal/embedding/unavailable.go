package embedding

import (
	"context"

	"github.com/matsen/kbase/internal/config"
	"github.com/matsen/kbase/internal/remote"
)

// UnavailableProvider stands in for a remote provider that could not be
// configured, typically for lack of an API key. It reports the configured
// model so an existing index still opens, and fails every embedding call.
type UnavailableProvider struct {
	service string
	model   string
	dims    int
	err     error
}

// Unavailable returns a provider for cfg whose calls fail with err.
func Unavailable(cfg config.EmbeddingConfig, err error) *UnavailableProvider {
	p := &UnavailableProvider{service: cfg.Provider, model: cfg.Model, dims: cfg.Dimensions, err: err}
	if cfg.Provider == "openai" {
		p.model = orDefault(cfg.Model, DefaultOpenAIModel)
		if p.dims == 0 {
			p.dims = openAIModelDimensions[p.model]
		}
	}
	return p
}

// Embed fails with an ExternalCallError.
func (p *UnavailableProvider) Embed(ctx context.Context, text string) (Embedding, error) {
	return Embedding{}, p.fail()
}

// EmbedBatch fails with an ExternalCallError.
func (p *UnavailableProvider) EmbedBatch(ctx context.Context, texts []string) ([]Embedding, error) {
	return nil, p.fail()
}

func (p *UnavailableProvider) ModelName() string { return p.model }

func (p *UnavailableProvider) Dimensions() int { return p.dims }

func (p *UnavailableProvider) fail() error {
	return &remote.ExternalCallError{Service: p.service, Op: "embeddings", Err: p.err}
}
