package embedding

import (
	"context"
	"strings"

	"github.com/matsen/kbase/internal/remote"
)

const (
	// DefaultOllamaURL is the default Ollama API endpoint.
	DefaultOllamaURL = "http://localhost:11434"

	// DefaultOllamaModel is the default Ollama embedding model.
	DefaultOllamaModel = "all-minilm:l6-v2"

	// DefaultOllamaDimensions is the expected output dimensions for all-minilm.
	DefaultOllamaDimensions = 384

	// apiPathEmbeddings is the Ollama API endpoint for generating embeddings.
	apiPathEmbeddings = "/api/embeddings"
)

// OllamaProvider generates embeddings using a local Ollama server.
type OllamaProvider struct {
	baseURL    string
	model      string
	dimensions int
	client     *remote.Client
}

// OllamaOption configures an OllamaProvider.
type OllamaOption func(*OllamaProvider)

// WithOllamaURL sets the Ollama API base URL.
func WithOllamaURL(url string) OllamaOption {
	return func(p *OllamaProvider) {
		p.baseURL = strings.TrimRight(url, "/")
	}
}

// WithOllamaModel sets the embedding model.
func WithOllamaModel(model string) OllamaOption {
	return func(p *OllamaProvider) {
		p.model = model
	}
}

// WithOllamaDimensions sets the expected vector dimensions.
func WithOllamaDimensions(dims int) OllamaOption {
	return func(p *OllamaProvider) {
		p.dimensions = dims
	}
}

// WithOllamaClient sets the remote client used for calls.
func WithOllamaClient(c *remote.Client) OllamaOption {
	return func(p *OllamaProvider) {
		p.client = c
	}
}

// NewOllamaProvider creates a new Ollama embedding provider.
func NewOllamaProvider(opts ...OllamaOption) *OllamaProvider {
	p := &OllamaProvider{
		baseURL:    DefaultOllamaURL,
		model:      DefaultOllamaModel,
		dimensions: DefaultOllamaDimensions,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.client == nil {
		p.client = remote.New("ollama")
	}
	return p
}

// Embed generates an embedding for the given text.
func (p *OllamaProvider) Embed(ctx context.Context, text string) (Embedding, error) {
	var result ollamaEmbedResponse
	req := ollamaEmbedRequest{Model: p.model, Prompt: text}
	if err := p.client.PostJSON(ctx, "embeddings", p.baseURL+apiPathEmbeddings, nil, req, &result); err != nil {
		return Embedding{}, err
	}

	emb := Embedding{Vector: result.Embedding}
	if err := checkDimensions([]Embedding{emb}, p.dimensions); err != nil {
		return Embedding{}, &remote.ExternalCallError{Service: p.client.Service(), Op: "embeddings", Err: err}
	}
	return emb, nil
}

// EmbedBatch embeds texts one request at a time; the Ollama endpoint takes a
// single prompt.
func (p *OllamaProvider) EmbedBatch(ctx context.Context, texts []string) ([]Embedding, error) {
	out := make([]Embedding, 0, len(texts))
	for _, text := range texts {
		emb, err := p.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out = append(out, emb)
	}
	return out, nil
}

// ModelName returns the name of the embedding model.
func (p *OllamaProvider) ModelName() string {
	return p.model
}

// Dimensions returns the expected vector dimensions.
func (p *OllamaProvider) Dimensions() int {
	return p.dimensions
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}
