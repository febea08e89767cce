package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/matsen/kbase/internal/remote"
)

const (
	// DefaultOpenAIURL is the OpenAI-compatible API base.
	DefaultOpenAIURL = "https://api.openai.com/v1"

	// DefaultOpenAIModel is the default OpenAI embedding model.
	DefaultOpenAIModel = "text-embedding-3-small"

	// DefaultBatchSize bounds the inputs sent in one request.
	DefaultBatchSize = 64
)

// Known output sizes of OpenAI embedding models.
var openAIModelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// OpenAIProvider generates embeddings with an OpenAI-compatible /embeddings API.
type OpenAIProvider struct {
	baseURL    string
	apiKey     string
	model      string
	dimensions int
	batchSize  int
	client     *remote.Client
}

// OpenAIOption configures an OpenAIProvider.
type OpenAIOption func(*OpenAIProvider)

// WithOpenAIURL sets the API base URL.
func WithOpenAIURL(url string) OpenAIOption {
	return func(p *OpenAIProvider) {
		p.baseURL = strings.TrimRight(url, "/")
	}
}

// WithOpenAIModel sets the embedding model.
func WithOpenAIModel(model string) OpenAIOption {
	return func(p *OpenAIProvider) {
		p.model = model
	}
}

// WithOpenAIDimensions requests a specific output size (text-embedding-3-*).
func WithOpenAIDimensions(dims int) OpenAIOption {
	return func(p *OpenAIProvider) {
		p.dimensions = dims
	}
}

// WithBatchSize bounds the number of inputs per request.
func WithBatchSize(n int) OpenAIOption {
	return func(p *OpenAIProvider) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithOpenAIClient sets the remote client used for calls.
func WithOpenAIClient(c *remote.Client) OpenAIOption {
	return func(p *OpenAIProvider) {
		p.client = c
	}
}

// NewOpenAIProvider creates an OpenAI embedding provider.
func NewOpenAIProvider(apiKey string, opts ...OpenAIOption) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai embeddings: %w", remote.ErrMissingAPIKey)
	}
	p := &OpenAIProvider{
		baseURL:   DefaultOpenAIURL,
		apiKey:    apiKey,
		model:     DefaultOpenAIModel,
		batchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.client == nil {
		p.client = remote.New("openai")
	}
	return p, nil
}

// Embed generates an embedding for the given text.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) (Embedding, error) {
	embs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return Embedding{}, err
	}
	return embs[0], nil
}

// EmbedBatch embeds texts in batches of at most batchSize.
func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([]Embedding, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}

	out := make([]Embedding, 0, len(texts))
	for start := 0; start < len(texts); start += p.batchSize {
		end := min(start+p.batchSize, len(texts))
		batch, err := p.embedOnce(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}

	if err := checkDimensions(out, p.Dimensions()); err != nil {
		return nil, &remote.ExternalCallError{Service: p.client.Service(), Op: "embeddings", Err: err}
	}
	return out, nil
}

func (p *OpenAIProvider) embedOnce(ctx context.Context, texts []string) ([]Embedding, error) {
	req := openAIEmbedRequest{Model: p.model, Input: texts}
	if strings.HasPrefix(p.model, "text-embedding-3") && p.dimensions > 0 {
		req.Dimensions = p.dimensions
	}

	var resp openAIEmbedResponse
	headers := map[string]string{"Authorization": "Bearer " + p.apiKey}
	if err := p.client.PostJSON(ctx, "embeddings", p.baseURL+"/embeddings", headers, req, &resp); err != nil {
		return nil, err
	}

	if len(resp.Data) != len(texts) {
		return nil, &remote.ExternalCallError{
			Service: p.client.Service(),
			Op:      "embeddings",
			Err:     fmt.Errorf("got %d embeddings for %d inputs", len(resp.Data), len(texts)),
		}
	}

	// The API may return items out of order; place them by index.
	out := make([]Embedding, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, &remote.ExternalCallError{
				Service: p.client.Service(),
				Op:      "embeddings",
				Err:     fmt.Errorf("embedding index %d out of range", d.Index),
			}
		}
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		out[d.Index] = Embedding{Vector: vec}
	}
	return out, nil
}

// ModelName returns the name of the embedding model.
func (p *OpenAIProvider) ModelName() string {
	return p.model
}

// Dimensions returns the configured output size, the known size of the
// model, or 0 when neither is known.
func (p *OpenAIProvider) Dimensions() int {
	if p.dimensions > 0 {
		return p.dimensions
	}
	return openAIModelDimensions[p.model]
}

type openAIEmbedRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}
