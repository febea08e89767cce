package semantic

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/matsen/kbase/internal/loader"
	"github.com/matsen/kbase/internal/logging"
)

// Defaults for document similarity.
const (
	DefaultThreshold        = 0.5
	DefaultMaxDocumentChars = 24000
	DefaultConcurrency      = 4
)

// TextEmbedder embeds arbitrary text with a named model.
type TextEmbedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	ModelName() string
}

// Document identifies one stored file.
type Document struct {
	Name string
	Path string
}

// Relation links two documents whose whole-text embeddings are similar.
// Source precedes Target in the input order.
type Relation struct {
	Source   string
	Target   string
	Strength float64
}

// Skipped records a document left out of the comparison.
type Skipped struct {
	Document string
	Err      error
}

// Result is the outcome of Relations.
type Result struct {
	Relations []Relation
	Skipped   []Skipped
}

// TextFunc returns the full text of the document at path.
type TextFunc func(path string) (string, error)

// Engine computes document-to-document similarity relations.
type Engine struct {
	embedder    TextEmbedder
	cache       *VectorCache
	text        TextFunc
	threshold   float64
	maxChars    int
	concurrency int
	logger      *logging.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithThreshold sets the strict lower bound a pair must exceed.
func WithThreshold(t float64) Option {
	return func(e *Engine) {
		e.threshold = t
	}
}

// WithMaxDocumentChars caps how many runes of each document are embedded.
// Zero embeds the whole text.
func WithMaxDocumentChars(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.maxChars = n
		}
	}
}

// WithConcurrency bounds parallel embedding calls.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithCache sets the whole-document vector cache.
func WithCache(c *VectorCache) Option {
	return func(e *Engine) {
		e.cache = c
	}
}

// WithTextFunc replaces the document loader.
func WithTextFunc(fn TextFunc) Option {
	return func(e *Engine) {
		if fn != nil {
			e.text = fn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates an engine embedding through embedder.
func NewEngine(embedder TextEmbedder, opts ...Option) *Engine {
	e := &Engine{
		embedder:    embedder,
		text:        loadText,
		threshold:   DefaultThreshold,
		maxChars:    DefaultMaxDocumentChars,
		concurrency: DefaultConcurrency,
		logger:      logging.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func loadText(path string) (string, error) {
	segs, err := loader.Load(path)
	if err != nil {
		return "", err
	}
	return loader.Text(segs), nil
}

// Relations compares every unordered pair of docs and returns those whose
// similarity is strictly above the threshold. Documents that cannot be
// loaded are skipped; an embedding failure fails the whole call.
func (e *Engine) Relations(ctx context.Context, docs []Document) (*Result, error) {
	vectors := make([][]float32, len(docs))
	loadErrs := make([]error, len(docs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, doc := range docs {
		i, doc := i, doc
		g.Go(func() error {
			text, err := e.text(doc.Path)
			if err != nil {
				loadErrs[i] = err
				return nil
			}
			vec, err := e.embed(gctx, truncateRunes(text, e.maxChars))
			if err != nil {
				return fmt.Errorf("embedding %s: %w", doc.Name, err)
			}
			vectors[i] = vec
			return nil
		})
	}
	waitErr := g.Wait()

	if err := e.cache.Save(); err != nil {
		e.logger.Warn("saving document vector cache failed", "error", err)
	}
	if waitErr != nil {
		return nil, waitErr
	}

	res := &Result{Relations: []Relation{}}
	for i, err := range loadErrs {
		if err != nil {
			e.logger.Warn("skipping document in similarity", "document", docs[i].Name, "error", err)
			res.Skipped = append(res.Skipped, Skipped{Document: docs[i].Name, Err: err})
		}
	}

	for i := 0; i < len(docs); i++ {
		if vectors[i] == nil {
			continue
		}
		for j := i + 1; j < len(docs); j++ {
			if vectors[j] == nil {
				continue
			}
			sim := CosineSimilarity(vectors[i], vectors[j])
			if sim > e.threshold {
				res.Relations = append(res.Relations, Relation{
					Source:   docs[i].Name,
					Target:   docs[j].Name,
					Strength: min(sim, 1),
				})
			}
		}
	}
	return res, nil
}

func (e *Engine) embed(ctx context.Context, text string) ([]float32, error) {
	key := CacheKey(e.embedder.ModelName(), text)
	if vec, ok := e.cache.Get(key); ok {
		return vec, nil
	}
	vec, err := e.embedder.EmbedText(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Put(key, vec)
	return vec, nil
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
