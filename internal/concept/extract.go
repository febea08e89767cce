package concept

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/matsen/kbase/internal/genai"
	"github.com/matsen/kbase/internal/loader"
	"github.com/matsen/kbase/internal/logging"
)

// Extraction defaults.
const (
	DefaultPreviewChars = 1500
	DefaultMaxTokens    = 500
)

const promptTemplate = `Analyze the following text excerpt and extract 5-10 key concepts or terms, each with a short explanation.
Respond with a single JSON object that maps each concept name to its explanation, and nothing else.

Text excerpt:
%s`

// Extractor asks a generative model for the key concepts of a document.
type Extractor struct {
	gen          genai.Generator
	previewChars int
	maxTokens    int
	logger       *logging.Logger
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithPreviewChars sets how many leading runes of the document are sent.
func WithPreviewChars(n int) ExtractorOption {
	return func(x *Extractor) {
		if n > 0 {
			x.previewChars = n
		}
	}
}

// WithMaxTokens sets the completion budget.
func WithMaxTokens(n int) ExtractorOption {
	return func(x *Extractor) {
		if n > 0 {
			x.maxTokens = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) ExtractorOption {
	return func(x *Extractor) {
		if l != nil {
			x.logger = l
		}
	}
}

// NewExtractor creates an extractor backed by gen.
func NewExtractor(gen genai.Generator, opts ...ExtractorOption) *Extractor {
	x := &Extractor{
		gen:          gen,
		previewChars: DefaultPreviewChars,
		maxTokens:    DefaultMaxTokens,
		logger:       logging.Nop(),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Extract loads the document at path and returns the model's raw answer
// for its leading text. The answer is not parsed.
func (x *Extractor) Extract(ctx context.Context, path string) (string, error) {
	segs, err := loader.Load(path)
	if err != nil {
		return "", err
	}
	preview := previewText(segs, x.previewChars)

	raw, err := x.gen.Generate(ctx, fmt.Sprintf(promptTemplate, preview), x.maxTokens)
	if err != nil {
		return "", fmt.Errorf("extracting concepts from %s: %w", filepath.Base(path), err)
	}
	x.logger.Debug("concepts extracted", "file", filepath.Base(path), "preview_runes", len([]rune(preview)))
	return raw, nil
}

// Concepts extracts and parses the concepts of the document at path.
// Unparseable output yields the sentinel mapping, not an error.
func (x *Extractor) Concepts(ctx context.Context, path string) (Mapping, error) {
	raw, err := x.Extract(ctx, path)
	if err != nil {
		return nil, err
	}
	return Parse(raw), nil
}

// previewText concatenates segment texts without a separator and keeps the
// first n runes.
func previewText(segs []loader.Segment, n int) string {
	var sb strings.Builder
	for _, s := range segs {
		sb.WriteString(s.Text)
	}
	return leadingRunes(sb.String(), n)
}

func leadingRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
