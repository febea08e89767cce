// Package answer composes grounded answers from retrieved chunks.
package answer

import (
	"context"
	"fmt"
	"strings"

	"github.com/matsen/kbase/internal/chunker"
	"github.com/matsen/kbase/internal/genai"
	"github.com/matsen/kbase/internal/logging"
)

// Defaults for answer synthesis.
const (
	DefaultMaxContextChars = 12000
	DefaultMaxTokens       = 1000
)

// NotFound is returned without a model call when nothing was retrieved.
const NotFound = "No relevant information found in your knowledge base."

// UnknownDocument titles sources whose chunk lacks a file name.
const UnknownDocument = "unknown document"

const promptTemplate = `I am using my personal knowledge base. Answer my question using only the reference content below.
If the answer cannot be found in the reference content, say plainly that you don't know. Do not make up information.

My question: %s

Reference content:
%s`

// Source attributes an answer to one retrieved chunk.
type Source struct {
	Title string `json:"title"`
	Path  string `json:"path"`
}

// Answer is a synthesized response with its evidence in rank order.
type Answer struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
}

// Synthesizer answers questions from retrieved chunks with one model call.
type Synthesizer struct {
	gen             genai.Generator
	maxContextChars int
	maxTokens       int
	logger          *logging.Logger
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithMaxContextChars bounds the context sent to the model, in runes.
func WithMaxContextChars(n int) Option {
	return func(s *Synthesizer) {
		if n > 0 {
			s.maxContextChars = n
		}
	}
}

// WithMaxTokens sets the completion budget.
func WithMaxTokens(n int) Option {
	return func(s *Synthesizer) {
		if n > 0 {
			s.maxTokens = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Synthesizer) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSynthesizer creates a synthesizer backed by gen.
func NewSynthesizer(gen genai.Generator, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		gen:             gen,
		maxContextChars: DefaultMaxContextChars,
		maxTokens:       DefaultMaxTokens,
		logger:          logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Answer responds to query from chunks, which must be in rank order.
// Sources cover the chunks that fit in the context.
func (s *Synthesizer) Answer(ctx context.Context, query string, chunks []chunker.Chunk) (*Answer, error) {
	if len(chunks) == 0 {
		return &Answer{Answer: NotFound, Sources: []Source{}}, nil
	}

	refs, used := buildContext(chunks, s.maxContextChars)
	text, err := s.gen.Generate(ctx, fmt.Sprintf(promptTemplate, query, refs), s.maxTokens)
	if err != nil {
		return nil, fmt.Errorf("generating answer: %w", err)
	}
	if used < len(chunks) {
		s.logger.Debug("answer context truncated", "chunks", len(chunks), "used", used)
	}

	return &Answer{Answer: text, Sources: Sources(chunks[:used])}, nil
}

// Sources lists one source per chunk, in order, duplicates included.
func Sources(chunks []chunker.Chunk) []Source {
	out := make([]Source, len(chunks))
	for i, c := range chunks {
		title := c.FileName()
		if title == "" {
			title = UnknownDocument
		}
		out[i] = Source{Title: title, Path: c.FilePath()}
	}
	return out
}

// buildContext joins chunk texts with blank lines up to limit runes. The
// first chunk is always included, cut to the limit if needed. It returns
// how many chunks contributed.
func buildContext(chunks []chunker.Chunk, limit int) (string, int) {
	const sep = "\n\n"
	var b strings.Builder
	size := 0
	used := 0
	for i, c := range chunks {
		n := len([]rune(c.Text))
		extra := n
		if i > 0 {
			extra += len(sep)
		}
		if size+extra > limit {
			if i == 0 {
				b.WriteString(string([]rune(c.Text)[:limit]))
				used = 1
			}
			break
		}
		if i > 0 {
			b.WriteString(sep)
		}
		b.WriteString(c.Text)
		size += extra
		used++
	}
	return b.String(), used
}
