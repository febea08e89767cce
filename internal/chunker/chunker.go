// Package chunker splits document text into overlapping chunks for
// embedding.
package chunker

import (
	"maps"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/matsen/kbase/internal/loader"
)

const (
	// DefaultChunkSize is the target chunk length in characters (runes).
	DefaultChunkSize = 1000

	// DefaultChunkOverlap is the maximum carried-over tail in characters.
	DefaultChunkOverlap = 100
)

// Metadata keys added to every chunk.
const (
	MetaFileName = "file_name"
	MetaFilePath = "file_path"
)

// DefaultSeparators are tried in order, coarsest first. The empty
// separator splits between characters and always succeeds.
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

// Chunk is a bounded piece of document text with its provenance.
type Chunk struct {
	Text     string
	Metadata map[string]string
}

// FileName returns the originating file name, if recorded.
func (c Chunk) FileName() string {
	return c.Metadata[MetaFileName]
}

// FilePath returns the originating file path, if recorded.
func (c Chunk) FilePath() string {
	return c.Metadata[MetaFilePath]
}

// Splitter is a recursive character splitter. Text is cut on the coarsest
// separator present, pieces are merged greedily up to the chunk size and
// each new chunk starts with up to overlap characters of the previous one.
//
// Sizes are best-effort: a piece longer than the chunk size is split again
// with the next separator, and only a piece no separator can divide stays
// oversized. With the default separators that never happens.
type Splitter struct {
	chunkSize  int
	overlap    int
	separators []string
}

// Option configures a Splitter.
type Option func(*Splitter)

// WithChunkSize sets the chunk size in characters.
func WithChunkSize(size int) Option {
	return func(s *Splitter) {
		if size > 0 {
			s.chunkSize = size
		}
	}
}

// WithOverlap sets the overlap between chunks in characters.
func WithOverlap(overlap int) Option {
	return func(s *Splitter) {
		if overlap >= 0 {
			s.overlap = overlap
		}
	}
}

// WithSeparators replaces the separator list.
func WithSeparators(seps ...string) Option {
	return func(s *Splitter) {
		if len(seps) > 0 {
			s.separators = seps
		}
	}
}

// New creates a splitter. An overlap not smaller than the chunk size is
// reduced to a quarter of it.
func New(opts ...Option) *Splitter {
	s := &Splitter{
		chunkSize:  DefaultChunkSize,
		overlap:    DefaultChunkOverlap,
		separators: DefaultSeparators,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.overlap >= s.chunkSize {
		s.overlap = s.chunkSize / 4
	}
	return s
}

// ChunkSize returns the configured chunk size.
func (s *Splitter) ChunkSize() int { return s.chunkSize }

// Overlap returns the configured overlap.
func (s *Splitter) Overlap() int { return s.overlap }

// SplitSegments chunks every segment of the file at path. Chunks carry the
// segment metadata plus file_name and file_path.
func (s *Splitter) SplitSegments(path string, segs []loader.Segment) []Chunk {
	var out []Chunk
	for _, seg := range segs {
		for _, text := range s.SplitText(seg.Text) {
			md := make(map[string]string, len(seg.Metadata)+2)
			maps.Copy(md, seg.Metadata)
			md[MetaFileName] = filepath.Base(path)
			md[MetaFilePath] = path
			out = append(out, Chunk{Text: text, Metadata: md})
		}
	}
	return out
}

// SplitText splits text into trimmed, non-empty chunks. Text whose trimmed
// length is within the chunk size is returned as a single chunk.
func (s *Splitter) SplitText(text string) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if runeLen(trimmed) <= s.chunkSize {
		return []string{trimmed}
	}
	return s.split(text, s.separators)
}

func (s *Splitter) split(text string, separators []string) []string {
	separator := separators[len(separators)-1]
	var rest []string
	for i, sep := range separators {
		if sep == "" {
			separator = sep
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			rest = separators[i+1:]
			break
		}
	}

	var (
		chunks []string
		good   []string
	)
	for _, piece := range splitKeep(text, separator) {
		if runeLen(piece) < s.chunkSize {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			chunks = append(chunks, s.merge(good)...)
			good = nil
		}
		if len(rest) == 0 {
			if t := strings.TrimSpace(piece); t != "" {
				chunks = append(chunks, t)
			}
		} else {
			chunks = append(chunks, s.split(piece, rest)...)
		}
	}
	if len(good) > 0 {
		chunks = append(chunks, s.merge(good)...)
	}
	return chunks
}

// merge joins pieces into chunks of at most chunkSize, dropping pieces from
// the front of the window until at most overlap characters remain.
func (s *Splitter) merge(pieces []string) []string {
	var (
		docs    []string
		current []string
		total   int
	)
	for _, p := range pieces {
		n := runeLen(p)
		if total+n > s.chunkSize && len(current) > 0 {
			if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
				docs = append(docs, doc)
			}
			for total > s.overlap || (total+n > s.chunkSize && total > 0) {
				total -= runeLen(current[0])
				current = current[1:]
			}
		}
		current = append(current, p)
		total += n
	}
	if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
		docs = append(docs, doc)
	}
	return docs
}

// splitKeep splits text on sep, keeping sep at the start of each following
// piece. An empty sep splits into characters.
func splitKeep(text, sep string) []string {
	if sep == "" {
		out := make([]string, 0, len(text))
		for _, r := range text {
			out = append(out, string(r))
		}
		return out
	}

	parts := strings.Split(text, sep)
	out := make([]string, 0, len(parts))
	if parts[0] != "" {
		out = append(out, parts[0])
	}
	for _, p := range parts[1:] {
		out = append(out, sep+p)
	}
	return out
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
