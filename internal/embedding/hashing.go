package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
)

// DefaultHashingDimensions is the vector size of the hashing provider.
const DefaultHashingDimensions = 256

var tokenPattern = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`)

var stopwords = func() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by",
		"with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those",
		"from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about",
		"between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same",
		"too", "very", "can", "will", "just", "should", "now",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}()

// HashingProvider embeds text offline by hashing term frequencies into a
// fixed number of signed buckets. Vectors are L2-normalised. Texts sharing
// vocabulary score high cosine similarity; there is no semantics beyond that.
type HashingProvider struct {
	dimensions int
}

// NewHashingProvider creates a hashing provider. dims <= 0 selects the default.
func NewHashingProvider(dims int) *HashingProvider {
	if dims <= 0 {
		dims = DefaultHashingDimensions
	}
	return &HashingProvider{dimensions: dims}
}

// Embed hashes the tokens of text. Text without tokens yields a zero vector.
func (p *HashingProvider) Embed(ctx context.Context, text string) (Embedding, error) {
	if err := ctx.Err(); err != nil {
		return Embedding{}, err
	}

	vec := make([]float32, p.dimensions)
	for _, tok := range tokenize(text) {
		h := fnv.New64a()
		h.Write([]byte(tok))
		sum := h.Sum64()
		idx := int(sum % uint64(p.dimensions))
		if sum&(1<<63) != 0 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		n := float32(math.Sqrt(norm))
		for i := range vec {
			vec[i] /= n
		}
	}
	return Embedding{Vector: vec}, nil
}

// EmbedBatch embeds each text in order.
func (p *HashingProvider) EmbedBatch(ctx context.Context, texts []string) ([]Embedding, error) {
	out := make([]Embedding, len(texts))
	for i, text := range texts {
		emb, err := p.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = emb
	}
	return out, nil
}

// ModelName identifies the hashing scheme and its size.
func (p *HashingProvider) ModelName() string {
	return "hashing-fnv64a"
}

// Dimensions returns the vector size.
func (p *HashingProvider) Dimensions() int {
	return p.dimensions
}

func tokenize(text string) []string {
	raw := tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, t := range raw {
		if _, stop := stopwords[t]; stop {
			continue
		}
		out = append(out, t)
	}
	return out
}
