// Package embedding provides vector embedding generation for text.
package embedding

import (
	"errors"
	"fmt"
)

// ErrEmptyInput is returned when there is nothing to embed.
var ErrEmptyInput = errors.New("empty embedding input")

// Embedding represents a vector embedding of text.
type Embedding struct {
	Vector []float32 // e.g. 1536 dimensions for text-embedding-3-small
}

// Dimensions returns the dimensionality of the embedding.
func (e Embedding) Dimensions() int {
	return len(e.Vector)
}

// checkDimensions verifies every vector has want entries. want <= 0 only
// requires the vectors to agree with each other.
func checkDimensions(embs []Embedding, want int) error {
	for i, e := range embs {
		if want <= 0 {
			want = e.Dimensions()
		}
		if e.Dimensions() == 0 || e.Dimensions() != want {
			return fmt.Errorf("unexpected embedding dimensions at %d: got %d, want %d", i, e.Dimensions(), want)
		}
	}
	return nil
}
