package embedding

import "context"

// Provider generates embeddings from text.
type Provider interface {
	// Embed generates an embedding for the given text.
	Embed(ctx context.Context, text string) (Embedding, error)

	// EmbedBatch generates one embedding per text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([]Embedding, error)

	// ModelName returns the name of the embedding model.
	ModelName() string

	// Dimensions returns the expected vector dimensions, or 0 when the
	// model decides.
	Dimensions() int
}
