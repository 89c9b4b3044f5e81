package mangarag

import "context"

// EmbeddingProvider generates vector embeddings for text. Implementations
// are pure transport: one request, one response, no retries or fallbacks.
// Resilience policy lives in Ladder.
type EmbeddingProvider interface {
	// Embed returns one vector per input text, preserving order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the embedding vector size.
	Dimensions() int
	// Name returns the provider name.
	Name() string
}

// ProviderFactory builds an EmbeddingProvider for a given model
// identifier. The Ladder uses it to obtain a client per fallback model.
type ProviderFactory func(model string) EmbeddingProvider
