package embed

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"google.golang.org/genai"
)

// Genkit is a Provider backed by a Genkit ai.Embedder. The output
// dimensionality is pinned so the vectors match the pgvector schema
// regardless of the embedder model's native width.
type Genkit struct {
	embedder  ai.Embedder
	dimension int32
}

// NewGenkit creates a Genkit-backed provider producing vectors of the given
// dimension.
func NewGenkit(embedder ai.Embedder, dimension int) (*Genkit, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dimension)
	}
	return &Genkit{embedder: embedder, dimension: int32(dimension)}, nil
}

// Embed generates a vector embedding for the given text.
func (g *Genkit) Embed(ctx context.Context, text string) ([]float32, error) {
	dim := g.dimension
	resp, err := g.embedder.Embed(ctx, &ai.EmbedRequest{
		Input:   []*ai.Document{ai.DocumentFromText(text, nil)},
		Options: &genai.EmbedContentConfig{OutputDimensionality: &dim},
	})
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding response")
	}
	return resp.Embeddings[0].Embedding, nil
}
