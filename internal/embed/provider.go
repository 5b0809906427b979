// Package embed turns record text into fixed-width vectors. The Provider
// interface is the seam between the memory engines and whichever embedding
// backend the host application supplies; Genkit is the production
// implementation and tests plug in deterministic providers.
package embed

import "context"

// Provider converts text to a fixed-length embedding vector.
//
// Implementations must be safe for concurrent use. A failed call is
// surfaced to the caller: write paths that cannot embed fail loudly rather
// than silently skipping the vector index.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Func adapts an ordinary function to a Provider.
type Func func(ctx context.Context, text string) ([]float32, error)

// Embed calls f.
func (f Func) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}
