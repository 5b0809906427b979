package testutil

import (
	"context"
	"hash/fnv"
	"math"
	"sync"
)

// FakeEmbedder is a deterministic in-memory embedding provider. Texts with
// registered vectors return them verbatim; everything else gets a unit
// vector derived from the text's hash, so unrelated texts land far apart.
//
// Safe for concurrent use.
type FakeEmbedder struct {
	mu      sync.Mutex
	dim     int
	vectors map[string][]float32
	calls   int
	err     error
}

// NewFakeEmbedder creates a fake embedder producing vectors of dim
// dimensions.
func NewFakeEmbedder(dim int) *FakeEmbedder {
	return &FakeEmbedder{dim: dim, vectors: map[string][]float32{}}
}

// Register pins the vector returned for text.
func (f *FakeEmbedder) Register(text string, vec []float32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vectors[text] = vec
}

// Fail makes every subsequent Embed call return err. Pass nil to recover.
func (f *FakeEmbedder) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Calls reports how many Embed calls have been made.
func (f *FakeEmbedder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Embed returns the registered or hash-derived vector for text.
func (f *FakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if vec, ok := f.vectors[text]; ok {
		out := make([]float32, len(vec))
		copy(out, vec)
		return out, nil
	}
	return hashVector(text, f.dim), nil
}

// hashVector derives a deterministic unit vector from text.
func hashVector(text string, dim int) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, dim)
	var norm float64
	for i := range vec {
		// xorshift64 keeps the sequence deterministic per seed.
		seed ^= seed << 13
		seed ^= seed >> 7
		seed ^= seed << 17
		v := float64(int64(seed%2000)-1000) / 1000.0
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

// BasisVector returns a unit vector along the given axis.
func BasisVector(dim, axis int) []float32 {
	vec := make([]float32, dim)
	vec[axis] = 1
	return vec
}

// SimilarVector returns a unit vector whose cosine similarity to
// BasisVector(dim, axis) is exactly cos, using the next axis for the
// orthogonal component.
func SimilarVector(dim, axis int, cos float64) []float32 {
	vec := make([]float32, dim)
	vec[axis] = float32(cos)
	vec[(axis+1)%dim] = float32(math.Sqrt(1 - cos*cos))
	return vec
}
