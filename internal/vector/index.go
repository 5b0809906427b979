// Package vector provides nearest-neighbor search over record embeddings
// behind a narrow interface, keeping the memory engines independent of any
// particular vector search engine.
//
// Two implementations ship with the project:
//   - PG: PostgreSQL + pgvector, the production backend
//   - Chromem: chromem-go in-memory index for tests and embedded use
package vector

import (
	"context"

	"github.com/google/uuid"
)

// Meta is the searchable metadata attached to every entry. Tenant, tier and
// scope are stored as plain strings so this package stays free of domain
// types.
type Meta struct {
	TenantID string
	ScopeID  string
	Tier     string
}

// Filter restricts a query. TenantID is mandatory: this package never
// constructs a cross-tenant query. Empty Tier or ScopeID match everything.
type Filter struct {
	TenantID string
	ScopeID  string
	Tier     string
}

// Match is a single query result. Score is cosine similarity in [-1,1],
// higher is more similar; opposed vectors score negative.
type Match struct {
	ID    uuid.UUID
	Score float64
	Meta  Meta
}

// Index is the nearest-neighbor search surface consumed by the memory
// engines. Implementations must be safe for concurrent use.
type Index interface {
	// Upsert inserts or replaces the embedding for id.
	Upsert(ctx context.Context, id uuid.UUID, embedding []float32, meta Meta) error

	// Query returns up to k matches ordered by descending similarity,
	// restricted by f. An empty result is not an error.
	Query(ctx context.Context, embedding []float32, k int, f Filter) ([]Match, error)

	// Delete removes the entry for id. Deleting an absent id is a no-op.
	Delete(ctx context.Context, id uuid.UUID) error
}
