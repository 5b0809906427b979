package vector

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
)

// Chromem is an in-memory Index backed by chromem-go. Used by tests and by
// embedded deployments that run without PostgreSQL. Entries carry their
// tenant, scope and tier as chromem metadata and are filtered with exact
// match where-clauses, so the tenant boundary holds here too.
type Chromem struct {
	collection *chromem.Collection
}

// NewChromem creates an empty in-memory index.
func NewChromem() (*Chromem, error) {
	db := chromem.NewDB()
	// Embeddings are always supplied by the caller; the embedding func is
	// never invoked and only satisfies the collection constructor.
	collection, err := db.GetOrCreateCollection("memories", nil, func(_ context.Context, _ string) ([]float32, error) {
		return nil, fmt.Errorf("index does not embed; supply embeddings explicitly")
	})
	if err != nil {
		return nil, fmt.Errorf("creating chromem collection: %w", err)
	}
	return &Chromem{collection: collection}, nil
}

// Upsert inserts or replaces the embedding for id.
func (c *Chromem) Upsert(ctx context.Context, id uuid.UUID, embedding []float32, meta Meta) error {
	if meta.TenantID == "" {
		return fmt.Errorf("tenant ID is required")
	}
	err := c.collection.AddDocument(ctx, chromem.Document{
		ID:        id.String(),
		Embedding: embedding,
		// chromem requires non-empty content or embedding; content is
		// unused by QueryEmbedding but must not collide with filters.
		Content: id.String(),
		Metadata: map[string]string{
			"tenant_id": meta.TenantID,
			"scope_id":  meta.ScopeID,
			"tier":      meta.Tier,
		},
	})
	if err != nil {
		return fmt.Errorf("upserting document %s: %w", id, err)
	}
	return nil
}

// Query returns up to k matches for the filter, ordered by similarity
// descending.
func (c *Chromem) Query(ctx context.Context, embedding []float32, k int, f Filter) ([]Match, error) {
	if f.TenantID == "" {
		return nil, fmt.Errorf("tenant ID is required")
	}
	if k <= 0 {
		return []Match{}, nil
	}

	// chromem rejects nResults larger than the collection size.
	count := c.collection.Count()
	if count == 0 {
		return []Match{}, nil
	}
	if k > count {
		k = count
	}

	where := map[string]string{"tenant_id": f.TenantID}
	if f.Tier != "" {
		where["tier"] = f.Tier
	}
	if f.ScopeID != "" {
		where["scope_id"] = f.ScopeID
	}

	results, err := c.collection.QueryEmbedding(ctx, embedding, k, where, nil)
	if err != nil {
		return nil, fmt.Errorf("querying collection: %w", err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		id, err := uuid.Parse(r.ID)
		if err != nil {
			return nil, fmt.Errorf("parsing document id %q: %w", r.ID, err)
		}
		matches = append(matches, Match{
			ID:    id,
			Score: float64(r.Similarity),
			Meta: Meta{
				TenantID: r.Metadata["tenant_id"],
				ScopeID:  r.Metadata["scope_id"],
				Tier:     r.Metadata["tier"],
			},
		})
	}
	return matches, nil
}

// Delete removes the entry for id. Absent ids are a no-op.
func (c *Chromem) Delete(ctx context.Context, id uuid.UUID) error {
	if err := c.collection.Delete(ctx, nil, nil, id.String()); err != nil {
		return fmt.Errorf("deleting document %s: %w", id, err)
	}
	return nil
}
