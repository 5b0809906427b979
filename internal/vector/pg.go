package vector

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Dimension is the embedding width the memory_vectors schema is declared
// with. The embedding provider must be configured to emit this width.
const Dimension = 768

// PG is a pgvector-backed Index. Entries live in the memory_vectors table;
// cosine distance (<=>) drives ordering, converted to similarity as
// 1 - distance.
//
// PG is safe for concurrent use.
type PG struct {
	pool *pgxpool.Pool
}

// NewPG creates a pgvector index over the given pool.
func NewPG(pool *pgxpool.Pool) (*PG, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &PG{pool: pool}, nil
}

// Upsert inserts or replaces the embedding for id.
func (p *PG) Upsert(ctx context.Context, id uuid.UUID, embedding []float32, meta Meta) error {
	if len(embedding) != Dimension {
		return fmt.Errorf("embedding dimension %d, want %d", len(embedding), Dimension)
	}
	if meta.TenantID == "" {
		return fmt.Errorf("tenant ID is required")
	}

	_, err := p.pool.Exec(ctx,
		`INSERT INTO memory_vectors (id, tenant_id, scope_id, tier, embedding)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE
		 SET tenant_id = EXCLUDED.tenant_id,
		     scope_id = EXCLUDED.scope_id,
		     tier = EXCLUDED.tier,
		     embedding = EXCLUDED.embedding`,
		id, meta.TenantID, meta.ScopeID, meta.Tier, pgvector.NewVector(embedding),
	)
	if err != nil {
		return fmt.Errorf("upserting vector %s: %w", id, err)
	}
	return nil
}

// Query returns up to k matches for the filter, ordered by similarity
// descending.
func (p *PG) Query(ctx context.Context, embedding []float32, k int, f Filter) ([]Match, error) {
	if f.TenantID == "" {
		return nil, fmt.Errorf("tenant ID is required")
	}
	if k <= 0 {
		return []Match{}, nil
	}

	vec := pgvector.NewVector(embedding)
	query := `SELECT id, tenant_id, scope_id, tier, 1 - (embedding <=> $1) AS similarity
	          FROM memory_vectors
	          WHERE tenant_id = $2`
	args := []any{vec, f.TenantID}

	if f.Tier != "" {
		args = append(args, f.Tier)
		query += fmt.Sprintf(" AND tier = $%d", len(args))
	}
	if f.ScopeID != "" {
		args = append(args, f.ScopeID)
		query += fmt.Sprintf(" AND scope_id = $%d", len(args))
	}

	args = append(args, k)
	query += fmt.Sprintf(" ORDER BY embedding <=> $1 LIMIT $%d", len(args))

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.ID, &m.Meta.TenantID, &m.Meta.ScopeID, &m.Meta.Tier, &m.Score); err != nil {
			return nil, fmt.Errorf("scanning vector match: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating vector matches: %w", err)
	}
	return matches, nil
}

// Delete removes the entry for id. Absent ids are a no-op.
func (p *PG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM memory_vectors WHERE id = $1`, id)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("deleting vector %s: %w", id, err)
	}
	return nil
}
