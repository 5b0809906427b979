package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mnemolabs/mnemo/internal/embed"
	"github.com/mnemolabs/mnemo/internal/vector"
)

// recordCols is the standard SELECT column list for scanRecords.
const recordCols = `id, tenant_id, scope_id, tier, kind, content,
	importance, created_at, last_referenced_at,
	sources, consolidation_group, status, version`

// TTLPolicy maps tiers to their time-to-live. The short tier expires
// relative to created_at, the medium tier relative to last_referenced_at,
// and the long tier never expires.
type TTLPolicy struct {
	Short  time.Duration
	Medium time.Duration
}

// DefaultTTLPolicy returns the default tier lifetimes.
func DefaultTTLPolicy() TTLPolicy {
	return TTLPolicy{
		Short:  TierShort.DefaultTTL(),
		Medium: TierMedium.DefaultTTL(),
	}
}

// Store is the tiered memory store. It owns record rows in PostgreSQL and
// keeps the vector index in step: rows commit first, index mutations follow,
// so a crash can only leave an index entry pointing at a still-consistent
// row, never the reverse.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool     *pgxpool.Pool
	index    vector.Index
	embedder embed.Provider
	policy   TTLPolicy
	logger   *slog.Logger
}

// NewStore creates a tiered memory Store.
func NewStore(pool *pgxpool.Pool, index vector.Index, embedder embed.Provider, policy TTLPolicy, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if index == nil {
		return nil, fmt.Errorf("vector index is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, index: index, embedder: embedder, policy: policy, logger: logger}, nil
}

// validateRecord checks required fields for Write().
func validateRecord(rec *Record) error {
	if rec == nil {
		return fmt.Errorf("%w: record is nil", ErrValidation)
	}
	if rec.TenantID == "" {
		return fmt.Errorf("%w: tenant ID is required", ErrValidation)
	}
	if rec.ScopeID == "" {
		return fmt.Errorf("%w: scope ID is required", ErrValidation)
	}
	if !rec.Tier.Valid() {
		return fmt.Errorf("%w: invalid tier %q", ErrValidation, rec.Tier)
	}
	if rec.Kind != "" && !rec.Kind.Valid() {
		return fmt.Errorf("%w: invalid kind %q", ErrValidation, rec.Kind)
	}
	if rec.Content == "" {
		return fmt.Errorf("%w: content is required", ErrValidation)
	}
	if len(rec.Content) > MaxContentLength {
		return fmt.Errorf("%w: content length %d exceeds maximum %d", ErrValidation, len(rec.Content), MaxContentLength)
	}
	if ContainsSecrets(rec.Content) {
		return fmt.Errorf("%w: content contains potential secrets", ErrValidation)
	}
	return nil
}

// clampImportance bounds v to [0,1].
func clampImportance(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Write validates, embeds, and persists a new record, then indexes its
// vector scoped by (tenant, tier, scope). Returns the record's id.
//
// Embedding failure fails the write loudly: a record the index cannot see
// would silently vanish from retrieval and every sweep.
func (s *Store) Write(ctx context.Context, rec *Record) (uuid.UUID, error) {
	if err := validateRecord(rec); err != nil {
		return uuid.Nil, err
	}

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Kind == "" {
		rec.Kind = KindUnknown
	}
	if rec.Status == "" {
		rec.Status = StatusActive
	}
	rec.Importance = clampImportance(rec.Importance)

	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.LastReferencedAt.IsZero() {
		rec.LastReferencedAt = rec.CreatedAt
	}
	if len(rec.Sources) == 0 {
		rec.Sources = []string{SourceManual}
	}

	vec, err := s.embed(ctx, rec.Content)
	if err != nil {
		return uuid.Nil, err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO memories (id, tenant_id, scope_id, tier, kind, content,
		     importance, created_at, last_referenced_at, sources, status, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1)`,
		rec.ID, rec.TenantID, rec.ScopeID, rec.Tier, rec.Kind, rec.Content,
		rec.Importance, rec.CreatedAt, rec.LastReferencedAt, rec.Sources, rec.Status,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("inserting memory: %w", err)
	}

	// Index after the row commit. On index failure the row is rolled back
	// with a compensating delete so no half-written record survives.
	indexErr := s.index.Upsert(ctx, rec.ID, vec, vector.Meta{
		TenantID: rec.TenantID,
		ScopeID:  rec.ScopeID,
		Tier:     string(rec.Tier),
	})
	if indexErr != nil {
		if _, delErr := s.pool.Exec(ctx, `DELETE FROM memories WHERE id = $1`, rec.ID); delErr != nil {
			s.logger.Error("compensating delete failed after index error",
				"id", rec.ID, "index_error", indexErr, "delete_error", delErr)
		}
		return uuid.Nil, fmt.Errorf("indexing memory: %w", indexErr)
	}

	return rec.ID, nil
}

// Read returns the record with the given id. Returns ErrNotFound when the
// id is unknown or belongs to another tenant; the two are indistinguishable
// so cross-tenant probes learn nothing.
func (s *Store) Read(ctx context.Context, id uuid.UUID, tenantID string) (*Record, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant ID is required", ErrValidation)
	}

	row := s.pool.QueryRow(ctx,
		`SELECT `+recordCols+` FROM memories WHERE id = $1 AND tenant_id = $2`,
		id, tenantID,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading memory %s: %w", id, err)
	}
	return rec, nil
}

// Touch refreshes last_referenced_at and nudges importance upward by a
// bounded increment. The update is guarded by status = 'active' so a
// concurrent merge always wins: touching a just-merged record is a no-op,
// never a resurrection.
func (s *Store) Touch(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE memories
		 SET last_referenced_at = now(),
		     importance = LEAST(1.0, importance + $2),
		     version = version + 1
		 WHERE id = $1 AND status = $3`,
		id, TouchIncrement, StatusActive,
	)
	if err != nil {
		return fmt.Errorf("touching memory %s: %w", id, err)
	}
	return nil
}

// EvictExpired physically deletes records whose TTL has elapsed for the
// tier. Short-tier TTL counts from created_at, medium from
// last_referenced_at; the long tier never expires. Returns the number of
// records deleted. Re-running on a clean scope is a no-op.
func (s *Store) EvictExpired(ctx context.Context, tenantID string, tier Tier, now time.Time) (int, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("%w: tenant ID is required", ErrValidation)
	}
	if !tier.Valid() {
		return 0, fmt.Errorf("%w: invalid tier %q", ErrValidation, tier)
	}

	var rows pgx.Rows
	var err error
	switch tier {
	case TierShort:
		rows, err = s.pool.Query(ctx,
			`DELETE FROM memories
			 WHERE tenant_id = $1 AND tier = $2 AND created_at < $3
			 RETURNING id`,
			tenantID, tier, now.Add(-s.policy.Short),
		)
	case TierMedium:
		rows, err = s.pool.Query(ctx,
			`DELETE FROM memories
			 WHERE tenant_id = $1 AND tier = $2 AND last_referenced_at < $3
			 RETURNING id`,
			tenantID, tier, now.Add(-s.policy.Medium),
		)
	default:
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("evicting expired %s memories: %w", tier, err)
	}

	ids, err := collectIDs(rows)
	if err != nil {
		return 0, err
	}

	// Index cleanup after the rows are gone. Best-effort: a dangling index
	// entry only yields a retrieval miss against the store.
	for _, id := range ids {
		if delErr := s.index.Delete(ctx, id); delErr != nil {
			s.logger.Warn("removing evicted vector", "id", id, "error", delErr)
		}
	}
	return len(ids), nil
}

// List returns active records for a tenant and tier, newest reference
// first, with limit/offset pagination.
func (s *Store) List(ctx context.Context, tenantID string, tier Tier, limit, offset int) ([]*Record, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant ID is required", ErrValidation)
	}
	if !tier.Valid() {
		return nil, fmt.Errorf("%w: invalid tier %q", ErrValidation, tier)
	}
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+recordCols+`
		 FROM memories
		 WHERE tenant_id = $1 AND tier = $2 AND status = $3
		 ORDER BY last_referenced_at DESC, id
		 LIMIT $4 OFFSET $5`,
		tenantID, tier, StatusActive, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("listing memories: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// BatchDelete physically deletes the given records for a tenant and returns
// the number removed. Ids belonging to other tenants are ignored.
func (s *Store) BatchDelete(ctx context.Context, tenantID string, ids []uuid.UUID) (int, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("%w: tenant ID is required", ErrValidation)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	rows, err := s.pool.Query(ctx,
		`DELETE FROM memories
		 WHERE tenant_id = $1 AND id = ANY($2)
		 RETURNING id`,
		tenantID, ids,
	)
	if err != nil {
		return 0, fmt.Errorf("batch deleting memories: %w", err)
	}

	deleted, err := collectIDs(rows)
	if err != nil {
		return 0, err
	}
	for _, id := range deleted {
		if delErr := s.index.Delete(ctx, id); delErr != nil {
			s.logger.Warn("removing deleted vector", "id", id, "error", delErr)
		}
	}
	return len(deleted), nil
}

// activeRecords returns every active record in a (tenant, tier) scope,
// oldest first. The working set for sweep passes.
func (s *Store) activeRecords(ctx context.Context, tenantID string, tier Tier) ([]*Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+recordCols+`
		 FROM memories
		 WHERE tenant_id = $1 AND tier = $2 AND status = $3
		 ORDER BY created_at, id`,
		tenantID, tier, StatusActive,
	)
	if err != nil {
		return nil, fmt.Errorf("loading active memories: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// readActive loads active records by id within a tenant, keyed by id.
// Merged or missing ids are simply absent from the result.
func (s *Store) readActive(ctx context.Context, tenantID string, ids []uuid.UUID) (map[uuid.UUID]*Record, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]*Record{}, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+recordCols+`
		 FROM memories
		 WHERE tenant_id = $1 AND id = ANY($2) AND status = $3`,
		tenantID, ids, StatusActive,
	)
	if err != nil {
		return nil, fmt.Errorf("loading memories by id: %w", err)
	}
	defer rows.Close()

	recs, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*Record, len(recs))
	for _, r := range recs {
		byID[r.ID] = r
	}
	return byID, nil
}

// mergeGroup applies one consolidation merge atomically: the survivor
// absorbs the union of sources, the losers transition to merged with their
// consolidation_group pointing at the survivor. Vector removal happens only
// after the transaction commits, so a failure mid-merge leaves every record
// either fully active or fully merged — never removed from the index while
// still active in the store.
func (s *Store) mergeGroup(ctx context.Context, tenantID string, survivorID uuid.UUID, loserIDs []uuid.UUID, mergedSources []string) error {
	if len(loserIDs) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning merge transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Debug("merge transaction rollback", "error", rbErr)
		}
	}()

	tag, err := tx.Exec(ctx,
		`UPDATE memories
		 SET sources = $3, version = version + 1
		 WHERE id = $1 AND tenant_id = $2 AND status = $4`,
		survivorID, tenantID, mergedSources, StatusActive,
	)
	if err != nil {
		return fmt.Errorf("updating merge survivor %s: %w", survivorID, err)
	}
	if tag.RowsAffected() == 0 {
		// Survivor vanished under us (concurrent delete or merge). Abort;
		// the next sweep re-evaluates the group.
		return fmt.Errorf("merge survivor %s no longer active", survivorID)
	}

	_, err = tx.Exec(ctx,
		`UPDATE memories
		 SET status = $4, consolidation_group = $1, version = version + 1
		 WHERE tenant_id = $2 AND id = ANY($3) AND status = $5`,
		survivorID, tenantID, loserIDs, StatusMerged, StatusActive,
	)
	if err != nil {
		return fmt.Errorf("marking merged records: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing merge: %w", err)
	}

	for _, id := range loserIDs {
		if delErr := s.index.Delete(ctx, id); delErr != nil {
			s.logger.Warn("removing merged vector", "id", id, "error", delErr)
		}
	}
	return nil
}

// supersede marks old as superseded within a tenant. Used by contradiction
// resolution. The update is guarded by status = 'active'.
func (s *Store) supersede(ctx context.Context, tenantID string, oldID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE memories
		 SET status = $3, version = version + 1
		 WHERE id = $1 AND tenant_id = $2 AND status = $4`,
		oldID, tenantID, StatusSuperseded, StatusActive,
	)
	if err != nil {
		return fmt.Errorf("superseding memory %s: %w", oldID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	if delErr := s.index.Delete(ctx, oldID); delErr != nil {
		s.logger.Warn("removing superseded vector", "id", oldID, "error", delErr)
	}
	return nil
}

// embed generates a vector for text under the standard timeout.
func (s *Store) embed(ctx context.Context, text string) ([]float32, error) {
	embedCtx, cancel := context.WithTimeout(ctx, EmbedTimeout)
	defer cancel()

	vec, err := s.embedder.Embed(embedCtx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbedding, err)
	}
	return vec, nil
}

// collectIDs drains a RETURNING id result set.
func collectIDs(rows pgx.Rows) ([]uuid.UUID, error) {
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating ids: %w", err)
	}
	return ids, nil
}

// scanRecord reads one Record from a pgx.Row (standard column set).
func scanRecord(row pgx.Row) (*Record, error) {
	r := &Record{}
	if err := row.Scan(
		&r.ID, &r.TenantID, &r.ScopeID, &r.Tier, &r.Kind, &r.Content,
		&r.Importance, &r.CreatedAt, &r.LastReferencedAt,
		&r.Sources, &r.ConsolidationGroup, &r.Status, &r.Version,
	); err != nil {
		return nil, err
	}
	return r, nil
}

// scanRecords reads Records from pgx.Rows (standard column set).
func scanRecords(rows pgx.Rows) ([]*Record, error) {
	var records []*Record
	for rows.Next() {
		r := &Record{}
		if err := rows.Scan(
			&r.ID, &r.TenantID, &r.ScopeID, &r.Tier, &r.Kind, &r.Content,
			&r.Importance, &r.CreatedAt, &r.LastReferencedAt,
			&r.Sources, &r.ConsolidationGroup, &r.Status, &r.Version,
		); err != nil {
			return nil, fmt.Errorf("scanning memory: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating memories: %w", err)
	}
	return records, nil
}
