package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mnemolabs/mnemo/internal/notify"
	"github.com/mnemolabs/mnemo/internal/reason"
	"github.com/mnemolabs/mnemo/internal/vector"
)

// DetectorConfig tunes contradiction detection.
type DetectorConfig struct {
	// ConfidenceGate is the inclusive Reasoner confidence required to emit
	// a contradiction. Deliberately conservative: a false contradiction is
	// worse than a missed one.
	ConfidenceGate float64

	// NeighborK is how many similar records to compare against.
	NeighborK int

	// MinImportance filters candidates; low-importance records are not
	// worth a Reasoner call.
	MinImportance float64

	// Matrix decides which kind pairs are commensurable. Incompatible
	// pairs are skipped before any Reasoner call.
	Matrix KindMatrix
}

// DefaultDetectorConfig returns the standard detection tuning.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		ConfidenceGate: ConfidenceGate,
		NeighborK:      NeighborK,
		MinImportance:  MinContradictionImportance,
		Matrix:         DefaultKindMatrix(),
	}
}

// DetectionStats summarizes one detection pass.
type DetectionStats struct {
	Examined       int // records checked
	Compared       int // Reasoner calls made
	SkippedKind    int // pairs skipped by the kind pre-filter
	Emitted        int // contradictions recorded
	ReasonerErrors int // comparisons skipped due to Reasoner failure
}

// typeTagRe matches legacy leading type-tag markers like "[preference] "
// that older extraction pipelines embedded in record text. Kind is an
// explicit field now; tags in text are stripped before comparison, never
// parsed.
var typeTagRe = regexp.MustCompile(`(?i)^\s*\[(?:fact|preference|personal_info|contact|project|unknown)\]\s*`)

// StripTypeTag removes leading type-tag markers from record text.
func StripTypeTag(text string) string {
	for {
		stripped := typeTagRe.ReplaceAllString(text, "")
		if stripped == text {
			return stripped
		}
		text = stripped
	}
}

// Detector surfaces semantic conflicts between records in the same
// (tenant, scope), classifying candidate pairs through an external
// Reasoner and gating emissions on its confidence.
type Detector struct {
	store    *Store
	reasoner reason.Reasoner
	sink     notify.Sink
	config   DetectorConfig
	logger   *slog.Logger
}

// NewDetector creates a contradiction detector.
func NewDetector(store *Store, reasoner reason.Reasoner, sink notify.Sink, config DetectorConfig, logger *slog.Logger) (*Detector, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if reasoner == nil {
		return nil, fmt.Errorf("reasoner is required")
	}
	if sink == nil {
		return nil, fmt.Errorf("notification sink is required")
	}
	if config.ConfidenceGate <= 0 || config.ConfidenceGate > 1 {
		return nil, fmt.Errorf("confidence gate %v out of range (0,1]", config.ConfidenceGate)
	}
	if config.NeighborK <= 0 {
		config.NeighborK = NeighborK
	}
	if config.Matrix == nil {
		config.Matrix = DefaultKindMatrix()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{store: store, reasoner: reasoner, sink: sink, config: config, logger: logger}, nil
}

// Sweep checks every active record in (tenant, tier) against its semantic
// neighbors. Per-record failures are isolated; the sweep is best-effort
// complete. Context cancellation stops after the current record.
func (d *Detector) Sweep(ctx context.Context, tenantID string, tier Tier, generation int64) (DetectionStats, error) {
	var stats DetectionStats
	if tenantID == "" {
		return stats, fmt.Errorf("%w: tenant ID is required", ErrValidation)
	}
	if !tier.Valid() {
		return stats, fmt.Errorf("%w: invalid tier %q", ErrValidation, tier)
	}

	records, err := d.store.activeRecords(ctx, tenantID, tier)
	if err != nil {
		return stats, err
	}

	for _, rec := range records {
		select {
		case <-ctx.Done():
			d.logger.Info("contradiction scan aborted",
				"tenant_id", tenantID, "tier", tier, "examined", stats.Examined)
			return stats, nil
		default:
		}
		recStats, err := d.Check(ctx, rec, generation)
		stats.Examined++
		stats.Compared += recStats.Compared
		stats.SkippedKind += recStats.SkippedKind
		stats.Emitted += recStats.Emitted
		stats.ReasonerErrors += recStats.ReasonerErrors
		if err != nil {
			d.logger.Warn("checking record for contradictions", "id", rec.ID, "error", err)
		}
	}
	return stats, nil
}

// Check compares one record against its most similar neighbors and records
// any contradiction the Reasoner reports at or above the confidence gate.
func (d *Detector) Check(ctx context.Context, rec *Record, generation int64) (DetectionStats, error) {
	var stats DetectionStats

	text := StripTypeTag(rec.Content)
	if text == "" {
		return stats, nil
	}

	vec, err := d.store.embed(ctx, text)
	if err != nil {
		return stats, err
	}

	// Overfetch: the importance filter and index lag both thin the result.
	matches, err := d.store.index.Query(ctx, vec, (d.config.NeighborK+1)*retrievalOverfetch, vector.Filter{
		TenantID: rec.TenantID,
		ScopeID:  rec.ScopeID,
	})
	if err != nil {
		return stats, fmt.Errorf("querying neighbors: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(matches))
	for _, m := range matches {
		if m.ID != rec.ID {
			ids = append(ids, m.ID)
		}
	}
	byID, err := d.store.readActive(ctx, rec.TenantID, ids)
	if err != nil {
		return stats, err
	}

	candidates := make([]*Record, 0, d.config.NeighborK)
	for _, m := range matches {
		if m.ID == rec.ID {
			continue // a record never contradicts itself
		}
		cand, ok := byID[m.ID]
		if !ok || cand.Importance < d.config.MinImportance {
			continue
		}
		candidates = append(candidates, cand)
		if len(candidates) == d.config.NeighborK {
			break
		}
	}

	for _, cand := range candidates {
		if !d.config.Matrix.Comparable(rec.Kind, cand.Kind) {
			// Incommensurable statement types; no Reasoner call.
			stats.SkippedKind++
			continue
		}

		verdict, err := d.compare(ctx, text, StripTypeTag(cand.Content))
		if err != nil {
			// Reasoner failure is never fatal: skip the pair and move on.
			stats.ReasonerErrors++
			d.logger.Warn("reasoner comparison skipped",
				"record_a", rec.ID, "record_b", cand.ID, "error", err)
			continue
		}
		stats.Compared++

		if !verdict.IsContradiction || verdict.Confidence < d.config.ConfidenceGate {
			continue
		}

		emitted, err := d.emit(ctx, rec, cand, verdict, generation)
		if err != nil {
			d.logger.Warn("recording contradiction",
				"record_a", rec.ID, "record_b", cand.ID, "error", err)
			continue
		}
		if emitted {
			stats.Emitted++
		}
	}
	return stats, nil
}

// compare invokes the Reasoner under its timeout.
func (d *Detector) compare(ctx context.Context, textA, textB string) (*reason.Verdict, error) {
	reasonCtx, cancel := context.WithTimeout(ctx, ReasonTimeout)
	defer cancel()

	verdict, err := d.reasoner.Compare(reasonCtx, textA, textB)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReasoner, err)
	}
	return verdict, nil
}

// emit records the contradiction and notifies the sink. The pair is stored
// in canonical id order so the sweep visiting both directions, or a later
// re-sweep, cannot record the same conflict twice. Returns false when the
// pair was already recorded.
func (d *Detector) emit(ctx context.Context, a, b *Record, verdict *reason.Verdict, generation int64) (bool, error) {
	if b.ID.String() < a.ID.String() {
		a, b = b, a
	}

	kind := ContradictionKind(verdict.Kind)
	if !kind.Valid() {
		kind = ContradictionDirect
	}

	id := uuid.New()
	err := d.store.pool.QueryRow(ctx,
		`INSERT INTO contradictions
		     (id, tenant_id, record_a_id, record_b_id, confidence, kind, explanation, resolved, sweep_generation, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, false, $8, now())
		 ON CONFLICT (tenant_id, record_a_id, record_b_id) DO NOTHING
		 RETURNING id`,
		id, a.TenantID, a.ID, b.ID, verdict.Confidence, kind, verdict.Explanation, generation,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil // already recorded by a prior sweep
	}
	if err != nil {
		return false, fmt.Errorf("inserting contradiction: %w", err)
	}

	// Notification is advisory and one-way; failures are logged, never
	// propagated, and resolution stays with the user-interaction layer.
	ev := notify.Event{
		ContradictionID: id,
		TenantID:        a.TenantID,
		RecordAID:       a.ID,
		RecordBID:       b.ID,
		TextA:           a.Content,
		TextB:           b.Content,
		Kind:            string(kind),
		Confidence:      verdict.Confidence,
		Explanation:     verdict.Explanation,
		DetectedAt:      time.Now(),
	}
	if notifyErr := d.sink.NotifyContradiction(ctx, ev); notifyErr != nil {
		d.logger.Warn("notifying contradiction", "contradiction_id", id, "error", notifyErr)
	}

	d.logger.Info("contradiction emitted",
		"contradiction_id", id,
		"record_a", a.ID, "record_b", b.ID,
		"kind", kind, "confidence", verdict.Confidence,
		"explanation", truncate(verdict.Explanation, 200))
	return true, nil
}

// Unresolved lists open contradictions for a tenant, newest first.
func (d *Detector) Unresolved(ctx context.Context, tenantID string, limit int) ([]*Contradiction, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant ID is required", ErrValidation)
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := d.store.pool.Query(ctx,
		`SELECT id, tenant_id, record_a_id, record_b_id, confidence, kind,
		        explanation, resolved, resolution, sweep_generation, created_at
		 FROM contradictions
		 WHERE tenant_id = $1 AND resolved = false
		 ORDER BY created_at DESC, id
		 LIMIT $2`,
		tenantID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing contradictions: %w", err)
	}
	defer rows.Close()

	var result []*Contradiction
	for rows.Next() {
		c := &Contradiction{}
		if err := rows.Scan(
			&c.ID, &c.TenantID, &c.RecordAID, &c.RecordBID, &c.Confidence,
			&c.Kind, &c.Explanation, &c.Resolved, &c.Resolution, &c.Generation, &c.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning contradiction: %w", err)
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating contradictions: %w", err)
	}
	return result, nil
}

// Resolve applies a user decision to a contradiction: kept_a supersedes
// record B, kept_b supersedes record A, kept_both leaves both active, and
// deleted_both removes both records. The contradiction is marked resolved
// regardless of which records still exist.
func (d *Detector) Resolve(ctx context.Context, tenantID string, contradictionID uuid.UUID, resolution Resolution) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenant ID is required", ErrValidation)
	}
	if !resolution.Valid() {
		return fmt.Errorf("%w: invalid resolution %q", ErrValidation, resolution)
	}

	var recordA, recordB uuid.UUID
	err := d.store.pool.QueryRow(ctx,
		`UPDATE contradictions
		 SET resolved = true, resolution = $3
		 WHERE id = $1 AND tenant_id = $2 AND resolved = false
		 RETURNING record_a_id, record_b_id`,
		contradictionID, tenantID, resolution,
	).Scan(&recordA, &recordB)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("resolving contradiction %s: %w", contradictionID, err)
	}

	switch resolution {
	case ResolutionKeptA:
		err = d.supersedeIgnoringMissing(ctx, tenantID, recordB)
	case ResolutionKeptB:
		err = d.supersedeIgnoringMissing(ctx, tenantID, recordA)
	case ResolutionDeletedBoth:
		_, err = d.store.BatchDelete(ctx, tenantID, []uuid.UUID{recordA, recordB})
	case ResolutionKeptBoth:
		// Both stand; the record pair stays comparable but the unique
		// constraint prevents re-emission.
	}
	if err != nil {
		return fmt.Errorf("applying resolution %q: %w", resolution, err)
	}
	return nil
}

// supersedeIgnoringMissing supersedes a record, treating an already-gone
// record as success. Contradiction references are weak.
func (d *Detector) supersedeIgnoringMissing(ctx context.Context, tenantID string, id uuid.UUID) error {
	err := d.store.supersede(ctx, tenantID, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}
