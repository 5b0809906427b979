package memory

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/mnemolabs/mnemo/internal/vector"
)

// RankWeights are the scoring weights for retrieval. They should sum to 1.0
// but are not required to; similarity-dominant defaults keep ranking driven
// by semantic match with recency and importance as tiebreakers.
type RankWeights struct {
	Similarity float64
	Recency    float64
	Importance float64
}

// DefaultRankWeights returns the similarity-dominant defaults.
func DefaultRankWeights() RankWeights {
	return RankWeights{Similarity: 0.6, Recency: 0.2, Importance: 0.2}
}

// DefaultRecencyHalfLife is the default half-life for the recency decay
// term: a record untouched for one half-life contributes half the recency
// weight.
const DefaultRecencyHalfLife = 7 * 24 * time.Hour

// retrievalOverfetch is how many times topN candidates are pulled from the
// vector index before scoring. Ranking reorders by more than similarity, so
// the index's own top-N is not authoritative.
const retrievalOverfetch = 3

// MaxTopN caps a single retrieval request.
const MaxTopN = 50

// Ranker orders candidate records for context assembly by a composite of
// semantic similarity, recency, and importance.
type Ranker struct {
	store    *Store
	weights  RankWeights
	halfLife time.Duration
	logger   *slog.Logger
}

// NewRanker creates a retrieval ranker over the store.
func NewRanker(store *Store, weights RankWeights, halfLife time.Duration, logger *slog.Logger) (*Ranker, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if halfLife <= 0 {
		halfLife = DefaultRecencyHalfLife
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ranker{store: store, weights: weights, halfLife: halfLife, logger: logger}, nil
}

// Retrieve returns up to topN active records relevant to query within the
// (tenant, scope) boundary, ordered by composite score descending. Hits get
// a best-effort Touch so frequently retrieved records gain importance and
// refresh their medium-tier TTL.
func (r *Ranker) Retrieve(ctx context.Context, tenantID, scopeID, query string, topN int) ([]*Record, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant ID is required", ErrValidation)
	}
	if scopeID == "" {
		return nil, fmt.Errorf("%w: scope ID is required", ErrValidation)
	}
	if query == "" {
		return []*Record{}, nil
	}
	if topN <= 0 {
		topN = 5
	}
	if topN > MaxTopN {
		topN = MaxTopN
	}

	vec, err := r.store.embed(ctx, query)
	if err != nil {
		return nil, err
	}

	matches, err := r.store.index.Query(ctx, vec, topN*retrievalOverfetch, vector.Filter{
		TenantID: tenantID,
		ScopeID:  scopeID,
	})
	if err != nil {
		return nil, fmt.Errorf("querying vector index: %w", err)
	}
	if len(matches) == 0 {
		return []*Record{}, nil
	}

	ids := make([]uuid.UUID, len(matches))
	similarity := make(map[uuid.UUID]float64, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
		similarity[m.ID] = m.Score
	}

	// The index may lag the store (merged records are removed after the
	// row transition). readActive drops anything no longer active.
	byID, err := r.store.readActive(ctx, tenantID, ids)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	candidates := make([]*Record, 0, len(byID))
	for id, rec := range byID {
		rec.Similarity = similarity[id]
		rec.Score = r.score(rec, now)
		candidates = append(candidates, rec)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		// Ties broken by created_at descending.
		return candidates[i].CreatedAt.After(candidates[j].CreatedAt)
	})

	// Deduplicate by consolidation lineage: never return two records of
	// the same merge group.
	seen := make(map[uuid.UUID]bool, topN)
	results := make([]*Record, 0, topN)
	for _, rec := range candidates {
		key := rec.ID
		if rec.ConsolidationGroup != nil {
			key = *rec.ConsolidationGroup
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		results = append(results, rec)
		if len(results) == topN {
			break
		}
	}

	// Touch hits (log-and-continue; access tracking is advisory).
	for _, rec := range results {
		if touchErr := r.store.Touch(ctx, rec.ID); touchErr != nil {
			r.logger.Warn("touching retrieved memory", "id", rec.ID, "error", touchErr)
		}
	}

	return results, nil
}

// score computes the composite relevance of rec at time now.
func (r *Ranker) score(rec *Record, now time.Time) float64 {
	return r.weights.Similarity*rec.Similarity +
		r.weights.Recency*recencyDecay(now.Sub(rec.LastReferencedAt), r.halfLife) +
		r.weights.Importance*rec.Importance
}

// recencyDecay returns exp(-ln2 * elapsed/halfLife), clamped to [0,1].
// Monotonically decreasing in elapsed; 1.0 at zero elapsed, 0.5 at one
// half-life.
func recencyDecay(elapsed, halfLife time.Duration) float64 {
	if elapsed <= 0 {
		return 1.0
	}
	score := math.Exp(-math.Ln2 * elapsed.Hours() / halfLife.Hours())
	if score > 1.0 {
		return 1.0
	}
	return score
}
