package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/mnemolabs/mnemo/internal/vector"
)

// applyBudget bounds the apply phase of a sweep. It is detached from the
// sweep context so groups collected before a budget expiry still commit.
const applyBudget = 30 * time.Second

// ConsolidationConfig tunes the dedup sweep.
type ConsolidationConfig struct {
	// Threshold is the inclusive cosine similarity at or above which two
	// records of compatible kind become merge candidates.
	Threshold float64

	// NeighborK is how many nearest neighbors to examine per record.
	NeighborK int
}

// DefaultConsolidationConfig returns the standard dedup tuning.
func DefaultConsolidationConfig() ConsolidationConfig {
	return ConsolidationConfig{Threshold: DedupThreshold, NeighborK: NeighborK}
}

// mergeCandidate reports whether a similarity score qualifies a neighbor
// for merging. The threshold is inclusive.
func (cfg ConsolidationConfig) mergeCandidate(score float64) bool {
	return score >= cfg.Threshold
}

// ConsolidationStats summarizes one sweep.
type ConsolidationStats struct {
	Examined int // active records visited
	Groups   int // merge groups applied
	Merged   int // records transitioned to merged
	Failures int // merge groups that failed and were skipped
}

// Consolidator reduces redundancy within a (tenant, tier) scope by merging
// near-duplicate records.
type Consolidator struct {
	store  *Store
	config ConsolidationConfig
	logger *slog.Logger
}

// NewConsolidator creates a consolidation engine over the store.
func NewConsolidator(store *Store, config ConsolidationConfig, logger *slog.Logger) (*Consolidator, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if config.Threshold <= 0 || config.Threshold > 1 {
		return nil, fmt.Errorf("threshold %v out of range (0,1]", config.Threshold)
	}
	if config.NeighborK <= 0 {
		config.NeighborK = NeighborK
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consolidator{store: store, config: config, logger: logger}, nil
}

// Sweep finds and merges near-duplicates within (tenant, tier).
//
// Each active record is visited once; neighbors at or above the similarity
// threshold with a compatible kind join its merge group. Grouping is
// transitive within the sweep (a chain A-B-C collapses to one survivor) via
// union-find. Records merged in a prior sweep are already excluded from the
// active set and from the index, which makes the sweep idempotent: a second
// run over a stable scope finds nothing to do.
//
// Context cancellation stops the scan after the current record; groups
// collected so far are still applied, so partial progress persists.
func (c *Consolidator) Sweep(ctx context.Context, tenantID string, tier Tier) (ConsolidationStats, error) {
	var stats ConsolidationStats
	if tenantID == "" {
		return stats, fmt.Errorf("%w: tenant ID is required", ErrValidation)
	}
	if !tier.Valid() {
		return stats, fmt.Errorf("%w: invalid tier %q", ErrValidation, tier)
	}

	records, err := c.store.activeRecords(ctx, tenantID, tier)
	if err != nil {
		return stats, err
	}
	if len(records) < 2 {
		return stats, nil
	}

	byID := make(map[uuid.UUID]*Record, len(records))
	for _, rec := range records {
		byID[rec.ID] = rec
	}

	uf := newUnionFind()

scan:
	for _, rec := range records {
		select {
		case <-ctx.Done():
			c.logger.Info("consolidation scan aborted, applying partial groups",
				"tenant_id", tenantID, "tier", tier, "examined", stats.Examined)
			break scan
		default:
		}
		stats.Examined++

		vec, err := c.store.embed(ctx, rec.Content)
		if err != nil {
			c.logger.Warn("embedding record for consolidation", "id", rec.ID, "error", err)
			continue
		}

		// +1 because the record itself is its own nearest neighbor.
		matches, err := c.store.index.Query(ctx, vec, c.config.NeighborK+1, vector.Filter{
			TenantID: tenantID,
			ScopeID:  rec.ScopeID,
			Tier:     string(tier),
		})
		if err != nil {
			c.logger.Warn("querying neighbors for consolidation", "id", rec.ID, "error", err)
			continue
		}

		for _, m := range matches {
			if m.ID == rec.ID {
				continue
			}
			if !c.config.mergeCandidate(m.Score) {
				continue
			}
			neighbor, ok := byID[m.ID]
			if !ok {
				// Index lag: neighbor no longer active.
				continue
			}
			if !mergeCompatible(rec.Kind, neighbor.Kind) {
				continue
			}
			uf.union(rec.ID, m.ID)
		}
	}

	// Apply each merge group. Group failures are isolated: one bad group
	// never aborts the sweep. The apply phase runs on its own bounded
	// context: the sweep context may already be expired, and the work
	// collected above must not be thrown away because of it.
	applyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), applyBudget)
	defer cancel()

	for _, group := range uf.groups() {
		if len(group) < 2 {
			continue
		}
		if err := c.applyGroup(applyCtx, tenantID, group, byID); err != nil {
			stats.Failures++
			c.logger.Warn("applying merge group", "tenant_id", tenantID, "error", err)
			continue
		}
		stats.Groups++
		stats.Merged += len(group) - 1
	}

	return stats, nil
}

// applyGroup picks the survivor and merges the rest of the group into it.
func (c *Consolidator) applyGroup(ctx context.Context, tenantID string, group []uuid.UUID, byID map[uuid.UUID]*Record) error {
	members := make([]*Record, 0, len(group))
	for _, id := range group {
		if rec, ok := byID[id]; ok {
			members = append(members, rec)
		}
	}
	if len(members) < 2 {
		return nil
	}

	survivor := selectSurvivor(members)

	losers := make([]uuid.UUID, 0, len(members)-1)
	sources := map[string]bool{}
	for _, rec := range members {
		for _, src := range rec.Sources {
			sources[src] = true
		}
		if rec.ID != survivor.ID {
			losers = append(losers, rec.ID)
		}
	}

	merged := make([]string, 0, len(sources))
	for src := range sources {
		merged = append(merged, src)
	}
	sort.Strings(merged)

	return c.store.mergeGroup(ctx, tenantID, survivor.ID, losers, merged)
}

// selectSurvivor returns the group member to keep: highest importance,
// ties broken by the more recent created_at, then by id for determinism.
func selectSurvivor(members []*Record) *Record {
	survivor := members[0]
	for _, rec := range members[1:] {
		switch {
		case rec.Importance > survivor.Importance:
			survivor = rec
		case rec.Importance == survivor.Importance && rec.CreatedAt.After(survivor.CreatedAt):
			survivor = rec
		case rec.Importance == survivor.Importance && rec.CreatedAt.Equal(survivor.CreatedAt) &&
			rec.ID.String() < survivor.ID.String():
			survivor = rec
		}
	}
	return survivor
}

// mergeCompatible reports whether two kinds may be deduplicated into one
// record. Merging is stricter than contradiction comparison: only identical
// kinds merge, with unknown acting as a wildcard.
func mergeCompatible(a, b Kind) bool {
	return a == b || a == KindUnknown || b == KindUnknown
}

// unionFind is a plain union-find over record ids, used to collapse merge
// chains transitively within one sweep.
type unionFind struct {
	parent map[uuid.UUID]uuid.UUID
}

func newUnionFind() *unionFind {
	return &unionFind{parent: map[uuid.UUID]uuid.UUID{}}
}

func (u *unionFind) find(id uuid.UUID) uuid.UUID {
	root, ok := u.parent[id]
	if !ok {
		u.parent[id] = id
		return id
	}
	if root == id {
		return id
	}
	// Path compression.
	r := u.find(root)
	u.parent[id] = r
	return r
}

func (u *unionFind) union(a, b uuid.UUID) {
	ra, rb := u.find(a), u.find(b)
	if ra != rb {
		u.parent[rb] = ra
	}
}

// groups returns the connected components with more than one member.
func (u *unionFind) groups() [][]uuid.UUID {
	byRoot := map[uuid.UUID][]uuid.UUID{}
	for id := range u.parent {
		root := u.find(id)
		byRoot[root] = append(byRoot[root], id)
	}
	groups := make([][]uuid.UUID, 0, len(byRoot))
	for _, members := range byRoot {
		if len(members) > 1 {
			groups = append(groups, members)
		}
	}
	return groups
}
