package memory

import (
	"time"

	"github.com/google/uuid"
)

// Tier identifies the retention class of a record.
type Tier string

// Retention tiers. Short and medium tier records are scoped to a session;
// long tier records are scoped to a user and never expire.
const (
	TierShort  Tier = "short"
	TierMedium Tier = "medium"
	TierLong   Tier = "long"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierShort, TierMedium, TierLong:
		return true
	}
	return false
}

// AllTiers returns the tiers in eviction order (most volatile first).
func AllTiers() []Tier {
	return []Tier{TierShort, TierMedium, TierLong}
}

// DefaultTTL returns the default time-to-live for the tier.
// Zero means the tier never expires.
func (t Tier) DefaultTTL() time.Duration {
	switch t {
	case TierShort:
		return time.Hour
	case TierMedium:
		return 30 * 24 * time.Hour
	default:
		return 0
	}
}

// Kind classifies what a record states. Kinds gate which record pairs are
// worth comparing for contradictions.
type Kind string

// Record kinds.
const (
	KindFact         Kind = "fact"
	KindPreference   Kind = "preference"
	KindPersonalInfo Kind = "personal_info"
	KindContact      Kind = "contact"
	KindProject      Kind = "project"
	KindUnknown      Kind = "unknown"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindFact, KindPreference, KindPersonalInfo, KindContact, KindProject, KindUnknown:
		return true
	}
	return false
}

// AllKinds returns every valid kind.
func AllKinds() []Kind {
	return []Kind{KindFact, KindPreference, KindPersonalInfo, KindContact, KindProject, KindUnknown}
}

// Status is the lifecycle state of a record.
type Status string

// Record statuses. Merged and superseded records stay in the relational
// store for audit but are removed from the vector index and excluded from
// retrieval. Deletion (TTL eviction, forget, deleted_both resolutions) is
// physical, so it needs no status.
const (
	StatusActive     Status = "active"
	StatusMerged     Status = "merged"
	StatusSuperseded Status = "superseded"
)

// Provenance values for Record.Sources.
const (
	SourceConversation = "conversation-extraction"
	SourceTool         = "tool-output"
	SourceManual       = "manual"
)

// Record is a single memory record. TenantID and ScopeID form the ownership
// boundary: no read, write, or query ever crosses them.
type Record struct {
	ID       uuid.UUID
	TenantID string
	ScopeID  string
	Tier     Tier
	Kind     Kind
	Content  string

	// Importance is a bounded score in [0,1] used by consolidation survivor
	// selection and retrieval ranking. Touch() nudges it upward.
	Importance float64

	CreatedAt        time.Time
	LastReferencedAt time.Time

	// Sources is the union of provenance markers. Merging records unions
	// the sources of both sides.
	Sources []string

	// ConsolidationGroup points at the surviving record when Status is
	// merged. Nil for records that never lost a merge.
	ConsolidationGroup *uuid.UUID

	Status  Status
	Version int64

	// Score is the composite retrieval score. Populated by Retrieve only;
	// not persisted.
	Score float64

	// Similarity is the cosine similarity against the retrieval query.
	// Populated by Retrieve only; not persisted.
	Similarity float64
}

// ContradictionKind classifies how two records conflict.
type ContradictionKind string

// Contradiction kinds as reported by the Reasoner.
const (
	ContradictionDirect       ContradictionKind = "direct"
	ContradictionTemporal     ContradictionKind = "temporal"
	ContradictionNumerical    ContradictionKind = "numerical"
	ContradictionStatus       ContradictionKind = "status"
	ContradictionPreference   ContradictionKind = "preference"
	ContradictionRelationship ContradictionKind = "relationship"
	ContradictionFactual      ContradictionKind = "factual"
	ContradictionTaxonomic    ContradictionKind = "taxonomic"
)

// Valid reports whether k is a known contradiction kind.
func (k ContradictionKind) Valid() bool {
	switch k {
	case ContradictionDirect, ContradictionTemporal, ContradictionNumerical,
		ContradictionStatus, ContradictionPreference, ContradictionRelationship,
		ContradictionFactual, ContradictionTaxonomic:
		return true
	}
	return false
}

// Resolution records how a contradiction was settled by the user-facing layer.
type Resolution string

// Contradiction resolutions.
const (
	ResolutionKeptA       Resolution = "kept_a"
	ResolutionKeptB       Resolution = "kept_b"
	ResolutionKeptBoth    Resolution = "kept_both"
	ResolutionDeletedBoth Resolution = "deleted_both"
)

// Valid reports whether r is a known resolution.
func (r Resolution) Valid() bool {
	switch r {
	case ResolutionKeptA, ResolutionKeptB, ResolutionKeptBoth, ResolutionDeletedBoth:
		return true
	}
	return false
}

// Contradiction is a detected semantic conflict between two records.
// RecordA and RecordB are weak references: resolving or deleting either
// record does not cascade to the other.
type Contradiction struct {
	ID          uuid.UUID
	TenantID    string
	RecordAID   uuid.UUID
	RecordBID   uuid.UUID
	Confidence  float64
	Kind        ContradictionKind
	Explanation string
	Resolved    bool
	Resolution  *Resolution
	Generation  int64
	CreatedAt   time.Time
}

// KindMatrix decides which kind pairs are commensurable for contradiction
// comparison. Pairs absent from the matrix are comparable; listed pairs are
// skipped before any Reasoner call. The matrix is symmetric.
type KindMatrix map[Kind]map[Kind]bool

// DefaultKindMatrix returns the default incompatibility matrix. Preferences
// are opinions, not statements of fact, so comparing them against factual
// kinds produced false positives in practice.
func DefaultKindMatrix() KindMatrix {
	m := KindMatrix{}
	incompatible := [][2]Kind{
		{KindPreference, KindFact},
		{KindPreference, KindPersonalInfo},
		{KindPreference, KindContact},
		{KindPreference, KindProject},
		{KindContact, KindProject},
	}
	for _, pair := range incompatible {
		m.markIncompatible(pair[0], pair[1])
	}
	return m
}

func (m KindMatrix) markIncompatible(a, b Kind) {
	if m[a] == nil {
		m[a] = map[Kind]bool{}
	}
	if m[b] == nil {
		m[b] = map[Kind]bool{}
	}
	m[a][b] = true
	m[b][a] = true
}

// Comparable reports whether records of kinds a and b may be compared for
// contradictions. Identical kinds are always comparable; unknown is
// comparable with everything.
func (m KindMatrix) Comparable(a, b Kind) bool {
	if a == b || a == KindUnknown || b == KindUnknown {
		return true
	}
	return !m[a][b]
}

// Tuning knobs with their defaults. All are configurable through
// config.Config; the values here are the fallbacks.
const (
	// DedupThreshold is the inclusive cosine similarity above which two
	// records of compatible kind are merge candidates.
	DedupThreshold = 0.85

	// ConfidenceGate is the inclusive Reasoner confidence below which a
	// reported contradiction is discarded. Tuned upward from 0.85 after
	// taxonomic comparisons produced false positives.
	ConfidenceGate = 0.90

	// NeighborK is how many nearest neighbors a consolidation or
	// contradiction pass examines per record.
	NeighborK = 5

	// MinContradictionImportance filters contradiction candidates: records
	// below this importance are not worth a Reasoner call.
	MinContradictionImportance = 0.7

	// TouchIncrement is the bounded importance bump applied on retrieval
	// hits. Importance is capped at 1.0.
	TouchIncrement = 0.02

	// MaxContentLength bounds record content size.
	MaxContentLength = 2000

	// EmbedTimeout bounds a single embedding provider call.
	EmbedTimeout = 15 * time.Second

	// ReasonTimeout bounds a single Reasoner comparison. The Reasoner is
	// the least reliable collaborator; a slow call must not stall a sweep.
	ReasonTimeout = 20 * time.Second
)

// truncate shortens s to at most n bytes for logging.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
