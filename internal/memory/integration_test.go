package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/goleak"

	"github.com/mnemolabs/mnemo/internal/memory"
	"github.com/mnemolabs/mnemo/internal/reason"
	"github.com/mnemolabs/mnemo/internal/testutil"
	"github.com/mnemolabs/mnemo/internal/vector"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// testcontainers keeps background goroutines for the lifetime of
		// the docker client.
		goleak.IgnoreTopFunction("github.com/testcontainers/testcontainers-go.(*Reaper).connect.func1"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

// harness bundles the store and its collaborators over a containerized
// database.
type harness struct {
	store    *memory.Store
	embedder *testutil.FakeEmbedder
	index    *vector.PG
	db       *testutil.TestDBContainer
}

func setupHarness(t *testing.T) *harness {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	db, cleanup := testutil.SetupTestDB(t)
	t.Cleanup(cleanup)

	index, err := vector.NewPG(db.Pool)
	if err != nil {
		t.Fatalf("NewPG: %v", err)
	}

	embedder := testutil.NewFakeEmbedder(vector.Dimension)
	store, err := memory.NewStore(db.Pool, index, embedder, memory.DefaultTTLPolicy(), testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	return &harness{store: store, embedder: embedder, index: index, db: db}
}

func (h *harness) write(t *testing.T, rec *memory.Record) uuid.UUID {
	t.Helper()
	id, err := h.store.Write(context.Background(), rec)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	return id
}

func record(tenant, scope string, tier memory.Tier, kind memory.Kind, content string, importance float64) *memory.Record {
	return &memory.Record{
		TenantID:   tenant,
		ScopeID:    scope,
		Tier:       tier,
		Kind:       kind,
		Content:    content,
		Importance: importance,
	}
}

func TestStoreWriteReadTenantIsolation(t *testing.T) {
	h := setupHarness(t)
	ctx := context.Background()

	id := h.write(t, record("alice", "s1", memory.TierMedium, memory.KindFact, "works at Acme", 0.5))

	got, err := h.store.Read(ctx, id, "alice")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Content != "works at Acme" || got.Kind != memory.KindFact {
		t.Errorf("Read returned %+v", got)
	}
	if got.Status != memory.StatusActive || got.Version != 1 {
		t.Errorf("defaults not applied: status=%s version=%d", got.Status, got.Version)
	}

	// Another tenant sees ErrNotFound, indistinguishable from a bad id.
	if _, err := h.store.Read(ctx, id, "bob"); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("cross-tenant Read error = %v, want ErrNotFound", err)
	}
	if _, err := h.store.Read(ctx, uuid.New(), "alice"); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("unknown id Read error = %v, want ErrNotFound", err)
	}
}

func TestStoreTouch(t *testing.T) {
	h := setupHarness(t)
	ctx := context.Background()

	id := h.write(t, record("alice", "s1", memory.TierMedium, memory.KindFact, "likes hiking", 0.5))
	before, _ := h.store.Read(ctx, id, "alice")

	if err := h.store.Touch(ctx, id); err != nil {
		t.Fatalf("Touch: %v", err)
	}

	after, err := h.store.Read(ctx, id, "alice")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if after.Importance <= before.Importance {
		t.Errorf("importance not bumped: %v -> %v", before.Importance, after.Importance)
	}
	if !after.LastReferencedAt.After(before.LastReferencedAt) {
		t.Errorf("last_referenced_at not advanced")
	}
	if after.Version != before.Version+1 {
		t.Errorf("version = %d, want %d", after.Version, before.Version+1)
	}

	// Importance is capped at 1.0.
	capped := h.write(t, record("alice", "s1", memory.TierMedium, memory.KindFact, "nearly maximal", 0.999))
	if err := h.store.Touch(ctx, capped); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	got, _ := h.store.Read(ctx, capped, "alice")
	if got.Importance > 1.0 {
		t.Errorf("importance exceeded cap: %v", got.Importance)
	}
}

func TestEvictExpired(t *testing.T) {
	h := setupHarness(t)
	ctx := context.Background()
	now := time.Now()

	ttl := memory.TierShort.DefaultTTL()

	expired := record("alice", "s1", memory.TierShort, memory.KindFact, "stale note", 0.5)
	expired.CreatedAt = now.Add(-2 * time.Hour)
	expiredID := h.write(t, expired)

	// One second past the TTL is evicted; a record at exactly the TTL has
	// not yet outlived it and stays.
	justPast := record("alice", "s1", memory.TierShort, memory.KindFact, "barely stale", 0.5)
	justPast.CreatedAt = now.Add(-ttl - time.Second)
	justPastID := h.write(t, justPast)

	atBoundary := record("alice", "s1", memory.TierShort, memory.KindFact, "exactly at ttl", 0.5)
	atBoundary.CreatedAt = now.Add(-ttl)
	atBoundaryID := h.write(t, atBoundary)

	fresh := h.write(t, record("alice", "s1", memory.TierShort, memory.KindFact, "fresh note", 0.5))

	n, err := h.store.EvictExpired(ctx, "alice", memory.TierShort, now)
	if err != nil {
		t.Fatalf("EvictExpired: %v", err)
	}
	if n != 2 {
		t.Errorf("evicted %d, want 2", n)
	}
	for _, id := range []uuid.UUID{expiredID, justPastID} {
		if _, err := h.store.Read(ctx, id, "alice"); !errors.Is(err, memory.ErrNotFound) {
			t.Errorf("expired record %s still readable: %v", id, err)
		}
	}
	if _, err := h.store.Read(ctx, atBoundaryID, "alice"); err != nil {
		t.Errorf("boundary record evicted: %v", err)
	}
	if _, err := h.store.Read(ctx, fresh, "alice"); err != nil {
		t.Errorf("fresh record evicted: %v", err)
	}

	// Long tier never expires.
	old := record("alice", "s1", memory.TierLong, memory.KindFact, "ancient wisdom", 0.9)
	old.CreatedAt = now.Add(-365 * 24 * time.Hour)
	old.LastReferencedAt = old.CreatedAt
	h.write(t, old)
	n, err = h.store.EvictExpired(ctx, "alice", memory.TierLong, now)
	if err != nil {
		t.Fatalf("EvictExpired(long): %v", err)
	}
	if n != 0 {
		t.Errorf("long tier evicted %d, want 0", n)
	}

	// Re-running on a clean scope is a no-op.
	n, err = h.store.EvictExpired(ctx, "alice", memory.TierShort, now)
	if err != nil || n != 0 {
		t.Errorf("second eviction = (%d, %v), want (0, nil)", n, err)
	}
}

func TestRetrieveRanksFiltersAndTouches(t *testing.T) {
	h := setupHarness(t)
	ctx := context.Background()

	h.embedder.Register("query", testutil.BasisVector(vector.Dimension, 0))
	h.embedder.Register("close match", testutil.SimilarVector(vector.Dimension, 0, 0.95))
	h.embedder.Register("loose match", testutil.SimilarVector(vector.Dimension, 0, 0.60))
	h.embedder.Register("other scope", testutil.SimilarVector(vector.Dimension, 0, 0.99))

	closeID := h.write(t, record("alice", "s1", memory.TierMedium, memory.KindFact, "close match", 0.5))
	h.write(t, record("alice", "s1", memory.TierMedium, memory.KindFact, "loose match", 0.5))
	h.write(t, record("alice", "s2", memory.TierMedium, memory.KindFact, "other scope", 0.9))
	h.write(t, record("bob", "s1", memory.TierMedium, memory.KindFact, "close match", 0.9))

	ranker, err := memory.NewRanker(h.store, memory.DefaultRankWeights(), memory.DefaultRecencyHalfLife, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("NewRanker: %v", err)
	}

	results, err := ranker.Retrieve(ctx, "alice", "s1", "query", 5)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2 (scope and tenant filtered)", len(results))
	}
	if results[0].Content != "close match" {
		t.Errorf("top result = %q, want close match", results[0].Content)
	}
	if results[0].Score <= results[1].Score {
		t.Errorf("results not ordered by score: %v <= %v", results[0].Score, results[1].Score)
	}

	// Retrieval hits get touched.
	got, _ := h.store.Read(ctx, closeID, "alice")
	if got.Importance <= 0.5 {
		t.Errorf("hit not touched: importance = %v", got.Importance)
	}

	// Empty query returns empty, not an error.
	empty, err := ranker.Retrieve(ctx, "alice", "s1", "", 5)
	if err != nil || len(empty) != 0 {
		t.Errorf("empty query = (%v, %v), want ([], nil)", empty, err)
	}
}

func TestConsolidationMergesTransitiveChain(t *testing.T) {
	h := setupHarness(t)
	ctx := context.Background()

	// A~B and B~C are above the threshold, A~C is not: the chain must
	// still collapse into a single group.
	dim := vector.Dimension
	vecA := testutil.BasisVector(dim, 0)
	vecB := testutil.SimilarVector(dim, 0, 0.90) // cos(A,B) = 0.90
	vecC := make([]float32, dim)                 // cos(A,C) = 0.62, cos(B,C) ≈ 0.90
	vecC[0] = 0.62
	vecC[1] = 0.7846
	h.embedder.Register("likes coffee", vecA)
	h.embedder.Register("enjoys coffee", vecB)
	h.embedder.Register("drinks coffee daily", vecC)

	a := record("alice", "s1", memory.TierMedium, memory.KindPreference, "likes coffee", 0.9)
	a.Sources = []string{"conversation-extraction"}
	aID := h.write(t, a)
	b := record("alice", "s1", memory.TierMedium, memory.KindPreference, "enjoys coffee", 0.5)
	b.Sources = []string{"tool-output"}
	bID := h.write(t, b)
	cID := h.write(t, record("alice", "s1", memory.TierMedium, memory.KindPreference, "drinks coffee daily", 0.4))

	consolidator, err := memory.NewConsolidator(h.store, memory.DefaultConsolidationConfig(), testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("NewConsolidator: %v", err)
	}

	stats, err := consolidator.Sweep(ctx, "alice", memory.TierMedium)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if stats.Groups != 1 || stats.Merged != 2 {
		t.Fatalf("stats = %+v, want 1 group, 2 merged", stats)
	}

	// Highest importance survives.
	survivor, err := h.store.Read(ctx, aID, "alice")
	if err != nil {
		t.Fatalf("reading survivor: %v", err)
	}
	if survivor.Status != memory.StatusActive {
		t.Fatalf("survivor status = %s", survivor.Status)
	}
	// Sources are unioned across the group.
	wantSources := map[string]bool{"conversation-extraction": true, "tool-output": true, "manual": true}
	for _, s := range survivor.Sources {
		delete(wantSources, s)
	}
	if len(wantSources) != 0 {
		t.Errorf("survivor sources %v missing %v", survivor.Sources, wantSources)
	}

	for _, loserID := range []uuid.UUID{bID, cID} {
		loser, err := h.store.Read(ctx, loserID, "alice")
		if err != nil {
			t.Fatalf("reading loser: %v", err)
		}
		if loser.Status != memory.StatusMerged {
			t.Errorf("loser %s status = %s, want merged", loserID, loser.Status)
		}
		if loser.ConsolidationGroup == nil || *loser.ConsolidationGroup != aID {
			t.Errorf("loser %s consolidation_group = %v, want %s", loserID, loser.ConsolidationGroup, aID)
		}
	}

	// Losers are out of the index: retrieval can no longer see them.
	active, err := h.store.List(ctx, "alice", memory.TierMedium, 10, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(active) != 1 {
		t.Errorf("%d active records after merge, want 1", len(active))
	}

	// Idempotent: a second sweep finds nothing.
	stats, err = consolidator.Sweep(ctx, "alice", memory.TierMedium)
	if err != nil {
		t.Fatalf("second Sweep: %v", err)
	}
	if stats.Merged != 0 {
		t.Errorf("second sweep merged %d, want 0", stats.Merged)
	}
}

func TestConsolidationRespectsKindBoundary(t *testing.T) {
	h := setupHarness(t)
	ctx := context.Background()

	// Nearly identical vectors but incompatible kinds must not merge.
	h.embedder.Register("likes tea", testutil.BasisVector(vector.Dimension, 0))
	h.embedder.Register("tea is green", testutil.SimilarVector(vector.Dimension, 0, 0.97))

	h.write(t, record("alice", "s1", memory.TierMedium, memory.KindPreference, "likes tea", 0.5))
	h.write(t, record("alice", "s1", memory.TierMedium, memory.KindFact, "tea is green", 0.5))

	consolidator, _ := memory.NewConsolidator(h.store, memory.DefaultConsolidationConfig(), testutil.DiscardLogger())
	stats, err := consolidator.Sweep(ctx, "alice", memory.TierMedium)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if stats.Merged != 0 {
		t.Errorf("merged %d across kind boundary, want 0", stats.Merged)
	}
}

func TestConsolidationDedupThresholdBoundary(t *testing.T) {
	h := setupHarness(t)
	ctx := context.Background()

	// Vectors are stored as float32, so a cosine of exactly 0.85 cannot
	// round-trip; these pairs bracket the inclusive cutoff from both sides.
	// The exact comparison is covered by the threshold unit test.
	dim := vector.Dimension
	h.embedder.Register("drinks espresso", testutil.BasisVector(dim, 0))
	h.embedder.Register("drinks an espresso", testutil.SimilarVector(dim, 0, 0.8501))
	h.embedder.Register("runs marathons", testutil.BasisVector(dim, 2))
	h.embedder.Register("runs half marathons", testutil.SimilarVector(dim, 2, 0.8499))

	h.write(t, record("alice", "s1", memory.TierMedium, memory.KindFact, "drinks espresso", 0.8))
	h.write(t, record("alice", "s1", memory.TierMedium, memory.KindFact, "drinks an espresso", 0.5))
	belowA := h.write(t, record("alice", "s2", memory.TierMedium, memory.KindFact, "runs marathons", 0.8))
	belowB := h.write(t, record("alice", "s2", memory.TierMedium, memory.KindFact, "runs half marathons", 0.5))

	consolidator, err := memory.NewConsolidator(h.store, memory.DefaultConsolidationConfig(), testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("NewConsolidator: %v", err)
	}

	stats, err := consolidator.Sweep(ctx, "alice", memory.TierMedium)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if stats.Groups != 1 || stats.Merged != 1 {
		t.Fatalf("stats = %+v, want exactly the above-threshold pair merged", stats)
	}

	// The below-threshold pair stays untouched.
	for _, id := range []uuid.UUID{belowA, belowB} {
		got, err := h.store.Read(ctx, id, "alice")
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if got.Status != memory.StatusActive {
			t.Errorf("below-threshold record %s status = %s, want active", id, got.Status)
		}
	}
}

// cancelingEmbedder cancels a context after a fixed number of Embed calls,
// simulating a sweep whose wall-clock budget expires mid-scan.
type cancelingEmbedder struct {
	inner  *testutil.FakeEmbedder
	cancel context.CancelFunc
	after  int

	mu    sync.Mutex
	calls int
}

func (e *cancelingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.inner.Embed(ctx, text)
	e.mu.Lock()
	e.calls++
	if e.calls == e.after {
		e.cancel()
	}
	e.mu.Unlock()
	return vec, err
}

func TestConsolidationCommitsGroupsAfterContextExpiry(t *testing.T) {
	h := setupHarness(t)

	h.embedder.Register("likes coffee", testutil.BasisVector(vector.Dimension, 0))
	h.embedder.Register("enjoys coffee", testutil.SimilarVector(vector.Dimension, 0, 0.97))

	aID := h.write(t, record("alice", "s1", memory.TierMedium, memory.KindPreference, "likes coffee", 0.9))
	bID := h.write(t, record("alice", "s1", memory.TierMedium, memory.KindPreference, "enjoys coffee", 0.4))

	// The sweep context dies during the scan of the second record, after
	// the first record's pass has already grouped the pair.
	sweepCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	embedder := &cancelingEmbedder{inner: h.embedder, cancel: cancel, after: 2}

	sweepStore, err := memory.NewStore(h.db.Pool, h.index, embedder, memory.DefaultTTLPolicy(), testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	consolidator, err := memory.NewConsolidator(sweepStore, memory.DefaultConsolidationConfig(), testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("NewConsolidator: %v", err)
	}

	stats, err := consolidator.Sweep(sweepCtx, "alice", memory.TierMedium)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if sweepCtx.Err() == nil {
		t.Fatal("sweep context still live, cancellation never fired")
	}

	// Groups collected before the expiry still commit.
	if stats.Groups != 1 || stats.Merged != 1 || stats.Failures != 0 {
		t.Fatalf("stats = %+v, want the collected group applied with no failures", stats)
	}

	ctx := context.Background()
	survivor, err := h.store.Read(ctx, aID, "alice")
	if err != nil {
		t.Fatalf("reading survivor: %v", err)
	}
	if survivor.Status != memory.StatusActive {
		t.Errorf("survivor status = %s, want active", survivor.Status)
	}
	loser, err := h.store.Read(ctx, bID, "alice")
	if err != nil {
		t.Fatalf("reading loser: %v", err)
	}
	if loser.Status != memory.StatusMerged {
		t.Errorf("loser status = %s, want merged", loser.Status)
	}
}

func newDetector(t *testing.T, h *harness) (*memory.Detector, *testutil.ScriptedReasoner, *testutil.CaptureSink) {
	t.Helper()
	reasoner := testutil.NewScriptedReasoner()
	sink := testutil.NewCaptureSink()
	detector, err := memory.NewDetector(h.store, reasoner, sink, memory.DefaultDetectorConfig(), testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	return detector, reasoner, sink
}

func TestContradictionDetectionConfidenceGate(t *testing.T) {
	h := setupHarness(t)
	ctx := context.Background()

	dim := vector.Dimension
	h.embedder.Register("lives in Berlin", testutil.BasisVector(dim, 0))
	h.embedder.Register("lives in Madrid", testutil.SimilarVector(dim, 0, 0.92))
	h.embedder.Register("owns a cat", testutil.BasisVector(dim, 4))
	h.embedder.Register("owns no pets", testutil.SimilarVector(dim, 4, 0.92))

	h.write(t, record("alice", "s1", memory.TierLong, memory.KindPersonalInfo, "lives in Berlin", 0.9))
	h.write(t, record("alice", "s1", memory.TierLong, memory.KindPersonalInfo, "lives in Madrid", 0.9))
	h.write(t, record("alice", "s1", memory.TierLong, memory.KindPersonalInfo, "owns a cat", 0.9))
	h.write(t, record("alice", "s1", memory.TierLong, memory.KindPersonalInfo, "owns no pets", 0.9))

	detector, reasoner, sink := newDetector(t, h)

	// Exactly at the gate: emitted. Just below: discarded.
	reasoner.Script("lives in Berlin", "lives in Madrid", &reason.Verdict{
		IsContradiction: true, Confidence: 0.90, Kind: "factual",
		Explanation: "different cities of residence",
	})
	reasoner.Script("owns a cat", "owns no pets", &reason.Verdict{
		IsContradiction: true, Confidence: 0.8999, Kind: "direct",
		Explanation: "pet ownership conflict",
	})

	stats, err := detector.Sweep(ctx, "alice", memory.TierLong, 1)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if stats.Emitted != 1 {
		t.Fatalf("emitted %d, want 1 (gate is inclusive at 0.90)", stats.Emitted)
	}

	events := sink.Events()
	if len(events) != 1 {
		t.Fatalf("sink got %d events, want 1", len(events))
	}
	if events[0].Confidence != 0.90 || events[0].Kind != "factual" {
		t.Errorf("event = %+v", events[0])
	}

	found, err := detector.Unresolved(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("Unresolved: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("unresolved = %d, want 1", len(found))
	}

	// Re-sweeping a stable scope must not duplicate the finding.
	stats, err = detector.Sweep(ctx, "alice", memory.TierLong, 2)
	if err != nil {
		t.Fatalf("second Sweep: %v", err)
	}
	if stats.Emitted != 0 {
		t.Errorf("second sweep emitted %d, want 0", stats.Emitted)
	}
}

func TestContradictionKindPreFilter(t *testing.T) {
	h := setupHarness(t)
	ctx := context.Background()

	// Similar vectors, incompatible kinds: no Reasoner call at all.
	h.embedder.Register("prefers tabs", testutil.BasisVector(vector.Dimension, 0))
	h.embedder.Register("uses spaces at work", testutil.SimilarVector(vector.Dimension, 0, 0.95))

	h.write(t, record("alice", "s1", memory.TierLong, memory.KindPreference, "prefers tabs", 0.9))
	h.write(t, record("alice", "s1", memory.TierLong, memory.KindFact, "uses spaces at work", 0.9))

	detector, reasoner, _ := newDetector(t, h)
	stats, err := detector.Sweep(ctx, "alice", memory.TierLong, 1)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if reasoner.Calls() != 0 {
		t.Errorf("reasoner called %d times, want 0 (kind pre-filter)", reasoner.Calls())
	}
	if stats.SkippedKind == 0 {
		t.Errorf("stats.SkippedKind = 0, want > 0")
	}
}

func TestContradictionSkipsLowImportance(t *testing.T) {
	h := setupHarness(t)
	ctx := context.Background()

	h.embedder.Register("likes jazz", testutil.BasisVector(vector.Dimension, 0))
	h.embedder.Register("hates jazz", testutil.SimilarVector(vector.Dimension, 0, 0.95))

	h.write(t, record("alice", "s1", memory.TierLong, memory.KindPreference, "likes jazz", 0.9))
	// Below the 0.7 importance floor: not a candidate.
	h.write(t, record("alice", "s1", memory.TierLong, memory.KindPreference, "hates jazz", 0.3))

	detector, reasoner, _ := newDetector(t, h)
	if _, err := detector.Sweep(ctx, "alice", memory.TierLong, 1); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	// Only the pass with the important record as the candidate may reach
	// the reasoner.
	if reasoner.Calls() > 1 {
		t.Errorf("reasoner called %d times, want at most 1", reasoner.Calls())
	}
}

func TestContradictionReasonerFailureIsIsolated(t *testing.T) {
	h := setupHarness(t)
	ctx := context.Background()

	h.embedder.Register("works remotely", testutil.BasisVector(vector.Dimension, 0))
	h.embedder.Register("commutes daily", testutil.SimilarVector(vector.Dimension, 0, 0.95))

	h.write(t, record("alice", "s1", memory.TierLong, memory.KindFact, "works remotely", 0.9))
	h.write(t, record("alice", "s1", memory.TierLong, memory.KindFact, "commutes daily", 0.9))

	detector, reasoner, sink := newDetector(t, h)
	reasoner.Fail(errors.New("model overloaded"))

	stats, err := detector.Sweep(ctx, "alice", memory.TierLong, 1)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if stats.ReasonerErrors == 0 {
		t.Errorf("stats.ReasonerErrors = 0, want > 0")
	}
	if len(sink.Events()) != 0 {
		t.Errorf("events emitted despite reasoner failure")
	}
}

func TestResolveContradiction(t *testing.T) {
	h := setupHarness(t)
	ctx := context.Background()

	dim := vector.Dimension
	h.embedder.Register("team lead is Sam", testutil.BasisVector(dim, 0))
	h.embedder.Register("team lead is Kim", testutil.SimilarVector(dim, 0, 0.93))

	h.write(t, record("alice", "s1", memory.TierLong, memory.KindFact, "team lead is Sam", 0.9))
	h.write(t, record("alice", "s1", memory.TierLong, memory.KindFact, "team lead is Kim", 0.9))

	detector, reasoner, _ := newDetector(t, h)
	reasoner.Script("team lead is Sam", "team lead is Kim", &reason.Verdict{
		IsContradiction: true, Confidence: 0.97, Kind: "status",
		Explanation: "conflicting team leads",
	})
	if _, err := detector.Sweep(ctx, "alice", memory.TierLong, 1); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	found, err := detector.Unresolved(ctx, "alice", 10)
	if err != nil || len(found) != 1 {
		t.Fatalf("Unresolved = (%v, %v), want one finding", found, err)
	}
	c := found[0]

	// The contradiction belongs to its tenant.
	if err := detector.Resolve(ctx, "bob", c.ID, memory.ResolutionKeptA); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("cross-tenant Resolve = %v, want ErrNotFound", err)
	}

	if err := detector.Resolve(ctx, "alice", c.ID, memory.ResolutionKeptA); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	// The pair is stored in canonical id order, so map through the
	// contradiction's own record references.
	keptID, supersededID := c.RecordAID, c.RecordBID

	kept, err := h.store.Read(ctx, keptID, "alice")
	if err != nil {
		t.Fatalf("reading kept record: %v", err)
	}
	if kept.Status != memory.StatusActive {
		t.Errorf("kept record status = %s", kept.Status)
	}
	superseded, err := h.store.Read(ctx, supersededID, "alice")
	if err != nil {
		t.Fatalf("reading superseded record: %v", err)
	}
	if superseded.Status != memory.StatusSuperseded {
		t.Errorf("superseded record status = %s", superseded.Status)
	}

	// Resolving twice fails: the contradiction is settled.
	if err := detector.Resolve(ctx, "alice", c.ID, memory.ResolutionKeptB); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("double Resolve = %v, want ErrNotFound", err)
	}

	if remaining, _ := detector.Unresolved(ctx, "alice", 10); len(remaining) != 0 {
		t.Errorf("%d unresolved after resolution, want 0", len(remaining))
	}
}

func TestSchedulerSweepTenantLock(t *testing.T) {
	h := setupHarness(t)
	ctx := context.Background()

	h.write(t, record("alice", "s1", memory.TierMedium, memory.KindFact, "remember this", 0.5))

	consolidator, _ := memory.NewConsolidator(h.store, memory.DefaultConsolidationConfig(), testutil.DiscardLogger())
	detector, _, _ := newDetector(t, h)
	scheduler, err := memory.NewScheduler(h.db.Pool, h.store, consolidator, detector,
		memory.DefaultSchedulerConfig(), testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}

	// A normal sweep succeeds.
	if err := scheduler.SweepTenant(ctx, "alice", 1); err != nil {
		t.Fatalf("SweepTenant: %v", err)
	}

	// Hold the tenant's advisory lock on a separate connection; the sweep
	// must refuse to run concurrently.
	conn, err := h.db.Pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquiring connection: %v", err)
	}
	defer conn.Release()
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock(hashtext($1))`, "alice"); err != nil {
		t.Fatalf("taking advisory lock: %v", err)
	}

	if err := scheduler.SweepTenant(ctx, "alice", 2); !errors.Is(err, memory.ErrSweepInProgress) {
		t.Errorf("locked SweepTenant = %v, want ErrSweepInProgress", err)
	}

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_unlock(hashtext($1))`, "alice"); err != nil {
		t.Fatalf("releasing advisory lock: %v", err)
	}

	// Lock released: sweeps work again.
	if err := scheduler.SweepTenant(ctx, "alice", 3); err != nil {
		t.Errorf("SweepTenant after unlock: %v", err)
	}
}
