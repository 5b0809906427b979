package memory

import "errors"

// Sentinel errors for memory operations. Part of the public API; check with
// errors.Is().
//
// Example:
//
//	rec, err := store.Read(ctx, id, tenantID)
//	if errors.Is(err, memory.ErrNotFound) {
//	    // Unknown id, or the record belongs to another tenant. The two
//	    // cases are deliberately indistinguishable.
//	}
var (
	// ErrValidation indicates a caller bug: missing tenant, scope, or an
	// invalid tier/kind/content. Surfaced immediately, never retried.
	ErrValidation = errors.New("invalid memory record")

	// ErrNotFound indicates the record does not exist or belongs to a
	// different tenant. Cross-tenant reads never reveal existence.
	ErrNotFound = errors.New("memory not found")

	// ErrEmbedding indicates the embedding provider failed after retries.
	// Writes that cannot embed fail loudly rather than skip indexing.
	ErrEmbedding = errors.New("embedding failed")

	// ErrReasoner indicates the contradiction Reasoner failed or timed out.
	// Sweep paths swallow and log it; a missed contradiction is lower
	// severity than a stalled sweep.
	ErrReasoner = errors.New("reasoner failed")

	// ErrSweepInProgress indicates another sweep already holds the tenant
	// lease. Callers should skip the cycle, not queue.
	ErrSweepInProgress = errors.New("sweep already in progress for tenant")
)
