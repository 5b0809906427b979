// Package reason classifies whether two statements logically conflict. The
// Reasoner interface decouples contradiction detection from any specific
// reasoning backend so the detection algorithm is testable with a
// deterministic stub; Genkit is the production implementation.
package reason

import "context"

// Verdict is the Reasoner's judgment on a pair of statements.
type Verdict struct {
	IsContradiction bool    `json:"is_contradiction"`
	Confidence      float64 `json:"confidence"`
	Kind            string  `json:"kind"`
	Explanation     string  `json:"explanation"`
}

// Reasoner compares two statements for semantic conflict.
//
// Implementations must be safe for concurrent use. Callers treat any error
// as "no contradiction": a missed contradiction is lower severity than a
// stalled sweep.
type Reasoner interface {
	Compare(ctx context.Context, textA, textB string) (*Verdict, error)
}

// Func adapts an ordinary function to a Reasoner.
type Func func(ctx context.Context, textA, textB string) (*Verdict, error)

// Compare calls f.
func (f Func) Compare(ctx context.Context, textA, textB string) (*Verdict, error) {
	return f(ctx, textA, textB)
}
