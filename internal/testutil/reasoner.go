package testutil

import (
	"context"
	"sync"

	"github.com/mnemolabs/mnemo/internal/reason"
)

// ScriptedReasoner returns canned verdicts for specific text pairs and a
// "no contradiction" verdict for everything else. Pair lookup ignores
// argument order.
//
// Safe for concurrent use.
type ScriptedReasoner struct {
	mu       sync.Mutex
	verdicts map[[2]string]*reason.Verdict
	calls    int
	err      error
}

// NewScriptedReasoner creates an empty scripted reasoner.
func NewScriptedReasoner() *ScriptedReasoner {
	return &ScriptedReasoner{verdicts: map[[2]string]*reason.Verdict{}}
}

// Script pins the verdict for the unordered pair (textA, textB).
func (s *ScriptedReasoner) Script(textA, textB string, v *reason.Verdict) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verdicts[pairKey(textA, textB)] = v
}

// Fail makes every subsequent Compare call return err. Pass nil to recover.
func (s *ScriptedReasoner) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Calls reports how many Compare calls have been made.
func (s *ScriptedReasoner) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Compare returns the scripted verdict for the pair, or a negative verdict
// when none is scripted.
func (s *ScriptedReasoner) Compare(_ context.Context, textA, textB string) (*reason.Verdict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if v, ok := s.verdicts[pairKey(textA, textB)]; ok {
		return v, nil
	}
	return &reason.Verdict{IsContradiction: false, Confidence: 0.99}, nil
}

func pairKey(a, b string) [2]string {
	if a > b {
		a, b = b, a
	}
	return [2]string{a, b}
}
