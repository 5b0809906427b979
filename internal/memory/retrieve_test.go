package memory

import (
	"math"
	"testing"
	"time"
)

func TestRecencyDecay(t *testing.T) {
	halfLife := 7 * 24 * time.Hour

	tests := []struct {
		name    string
		elapsed time.Duration
		want    float64
	}{
		{"zero elapsed", 0, 1.0},
		{"negative elapsed", -time.Hour, 1.0},
		{"one half-life", halfLife, 0.5},
		{"two half-lives", 2 * halfLife, 0.25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := recencyDecay(tt.elapsed, halfLife)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("recencyDecay(%v) = %v, want %v", tt.elapsed, got, tt.want)
			}
		})
	}
}

func TestRecencyDecayMonotonic(t *testing.T) {
	halfLife := 24 * time.Hour
	prev := 1.1
	for _, elapsed := range []time.Duration{0, time.Hour, 6 * time.Hour, 24 * time.Hour, 72 * time.Hour, 30 * 24 * time.Hour} {
		got := recencyDecay(elapsed, halfLife)
		if got > prev {
			t.Fatalf("recencyDecay not monotonic at %v: %v > %v", elapsed, got, prev)
		}
		if got < 0 || got > 1 {
			t.Fatalf("recencyDecay(%v) = %v out of [0,1]", elapsed, got)
		}
		prev = got
	}
}

func TestRankerScore(t *testing.T) {
	r := &Ranker{
		weights:  DefaultRankWeights(),
		halfLife: DefaultRecencyHalfLife,
	}
	now := time.Now()

	fresh := &Record{Similarity: 1.0, Importance: 1.0, LastReferencedAt: now}
	if got := r.score(fresh, now); math.Abs(got-1.0) > 1e-9 {
		t.Errorf("perfect record score = %v, want 1.0", got)
	}

	// Similarity dominates: a much more similar but older record should
	// outrank a fresh but dissimilar one.
	similar := &Record{Similarity: 0.95, Importance: 0.3, LastReferencedAt: now.Add(-30 * 24 * time.Hour)}
	dissimilar := &Record{Similarity: 0.30, Importance: 0.5, LastReferencedAt: now}
	if r.score(similar, now) <= r.score(dissimilar, now) {
		t.Errorf("similarity-dominant ranking violated: %v <= %v",
			r.score(similar, now), r.score(dissimilar, now))
	}
}

func TestDefaultRankWeights(t *testing.T) {
	w := DefaultRankWeights()
	if w.Similarity != 0.6 || w.Recency != 0.2 || w.Importance != 0.2 {
		t.Errorf("DefaultRankWeights() = %+v", w)
	}
}
