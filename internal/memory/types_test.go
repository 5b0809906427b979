package memory

import (
	"testing"
	"time"
)

func TestTierValid(t *testing.T) {
	tests := []struct {
		tier Tier
		want bool
	}{
		{TierShort, true},
		{TierMedium, true},
		{TierLong, true},
		{Tier(""), false},
		{Tier("permanent"), false},
	}
	for _, tt := range tests {
		if got := tt.tier.Valid(); got != tt.want {
			t.Errorf("Tier(%q).Valid() = %v, want %v", tt.tier, got, tt.want)
		}
	}
}

func TestTierDefaultTTL(t *testing.T) {
	if got := TierShort.DefaultTTL(); got != time.Hour {
		t.Errorf("short TTL = %v, want 1h", got)
	}
	if got := TierMedium.DefaultTTL(); got != 30*24*time.Hour {
		t.Errorf("medium TTL = %v, want 720h", got)
	}
	if got := TierLong.DefaultTTL(); got != 0 {
		t.Errorf("long TTL = %v, want 0 (never expires)", got)
	}
}

func TestKindValid(t *testing.T) {
	for _, k := range AllKinds() {
		if !k.Valid() {
			t.Errorf("Kind(%q).Valid() = false, want true", k)
		}
	}
	if Kind("opinion").Valid() {
		t.Error(`Kind("opinion").Valid() = true, want false`)
	}
}

func TestResolutionValid(t *testing.T) {
	for _, r := range []Resolution{ResolutionKeptA, ResolutionKeptB, ResolutionKeptBoth, ResolutionDeletedBoth} {
		if !r.Valid() {
			t.Errorf("Resolution(%q).Valid() = false, want true", r)
		}
	}
	if Resolution("kept_neither").Valid() {
		t.Error(`Resolution("kept_neither").Valid() = true, want false`)
	}
}

func TestKindMatrixComparable(t *testing.T) {
	m := DefaultKindMatrix()

	tests := []struct {
		name string
		a, b Kind
		want bool
	}{
		{"same kind", KindFact, KindFact, true},
		{"same preference", KindPreference, KindPreference, true},
		{"unknown wildcard left", KindUnknown, KindFact, true},
		{"unknown wildcard right", KindPreference, KindUnknown, true},
		{"preference vs fact", KindPreference, KindFact, false},
		{"fact vs preference symmetric", KindFact, KindPreference, false},
		{"preference vs personal info", KindPreference, KindPersonalInfo, false},
		{"preference vs contact", KindPreference, KindContact, false},
		{"preference vs project", KindPreference, KindProject, false},
		{"contact vs project", KindContact, KindProject, false},
		{"fact vs personal info", KindFact, KindPersonalInfo, true},
		{"fact vs contact", KindFact, KindContact, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.Comparable(tt.a, tt.b); got != tt.want {
				t.Errorf("Comparable(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate() = %q, want unchanged", got)
	}
	if got := truncate("0123456789abc", 10); got != "0123456789..." {
		t.Errorf("truncate() = %q", got)
	}
}
