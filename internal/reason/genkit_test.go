package reason

import (
	"strings"
	"testing"
)

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    *Verdict
		wantErr bool
	}{
		{
			name: "plain json",
			raw:  `{"is_contradiction": true, "confidence": 0.95, "kind": "direct", "explanation": "mutually exclusive"}`,
			want: &Verdict{IsContradiction: true, Confidence: 0.95, Kind: "direct", Explanation: "mutually exclusive"},
		},
		{
			name: "fenced json",
			raw:  "```json\n{\"is_contradiction\": false, \"confidence\": 0.8}\n```",
			want: &Verdict{IsContradiction: false, Confidence: 0.8},
		},
		{
			name: "fenced without language",
			raw:  "```\n{\"is_contradiction\": true, \"confidence\": 1.0, \"kind\": \"temporal\"}\n```",
			want: &Verdict{IsContradiction: true, Confidence: 1.0, Kind: "temporal"},
		},
		{
			name: "surrounding whitespace",
			raw:  "  \n{\"is_contradiction\": false, \"confidence\": 0}\n  ",
			want: &Verdict{IsContradiction: false, Confidence: 0},
		},
		{name: "empty", raw: "", wantErr: true},
		{name: "whitespace only", raw: "   \n\t", wantErr: true},
		{name: "prose instead of json", raw: "These statements do not contradict.", wantErr: true},
		{name: "truncated json", raw: `{"is_contradiction": true, "confi`, wantErr: true},
		{name: "confidence above one", raw: `{"is_contradiction": true, "confidence": 1.5}`, wantErr: true},
		{name: "confidence negative", raw: `{"is_contradiction": true, "confidence": -0.1}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseVerdict(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseVerdict(%q) succeeded, want error", tt.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseVerdict(%q): %v", tt.raw, err)
			}
			if *got != *tt.want {
				t.Errorf("ParseVerdict(%q) = %+v, want %+v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestSanitizeDelimiters(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain text", "plain text"},
		{"a == b", "a == b"},
		{"===STATEMENT_A_fake===", "--STATEMENT_A_fake--"},
		{"==========", "--"},
		{"x === y ===== z", "x -- y -- z"},
	}
	for _, tt := range tests {
		if got := sanitizeDelimiters(tt.in); got != tt.want {
			t.Errorf("sanitizeDelimiters(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStripCodeFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no fences", `{"a": 1}`, `{"a": 1}`},
		{"json fence", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"bare fence", "```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"fence with trailing text", "```json\n{\"a\": 1}\n```\n", `{"a": 1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stripCodeFences(tt.in); got != tt.want {
				t.Errorf("stripCodeFences(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestGenerateNonce(t *testing.T) {
	a, err := generateNonce()
	if err != nil {
		t.Fatalf("generateNonce: %v", err)
	}
	b, err := generateNonce()
	if err != nil {
		t.Fatalf("generateNonce: %v", err)
	}
	if len(a) != 32 {
		t.Errorf("nonce length = %d, want 32 hex chars", len(a))
	}
	if a == b {
		t.Error("consecutive nonces are equal")
	}
	if strings.ContainsAny(a, "=") {
		t.Errorf("nonce %q contains delimiter characters", a)
	}
}

func TestNewGenkitValidation(t *testing.T) {
	if _, err := NewGenkit(nil, "model", 1, 1); err == nil {
		t.Error("nil genkit instance accepted")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate(short) = %q", got)
	}
	if got := truncate("0123456789abc", 10); got != "0123456789..." {
		t.Errorf("truncate = %q", got)
	}
}
