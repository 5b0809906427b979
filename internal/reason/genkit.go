package reason

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"
)

// maxResponseBytes limits comparison LLM response size (5 KB).
const maxResponseBytes = 5 * 1024

// comparisonPrompt instructs the LLM to judge whether two statements about
// the same user contradict each other. Nonce-delimited boundaries prevent
// prompt injection from record content.
// %s placeholders: (1) nonce, (2) statement A, (3) nonce, (4) nonce,
// (5) statement B, (6) nonce.
const comparisonPrompt = `You are a contradiction detector. Given two statements about the same user, decide whether they logically contradict each other.

===STATEMENT_A_%s===
%s
===END_STATEMENT_A_%s===

===STATEMENT_B_%s===
%s
===END_STATEMENT_B_%s===

Statements contradict only when both cannot be true at the same time. Classify the contradiction kind as one of: direct, temporal, numerical, status, preference, relationship, factual, taxonomic.

Be conservative: statements about different topics, different times, or a category and its member (e.g. "likes pasta" vs "dislikes spaghetti") are NOT contradictions unless mutually exclusive.

Output JSON only: {"is_contradiction": true|false, "confidence": 0.0-1.0, "kind": "...", "explanation": "..."}`

// Genkit is a Reasoner backed by a Genkit LLM. A shared rate limiter caps
// the call rate across all concurrent sweeps.
type Genkit struct {
	g         *genkit.Genkit
	modelName string
	limiter   *rate.Limiter
}

// NewGenkit creates a Genkit-backed Reasoner. callsPerSecond caps the LLM
// call rate with the given burst; zero or negative disables limiting.
func NewGenkit(g *genkit.Genkit, modelName string, callsPerSecond float64, burst int) (*Genkit, error) {
	if g == nil {
		return nil, fmt.Errorf("genkit instance is required")
	}
	var limiter *rate.Limiter
	if callsPerSecond > 0 {
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(callsPerSecond), burst)
	}
	return &Genkit{g: g, modelName: modelName, limiter: limiter}, nil
}

// Compare asks the LLM whether textA and textB contradict each other.
func (r *Genkit) Compare(ctx context.Context, textA, textB string) (*Verdict, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	nonce, err := generateNonce()
	if err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	// Sanitize content to prevent delimiter injection (defense-in-depth).
	prompt := fmt.Sprintf(comparisonPrompt,
		nonce, sanitizeDelimiters(textA), nonce,
		nonce, sanitizeDelimiters(textB), nonce)

	opts := []ai.GenerateOption{ai.WithPrompt(prompt)}
	if r.modelName != "" {
		opts = append(opts, ai.WithModelName(r.modelName))
	}

	resp, err := genkit.Generate(ctx, r.g, opts...)
	if err != nil {
		return nil, fmt.Errorf("generating comparison: %w", err)
	}

	raw := resp.Text()
	if len(raw) > maxResponseBytes {
		return nil, fmt.Errorf("comparison response too large: %d bytes", len(raw))
	}

	return ParseVerdict(raw)
}

// ParseVerdict parses an LLM response into a Verdict. Exposed so response
// handling is testable without a live model.
func ParseVerdict(raw string) (*Verdict, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, fmt.Errorf("empty comparison response")
	}

	text = stripCodeFences(text)

	var v Verdict
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, fmt.Errorf("parsing comparison result: %w (raw: %q)", err, truncate(text, 200))
	}
	if v.Confidence < 0 || v.Confidence > 1 {
		return nil, fmt.Errorf("confidence %v out of range", v.Confidence)
	}
	return &v, nil
}

// delimiterRe matches sequences of 3+ consecutive '=' characters, which
// could resemble the nonce-based ===STATEMENT_xxx=== delimiters.
var delimiterRe = regexp.MustCompile(`={3,}`)

// sanitizeDelimiters replaces runs of 3+ '=' with '--' so record content
// cannot mimic prompt delimiter boundaries. The nonce provides primary
// protection (128-bit entropy).
func sanitizeDelimiters(s string) string {
	return delimiterRe.ReplaceAllString(s, "--")
}

// stripCodeFences removes ```json ... ``` wrapping from LLM output.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
		if idx := strings.LastIndex(s, "```"); idx != -1 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	return s
}

// truncate shortens s to at most n bytes for logging.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// generateNonce returns a random 16-byte hex string for prompt delimiters.
func generateNonce() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}
