package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"slices"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// 1. API key validation (required for embedding and reasoning)
	if os.Getenv("GEMINI_API_KEY") == "" {
		return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required\n"+
			"Get your API key at: https://ai.google.dev/gemini-api/docs/api-key",
			ErrMissingAPIKey)
	}

	// 2. Model configuration
	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidEmbedderModel)
	}
	if c.EmbedderDimension != 768 {
		return fmt.Errorf("%w: schema requires 768 dimensions, got %d",
			ErrInvalidEmbedderDimension, c.EmbedderDimension)
	}
	if c.ReasonerModel == "" {
		return fmt.Errorf("%w: reasoner_model cannot be empty", ErrInvalidModelName)
	}

	// 3. PostgreSQL configuration
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}
	if c.PostgresPassword == "" {
		return fmt.Errorf("%w: postgres_password must be set in config.yaml",
			ErrInvalidPostgresPassword)
	}
	if c.PostgresPassword == "mnemo_dev_password" {
		slog.Warn("Using default development password for PostgreSQL",
			"warning", "Change postgres_password in config.yaml for production deployments")
	}
	if len(c.PostgresPassword) < 8 {
		return fmt.Errorf("%w: postgres_password must be at least 8 characters (got %d)",
			ErrInvalidPostgresPassword, len(c.PostgresPassword))
	}

	// Modern SSL modes only; allow/prefer are deprecated (MITM vulnerable).
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v",
			ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	// 4. Lifecycle configuration
	return c.Lifecycle.validate()
}

func (l *LifecycleConfig) validate() error {
	if l.TTLShort <= 0 {
		return fmt.Errorf("%w: ttl_short must be positive, got %v", ErrInvalidTTL, l.TTLShort)
	}
	if l.TTLMedium <= 0 {
		return fmt.Errorf("%w: ttl_medium must be positive, got %v", ErrInvalidTTL, l.TTLMedium)
	}
	if l.TTLMedium < l.TTLShort {
		return fmt.Errorf("%w: ttl_medium %v shorter than ttl_short %v", ErrInvalidTTL, l.TTLMedium, l.TTLShort)
	}

	if l.DedupThreshold <= 0 || l.DedupThreshold > 1 {
		return fmt.Errorf("%w: dedup_threshold must be in (0,1], got %v", ErrInvalidThreshold, l.DedupThreshold)
	}
	if l.ConfidenceGate <= 0 || l.ConfidenceGate > 1 {
		return fmt.Errorf("%w: confidence_gate must be in (0,1], got %v", ErrInvalidThreshold, l.ConfidenceGate)
	}

	for name, w := range map[string]float64{
		"similarity_weight": l.SimilarityWeight,
		"recency_weight":    l.RecencyWeight,
		"importance_weight": l.ImportanceWeight,
	} {
		if w < 0 || w > 1 {
			return fmt.Errorf("%w: %s must be in [0,1], got %v", ErrInvalidWeights, name, w)
		}
	}
	sum := l.SimilarityWeight + l.RecencyWeight + l.ImportanceWeight
	if sum < 0.99 || sum > 1.01 {
		return fmt.Errorf("%w: weights must sum to 1.0, got %v", ErrInvalidWeights, sum)
	}

	if l.RecencyHalfLife <= 0 {
		return fmt.Errorf("%w: recency_half_life must be positive, got %v", ErrInvalidSweep, l.RecencyHalfLife)
	}
	if l.SweepInterval <= 0 {
		return fmt.Errorf("%w: sweep_interval must be positive, got %v", ErrInvalidSweep, l.SweepInterval)
	}
	if l.SweepBudget <= 0 || l.SweepBudget > l.SweepInterval*4 {
		return fmt.Errorf("%w: sweep_budget must be positive and at most 4x the interval, got %v",
			ErrInvalidSweep, l.SweepBudget)
	}
	if l.SweepConcurrency < 1 || l.SweepConcurrency > 64 {
		return fmt.Errorf("%w: sweep_concurrency must be between 1 and 64, got %d",
			ErrInvalidSweep, l.SweepConcurrency)
	}

	if l.WebhookURL != "" {
		u, err := url.Parse(l.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: %q must be an absolute http(s) URL", ErrInvalidWebhookURL, l.WebhookURL)
		}
	}
	return nil
}
