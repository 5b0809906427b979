package config

import "time"

// LifecycleConfig holds the memory lifecycle tuning: tier lifetimes,
// consolidation and contradiction thresholds, retrieval weights, and the
// background sweep cadence.
//
// Durations accept Go duration strings in YAML ("1h", "720h", "15m").
type LifecycleConfig struct {
	// TTLShort is the short-tier lifetime, counted from creation.
	TTLShort time.Duration `mapstructure:"ttl_short" json:"ttl_short"`
	// TTLMedium is the medium-tier lifetime, counted from last reference.
	TTLMedium time.Duration `mapstructure:"ttl_medium" json:"ttl_medium"`

	// DedupThreshold is the inclusive cosine similarity at or above which
	// near-duplicates merge (default: 0.85).
	DedupThreshold float64 `mapstructure:"dedup_threshold" json:"dedup_threshold"`

	// ConfidenceGate is the inclusive Reasoner confidence required to emit
	// a contradiction (default: 0.90).
	ConfidenceGate float64 `mapstructure:"confidence_gate" json:"confidence_gate"`

	// Retrieval rank weights (default: 0.6 / 0.2 / 0.2).
	SimilarityWeight float64 `mapstructure:"similarity_weight" json:"similarity_weight"`
	RecencyWeight    float64 `mapstructure:"recency_weight" json:"recency_weight"`
	ImportanceWeight float64 `mapstructure:"importance_weight" json:"importance_weight"`

	// RecencyHalfLife is the half-life of the retrieval recency term.
	RecencyHalfLife time.Duration `mapstructure:"recency_half_life" json:"recency_half_life"`

	// Sweep cadence.
	SweepInterval    time.Duration `mapstructure:"sweep_interval" json:"sweep_interval"`
	SweepBudget      time.Duration `mapstructure:"sweep_budget" json:"sweep_budget"`
	SweepConcurrency int           `mapstructure:"sweep_concurrency" json:"sweep_concurrency"`

	// WebhookURL, when set, receives contradiction notifications as JSON
	// POSTs in addition to the log sink.
	WebhookURL string `mapstructure:"webhook_url" json:"webhook_url"`
}
