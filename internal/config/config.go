// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.mnemo/config.yaml)
//  3. Default values (sensible defaults for quick start)
//
// Main configuration categories:
//   - Storage: PostgreSQL connection (see storage.go)
//   - AI: Embedder and Reasoner model selection
//   - Lifecycle: tier TTLs, consolidation threshold, contradiction gate,
//     retrieval weights, sweep cadence (see lifecycle.go)
//   - Observability: OTLP trace export (see observability.go)
//
// Security: sensitive data (passwords) are never logged; the config directory
// uses 0750 permissions.
//
// Error Handling:
//   - Uses sentinel errors for Go-idiomatic error checking with errors.Is()
//   - Wrap with context using fmt.Errorf("%w: details", ErrXxx)
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidEmbedderDimension indicates the embedder produces incompatible vector dimensions.
	ErrInvalidEmbedderDimension = errors.New("incompatible embedder dimension")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresPassword indicates the PostgreSQL password is invalid.
	ErrInvalidPostgresPassword = errors.New("invalid PostgreSQL password")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidThreshold indicates a similarity or confidence threshold is out of range.
	ErrInvalidThreshold = errors.New("invalid threshold")

	// ErrInvalidWeights indicates the retrieval rank weights are invalid.
	ErrInvalidWeights = errors.New("invalid rank weights")

	// ErrInvalidTTL indicates a tier TTL is invalid.
	ErrInvalidTTL = errors.New("invalid TTL")

	// ErrInvalidSweep indicates the sweep cadence configuration is invalid.
	ErrInvalidSweep = errors.New("invalid sweep configuration")

	// ErrInvalidWebhookURL indicates the notification webhook URL is invalid.
	ErrInvalidWebhookURL = errors.New("invalid webhook URL")
)

const (
	// DefaultEmbedderModel is the default Gemini embedder model.
	// gemini-embedding-001 outputs 3072 dimensions by default, but supports
	// truncation to 768 via OutputDimensionality (Matryoshka Representation
	// Learning). The pgvector schema uses 768; see vector.Dimension.
	DefaultEmbedderModel = "gemini-embedding-001"

	// DefaultReasonerModel is the default model for contradiction analysis.
	DefaultReasonerModel = "gemini-2.5-flash"
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (passwords, API keys, tokens), update MarshalJSON.
type Config struct {
	// AI model configuration
	EmbedderModel     string `mapstructure:"embedder_model" json:"embedder_model"`
	EmbedderDimension int    `mapstructure:"embedder_dimension" json:"embedder_dimension"`
	ReasonerModel     string `mapstructure:"reasoner_model" json:"reasoner_model"`

	// Reasoner rate limiting (requests per second, burst size)
	ReasonerRateLimit float64 `mapstructure:"reasoner_rate_limit" json:"reasoner_rate_limit"`
	ReasonerBurst     int     `mapstructure:"reasoner_burst" json:"reasoner_burst"`

	// Storage configuration (see storage.go for documentation)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Lifecycle configuration (see lifecycle.go for type definition)
	Lifecycle LifecycleConfig `mapstructure:"lifecycle" json:"lifecycle"`

	// Observability configuration (see observability.go for type definition)
	Tracing TracingConfig `mapstructure:"tracing" json:"tracing"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".mnemo")

	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".") // Also support current directory

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// Parse DATABASE_URL if set (highest priority for PostgreSQL config)
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	// CRITICAL: validate immediately (fail-fast)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// AI defaults
	viper.SetDefault("embedder_model", DefaultEmbedderModel)
	viper.SetDefault("embedder_dimension", 768)
	viper.SetDefault("reasoner_model", DefaultReasonerModel)
	viper.SetDefault("reasoner_rate_limit", 2.0)
	viper.SetDefault("reasoner_burst", 4)

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "mnemo")
	viper.SetDefault("postgres_password", "mnemo_dev_password")
	viper.SetDefault("postgres_db_name", "mnemo")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// Lifecycle defaults
	viper.SetDefault("lifecycle.ttl_short", "1h")
	viper.SetDefault("lifecycle.ttl_medium", "720h")
	viper.SetDefault("lifecycle.dedup_threshold", 0.85)
	viper.SetDefault("lifecycle.confidence_gate", 0.90)
	viper.SetDefault("lifecycle.similarity_weight", 0.6)
	viper.SetDefault("lifecycle.recency_weight", 0.2)
	viper.SetDefault("lifecycle.importance_weight", 0.2)
	viper.SetDefault("lifecycle.recency_half_life", "168h")
	viper.SetDefault("lifecycle.sweep_interval", "15m")
	viper.SetDefault("lifecycle.sweep_budget", "10m")
	viper.SetDefault("lifecycle.sweep_concurrency", 4)

	// Tracing defaults
	viper.SetDefault("tracing.endpoint", "localhost:4318")
	viper.SetDefault("tracing.environment", "dev")
	viper.SetDefault("tracing.service_name", "mnemo")
}

// bindEnvVariables binds environment variables explicitly.
//
// GEMINI_API_KEY is read directly by Genkit, not via Viper; validation
// checks its presence in cfg.Validate().
func bindEnvVariables() {
	// Helper to panic on unexpected bind errors (hardcoded strings can't fail).
	// If this panics, it's a BUG in our code, not a runtime error.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("embedder_model", "MNEMO_EMBEDDER_MODEL")
	mustBind("reasoner_model", "MNEMO_REASONER_MODEL")
	mustBind("lifecycle.sweep_interval", "MNEMO_SWEEP_INTERVAL")
	mustBind("lifecycle.webhook_url", "MNEMO_WEBHOOK_URL")
	mustBind("tracing.enabled", "MNEMO_TRACING_ENABLED")
	mustBind("tracing.endpoint", "MNEMO_TRACING_ENDPOINT")
}

// maskedValue is the placeholder for masked sensitive data.
// Full-width blocks (U+2588) avoid substring matching against real secrets.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Secrets of 8 characters or fewer are fully masked to prevent substring
// attacks; longer secrets show the first and last 2 characters.
//
// THREAT MODEL: this defends against accidental logging of real secrets.
// It is NOT cryptographically secure; if logs are compromised, rotate secrets.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
//
// Sensitive fields masked:
//   - PostgresPassword
//
// When adding new sensitive fields, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
