// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.groundchat/config.yaml)
//  3. Default values (sensible defaults for quick start)
//
// Main configuration categories:
//   - AI: chat model and embedder selection
//   - Retrieval: vector backend, chunking, and search parameters
//   - Storage: PostgreSQL connection for the pgvector backend (see storage.go)
//   - Telemetry: OTLP trace export (optional)
//
// Security: sensitive data (passwords) is never logged; config directory uses 0750 permissions.
// Validation: range checks in validation.go with sentinel errors for errors.Is().
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/groundchat/groundchat/internal/rag"
)

// Vector store backend identifiers used in Config.Backend.
const (
	BackendPgvector = "pgvector"
	BackendChromem  = "chromem"
)

const (
	// DefaultEmbedderModel is the default Gemini embedder model.
	// gemini-embedding-001 outputs 3072 dimensions by default but supports
	// truncation to 768; the pgvector schema provisions vector(768).
	DefaultEmbedderModel = "gemini-embedding-001"

	// DefaultEmbedderDimension matches the provisioned pgvector schema.
	DefaultEmbedderDimension = 768

	// DefaultUpstreamTimeoutMs bounds a single embed or generate call.
	DefaultUpstreamTimeoutMs = 30000
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (passwords, API keys, tokens), update MarshalJSON.
type Config struct {
	// AI model configuration
	ModelName         string `mapstructure:"model_name" json:"model_name"` // e.g. "gemini-2.5-flash"
	EmbedderModel     string `mapstructure:"embedder_model" json:"embedder_model"`
	EmbedderDimension int    `mapstructure:"embedder_dimension" json:"embedder_dimension"`

	// Retrieval configuration
	Backend      string `mapstructure:"backend" json:"backend"`           // "pgvector" or "chromem"
	ChromemPath  string `mapstructure:"chromem_path" json:"chromem_path"` // empty = in-memory
	ChunkSize    int    `mapstructure:"chunk_size" json:"chunk_size"`
	ChunkOverlap int    `mapstructure:"chunk_overlap" json:"chunk_overlap"`
	TopK         int    `mapstructure:"top_k" json:"top_k"`

	// UpstreamTimeoutMs bounds each embed/generate attempt in milliseconds.
	UpstreamTimeoutMs int `mapstructure:"upstream_timeout_ms" json:"upstream_timeout_ms"`

	// Storage configuration (see storage.go for documentation)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Telemetry configuration (OTLP trace export, optional)
	Telemetry TelemetryConfig `mapstructure:"telemetry" json:"telemetry"`
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled" json:"enabled"`
	Endpoint    string `mapstructure:"endpoint" json:"endpoint"` // host:port of the OTLP HTTP collector
	Environment string `mapstructure:"environment" json:"environment"`
	ServiceName string `mapstructure:"service_name" json:"service_name"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".groundchat")
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

	// DATABASE_URL overrides individual postgres_* settings when set.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// AI defaults
	viper.SetDefault("model_name", "gemini-2.5-flash")
	viper.SetDefault("embedder_model", DefaultEmbedderModel)
	viper.SetDefault("embedder_dimension", DefaultEmbedderDimension)

	// Retrieval defaults
	viper.SetDefault("backend", BackendChromem)
	viper.SetDefault("chromem_path", "")
	viper.SetDefault("chunk_size", rag.DefaultChunkSize)
	viper.SetDefault("chunk_overlap", rag.DefaultChunkOverlap)
	viper.SetDefault("top_k", rag.DefaultTopK)
	viper.SetDefault("upstream_timeout_ms", DefaultUpstreamTimeoutMs)

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "groundchat")
	viper.SetDefault("postgres_password", "groundchat_dev_password")
	viper.SetDefault("postgres_db_name", "groundchat")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// Telemetry defaults
	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.endpoint", "localhost:4318")
	viper.SetDefault("telemetry.environment", "dev")
	viper.SetDefault("telemetry.service_name", "groundchat")
}

// bindEnvVariables binds environment variable overrides explicitly.
//
// NOTE: GEMINI_API_KEY is read directly by Genkit, not via Viper; validation
// only checks its presence.
func bindEnvVariables() {
	// Hardcoded keys can't fail to bind; a panic here is a bug, not a
	// runtime error.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("model_name", "GROUNDCHAT_MODEL_NAME")
	mustBind("embedder_model", "GROUNDCHAT_EMBEDDER_MODEL")
	mustBind("backend", "GROUNDCHAT_BACKEND")
	mustBind("chromem_path", "GROUNDCHAT_CHROMEM_PATH")
	mustBind("top_k", "GROUNDCHAT_TOP_K")
	mustBind("upstream_timeout_ms", "GROUNDCHAT_UPSTREAM_TIMEOUT_MS")
	mustBind("telemetry.enabled", "GROUNDCHAT_TELEMETRY_ENABLED")
	mustBind("telemetry.endpoint", "GROUNDCHAT_TELEMETRY_ENDPOINT")
}

// maskedValue is the placeholder for masked sensitive data.
// Full-width blocks (U+2588) avoid substring matching: "****" leaks
// passwords containing "*", "[REDACTED]" leaks passwords containing its
// letters.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Shows first 2 and last 2 characters, masks the rest.
// Secrets of 8 characters or fewer are fully masked to prevent substring
// leaks.
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
// Sensitive fields masked: PostgresPassword.
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

// UpstreamTimeout returns the per-call upstream deadline as a Duration.
func (c *Config) UpstreamTimeout() time.Duration {
	return time.Duration(c.UpstreamTimeoutMs) * time.Millisecond
}

// FullModelName returns the provider-qualified model name for Genkit.
// Example: "googleai/gemini-2.5-flash". If ModelName already contains a "/",
// it is returned as-is.
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	return "googleai/" + c.ModelName
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
