// Package config loads and validates service configuration.
//
// Sources, highest priority first:
//  1. Environment variables (MU_ prefix, plus DATABASE_URL)
//  2. Config file (~/.mu/config.yaml or ./config.yaml)
//  3. Defaults
//
// Sensitive fields (postgres password, redis password) are masked in
// MarshalJSON and String so a logged Config never leaks a secret.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Sentinel errors returned by Validate, checked with errors.Is.
var (
	ErrConfigNil            = errors.New("configuration is nil")
	ErrMissingAPIKey        = errors.New("missing API key")
	ErrInvalidModelName     = errors.New("invalid model name")
	ErrInvalidTemperature   = errors.New("invalid temperature")
	ErrInvalidMaxTokens     = errors.New("invalid max tokens")
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")
	ErrInvalidProvider      = errors.New("invalid provider")
	ErrInvalidStorage       = errors.New("invalid storage backend")
	ErrInvalidPostgresHost  = errors.New("invalid PostgreSQL host")
	ErrInvalidPostgresPort  = errors.New("invalid PostgreSQL port")
	ErrInvalidPort          = errors.New("invalid listen port")
	ErrInvalidToolLimits    = errors.New("invalid tool limits")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini   = "gemini"
	ProviderOllama   = "ollama"
	ProviderOpenAI   = "openai"
	ProviderGoogleAI = "googleai"
)

// Storage backend identifiers used in Config.Storage.
const (
	StoragePostgres = "postgres"
	StorageFile     = "file"
	StorageMemory   = "memory"
)

// DefaultEmbedderModel is the Gemini embedder the knowledge store uses.
// gemini-embedding-001 emits 3072 dimensions by default but supports
// truncation to 768 via OutputDimensionality; the pgvector schema stores
// vector(768). See knowledge.VectorDimension.
const DefaultEmbedderModel = "gemini-embedding-001"

// Config is the full service configuration.
// SECURITY: sensitive fields are masked in MarshalJSON. When adding a new
// secret field, update MarshalJSON as well.
type Config struct {
	// HTTP server
	Host        string   `mapstructure:"host" json:"host"`
	Port        int      `mapstructure:"port" json:"port"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"`

	// Model provider
	Provider      string  `mapstructure:"provider" json:"provider"`       // "gemini" (default), "ollama", "openai"
	ModelName     string  `mapstructure:"model_name" json:"model_name"`   // e.g. "gemini-2.5-flash", "llama3.3", "gpt-4o"
	Temperature   float32 `mapstructure:"temperature" json:"temperature"`
	MaxTokens     int     `mapstructure:"max_tokens" json:"max_tokens"`
	OllamaHost    string  `mapstructure:"ollama_host" json:"ollama_host"`
	EmbedderModel string  `mapstructure:"embedder_model" json:"embedder_model"`

	// Orchestration
	MaxHistoryTokens int `mapstructure:"max_history_tokens" json:"max_history_tokens"`
	ToolParallelism  int `mapstructure:"tool_parallelism" json:"tool_parallelism"`
	ToolTimeoutSec   int `mapstructure:"tool_timeout_seconds" json:"tool_timeout_seconds"`

	// Conversation storage: "postgres", "file", or "memory".
	Storage string `mapstructure:"storage" json:"storage"`
	DataDir string `mapstructure:"data_dir" json:"data_dir"` // file backend only

	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Personas
	PersonaDir     string `mapstructure:"persona_dir" json:"persona_dir"`
	DefaultPersona string `mapstructure:"default_persona" json:"default_persona"`

	// Redis persona cache; empty addr disables caching.
	RedisAddr        string `mapstructure:"redis_addr" json:"redis_addr"`
	RedisPassword    string `mapstructure:"redis_password" json:"redis_password"` // SENSITIVE: masked in MarshalJSON
	PersonaCacheMins int    `mapstructure:"persona_cache_minutes" json:"persona_cache_minutes"`

	// Tracing; empty endpoint disables export.
	OTLPEndpoint string `mapstructure:"otlp_endpoint" json:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name" json:"service_name"`
	Environment  string `mapstructure:"environment" json:"environment"`
}

// Load reads configuration from file, environment, and defaults, then
// validates it. Missing config file is not an error.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}
	configDir := filepath.Join(home, ".mu")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL beats individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "127.0.0.1")
	v.SetDefault("port", 8080)
	v.SetDefault("cors_origins", []string{})
	v.SetDefault("trust_proxy", false)

	v.SetDefault("provider", ProviderGemini)
	v.SetDefault("model_name", "gemini-2.5-flash")
	v.SetDefault("temperature", 0.7)
	v.SetDefault("max_tokens", 2048)
	v.SetDefault("ollama_host", "http://localhost:11434")
	v.SetDefault("embedder_model", DefaultEmbedderModel)

	v.SetDefault("max_history_tokens", 4000)
	v.SetDefault("tool_parallelism", 4)
	v.SetDefault("tool_timeout_seconds", 30)

	v.SetDefault("storage", StorageMemory)
	v.SetDefault("data_dir", "")
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "mu")
	v.SetDefault("postgres_password", "mu_dev_password")
	v.SetDefault("postgres_db_name", "mu")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("persona_dir", "")
	v.SetDefault("default_persona", "")
	v.SetDefault("redis_addr", "")
	v.SetDefault("persona_cache_minutes", 10)

	v.SetDefault("otlp_endpoint", "")
	v.SetDefault("service_name", "mu")
	v.SetDefault("environment", "dev")
}

// bindEnvVariables binds explicit environment overrides. Hardcoded keys
// cannot fail to bind; a bind error here is a bug, so it panics.
func bindEnvVariables(v *viper.Viper) {
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("host", "MU_HOST")
	mustBind("port", "MU_PORT")
	mustBind("cors_origins", "MU_CORS_ORIGINS")
	mustBind("trust_proxy", "MU_TRUST_PROXY")

	mustBind("provider", "MU_PROVIDER")
	mustBind("model_name", "MU_MODEL_NAME")
	mustBind("ollama_host", "MU_OLLAMA_HOST")
	mustBind("embedder_model", "MU_EMBEDDER_MODEL")

	mustBind("storage", "MU_STORAGE")
	mustBind("data_dir", "MU_DATA_DIR")
	mustBind("postgres_password", "MU_POSTGRES_PASSWORD")

	mustBind("persona_dir", "MU_PERSONA_DIR")
	mustBind("default_persona", "MU_DEFAULT_PERSONA")
	mustBind("redis_addr", "MU_REDIS_ADDR")
	mustBind("redis_password", "MU_REDIS_PASSWORD")

	mustBind("otlp_endpoint", "MU_OTLP_ENDPOINT")
	mustBind("service_name", "MU_SERVICE_NAME")
	mustBind("environment", "MU_ENVIRONMENT")

	// NOTE: GEMINI_API_KEY and OPENAI_API_KEY are read directly by the
	// Genkit plugins, not through viper. Validate checks their presence
	// based on the selected provider.
}

// maskedValue is the placeholder for masked sensitive data. Full-width
// blocks avoid substring matches against the real secret.
const maskedValue = "████████"

// maskSecret masks a secret for safe logging. Short secrets mask fully so
// no substring of the real value survives; longer ones keep two characters
// at each end for debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON masks sensitive fields. Masked here: PostgresPassword,
// RedisPassword.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	a.RedisPassword = maskSecret(a.RedisPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer so a printed Config never exposes secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}

// FullModelName returns the provider-qualified model name for Genkit,
// e.g. "googleai/gemini-2.5-flash", "ollama/llama3.3", "openai/gpt-4o".
// A ModelName already containing "/" is returned as-is.
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	switch c.Provider {
	case ProviderOllama:
		return ProviderOllama + "/" + c.ModelName
	case ProviderOpenAI:
		return ProviderOpenAI + "/" + c.ModelName
	default:
		return ProviderGoogleAI + "/" + c.ModelName
	}
}
