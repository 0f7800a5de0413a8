// Package config provides application configuration with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (JOY_ prefix, runtime override)
//  2. Config file (~/.joy/config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - AI: provider selection and the model catalog exposed to clients
//   - Storage: PostgreSQL connection (see storage.go)
//   - Turn: tool-loop step budget and suggestion cap
//   - Prompts: system prompt text blocks (see prompts.go) — configuration
//     data, not control logic
//   - Export: the allow-listed form-export automation (see export settings)
//
// Security: sensitive fields (password, HMAC secret) are masked in
// MarshalJSON. Validation uses sentinel errors checked with errors.Is().
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrNoModels indicates the model catalog is empty.
	ErrNoModels = errors.New("no models configured")

	// ErrInvalidModel indicates a catalog entry is missing required fields.
	ErrInvalidModel = errors.New("invalid model entry")

	// ErrInvalidMaxSteps indicates the tool-loop step budget is out of range.
	ErrInvalidMaxSteps = errors.New("invalid max steps")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrMissingHMACSecret indicates the HMAC secret is not set.
	ErrMissingHMACSecret = errors.New("missing HMAC secret")

	// ErrInvalidHMACSecret indicates the HMAC secret is too short.
	ErrInvalidHMACSecret = errors.New("invalid HMAC secret")

	// ErrInvalidExportEndpoint indicates export is enabled without an endpoint.
	ErrInvalidExportEndpoint = errors.New("invalid export endpoint")
)

// Turn defaults.
const (
	// DefaultMaxSteps bounds the tool-calling loop per turn.
	DefaultMaxSteps = 5

	// MaxAllowedSteps is the absolute ceiling for the step budget.
	MaxAllowedSteps = 25

	// DefaultMaxSuggestions caps suggestions streamed per request.
	DefaultMaxSuggestions = 5
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// ExportConfig gates the post-turn form-export automation.
// AllowedEmails is configuration, not inline special-casing, so the
// automation path stays testable independent of specific identities.
type ExportConfig struct {
	Endpoint      string   `mapstructure:"endpoint" json:"endpoint"`
	AllowedEmails []string `mapstructure:"allowed_emails" json:"allowed_emails"`
}

// Allowed reports whether email is a member of the allow-list.
func (e ExportConfig) Allowed(email string) bool {
	for _, allowed := range e.AllowedEmails {
		if allowed == email {
			return true
		}
	}
	return false
}

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
type Config struct {
	// AI provider and model catalog
	Provider string  `mapstructure:"provider" json:"provider"` // "gemini" (default), "openai"
	Models   []Model `mapstructure:"models" json:"models"`

	// Turn orchestration
	MaxSteps       int `mapstructure:"max_steps" json:"max_steps"`
	MaxSuggestions int `mapstructure:"max_suggestions" json:"max_suggestions"`

	// Prompt text blocks (see prompts.go)
	Prompts Prompts `mapstructure:"prompts" json:"prompts"`

	// External collaborators
	WeatherEndpoint string       `mapstructure:"weather_endpoint" json:"weather_endpoint"`
	Export          ExportConfig `mapstructure:"export" json:"export"`

	// Storage configuration (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Security configuration (serve mode)
	HMACSecret  string   `mapstructure:"hmac_secret" json:"hmac_secret"` // SENSITIVE: masked in MarshalJSON
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"`

	// Observability configuration
	OTLPEndpoint string `mapstructure:"otlp_endpoint" json:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name" json:"service_name"`
}

// MarshalJSON masks sensitive fields so the config can be logged safely.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	masked := alias(c)
	if masked.PostgresPassword != "" {
		masked.PostgresPassword = "********"
	}
	if masked.HMACSecret != "" {
		masked.HMACSecret = "********"
	}
	b, err := json.Marshal(masked)
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	return b, nil
}

// Load reads configuration from defaults, the config file, and environment.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("JOY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if dir, err := configDir(); err == nil {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(dir)

		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// DATABASE_URL overrides the individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, err
	}

	cfg.Prompts.applyDefaults()

	return &cfg, nil
}

// setDefaults registers default values for a quick local start.
func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", ProviderGemini)
	v.SetDefault("max_steps", DefaultMaxSteps)
	v.SetDefault("max_suggestions", DefaultMaxSuggestions)
	v.SetDefault("weather_endpoint", "https://api.open-meteo.com/v1/forecast")

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "joy")
	v.SetDefault("postgres_db_name", "joy")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("service_name", "joy")

	v.SetDefault("models", []map[string]any{
		{
			"id":             "gemini-flash",
			"label":          "Gemini Flash",
			"provider_model": "googleai/gemini-2.5-flash",
		},
		{
			"id":             "gpt-4o",
			"label":          "GPT-4o",
			"provider_model": "openai/gpt-4o",
		},
	})
}

// configDir returns the configuration directory (~/.joy), creating it
// with restrictive permissions if needed.
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	dir := filepath.Join(home, ".joy")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}
	return dir, nil
}

// Validate checks configuration shared by all commands.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}
	if c.PostgresHost == "" {
		return ErrInvalidPostgresHost
	}
	if c.PostgresPort <= 0 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return ErrInvalidPostgresDBName
	}
	if len(c.Models) == 0 {
		return ErrNoModels
	}
	for _, m := range c.Models {
		if m.ID == "" || m.ProviderModel == "" {
			return fmt.Errorf("%w: %+v", ErrInvalidModel, m)
		}
	}
	if c.MaxSteps <= 0 || c.MaxSteps > MaxAllowedSteps {
		return fmt.Errorf("%w: %d", ErrInvalidMaxSteps, c.MaxSteps)
	}
	return nil
}

// ValidateServe checks configuration required by the HTTP server.
func (c *Config) ValidateServe() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.HMACSecret == "" {
		return ErrMissingHMACSecret
	}
	if len(c.HMACSecret) < 32 {
		return fmt.Errorf("%w: need at least 32 bytes", ErrInvalidHMACSecret)
	}
	if len(c.Export.AllowedEmails) > 0 && c.Export.Endpoint == "" {
		return ErrInvalidExportEndpoint
	}
	return nil
}
