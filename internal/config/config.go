// Package config handles pixelmint configuration loading and validation.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// knownWeakSecrets is a blocklist of secrets that must never be used in production.
var knownWeakSecrets = map[string]bool{
	"local-dev-secret-for-testing-only-32chars!": true,
	"changeme": true,
	"secret":   true,
}

// GenerateRandomSecret returns a cryptographically random 64-character hex string
// suitable for use as a JWT secret.
func GenerateRandomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Config is the top-level pixelmint configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Auth      AuthConfig      `json:"auth"`
	Storage   StorageConfig   `json:"storage"`
	Providers ProvidersConfig `json:"providers"`
	Payments  PaymentsConfig  `json:"payments"`
	Logging   LoggingConfig   `json:"logging"`
	RateLimit RateLimitConfig `json:"rate_limit,omitempty"`
}

// ServerConfig defines the listener settings.
type ServerConfig struct {
	Addr           string   `json:"addr"` // e.g. ":8080"
	TLSCert        string   `json:"tls_cert,omitempty"`
	TLSKey         string   `json:"tls_key,omitempty"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"` // CORS origins; default ["*"]
	MaxBodyBytes   int64    `json:"max_body_bytes,omitempty"`  // max JSON body size; default 1MB
	MaxUploadBytes int64    `json:"max_upload_bytes,omitempty"` // max moderation upload; default 10MiB
}

// AuthConfig defines authentication settings.
type AuthConfig struct {
	Provider        string   `json:"provider,omitempty"`         // "builtin" (default) or "federated"
	JWTSecret       string   `json:"jwt_secret"`
	JWTExpiry       Duration `json:"jwt_expiry,omitempty"`
	FederatedIssuer string   `json:"federated_issuer,omitempty"` // JWKS issuer URL for federated logins
	SignupCredits   int      `json:"signup_credits,omitempty"`   // credits granted on account creation
}

// StorageConfig defines database settings.
type StorageConfig struct {
	Driver         string   `json:"driver"`                    // "sqlite" (default) or "postgres"
	DSN            string   `json:"dsn"`                       // e.g. "pixelmint.db" or ":memory:"
	UsageRetention Duration `json:"usage_retention,omitempty"` // usage event retention
}

// ProvidersConfig defines the external AI provider settings.
type ProvidersConfig struct {
	Generation GenerationConfig `json:"generation"`
	Moderation ModerationConfig `json:"moderation"`
}

// GenerationConfig configures the text-to-image provider.
type GenerationConfig struct {
	URL     string   `json:"url,omitempty"` // default Clipdrop text-to-image endpoint
	APIKey  string   `json:"api_key"`
	Timeout Duration `json:"timeout,omitempty"` // transport timeout; default 60s
}

// ModerationConfig configures the image-moderation provider.
type ModerationConfig struct {
	URL       string   `json:"url,omitempty"` // default Sightengine check endpoint
	APIUser   string   `json:"api_user"`
	APISecret string   `json:"api_secret"`
	Timeout   Duration `json:"timeout,omitempty"` // per-call deadline; default 20s
}

// PaymentsConfig defines checkout settings.
type PaymentsConfig struct {
	Currency    string `json:"currency,omitempty"`     // ISO code, default "inr"
	CheckoutURL string `json:"checkout_url,omitempty"` // hosted checkout base URL
	ReturnURL   string `json:"return_url,omitempty"`   // where the processor redirects after payment
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `json:"level,omitempty"`
	Format string `json:"format,omitempty"` // "json" or "text"
}

// RateLimitConfig defines rate limiting settings.
type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second,omitempty"` // default 10
	Burst             int     `json:"burst,omitempty"`               // default 20
}

// Duration is a JSON-friendly time.Duration.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case string:
		dur, err := time.ParseDuration(val)
		if err != nil {
			return err
		}
		d.Duration = dur
	case float64:
		d.Duration = time.Duration(val) * time.Second
	default:
		return fmt.Errorf("invalid duration: %v", v)
	}
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Load reads and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters")
	}
	if knownWeakSecrets[c.Auth.JWTSecret] {
		return fmt.Errorf("auth.jwt_secret is a well-known weak secret; generate a new one")
	}
	if c.Auth.Provider == "federated" && c.Auth.FederatedIssuer == "" {
		return fmt.Errorf("auth.federated_issuer is required when provider is federated")
	}
	if c.Auth.SignupCredits < 0 {
		return fmt.Errorf("auth.signup_credits must not be negative")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Auth.JWTExpiry.Duration == 0 {
		c.Auth.JWTExpiry.Duration = 24 * time.Hour
	}
	if c.Auth.SignupCredits == 0 {
		c.Auth.SignupCredits = 5
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.DSN == "" {
		c.Storage.DSN = "pixelmint.db"
	}
	if c.Storage.UsageRetention.Duration == 0 {
		c.Storage.UsageRetention.Duration = 90 * 24 * time.Hour // 90 days
	}
	if c.Providers.Generation.URL == "" {
		c.Providers.Generation.URL = "https://clipdrop-api.co/text-to-image/v1"
	}
	if c.Providers.Generation.Timeout.Duration == 0 {
		c.Providers.Generation.Timeout.Duration = 60 * time.Second
	}
	if c.Providers.Moderation.URL == "" {
		c.Providers.Moderation.URL = "https://api.sightengine.com/1.0/check.json"
	}
	if c.Providers.Moderation.Timeout.Duration == 0 {
		c.Providers.Moderation.Timeout.Duration = 20 * time.Second
	}
	if c.Payments.Currency == "" {
		c.Payments.Currency = "inr"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 10
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 20
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 1024 * 1024 // 1MB
	}
	if c.Server.MaxUploadBytes == 0 {
		c.Server.MaxUploadBytes = 10 * 1024 * 1024 // 10MiB
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
}
