// Package config loads and validates the bookvault configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the BV_ prefix (e.g., BV_DATABASE_HOST
// overrides database.host in the YAML). The same binary therefore runs with a
// config.yaml in local development and with pure environment variables in
// containerized deployments.
//
// SIGNING_SECRET and ENCRYPTION_KEY are also read without the BV_ prefix
// because they may be injected by infrastructure tooling (Kubernetes secrets,
// Vault agent) that treats them as generic secret names. The whole Config is
// built once at startup and passed by reference into constructors — nothing
// else in the codebase reads process environment state.
package config

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Access        AccessConfig        `mapstructure:"access"`
	Security      SecurityConfig      `mapstructure:"security"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Telemetry     TelemetryConfig     `mapstructure:"telemetry"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	PublicURL    string        `mapstructure:"public_url"`
	Environment  string        `mapstructure:"environment"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// GetAddress returns the host:port listen address.
func (s *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// GetPublicURL returns the public-facing URL used in emailed access links and
// redirects. When server.public_url is set it is returned as-is; otherwise it
// falls back to server.base_url. The distinction matters in reverse-proxied
// deployments where the internal listen address differs from the URL readers
// actually visit.
func (s *ServerConfig) GetPublicURL() string {
	if s.PublicURL != "" {
		return s.PublicURL
	}
	return s.BaseURL
}

// IsProduction reports whether the server runs with production guarantees
// (strict secret validation, Secure cookies).
func (s *ServerConfig) IsProduction() bool {
	return strings.EqualFold(s.Environment, "production")
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// GetDSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// StorageConfig holds document storage backend configuration.
type StorageConfig struct {
	DefaultBackend string             `mapstructure:"default_backend"`
	Local          LocalStorageConfig `mapstructure:"local"`
	S3             S3StorageConfig    `mapstructure:"s3"`
}

// LocalStorageConfig holds local filesystem storage configuration.
type LocalStorageConfig struct {
	BasePath string `mapstructure:"base_path"`
}

// S3StorageConfig holds S3-compatible storage configuration.
type S3StorageConfig struct {
	// Endpoint is the S3-compatible endpoint URL (optional, for MinIO,
	// DigitalOcean Spaces, etc.)
	Endpoint string `mapstructure:"endpoint"`
	Region   string `mapstructure:"region"`
	Bucket   string `mapstructure:"bucket"`

	// AuthMethod selects credentials: "default" uses the AWS default chain,
	// "static" uses the explicit key pair below.
	AuthMethod      string `mapstructure:"auth_method"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// AccessConfig holds the token, code, and session policy for protected
// document access.
type AccessConfig struct {
	// LinkTTL is the validity window of tokens carried in emailed access
	// links. Code redemption issues tokens with the same window.
	LinkTTL time.Duration `mapstructure:"link_ttl"`
	// SessionTTL is the lifetime of the browser session cookie. The bridge
	// re-issues a fresh token with this TTL, so the cookie never outlives the
	// credential it carries.
	SessionTTL time.Duration `mapstructure:"session_ttl"`
	// CookieName is the session cookie name.
	CookieName string `mapstructure:"cookie_name"`
	// ProtectedPath is where the bridge redirects after establishing a session.
	ProtectedPath string `mapstructure:"protected_path"`
	// RenewPath is the "request new access" page used by all failure redirects.
	RenewPath string `mapstructure:"renew_path"`
	// SingleUse marks codes used on first redemption. Off by default: shared
	// classroom codes stay redeemable until natural expiry.
	SingleUse bool `mapstructure:"single_use"`
	// DefaultResource is the resource identifier granted to redeemed codes
	// that carry no specific document binding.
	DefaultResource string `mapstructure:"default_resource"`
	// Documents maps resource identifiers to storage paths. The identifier in
	// a token is a handle, never a URL — only paths listed here (plus
	// DefaultDocument) can ever be fetched.
	Documents map[string]string `mapstructure:"documents"`
	// DefaultDocument is the storage path served for DefaultResource.
	DefaultDocument string `mapstructure:"default_document"`
	// FetchTimeout bounds a single upstream document fetch.
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	// WatermarkEnabled pipes served documents through the watermark decorator.
	WatermarkEnabled bool `mapstructure:"watermark_enabled"`
}

// SecurityConfig holds key material and edge protections.
type SecurityConfig struct {
	// SigningSecret signs access tokens (HS256). Must be at least 32
	// characters in production.
	SigningSecret string `mapstructure:"signing_secret"`
	// EncryptionKey is the 64-hex-character AES-256 key for field encryption.
	// An unusable value disables the field cipher rather than failing startup.
	EncryptionKey string `mapstructure:"encryption_key"`
	// AdminKeyHash is the bcrypt hash of the administrative API key. Empty
	// disables the admin API entirely.
	AdminKeyHash string `mapstructure:"admin_key_hash"`

	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
	TLS          TLSConfig          `mapstructure:"tls"`
}

// RateLimitingConfig holds rate limiting configuration.
type RateLimitingConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

// TLSConfig holds TLS/HTTPS configuration.
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds observability configuration.
type TelemetryConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// NotificationsConfig holds settings for outbound access-link emails.
type NotificationsConfig struct {
	Enabled bool       `mapstructure:"enabled"`
	SMTP    SMTPConfig `mapstructure:"smtp"`
}

// SMTPConfig holds outbound mail server configuration.
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	// UseTLS enables implicit TLS (port 465); false = STARTTLS/plain.
	UseTLS bool `mapstructure:"use_tls"`
}

// bindEnvVars explicitly binds environment variables to config keys. This is
// necessary because AutomaticEnv() doesn't work well with nested structs
// during Unmarshal. Every key here is a non-empty hardcoded string, so any
// BindEnv error indicates a programming bug and is surfaced to the caller.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		"server.host",
		"server.port",
		"server.base_url",
		"server.public_url",
		"server.environment",
		"server.read_timeout",
		"server.write_timeout",

		"database.host",
		"database.port",
		"database.name",
		"database.user",
		"database.password",
		"database.ssl_mode",
		"database.max_connections",
		"database.min_idle_connections",

		"storage.default_backend",
		"storage.local.base_path",
		"storage.s3.endpoint",
		"storage.s3.region",
		"storage.s3.bucket",
		"storage.s3.auth_method",
		"storage.s3.access_key_id",
		"storage.s3.secret_access_key",

		"access.link_ttl",
		"access.session_ttl",
		"access.cookie_name",
		"access.protected_path",
		"access.renew_path",
		"access.single_use",
		"access.default_resource",
		"access.default_document",
		"access.fetch_timeout",
		"access.watermark_enabled",

		"security.signing_secret",
		"security.encryption_key",
		"security.admin_key_hash",
		"security.rate_limiting.enabled",
		"security.rate_limiting.requests_per_minute",
		"security.rate_limiting.burst",
		"security.tls.enabled",
		"security.tls.cert_file",
		"security.tls.key_file",

		"logging.level",
		"logging.format",

		"telemetry.metrics.enabled",
		"telemetry.metrics.prometheus_port",

		"notifications.enabled",
		"notifications.smtp.host",
		"notifications.smtp.port",
		"notifications.smtp.username",
		"notifications.smtp.password",
		"notifications.smtp.from",
		"notifications.smtp.use_tls",
	}

	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var for %s: %w", key, err)
		}
	}
	return nil
}

// Load reads configuration from the given path (or the default search
// locations when empty), applies environment overrides, and validates the
// result.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/bookvault")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables.
	}

	v.SetEnvPrefix("BV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand ${VAR} references in sensitive fields.
	cfg.Database.Password = os.ExpandEnv(cfg.Database.Password)
	cfg.Storage.S3.AccessKeyID = os.ExpandEnv(cfg.Storage.S3.AccessKeyID)
	cfg.Storage.S3.SecretAccessKey = os.ExpandEnv(cfg.Storage.S3.SecretAccessKey)
	cfg.Notifications.SMTP.Password = os.ExpandEnv(cfg.Notifications.SMTP.Password)

	// Unprefixed fallbacks for secrets injected by generic tooling.
	if cfg.Security.SigningSecret == "" {
		cfg.Security.SigningSecret = os.Getenv("SIGNING_SECRET")
	}
	if cfg.Security.EncryptionKey == "" {
		cfg.Security.EncryptionKey = os.Getenv("ENCRYPTION_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.public_url", "")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "bookvault")
	v.SetDefault("database.user", "bookvault")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	// Storage defaults
	v.SetDefault("storage.default_backend", "local")
	v.SetDefault("storage.local.base_path", "./storage")
	v.SetDefault("storage.s3.auth_method", "default")

	// Access defaults
	v.SetDefault("access.link_ttl", "10m")
	v.SetDefault("access.session_ttl", "30m")
	v.SetDefault("access.cookie_name", "book_session")
	v.SetDefault("access.protected_path", "/book")
	v.SetDefault("access.renew_path", "/access/renew")
	v.SetDefault("access.single_use", false)
	v.SetDefault("access.default_resource", "private/all")
	v.SetDefault("access.default_document", "private/book.pdf")
	v.SetDefault("access.fetch_timeout", "30s")
	v.SetDefault("access.watermark_enabled", false)

	// Security defaults
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.requests_per_minute", 60)
	v.SetDefault("security.rate_limiting.burst", 10)
	v.SetDefault("security.tls.enabled", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Telemetry defaults
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)

	// Notifications defaults
	v.SetDefault("notifications.enabled", false)
	v.SetDefault("notifications.smtp.port", 587)
	v.SetDefault("notifications.smtp.use_tls", false)
}

// Validate validates the configuration.
//
// The two secrets follow deliberately different policies: the signing secret
// is fail-closed (production refuses to start without a strong one, because a
// weak secret silently weakens every issued token), while the encryption key
// is fail-open (a malformed key only disables display-copy encryption, which
// the field cipher handles by degrading to pass-through).
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}

	switch c.Storage.DefaultBackend {
	case "local":
		if c.Storage.Local.BasePath == "" {
			return fmt.Errorf("storage.local.base_path is required when using the local backend")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when using the s3 backend")
		}
	default:
		return fmt.Errorf("invalid storage backend: %s (must be 'local' or 's3')", c.Storage.DefaultBackend)
	}

	if c.Access.LinkTTL <= 0 {
		return fmt.Errorf("access.link_ttl must be positive")
	}
	if c.Access.SessionTTL <= 0 {
		return fmt.Errorf("access.session_ttl must be positive")
	}
	if c.Access.CookieName == "" {
		return fmt.Errorf("access.cookie_name is required")
	}

	if len(c.Security.SigningSecret) < 32 {
		if c.Server.IsProduction() {
			return fmt.Errorf("security.signing_secret must be at least 32 characters in production (generate one with: openssl rand -hex 32)")
		}
		slog.Warn("signing secret is shorter than 32 characters; acceptable only in development")
	}

	if key := c.Security.EncryptionKey; key != "" {
		if decoded, err := hex.DecodeString(key); err != nil || len(decoded) != 32 {
			slog.Warn("encryption key is not 64 hex characters; field encryption will be disabled and codes stored in plaintext")
		}
	}

	if c.Security.TLS.Enabled {
		if c.Security.TLS.CertFile == "" {
			return fmt.Errorf("security.tls.cert_file is required when TLS is enabled")
		}
		if c.Security.TLS.KeyFile == "" {
			return fmt.Errorf("security.tls.key_file is required when TLS is enabled")
		}
	}

	return nil
}
