package config

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                 string        `mapstructure:"PORT"`
	Env                  string        `mapstructure:"ENV"`
	DatabaseURL          string        `mapstructure:"DATABASE_URL"`
	DBMaxConns           int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns           int32         `mapstructure:"DB_MIN_CONNS"`
	MigrationsDir        string        `mapstructure:"MIGRATIONS_DIR"`
	RedisURL             string        `mapstructure:"REDIS_URL"`
	AuthIssuer           string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience         string        `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL          string        `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey       string        `mapstructure:"AUTH_SIGNING_KEY"`
	DefaultSite          string        `mapstructure:"DEFAULT_SITE"`
	CORSOrigins          []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS         float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst       int           `mapstructure:"RATE_LIMIT_BURST"`
	SendGridAPIKey       string        `mapstructure:"SENDGRID_API_KEY"`
	EmailFrom            string        `mapstructure:"EMAIL_FROM"`
	EmailFromName        string        `mapstructure:"EMAIL_FROM_NAME"`
	AppURL               string        `mapstructure:"APP_URL"`
	BurdenAlertEmail     string        `mapstructure:"BURDEN_ALERT_EMAIL"`
	BurdenCacheTTL       time.Duration `mapstructure:"BURDEN_CACHE_TTL"`
	DefaultTravelMinutes float64       `mapstructure:"DEFAULT_TRAVEL_MINUTES"`
	DefaultWindowDays    float64       `mapstructure:"DEFAULT_WINDOW_DAYS"`
	TLSEnabled           bool          `mapstructure:"TLS_ENABLED"`
	TLSCertFile          string        `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile           string        `mapstructure:"TLS_KEY_FILE"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "MIGRATIONS_DIR",
	"REDIS_URL", "AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL", "AUTH_SIGNING_KEY",
	"DEFAULT_SITE", "CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"SENDGRID_API_KEY", "EMAIL_FROM", "EMAIL_FROM_NAME", "APP_URL", "BURDEN_ALERT_EMAIL",
	"BURDEN_CACHE_TTL", "DEFAULT_TRAVEL_MINUTES", "DEFAULT_WINDOW_DAYS",
	"TLS_ENABLED", "TLS_CERT_FILE", "TLS_KEY_FILE",
}

var sitePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// Load reads configuration from the environment and an optional .env file.
// DATABASE_URL is required.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("MIGRATIONS_DIR", "migrations")
	v.SetDefault("DEFAULT_SITE", "main")
	v.SetDefault("CORS_ORIGINS", "http://localhost:5173")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("EMAIL_FROM", "no-reply@trialflow.local")
	v.SetDefault("EMAIL_FROM_NAME", "Clinical Trial Team")
	v.SetDefault("APP_URL", "http://localhost:5173")
	v.SetDefault("BURDEN_CACHE_TTL", "15m")
	v.SetDefault("DEFAULT_TRAVEL_MINUTES", 60)
	v.SetDefault("DEFAULT_WINDOW_DAYS", 3)

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// a missing .env file is fine
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	for i, o := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(o)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// SigningKey decodes AUTH_SIGNING_KEY. It returns nil when unset.
func (c *Config) SigningKey() ([]byte, error) {
	if c.AuthSigningKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.AuthSigningKey)
	if err != nil {
		return nil, fmt.Errorf("AUTH_SIGNING_KEY is not valid hex: %w", err)
	}
	if len(key) < 32 {
		return nil, fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes (64 hex chars), got %d bytes", len(key))
	}
	return key, nil
}

// Validate checks that the configuration is safe to run. Outside development
// a token verification source is required; production accepts only JWKS.
func (c *Config) Validate() error {
	if _, err := c.SigningKey(); err != nil {
		return err
	}
	if !c.IsDev() && c.AuthSigningKey == "" && c.AuthJWKSURL == "" {
		return fmt.Errorf("AUTH_JWKS_URL or AUTH_SIGNING_KEY must be set when ENV=%q", c.Env)
	}
	if c.IsProduction() && c.AuthJWKSURL == "" {
		return fmt.Errorf("AUTH_JWKS_URL is required in production")
	}

	if !sitePattern.MatchString(c.DefaultSite) {
		return fmt.Errorf("DEFAULT_SITE must match %s, got %q", sitePattern, c.DefaultSite)
	}
	if c.DefaultTravelMinutes < 0 {
		return fmt.Errorf("DEFAULT_TRAVEL_MINUTES must not be negative")
	}
	if c.DefaultWindowDays < 0 {
		return fmt.Errorf("DEFAULT_WINDOW_DAYS must not be negative")
	}
	if c.RedisURL != "" && c.BurdenCacheTTL <= 0 {
		return fmt.Errorf("BURDEN_CACHE_TTL must be positive when REDIS_URL is set")
	}
	if c.SendGridAPIKey != "" && c.EmailFrom == "" {
		return fmt.Errorf("EMAIL_FROM is required when SENDGRID_API_KEY is set")
	}

	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	return nil
}
