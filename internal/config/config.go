// Package config loads the service configuration from the environment and
// an optional .env file.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env     string `mapstructure:"APP_ENV"`
	AppPort string `mapstructure:"APP_PORT"`
	// BaseURL is the public origin of the service; the OIDC callback is BaseURL + "/callback".
	BaseURL string `mapstructure:"APP_BASE_URL"`

	SessionTimeout          time.Duration `mapstructure:"SESSION_TIMEOUT"`
	SessionRefreshThreshold time.Duration `mapstructure:"SESSION_REFRESH_THRESHOLD"`
	StateTTL                time.Duration `mapstructure:"OIDC_STATE_TTL"`

	JWTSecret string `mapstructure:"JWT_SECRET"`
	JWTIssuer string `mapstructure:"JWT_ISSUER"`

	// OIDCIssuer overrides the issuer derived from AzureTenantID.
	OIDCIssuer         string `mapstructure:"OIDC_ISSUER"`
	AzureTenantID      string `mapstructure:"AZURE_AD_TENANT_ID"`
	AzureClientID      string `mapstructure:"AZURE_AD_CLIENT_ID"`
	AzureClientSecret  string `mapstructure:"AZURE_AD_CLIENT_SECRET"`
	OrganizationID     string `mapstructure:"ORGANIZATION_ID"`
	CORSAllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	DatabaseDSN   string `mapstructure:"DATABASE_DSN"`
	EncryptionKey string `mapstructure:"ENCRYPTION_KEY"`

	WSIdleTimeout   time.Duration `mapstructure:"WS_IDLE_TIMEOUT"`
	WSSweepInterval time.Duration `mapstructure:"WS_SWEEP_INTERVAL"`
}

// Load reads .env (if present), then the environment. Env vars override .env.
func Load() (Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // missing .env is fine

	v.AutomaticEnv()

	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_PORT", "3000")
	v.SetDefault("APP_BASE_URL", "http://localhost:3000")
	v.SetDefault("SESSION_TIMEOUT", 8*time.Hour)
	v.SetDefault("SESSION_REFRESH_THRESHOLD", time.Hour)
	v.SetDefault("OIDC_STATE_TTL", 10*time.Minute)
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_ISSUER", "chat-service")
	v.SetDefault("OIDC_ISSUER", "")
	v.SetDefault("AZURE_AD_TENANT_ID", "")
	v.SetDefault("AZURE_AD_CLIENT_ID", "")
	v.SetDefault("AZURE_AD_CLIENT_SECRET", "")
	v.SetDefault("ORGANIZATION_ID", "default")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("DATABASE_DSN", "")
	v.SetDefault("ENCRYPTION_KEY", "")
	v.SetDefault("WS_IDLE_TIMEOUT", 30*time.Minute)
	v.SetDefault("WS_SWEEP_INTERVAL", 5*time.Minute)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) validate() error {
	if c.AppPort == "" {
		return errors.New("config: APP_PORT must be set")
	}
	if len(c.JWTSecret) < 32 {
		return errors.New("config: JWT_SECRET must be at least 32 bytes")
	}
	if len(c.EncryptionKey) < 32 {
		return errors.New("config: ENCRYPTION_KEY must be at least 32 characters")
	}
	if c.DatabaseDSN == "" {
		return errors.New("config: DATABASE_DSN is required")
	}
	if c.SessionTimeout <= 0 {
		return errors.New("config: SESSION_TIMEOUT must be positive")
	}
	if c.SessionRefreshThreshold < 0 || c.SessionRefreshThreshold >= c.SessionTimeout {
		return errors.New("config: SESSION_REFRESH_THRESHOLD must be between 0 and SESSION_TIMEOUT")
	}
	if c.StateTTL <= 0 {
		return errors.New("config: OIDC_STATE_TTL must be positive")
	}
	return nil
}

// Production reports whether cookies must carry the Secure flag.
func (c Config) Production() bool {
	return c.Env == "production"
}

// RedirectURL is the fixed OIDC callback registered with the identity provider.
func (c Config) RedirectURL() string {
	return strings.TrimRight(c.BaseURL, "/") + "/callback"
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS.
func (c Config) AllowedOrigins() []string {
	if c.CORSAllowedOrigins == "" {
		return nil
	}
	parts := strings.Split(c.CORSAllowedOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
