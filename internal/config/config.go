package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Secrets   SecretsConfig
	Providers ProvidersConfig
	Routing   RoutingConfig
	RateLimit RateLimitConfig
	Logger    LoggerConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port        int
	Host        string
	MetricsPort int
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
	MinConns int32
}

// SecretsConfig selects the secret backend used for provider
// credentials. Backend is one of: env, aws, vault.
type SecretsConfig struct {
	Backend      string
	EnvPrefix    string
	AWSRegion    string
	VaultAddress string
	VaultToken   string
	VaultMount   string
	CacheTTL     int // seconds
}

// ProviderConfig holds one PSP's connection settings. The API key and
// webhook secret are referenced by secret path, never inlined.
type ProviderConfig struct {
	Enabled           bool
	BaseURL           string
	APIKeyPath        string
	WebhookSecretPath string
	Timeout           int // seconds
}

// ProvidersConfig holds settings for each supported PSP.
type ProvidersConfig struct {
	Moyasar ProviderConfig
	Tap     ProviderConfig
}

// RoutingConfig holds router fallback behavior.
type RoutingConfig struct {
	DefaultProvider string
}

// RateLimitConfig holds per-merchant rate limiting settings.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerSecond float64
	Burst             int
}

// LoggerConfig holds logging configuration
type LoggerConfig struct {
	Level       string // debug, info, warn, error
	Development bool
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:        getEnvAsInt("SERVER_PORT", 8080),
			Host:        getEnv("SERVER_HOST", "0.0.0.0"),
			MetricsPort: getEnvAsInt("METRICS_PORT", 9090),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "payment_orchestrator"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
			MaxConns: int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns: int32(getEnvAsInt("DB_MIN_CONNS", 5)),
		},
		Secrets: SecretsConfig{
			Backend:      getEnv("SECRETS_BACKEND", "env"),
			EnvPrefix:    getEnv("SECRETS_ENV_PREFIX", "SECRET_"),
			AWSRegion:    getEnv("AWS_REGION", "me-south-1"),
			VaultAddress: getEnv("VAULT_ADDR", ""),
			VaultToken:   getEnv("VAULT_TOKEN", ""),
			VaultMount:   getEnv("VAULT_MOUNT", "secret"),
			CacheTTL:     getEnvAsInt("SECRETS_CACHE_TTL", 300),
		},
		Providers: ProvidersConfig{
			Moyasar: ProviderConfig{
				Enabled:           getEnvAsBool("MOYASAR_ENABLED", true),
				BaseURL:           getEnv("MOYASAR_BASE_URL", "https://api.moyasar.com"),
				APIKeyPath:        getEnv("MOYASAR_API_KEY_PATH", "providers/moyasar/api_key"),
				WebhookSecretPath: getEnv("MOYASAR_WEBHOOK_SECRET_PATH", "providers/moyasar/webhook_secret"),
				Timeout:           getEnvAsInt("MOYASAR_TIMEOUT", 30),
			},
			Tap: ProviderConfig{
				Enabled:           getEnvAsBool("TAP_ENABLED", true),
				BaseURL:           getEnv("TAP_BASE_URL", "https://api.tap.company"),
				APIKeyPath:        getEnv("TAP_API_KEY_PATH", "providers/tap/api_key"),
				WebhookSecretPath: getEnv("TAP_WEBHOOK_SECRET_PATH", "providers/tap/webhook_secret"),
				Timeout:           getEnvAsInt("TAP_TIMEOUT", 30),
			},
		},
		Routing: RoutingConfig{
			DefaultProvider: getEnv("DEFAULT_PROVIDER", "moyasar"),
		},
		RateLimit: RateLimitConfig{
			Enabled:           getEnvAsBool("RATE_LIMIT_ENABLED", true),
			RequestsPerSecond: getEnvAsFloat("RATE_LIMIT_RPS", 50),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 100),
		},
		Logger: LoggerConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Development: getEnvAsBool("LOG_DEVELOPMENT", false),
		},
	}

	// Validate required fields
	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}
	if !cfg.Providers.Moyasar.Enabled && !cfg.Providers.Tap.Enabled {
		return nil, fmt.Errorf("at least one payment provider must be enabled")
	}
	switch cfg.Secrets.Backend {
	case "env", "aws":
	case "vault":
		if cfg.Secrets.VaultAddress == "" {
			return nil, fmt.Errorf("VAULT_ADDR is required for the vault secrets backend")
		}
	default:
		return nil, fmt.Errorf("unknown secrets backend %q", cfg.Secrets.Backend)
	}

	return cfg, nil
}

// ConnectionString returns PostgreSQL connection string
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
