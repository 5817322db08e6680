package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/benvon/testnet-faucet/internal/models"
	"github.com/benvon/testnet-faucet/internal/request"
)

// Storage backends
const (
	StorageBackendFile  = "file"
	StorageBackendRedis = "redis"
)

// Config holds application configuration
type Config struct {
	ServerPort      string
	ServerDebugMode bool
	FrontendURL     string
	EnableHSTS      bool

	AdminSecret string

	SigningKey               string
	DisbursementURL          string
	DisbursementTimeout      time.Duration
	DisbursementTokenURL     string
	DisbursementClientID     string
	DisbursementClientSecret string
	RateLimitMaxRequests     int
	RateLimitWindow          time.Duration
	FaucetAmount             uint64
	FaucetDecimals           int
	PolicyFile               string
	PolicyReloadInterval     time.Duration
	RateLimitSweepInterval   time.Duration
	HTTPThrottleRate         string
	StorageBackend           string
	DataDir                  string
	RedisURL                 string
	LedgerMaxEntries         int
	RabbitMQURL              string
	OTELEnabled              bool
	OTELEndpoint             string
	// TrustedProxies lists the CIDRs whose forwarding headers are believed
	TrustedProxies string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := LoadWithoutSecret()
	cfg.AdminSecret = getEnv("ADMIN_SECRET", "")

	if cfg.AdminSecret == "" {
		return nil, fmt.Errorf("ADMIN_SECRET is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadWithoutSecret reads every option except the admin credential. The operator CLI uses it
// because it talks to storage directly and never checks the credential.
func LoadWithoutSecret() *Config {
	return &Config{
		ServerPort:               getEnv("SERVER_PORT", "8080"),
		ServerDebugMode:          getEnvBool("SERVER_DEBUG_MODE", false),
		FrontendURL:              getEnv("FRONTEND_URL", "http://localhost:3000"),
		EnableHSTS:               getEnvBool("ENABLE_HSTS", false),
		SigningKey:               getEnv("FAUCET_SIGNING_KEY", ""),
		DisbursementURL:          getEnv("DISBURSEMENT_URL", ""),
		DisbursementTimeout:      getEnvDuration("DISBURSEMENT_TIMEOUT", 20*time.Second),
		DisbursementTokenURL:     getEnv("DISBURSEMENT_OAUTH_TOKEN_URL", ""),
		DisbursementClientID:     getEnv("DISBURSEMENT_OAUTH_CLIENT_ID", ""),
		DisbursementClientSecret: getEnv("DISBURSEMENT_OAUTH_CLIENT_SECRET", ""),
		RateLimitMaxRequests:     getEnvInt("RATE_LIMIT_MAX_REQUESTS", 1),
		RateLimitWindow:          getEnvDuration("RATE_LIMIT_WINDOW", time.Hour),
		FaucetAmount:             getEnvUint64("FAUCET_AMOUNT", 1_000_000_000),
		FaucetDecimals:           getEnvInt("FAUCET_DECIMALS", 9),
		PolicyFile:               getEnv("POLICY_FILE", ""),
		PolicyReloadInterval:     getEnvDuration("POLICY_RELOAD_INTERVAL", time.Minute),
		RateLimitSweepInterval:   getEnvDuration("RATE_LIMIT_SWEEP_INTERVAL", 10*time.Minute),
		HTTPThrottleRate:         getEnv("HTTP_THROTTLE_RATE", "30-M"),
		StorageBackend:           getEnv("STORAGE_BACKEND", StorageBackendFile),
		DataDir:                  getEnv("DATA_DIR", "./data"),
		RedisURL:                 getEnv("REDIS_URL", "redis://localhost:6379/0"),
		LedgerMaxEntries:         getEnvInt("LEDGER_MAX_ENTRIES", 200),
		RabbitMQURL:              getEnv("RABBITMQ_URL", ""),
		OTELEnabled:              getEnvBool("OTEL_ENABLED", false),
		OTELEndpoint:             getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		TrustedProxies:           getEnv("TRUSTED_PROXIES", ""),
	}
}

// Validate checks values that have no usable fallback
func (c *Config) Validate() error {
	switch c.StorageBackend {
	case StorageBackendFile, StorageBackendRedis:
	default:
		return fmt.Errorf("STORAGE_BACKEND must be %q or %q, got %q", StorageBackendFile, StorageBackendRedis, c.StorageBackend)
	}
	if err := c.DefaultPolicy().Validate(); err != nil {
		return fmt.Errorf("invalid faucet policy: %w", err)
	}
	if c.DisbursementURL != "" && c.SigningKey == "" {
		return fmt.Errorf("FAUCET_SIGNING_KEY is required when DISBURSEMENT_URL is set")
	}
	if c.LedgerMaxEntries <= 0 {
		return fmt.Errorf("LEDGER_MAX_ENTRIES must be positive, got %d", c.LedgerMaxEntries)
	}
	if _, err := request.ParseTrustedProxies(c.TrustedProxies); err != nil {
		return fmt.Errorf("TRUSTED_PROXIES: %w", err)
	}
	if c.DisbursementTimeout <= 0 {
		return fmt.Errorf("DISBURSEMENT_TIMEOUT must be positive, got %s", c.DisbursementTimeout)
	}
	return nil
}

// DefaultPolicy is the policy built from the environment, used when no policy file is set
// and as the base a policy file overrides
func (c *Config) DefaultPolicy() models.Policy {
	return models.Policy{
		MaxRequests:  c.RateLimitMaxRequests,
		Window:       c.RateLimitWindow,
		Amount:       c.FaucetAmount,
		Decimals:     c.FaucetDecimals,
		ThrottleRate: c.HTTPThrottleRate,
	}
}

// LedgerPath is the JSON log file of the file backend
func (c *Config) LedgerPath() string {
	return filepath.Join(c.DataDir, "faucet-logs.json")
}

// BansPath is the JSON ban list file of the file backend
func (c *Config) BansPath() string {
	return filepath.Join(c.DataDir, "faucet-bans.json")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseUint(value, 10, 64); err == nil {
			return v
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("90m") or a bare integer of milliseconds
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}
