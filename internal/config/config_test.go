package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// configEnvVars lists every variable Load reads so each case starts from a clean environment
var configEnvVars = []string{
	"SERVER_PORT",
	"SERVER_DEBUG_MODE",
	"FRONTEND_URL",
	"ENABLE_HSTS",
	"ADMIN_SECRET",
	"FAUCET_SIGNING_KEY",
	"DISBURSEMENT_URL",
	"DISBURSEMENT_TIMEOUT",
	"RATE_LIMIT_MAX_REQUESTS",
	"RATE_LIMIT_WINDOW",
	"FAUCET_AMOUNT",
	"FAUCET_DECIMALS",
	"STORAGE_BACKEND",
	"DATA_DIR",
	"REDIS_URL",
	"LEDGER_MAX_ENTRIES",
	"RABBITMQ_URL",
	"TRUSTED_PROXIES",
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		envVars     map[string]string
		expectError string
		validate    func(*testing.T, *Config)
	}{
		{
			name:    "defaults",
			envVars: map[string]string{"ADMIN_SECRET": "s3cret"},
			validate: func(t *testing.T, cfg *Config) {
				if cfg.ServerPort != "8080" {
					t.Errorf("Expected default ServerPort to be '8080', got '%s'", cfg.ServerPort)
				}
				if cfg.RateLimitMaxRequests != 1 {
					t.Errorf("Expected default RateLimitMaxRequests 1, got %d", cfg.RateLimitMaxRequests)
				}
				if cfg.RateLimitWindow != time.Hour {
					t.Errorf("Expected default RateLimitWindow 1h, got %s", cfg.RateLimitWindow)
				}
				if cfg.FaucetAmount != 1_000_000_000 || cfg.FaucetDecimals != 9 {
					t.Errorf("Unexpected default amount %d/%d", cfg.FaucetAmount, cfg.FaucetDecimals)
				}
				if cfg.StorageBackend != StorageBackendFile {
					t.Errorf("Expected default storage backend 'file', got '%s'", cfg.StorageBackend)
				}
				if cfg.LedgerMaxEntries != 200 {
					t.Errorf("Expected default LedgerMaxEntries 200, got %d", cfg.LedgerMaxEntries)
				}
				if cfg.DisbursementTimeout != 20*time.Second {
					t.Errorf("Expected default DisbursementTimeout 20s, got %s", cfg.DisbursementTimeout)
				}
				if cfg.DefaultPolicy().DisplayAmount() != 1 {
					t.Errorf("Expected default display amount 1, got %v", cfg.DefaultPolicy().DisplayAmount())
				}
			},
		},
		{
			name:        "missing ADMIN_SECRET",
			envVars:     map[string]string{},
			expectError: "ADMIN_SECRET",
		},
		{
			name: "overrides",
			envVars: map[string]string{
				"ADMIN_SECRET":            "s3cret",
				"SERVER_PORT":             "9090",
				"RATE_LIMIT_MAX_REQUESTS": "3",
				"RATE_LIMIT_WINDOW":       "90000",
				"FAUCET_AMOUNT":           "500",
				"FAUCET_DECIMALS":         "2",
				"STORAGE_BACKEND":         "redis",
				"DATA_DIR":                "/var/lib/faucet",
			},
			validate: func(t *testing.T, cfg *Config) {
				if cfg.ServerPort != "9090" {
					t.Errorf("Expected ServerPort '9090', got '%s'", cfg.ServerPort)
				}
				if cfg.RateLimitWindow != 90*time.Second {
					t.Errorf("Expected millisecond window to parse as 90s, got %s", cfg.RateLimitWindow)
				}
				if cfg.DefaultPolicy().DisplayAmount() != 5 {
					t.Errorf("Expected display amount 5, got %v", cfg.DefaultPolicy().DisplayAmount())
				}
				if cfg.BansPath() != filepath.Join("/var/lib/faucet", "faucet-bans.json") {
					t.Errorf("Unexpected bans path %s", cfg.BansPath())
				}
			},
		},
		{
			name: "unknown storage backend",
			envVars: map[string]string{
				"ADMIN_SECRET":    "s3cret",
				"STORAGE_BACKEND": "postgres",
			},
			expectError: "STORAGE_BACKEND",
		},
		{
			name: "zero request cap",
			envVars: map[string]string{
				"ADMIN_SECRET":            "s3cret",
				"RATE_LIMIT_MAX_REQUESTS": "0",
			},
			expectError: "policy",
		},
		{
			name: "disbursement url without signing key",
			envVars: map[string]string{
				"ADMIN_SECRET":     "s3cret",
				"DISBURSEMENT_URL": "https://node.example/disburse",
			},
			expectError: "FAUCET_SIGNING_KEY",
		},
		{
			name: "trusted proxies",
			envVars: map[string]string{
				"ADMIN_SECRET":    "s3cret",
				"TRUSTED_PROXIES": "10.0.0.0/8, 192.0.2.1",
			},
			validate: func(t *testing.T, cfg *Config) {
				if cfg.TrustedProxies != "10.0.0.0/8, 192.0.2.1" {
					t.Errorf("Unexpected TrustedProxies %q", cfg.TrustedProxies)
				}
			},
		},
		{
			name: "invalid trusted proxy",
			envVars: map[string]string{
				"ADMIN_SECRET":    "s3cret",
				"TRUSTED_PROXIES": "10.0.0.0/99",
			},
			expectError: "TRUSTED_PROXIES",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range configEnvVars {
				t.Setenv(key, "")
				_ = os.Unsetenv(key)
			}
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			cfg, err := Load()

			if tt.expectError != "" {
				if err == nil {
					t.Fatal("Expected error but got nil")
				}
				if !strings.Contains(err.Error(), tt.expectError) {
					t.Errorf("Expected error mentioning %q, got %v", tt.expectError, err)
				}
				return
			}

			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if tt.validate != nil {
				tt.validate(t, cfg)
			}
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{name: "go duration", value: "15m", want: 15 * time.Minute},
		{name: "milliseconds", value: "3600000", want: time.Hour},
		{name: "garbage falls back", value: "soon", want: time.Minute},
		{name: "unset falls back", value: "", want: time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_DURATION_KEY", tt.value)
			if got := getEnvDuration("TEST_DURATION_KEY", time.Minute); got != tt.want {
				t.Errorf("getEnvDuration(%q) = %s, want %s", tt.value, got, tt.want)
			}
		})
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name         string
		value        string
		defaultValue bool
		want         bool
	}{
		{name: "env var set to 'true'", value: "true", want: true},
		{name: "env var set to '1'", value: "1", want: true},
		{name: "env var set to 'yes'", value: "yes", want: true},
		{name: "env var set to 'false'", value: "false", defaultValue: true, want: false},
		{name: "env var not set", value: "", defaultValue: true, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_BOOL_KEY", tt.value)
			got := getEnvBool("TEST_BOOL_KEY", tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvBool(%q, %v) = %v, want %v", tt.value, tt.defaultValue, got, tt.want)
			}
		})
	}
}

func TestGetEnvUint64(t *testing.T) {
	t.Setenv("TEST_UINT_KEY", "18446744073709551615")
	if got := getEnvUint64("TEST_UINT_KEY", 1); got != 18446744073709551615 {
		t.Errorf("getEnvUint64 = %d", got)
	}
	t.Setenv("TEST_UINT_KEY", "-5")
	if got := getEnvUint64("TEST_UINT_KEY", 7); got != 7 {
		t.Errorf("expected fallback for negative value, got %d", got)
	}
}
