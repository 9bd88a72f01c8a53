package config

import (
	"strings"
	"testing"
	"time"
)

var gatewayEnvKeys = []string{
	"INTERVIEW_GATEWAY_ADDR",
	"INTERVIEW_GATEWAY_AUTH_MODE",
	"INTERVIEW_GATEWAY_API_KEYS",
	"INTERVIEW_GATEWAY_TRUST_PROXY_HEADERS",
	"INTERVIEW_GATEWAY_CORS_ORIGINS",
	"INTERVIEW_GATEWAY_MAX_BODY_BYTES",
	"INTERVIEW_GATEWAY_MAX_BLOCK_BYTES",
	"INTERVIEW_GATEWAY_STORAGE",
	"INTERVIEW_GATEWAY_STORAGE_DIR",
	"INTERVIEW_GATEWAY_AZURE_ACCOUNT_URL",
	"INTERVIEW_GATEWAY_AZURE_CONTAINER",
	"INTERVIEW_GATEWAY_AZURE_ACCOUNT_NAME",
	"INTERVIEW_GATEWAY_AZURE_ACCOUNT_KEY",
	"INTERVIEW_GATEWAY_DB_DRIVER",
	"INTERVIEW_GATEWAY_DB_URL",
	"INTERVIEW_GATEWAY_MINTER",
	"INTERVIEW_GATEWAY_STATIC_TOKEN",
	"INTERVIEW_GATEWAY_OPENAI_BASE_URL",
	"OPENAI_API_KEY",
	"INTERVIEW_GATEWAY_REALTIME_MODEL",
	"INTERVIEW_GATEWAY_REALTIME_VOICE",
	"INTERVIEW_GATEWAY_TOKEN_TTL",
	"INTERVIEW_GATEWAY_MINT_TIMEOUT",
	"INTERVIEW_GATEWAY_METRICS",
	"INTERVIEW_GATEWAY_RATE_LIMIT_RPS",
	"INTERVIEW_GATEWAY_RATE_LIMIT_BURST",
	"INTERVIEW_GATEWAY_MAX_CONCURRENT_REQUESTS",
	"INTERVIEW_GATEWAY_MAX_CONCURRENT_UPLOADS",
	"INTERVIEW_GATEWAY_READ_HEADER_TIMEOUT",
	"INTERVIEW_GATEWAY_READ_TIMEOUT",
	"INTERVIEW_GATEWAY_TOTAL_REQUEST_TIMEOUT",
	"INTERVIEW_GATEWAY_SHUTDOWN_GRACE_PERIOD",
}

func clearGatewayEnv(t *testing.T) {
	t.Helper()
	for _, key := range gatewayEnvKeys {
		t.Setenv(key, "")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("INTERVIEW_GATEWAY_API_KEYS", "ik_test")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Addr != ":8080" {
		t.Fatalf("Addr = %q, want :8080", cfg.Addr)
	}
	if cfg.AuthMode != AuthModeRequired {
		t.Fatalf("AuthMode = %q, want %q", cfg.AuthMode, AuthModeRequired)
	}
	if cfg.MaxBodyBytes != 4<<20 {
		t.Fatalf("MaxBodyBytes = %d, want %d", cfg.MaxBodyBytes, int64(4<<20))
	}
	if cfg.MaxBlockBytes != 8<<20 {
		t.Fatalf("MaxBlockBytes = %d, want %d", cfg.MaxBlockBytes, int64(8<<20))
	}
	if cfg.Storage != StorageFS {
		t.Fatalf("Storage = %q, want fs", cfg.Storage)
	}
	if cfg.DatabaseDriver != "sqlite3" {
		t.Fatalf("DatabaseDriver = %q, want sqlite3", cfg.DatabaseDriver)
	}
	if cfg.Minter != MinterStatic {
		t.Fatalf("Minter = %q, want static", cfg.Minter)
	}
	if cfg.TokenTTL != time.Minute {
		t.Fatalf("TokenTTL = %v, want 1m", cfg.TokenTTL)
	}
	if !cfg.MetricsEndpoint {
		t.Fatalf("MetricsEndpoint = false, want true")
	}
	if cfg.LimitMaxConcurrentUploads != 4 {
		t.Fatalf("LimitMaxConcurrentUploads = %d, want 4", cfg.LimitMaxConcurrentUploads)
	}
	if cfg.ShutdownGracePeriod != 30*time.Second {
		t.Fatalf("ShutdownGracePeriod = %v, want 30s", cfg.ShutdownGracePeriod)
	}
	if _, ok := cfg.APIKeys["ik_test"]; !ok {
		t.Fatalf("APIKeys missing ik_test")
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("INTERVIEW_GATEWAY_AUTH_MODE", "optional")
	t.Setenv("INTERVIEW_GATEWAY_STORAGE", "azblob")
	t.Setenv("INTERVIEW_GATEWAY_AZURE_ACCOUNT_URL", "https://acct.blob.core.windows.net")
	t.Setenv("INTERVIEW_GATEWAY_AZURE_CONTAINER", "recordings")
	t.Setenv("INTERVIEW_GATEWAY_DB_DRIVER", "pgx")
	t.Setenv("INTERVIEW_GATEWAY_DB_URL", "postgres://localhost/interview")
	t.Setenv("INTERVIEW_GATEWAY_MINTER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("INTERVIEW_GATEWAY_TOKEN_TTL", "90s")
	t.Setenv("INTERVIEW_GATEWAY_RATE_LIMIT_RPS", "1.5")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.Storage != StorageAzure || cfg.AzureContainer != "recordings" {
		t.Fatalf("storage = %q/%q", cfg.Storage, cfg.AzureContainer)
	}
	if cfg.DatabaseDriver != "pgx" || cfg.DatabaseURL != "postgres://localhost/interview" {
		t.Fatalf("database = %q/%q", cfg.DatabaseDriver, cfg.DatabaseURL)
	}
	if cfg.Minter != MinterOpenAI || cfg.OpenAIAPIKey != "sk-test" {
		t.Fatalf("minter = %q", cfg.Minter)
	}
	if cfg.TokenTTL != 90*time.Second {
		t.Fatalf("TokenTTL = %v", cfg.TokenTTL)
	}
	if cfg.LimitRPS != 1.5 {
		t.Fatalf("LimitRPS = %v", cfg.LimitRPS)
	}
}

func TestLoadFromEnv_RequiredAuthNeedsAPIKeys(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("INTERVIEW_GATEWAY_AUTH_MODE", "required")

	_, err := LoadFromEnv()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "INTERVIEW_GATEWAY_API_KEYS") {
		t.Fatalf("error = %v, expected INTERVIEW_GATEWAY_API_KEYS in message", err)
	}
}

func TestLoadFromEnv_ParsesCSVOrigins(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("INTERVIEW_GATEWAY_AUTH_MODE", "optional")
	t.Setenv("INTERVIEW_GATEWAY_CORS_ORIGINS", "https://one.example, https://two.example,,")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if len(cfg.CORSAllowedOrigins) != 2 {
		t.Fatalf("CORSAllowedOrigins len=%d, want 2", len(cfg.CORSAllowedOrigins))
	}
	if _, ok := cfg.CORSAllowedOrigins["https://two.example"]; !ok {
		t.Fatalf("missing https://two.example")
	}
}

func TestLoadFromEnv_InvalidValues(t *testing.T) {
	cases := []struct {
		name      string
		env       map[string]string
		errSubstr string
	}{
		{
			name: "unknown auth mode",
			env: map[string]string{
				"INTERVIEW_GATEWAY_AUTH_MODE": "sometimes",
			},
			errSubstr: "INTERVIEW_GATEWAY_AUTH_MODE",
		},
		{
			name: "unknown storage",
			env: map[string]string{
				"INTERVIEW_GATEWAY_AUTH_MODE": "optional",
				"INTERVIEW_GATEWAY_STORAGE":   "s3",
			},
			errSubstr: "INTERVIEW_GATEWAY_STORAGE",
		},
		{
			name: "azure without account url",
			env: map[string]string{
				"INTERVIEW_GATEWAY_AUTH_MODE": "optional",
				"INTERVIEW_GATEWAY_STORAGE":   "azblob",
			},
			errSubstr: "INTERVIEW_GATEWAY_AZURE_ACCOUNT_URL",
		},
		{
			name: "azure account key without name",
			env: map[string]string{
				"INTERVIEW_GATEWAY_AUTH_MODE":         "optional",
				"INTERVIEW_GATEWAY_STORAGE":           "azblob",
				"INTERVIEW_GATEWAY_AZURE_ACCOUNT_URL": "https://acct.blob.core.windows.net",
				"INTERVIEW_GATEWAY_AZURE_ACCOUNT_KEY": "a2V5",
			},
			errSubstr: "must be set together",
		},
		{
			name: "unknown db driver",
			env: map[string]string{
				"INTERVIEW_GATEWAY_AUTH_MODE": "optional",
				"INTERVIEW_GATEWAY_DB_DRIVER": "mysql",
			},
			errSubstr: "INTERVIEW_GATEWAY_DB_DRIVER",
		},
		{
			name: "openai minter without key",
			env: map[string]string{
				"INTERVIEW_GATEWAY_AUTH_MODE": "optional",
				"INTERVIEW_GATEWAY_MINTER":    "openai",
			},
			errSubstr: "OPENAI_API_KEY",
		},
		{
			name: "invalid shutdown grace period",
			env: map[string]string{
				"INTERVIEW_GATEWAY_AUTH_MODE":             "optional",
				"INTERVIEW_GATEWAY_SHUTDOWN_GRACE_PERIOD": "0s",
			},
			errSubstr: "INTERVIEW_GATEWAY_SHUTDOWN_GRACE_PERIOD",
		},
		{
			name: "negative upload concurrency",
			env: map[string]string{
				"INTERVIEW_GATEWAY_AUTH_MODE":              "optional",
				"INTERVIEW_GATEWAY_MAX_CONCURRENT_UPLOADS": "-1",
			},
			errSubstr: "INTERVIEW_GATEWAY_MAX_CONCURRENT_UPLOADS",
		},
		{
			name: "zero block size",
			env: map[string]string{
				"INTERVIEW_GATEWAY_AUTH_MODE":       "optional",
				"INTERVIEW_GATEWAY_MAX_BLOCK_BYTES": "0",
			},
			errSubstr: "INTERVIEW_GATEWAY_MAX_BLOCK_BYTES",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearGatewayEnv(t)
			for key, value := range tc.env {
				t.Setenv(key, value)
			}
			_, err := LoadFromEnv()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.errSubstr) {
				t.Fatalf("error = %v, expected substring %q", err, tc.errSubstr)
			}
		})
	}
}
