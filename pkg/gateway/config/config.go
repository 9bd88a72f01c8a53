package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/vango-go/vai-interview/internal/envutil"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeOptional AuthMode = "optional"
	AuthModeDisabled AuthMode = "disabled"
)

type StorageBackend string

const (
	StorageFS    StorageBackend = "fs"
	StorageAzure StorageBackend = "azblob"
)

type TokenMinter string

const (
	MinterStatic TokenMinter = "static"
	MinterOpenAI TokenMinter = "openai"
)

type Config struct {
	Addr string

	AuthMode AuthMode
	APIKeys  map[string]struct{}

	// If true, client identity may be derived from proxy headers like X-Forwarded-For.
	// This should only be enabled when the gateway is deployed behind a trusted proxy/LB.
	TrustProxyHeaders bool

	MaxBodyBytes  int64
	MaxBlockBytes int64

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty disables CORS, "*" admits any origin

	// Recording block storage.
	Storage          StorageBackend
	StorageDir       string
	AzureAccountURL  string
	AzureContainer   string
	AzureAccountName string
	AzureAccountKey  string

	// Results database.
	DatabaseDriver string
	DatabaseURL    string

	// Realtime credential minting.
	Minter          TokenMinter
	StaticToken     string
	OpenAIBaseURL   string
	OpenAIAPIKey    string
	RealtimeModel   string
	RealtimeVoice   string
	TokenTTL        time.Duration
	MintTimeout     time.Duration
	MetricsEndpoint bool

	// In-memory limits (per principal).
	LimitRPS                   float64
	LimitBurst                 int
	LimitMaxConcurrentRequests int
	LimitMaxConcurrentUploads  int

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	HandlerTimeout      time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                       envutil.Or("INTERVIEW_GATEWAY_ADDR", ":8080"),
		AuthMode:                   AuthMode(envutil.Or("INTERVIEW_GATEWAY_AUTH_MODE", string(AuthModeRequired))),
		APIKeys:                    make(map[string]struct{}),
		TrustProxyHeaders:          envutil.BoolOr("INTERVIEW_GATEWAY_TRUST_PROXY_HEADERS", false),
		MaxBodyBytes:               envutil.Int64Or("INTERVIEW_GATEWAY_MAX_BODY_BYTES", 4<<20),  // 4 MiB
		MaxBlockBytes:              envutil.Int64Or("INTERVIEW_GATEWAY_MAX_BLOCK_BYTES", 8<<20), // 8 MiB
		CORSAllowedOrigins:         make(map[string]struct{}),
		Storage:                    StorageBackend(envutil.Or("INTERVIEW_GATEWAY_STORAGE", string(StorageFS))),
		StorageDir:                 envutil.Or("INTERVIEW_GATEWAY_STORAGE_DIR", "./data/recordings"),
		AzureAccountURL:            envutil.Or("INTERVIEW_GATEWAY_AZURE_ACCOUNT_URL", ""),
		AzureContainer:             envutil.Or("INTERVIEW_GATEWAY_AZURE_CONTAINER", "interviews"),
		AzureAccountName:           envutil.Or("INTERVIEW_GATEWAY_AZURE_ACCOUNT_NAME", ""),
		AzureAccountKey:            envutil.Or("INTERVIEW_GATEWAY_AZURE_ACCOUNT_KEY", ""),
		DatabaseDriver:             envutil.Or("INTERVIEW_GATEWAY_DB_DRIVER", "sqlite3"),
		DatabaseURL:                envutil.Or("INTERVIEW_GATEWAY_DB_URL", "file:./data/interview.db?_foreign_keys=on"),
		Minter:                     TokenMinter(envutil.Or("INTERVIEW_GATEWAY_MINTER", string(MinterStatic))),
		StaticToken:                envutil.Or("INTERVIEW_GATEWAY_STATIC_TOKEN", ""),
		OpenAIBaseURL:              envutil.Or("INTERVIEW_GATEWAY_OPENAI_BASE_URL", "https://api.openai.com"),
		OpenAIAPIKey:               envutil.Or("OPENAI_API_KEY", ""),
		RealtimeModel:              envutil.Or("INTERVIEW_GATEWAY_REALTIME_MODEL", "gpt-4o-realtime-preview"),
		RealtimeVoice:              envutil.Or("INTERVIEW_GATEWAY_REALTIME_VOICE", "alloy"),
		TokenTTL:                   envutil.DurationOr("INTERVIEW_GATEWAY_TOKEN_TTL", time.Minute),
		MintTimeout:                envutil.DurationOr("INTERVIEW_GATEWAY_MINT_TIMEOUT", 10*time.Second),
		MetricsEndpoint:            envutil.BoolOr("INTERVIEW_GATEWAY_METRICS", true),
		LimitRPS:                   envutil.Float64Or("INTERVIEW_GATEWAY_RATE_LIMIT_RPS", 20.0),
		LimitBurst:                 envutil.IntOr("INTERVIEW_GATEWAY_RATE_LIMIT_BURST", 40),
		LimitMaxConcurrentRequests: envutil.IntOr("INTERVIEW_GATEWAY_MAX_CONCURRENT_REQUESTS", 20),
		LimitMaxConcurrentUploads:  envutil.IntOr("INTERVIEW_GATEWAY_MAX_CONCURRENT_UPLOADS", 4),
		ReadHeaderTimeout:          envutil.DurationOr("INTERVIEW_GATEWAY_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:                envutil.DurationOr("INTERVIEW_GATEWAY_READ_TIMEOUT", 60*time.Second),
		HandlerTimeout:             envutil.DurationOr("INTERVIEW_GATEWAY_TOTAL_REQUEST_TIMEOUT", 2*time.Minute),
		ShutdownGracePeriod:        envutil.DurationOr("INTERVIEW_GATEWAY_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeOptional, AuthModeDisabled:
	default:
		return Config{}, fmt.Errorf("INTERVIEW_GATEWAY_AUTH_MODE must be one of required|optional|disabled")
	}

	for _, key := range envutil.SplitCSV(os.Getenv("INTERVIEW_GATEWAY_API_KEYS")) {
		cfg.APIKeys[key] = struct{}{}
	}
	for _, origin := range envutil.SplitCSV(os.Getenv("INTERVIEW_GATEWAY_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges and cross-field requirements.
func (cfg Config) Validate() error {
	if cfg.MaxBodyBytes <= 0 {
		return fmt.Errorf("INTERVIEW_GATEWAY_MAX_BODY_BYTES must be > 0")
	}
	if cfg.MaxBlockBytes <= 0 {
		return fmt.Errorf("INTERVIEW_GATEWAY_MAX_BLOCK_BYTES must be > 0")
	}

	switch cfg.Storage {
	case StorageFS:
		if strings.TrimSpace(cfg.StorageDir) == "" {
			return fmt.Errorf("INTERVIEW_GATEWAY_STORAGE_DIR must not be empty when INTERVIEW_GATEWAY_STORAGE=fs")
		}
	case StorageAzure:
		if strings.TrimSpace(cfg.AzureAccountURL) == "" {
			return fmt.Errorf("INTERVIEW_GATEWAY_AZURE_ACCOUNT_URL must be set when INTERVIEW_GATEWAY_STORAGE=azblob")
		}
		if strings.TrimSpace(cfg.AzureContainer) == "" {
			return fmt.Errorf("INTERVIEW_GATEWAY_AZURE_CONTAINER must not be empty")
		}
		if (cfg.AzureAccountName == "") != (cfg.AzureAccountKey == "") {
			return fmt.Errorf("INTERVIEW_GATEWAY_AZURE_ACCOUNT_NAME and INTERVIEW_GATEWAY_AZURE_ACCOUNT_KEY must be set together")
		}
	default:
		return fmt.Errorf("INTERVIEW_GATEWAY_STORAGE must be one of fs|azblob")
	}

	switch cfg.DatabaseDriver {
	case "sqlite3", "pgx":
	default:
		return fmt.Errorf("INTERVIEW_GATEWAY_DB_DRIVER must be one of sqlite3|pgx")
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return fmt.Errorf("INTERVIEW_GATEWAY_DB_URL must not be empty")
	}

	switch cfg.Minter {
	case MinterStatic:
	case MinterOpenAI:
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
			return fmt.Errorf("OPENAI_API_KEY must be set when INTERVIEW_GATEWAY_MINTER=openai")
		}
		if strings.TrimSpace(cfg.OpenAIBaseURL) == "" {
			return fmt.Errorf("INTERVIEW_GATEWAY_OPENAI_BASE_URL must not be empty")
		}
	default:
		return fmt.Errorf("INTERVIEW_GATEWAY_MINTER must be one of static|openai")
	}
	if cfg.TokenTTL <= 0 {
		return fmt.Errorf("INTERVIEW_GATEWAY_TOKEN_TTL must be > 0")
	}
	if cfg.MintTimeout <= 0 {
		return fmt.Errorf("INTERVIEW_GATEWAY_MINT_TIMEOUT must be > 0")
	}

	if cfg.ReadHeaderTimeout <= 0 {
		return fmt.Errorf("INTERVIEW_GATEWAY_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return fmt.Errorf("INTERVIEW_GATEWAY_READ_TIMEOUT must be > 0")
	}
	if cfg.HandlerTimeout <= 0 {
		return fmt.Errorf("INTERVIEW_GATEWAY_TOTAL_REQUEST_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return fmt.Errorf("INTERVIEW_GATEWAY_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	if cfg.LimitRPS < 0 {
		return fmt.Errorf("INTERVIEW_GATEWAY_RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.LimitBurst < 0 {
		return fmt.Errorf("INTERVIEW_GATEWAY_RATE_LIMIT_BURST must be >= 0")
	}
	if cfg.LimitMaxConcurrentRequests < 0 {
		return fmt.Errorf("INTERVIEW_GATEWAY_MAX_CONCURRENT_REQUESTS must be >= 0")
	}
	if cfg.LimitMaxConcurrentUploads < 0 {
		return fmt.Errorf("INTERVIEW_GATEWAY_MAX_CONCURRENT_UPLOADS must be >= 0")
	}

	if cfg.AuthMode == AuthModeRequired && len(cfg.APIKeys) == 0 {
		return fmt.Errorf("INTERVIEW_GATEWAY_API_KEYS must be set when INTERVIEW_GATEWAY_AUTH_MODE=required")
	}
	return nil
}
