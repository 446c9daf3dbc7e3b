// Package config handles application configuration from environment variables
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// PublicBaseURL is the externally visible base URL, used to build
	// absolute resource URLs in the x402 discovery document.
	PublicBaseURL string

	// Payment settings
	PaymentWallet   string // Solana address that receives payments
	PriceLamports   uint64 // price per priced request
	VerificationTTL time.Duration
	SolanaRPCURL    string
	LookupTimeout   time.Duration

	// Data service settings
	BreakerThreshold int
	BreakerCooldown  time.Duration
	SourceTimeout    time.Duration
	ExploitCacheTTL  time.Duration

	// Upstream sources (empty base URL disables a source)
	LlamaHacksURL   string
	RektFeedURL     string
	RektFeedAPIKey  string
	ApprovalsAPIURL string

	// Risk data overrides (optional JSON files; built-in tables when unset)
	RouterTableFile string
	DenyListFile    string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Receipts
	ReceiptHMACSecret string

	// Observability
	OTLPEndpoint string
	RateLimitRPM int
}

// Defaults
const (
	DefaultPort          = "8080"
	DefaultEnv           = "development"
	DefaultLogLevel      = "info"
	DefaultSolanaRPCURL  = "https://api.mainnet-beta.solana.com"
	DefaultPriceLamports = 1_000_000 // 0.001 SOL
	DefaultRateLimitRPM  = 120
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", DefaultPort),
		Env:               getEnv("ENV", DefaultEnv),
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
		PublicBaseURL:     getEnv("PUBLIC_BASE_URL", "http://localhost:"+getEnv("PORT", DefaultPort)),
		PaymentWallet:     os.Getenv("PAYMENT_WALLET"), // Required, no default
		PriceLamports:     getEnvUint64("PRICE_LAMPORTS", DefaultPriceLamports),
		VerificationTTL:   getEnvDuration("VERIFICATION_TTL", time.Hour),
		SolanaRPCURL:      getEnv("SOLANA_RPC_URL", DefaultSolanaRPCURL),
		LookupTimeout:     getEnvDuration("LOOKUP_TIMEOUT", 10*time.Second),
		BreakerThreshold:  int(getEnvUint64("BREAKER_THRESHOLD", 3)),
		BreakerCooldown:   getEnvDuration("BREAKER_COOLDOWN", 60*time.Second),
		SourceTimeout:     getEnvDuration("SOURCE_TIMEOUT", 8*time.Second),
		ExploitCacheTTL:   getEnvDuration("EXPLOIT_CACHE_TTL", 5*time.Minute),
		LlamaHacksURL:     getEnv("LLAMAHACKS_URL", "https://api.llama.fi"),
		RektFeedURL:       os.Getenv("REKTFEED_URL"),
		RektFeedAPIKey:    os.Getenv("REKTFEED_API_KEY"),
		ApprovalsAPIURL:   os.Getenv("APPROVALS_API_URL"),
		RouterTableFile:   os.Getenv("ROUTER_TABLE_FILE"),
		DenyListFile:      os.Getenv("DENY_LIST_FILE"),
		DatabaseURL:       os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		ReceiptHMACSecret: os.Getenv("RECEIPT_HMAC_SECRET"),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		RateLimitRPM:      int(getEnvUint64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.PaymentWallet == "" {
		return fmt.Errorf("PAYMENT_WALLET is required")
	}
	if l := len(c.PaymentWallet); l < 32 || l > 44 {
		return fmt.Errorf("PAYMENT_WALLET must be a base58 Solana address (32-44 characters)")
	}
	if c.PriceLamports == 0 {
		return fmt.Errorf("PRICE_LAMPORTS must be greater than zero")
	}
	if c.SolanaRPCURL == "" {
		return fmt.Errorf("SOLANA_RPC_URL is required")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// LoadRouterTable reads the spender→protocol table from RouterTableFile,
// or returns the given defaults when no file is configured.
func (c *Config) LoadRouterTable(defaults map[string]string) (map[string]string, error) {
	if c.RouterTableFile == "" {
		return defaults, nil
	}
	return loadJSONFile[map[string]string](c.RouterTableFile)
}

// LoadDenyList reads the spender deny list from DenyListFile,
// or returns the given defaults when no file is configured.
func (c *Config) LoadDenyList(defaults []string) ([]string, error) {
	if c.DenyListFile == "" {
		return defaults, nil
	}
	return loadJSONFile[[]string](c.DenyListFile)
}

func loadJSONFile[T any](path string) (T, error) {
	var out T
	data, err := os.ReadFile(path)
	if err != nil {
		return out, fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("parse %s: %w", path, err)
	}
	return out, nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseUint(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
