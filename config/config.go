package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Provider credentials (required for live data, unused for synthetic/store)
	ProviderAPIKey     string
	ProviderClientCode string
	ProviderPassword   string
	ProviderTOTPSecret string
	ProviderRootURL    string

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	MetricsAddr   string
	GatewayAddr   string
	WebhookURL    string

	// Rate limit budgets: "name:max:windowSeconds" comma-separated
	RateBudgets string

	// Scheduler cadences
	PreMarketPollInterval time.Duration
	MarketPollInterval    time.Duration
	ScanInterval          time.Duration
	DiscoveryInterval     time.Duration
	CleanupHourLocal      int // local hour for daily retention cleanup
	RetentionDays         int
	ActiveTopN            int

	// Symbol universe
	WatchSymbols string // comma-separated seed symbols
	Indices      string // comma-separated index names for discovery

	// Sandbox defaults
	SandboxInitialBalance int64 // cents
	SandboxSpeed          float64
	SandboxDataSource     string // live|store|historical|synthetic
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is loaded first if present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		ProviderAPIKey:     getEnv("PROVIDER_API_KEY", ""),
		ProviderClientCode: getEnv("PROVIDER_CLIENT_CODE", ""),
		ProviderPassword:   getEnv("PROVIDER_PASSWORD", ""),
		ProviderTOTPSecret: getEnv("PROVIDER_TOTP_SECRET", ""),
		ProviderRootURL:    getEnv("PROVIDER_ROOT_URL", "https://api.quoteprovider.example"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/market.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		GatewayAddr:   getEnv("GATEWAY_ADDR", ":8080"),
		WebhookURL:    getEnv("ALERT_WEBHOOK_URL", ""),

		// Defaults mirror typical provider limits: 120/min market data,
		// 30/min trading, 5000/hour overall.
		RateBudgets: getEnv("RATE_BUDGETS", "market-data:120:60,trading:30:60,overall:5000:3600"),

		PreMarketPollInterval: getDuration("PREMARKET_POLL_INTERVAL", 30*time.Second),
		MarketPollInterval:    getDuration("MARKET_POLL_INTERVAL", 5*time.Second),
		ScanInterval:          getDuration("SCAN_INTERVAL", time.Minute),
		DiscoveryInterval:     getDuration("DISCOVERY_INTERVAL", 10*time.Minute),
		CleanupHourLocal:      getInt("CLEANUP_HOUR_LOCAL", 3),
		RetentionDays:         getInt("RETENTION_DAYS", 30),
		ActiveTopN:            getInt("ACTIVE_TOP_N", 10),

		WatchSymbols: getEnv("WATCH_SYMBOLS", "AAPL,MSFT,NVDA,TSLA,AMD"),
		Indices:      getEnv("DISCOVERY_INDICES", "$SPX,$NDX,$DJI"),

		SandboxInitialBalance: getInt64("SANDBOX_INITIAL_BALANCE", 10_000_000), // $100,000
		SandboxSpeed:          getFloat("SANDBOX_SPEED", 10),
		SandboxDataSource:     getEnv("SANDBOX_DATA_SOURCE", "synthetic"),
	}
}

// MustProviderCreds aborts unless all provider credentials are configured.
// Called by services that require the live data path.
func (c *Config) MustProviderCreds() {
	for k, v := range map[string]string{
		"PROVIDER_API_KEY":     c.ProviderAPIKey,
		"PROVIDER_CLIENT_CODE": c.ProviderClientCode,
		"PROVIDER_PASSWORD":    c.ProviderPassword,
		"PROVIDER_TOTP_SECRET": c.ProviderTOTPSecret,
	} {
		if v == "" {
			log.Fatalf("[config] required env var %s not set", k)
		}
	}
}

// ParseList splits a comma-separated config value into trimmed entries.
func ParseList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Printf("[config] invalid int for %s: %q, using default", key, v)
	}
	return fallback
}

func getInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
		log.Printf("[config] invalid int for %s: %q, using default", key, v)
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		log.Printf("[config] invalid float for %s: %q, using default", key, v)
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
		log.Printf("[config] invalid duration for %s: %q, using default", key, v)
	}
	return fallback
}
