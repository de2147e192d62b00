package infra

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Rate limit store selections.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv           string
	Port             string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	VisionProvider string
	OpenAIAPIKey   string
	OpenAIModel    string
	OpenAIBaseURL  string
	OpenAIOrg      string
	GeminiAPIKey   string
	GeminiModel    string
	ProviderMaxRPS float64

	DailyQuota      int
	RateLimitWindow time.Duration
	RateLimitStore  string
	RedisURL        string
	DatabaseURL     string

	MaxBodyBytes       int64
	CORSAllowedOrigins []string
	// TrustedProxies are the peers whose X-Forwarded-For is believed. Empty
	// means the socket address is always the client.
	TrustedProxies []netip.Prefix
}

// IsDevelopment reports whether error details may be echoed to callers.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// LoadDotEnv loads a .env file from the working directory when one exists.
func LoadDotEnv() error {
	if _, err := os.Stat(".env"); err != nil {
		return nil
	}
	return godotenv.Load()
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
// Malformed or missing required values are reported before the server starts.
func LoadConfig() (*Config, error) {
	var errs []string
	intVar := func(key string, fallback int) int {
		v, err := getEnvInt(key, fallback)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return v
	}

	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		Port:             getEnv("PORT", "8080"),
		HTTPReadTimeout:  time.Second * time.Duration(intVar("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(intVar("HTTP_WRITE_TIMEOUT_SECONDS", 60)),
		HTTPIdleTimeout:  time.Second * time.Duration(intVar("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		VisionProvider:   strings.TrimSpace(os.Getenv("VISION_PROVIDER")),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:      getEnv("OPENAI_MODEL", "gpt-image-1"),
		OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIOrg:        os.Getenv("OPENAI_ORG"),
		GeminiAPIKey:     os.Getenv("GEMINI_API_KEY"),
		GeminiModel:      getEnv("GEMINI_MODEL", "gemini-2.5-flash-image-preview"),
		DailyQuota:       intVar("DAILY_QUOTA", 20),
		RateLimitStore:   strings.ToLower(getEnv("RATE_LIMIT_STORE", StoreMemory)),
		RedisURL:         os.Getenv("REDIS_URL"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		MaxBodyBytes:     int64(intVar("MAX_BODY_BYTES", 25<<20)),
	}
	cfg.CORSAllowedOrigins = splitList(os.Getenv("CORS_ALLOWED_ORIGINS"))
	proxies, err := ParsePrefixes(splitList(os.Getenv("TRUSTED_PROXIES")))
	if err != nil {
		errs = append(errs, fmt.Sprintf("TRUSTED_PROXIES: %v", err))
	}
	cfg.TrustedProxies = proxies

	window, err := time.ParseDuration(getEnv("RATE_LIMIT_WINDOW", "24h"))
	switch {
	case err != nil:
		errs = append(errs, fmt.Sprintf("RATE_LIMIT_WINDOW: %v", err))
	case window <= 0:
		errs = append(errs, "RATE_LIMIT_WINDOW must be positive")
	}
	cfg.RateLimitWindow = window

	rps, err := strconv.ParseFloat(getEnv("PROVIDER_MAX_RPS", "0"), 64)
	switch {
	case err != nil:
		errs = append(errs, fmt.Sprintf("PROVIDER_MAX_RPS: %v", err))
	case rps < 0:
		errs = append(errs, "PROVIDER_MAX_RPS must not be negative")
	}
	cfg.ProviderMaxRPS = rps

	if cfg.VisionProvider == "" {
		errs = append(errs, "VISION_PROVIDER is required")
	}
	if cfg.DailyQuota <= 0 {
		errs = append(errs, "DAILY_QUOTA must be a positive integer")
	}
	if cfg.MaxBodyBytes <= 0 {
		errs = append(errs, "MAX_BODY_BYTES must be positive")
	}
	switch cfg.RateLimitStore {
	case StoreMemory:
	case StoreRedis:
		if cfg.RedisURL == "" {
			errs = append(errs, "REDIS_URL is required for the redis rate limit store")
		}
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			errs = append(errs, "DATABASE_URL is required for the postgres rate limit store")
		}
	default:
		errs = append(errs, fmt.Sprintf("RATE_LIMIT_STORE %q is not one of memory, redis, postgres", cfg.RateLimitStore))
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback, nil
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fallback, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return i, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ParsePrefixes accepts CIDR ranges and bare addresses; a bare address is a
// single-host prefix.
func ParsePrefixes(list []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(list))
	for _, item := range list {
		if strings.Contains(item, "/") {
			p, err := netip.ParsePrefix(item)
			if err != nil {
				return nil, err
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(item)
		if err != nil {
			return nil, err
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}
