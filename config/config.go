// Package config reads the process configuration from the environment,
// after loading an optional .env file.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the process configuration.
type Config struct {
	// Backing store.
	StoreBackend         string
	StoreHost            string
	StorePort            int
	StoreDBIndex         int
	StorePassword        string
	StoreCodec           string
	StoreConnectAttempts int
	StoreMaxEntries      int64

	// Cache.
	InitialTTL        time.Duration
	RefreshCoalescing bool

	// Provider.
	ProviderURL              string
	ProviderRPS              float64
	ProviderBurst            int
	ProviderBreakerThreshold int
	ProviderBreakerCooldown  time.Duration

	// Serving.
	GRPCAddr           string
	GRPCRateLimitRPS   float64
	GRPCRateLimitBurst int
	MetricsAddr        string

	// Observability.
	LogLevel      string
	LogFormat     string
	TracingStdout bool
}

// StoreAddr is the host:port of the Redis store.
func (c *Config) StoreAddr() string {
	return net.JoinHostPort(c.StoreHost, strconv.Itoa(c.StorePort))
}

// Load reads .env if present, then the environment. Unset variables take
// their defaults; malformed ones are errors.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return fromEnv()
}

func fromEnv() (*Config, error) {
	p := &parser{}
	cfg := &Config{
		StoreBackend:         getEnv("STORE_BACKEND", "redis"),
		StoreHost:            getEnv("STORE_HOST", "localhost"),
		StorePort:            p.int("STORE_PORT", 6379),
		StoreDBIndex:         p.int("STORE_DB_INDEX", 0),
		StorePassword:        getEnv("STORE_PASSWORD", ""),
		StoreCodec:           getEnv("STORE_CODEC", "json"),
		StoreConnectAttempts: p.int("STORE_CONNECT_ATTEMPTS", 5),
		StoreMaxEntries:      int64(p.int("STORE_MEMORY_MAX_ENTRIES", 100_000)),

		InitialTTL:        time.Duration(p.int("INITIAL_TTL", 60)) * time.Second,
		RefreshCoalescing: p.bool("REFRESH_COALESCING", false),

		ProviderURL:              getEnv("PROVIDER_URL", "http://localhost:8000"),
		ProviderRPS:              p.float("PROVIDER_RPS", 0),
		ProviderBurst:            p.int("PROVIDER_BURST", 1),
		ProviderBreakerThreshold: p.int("PROVIDER_BREAKER_THRESHOLD", 0),
		ProviderBreakerCooldown:  p.duration("PROVIDER_BREAKER_COOLDOWN", 30*time.Second),

		GRPCAddr:           getEnv("GRPC_ADDR", ":8080"),
		GRPCRateLimitRPS:   p.float("GRPC_RATE_LIMIT_RPS", 0),
		GRPCRateLimitBurst: p.int("GRPC_RATE_LIMIT_BURST", 0),
		MetricsAddr:        os.Getenv("METRICS_ADDR"),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "text"),
		TracingStdout: p.bool("TRACING_STDOUT", false),
	}
	if _, set := os.LookupEnv("METRICS_ADDR"); !set {
		cfg.MetricsAddr = ":9090"
	}
	if err := errors.Join(p.errs...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that parse but make no sense.
func (c *Config) Validate() error {
	var errs []error
	switch c.StoreBackend {
	case "redis", "memory":
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND must be redis or memory, got %q", c.StoreBackend))
	}
	switch c.StoreCodec {
	case "json", "msgpack":
	default:
		errs = append(errs, fmt.Errorf("STORE_CODEC must be json or msgpack, got %q", c.StoreCodec))
	}
	if c.InitialTTL <= 0 {
		errs = append(errs, errors.New("INITIAL_TTL must be positive"))
	}
	if c.StorePort <= 0 || c.StorePort > 65535 {
		errs = append(errs, fmt.Errorf("STORE_PORT out of range: %d", c.StorePort))
	}
	if c.StoreDBIndex < 0 {
		errs = append(errs, errors.New("STORE_DB_INDEX must not be negative"))
	}
	if c.StoreConnectAttempts < 1 {
		errs = append(errs, errors.New("STORE_CONNECT_ATTEMPTS must be at least 1"))
	}
	if c.ProviderURL == "" {
		errs = append(errs, errors.New("PROVIDER_URL is required"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parser collects every malformed variable instead of stopping at the first.
type parser struct {
	errs []error
}

func (p *parser) int(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return n
}

func (p *parser) float(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return f
}

func (p *parser) bool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return b
}

func (p *parser) duration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return d
}
