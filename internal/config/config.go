package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
	StoreRedis    = "redis"
)

// Config holds all configuration for the application.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string

	Store    string
	JobStore string
	JobTTL   time.Duration

	NumWorkers        int
	SchedulerInterval time.Duration
	WebhookTimeout    time.Duration

	CaptureLimit    int
	DefaultPageSize int
	MaxPageSize     int
	MaxQueryValues  int

	RateLimitCapture      int
	RateLimitQuery        int
	RateLimitSubscription int
}

// source resolves a key from the environment first, then from the optional
// config file.
type source struct {
	file map[string]string
}

// Load reads configuration from environment variables. When CONFIG_FILE is
// set, the YAML file it names supplies values for keys the environment
// leaves unset.
func Load() (*Config, error) {
	src := source{}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		file, err := readFile(path)
		if err != nil {
			return nil, err
		}
		src.file = file
	}

	cfg := &Config{
		Port:        src.getEnv("PORT", "8080"),
		DatabaseURL: src.getEnv("DATABASE_URL", ""),
		RedisURL:    src.getEnv("REDIS_URL", ""),

		Store:    src.getEnv("STORE", StorePostgres),
		JobStore: src.getEnv("JOB_STORE", StoreMemory),
		JobTTL:   src.getEnvDuration("JOB_TTL", 24*time.Hour),

		NumWorkers:        src.getEnvInt("NUM_WORKERS", 10),
		SchedulerInterval: src.getEnvDuration("SCHEDULER_INTERVAL", time.Minute),
		WebhookTimeout:    src.getEnvDuration("WEBHOOK_TIMEOUT", 10*time.Second),

		CaptureLimit:    src.getEnvInt("CAPTURE_LIMIT", 1000),
		DefaultPageSize: src.getEnvInt("DEFAULT_PAGE_SIZE", 100),
		MaxPageSize:     src.getEnvInt("MAX_PAGE_SIZE", 1000),
		MaxQueryValues:  src.getEnvInt("MAX_QUERY_VALUES", 1000),

		RateLimitCapture:      src.getEnvInt("RATE_LIMIT_CAPTURE", 1000),
		RateLimitQuery:        src.getEnvInt("RATE_LIMIT_QUERY", 2000),
		RateLimitSubscription: src.getEnvInt("RATE_LIMIT_SUBSCRIPTION", 500),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Store {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE is %s", StorePostgres)
		}
	case StoreMemory:
	default:
		return fmt.Errorf("STORE must be %s or %s, got %q", StorePostgres, StoreMemory, c.Store)
	}

	switch c.JobStore {
	case StoreRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when JOB_STORE is %s", StoreRedis)
		}
	case StoreMemory:
	default:
		return fmt.Errorf("JOB_STORE must be %s or %s, got %q", StoreMemory, StoreRedis, c.JobStore)
	}

	if c.NumWorkers < 1 {
		return fmt.Errorf("NUM_WORKERS must be positive, got %d", c.NumWorkers)
	}
	if c.CaptureLimit < 1 {
		return fmt.Errorf("CAPTURE_LIMIT must be positive, got %d", c.CaptureLimit)
	}
	if c.DefaultPageSize > c.MaxPageSize {
		return fmt.Errorf("DEFAULT_PAGE_SIZE %d exceeds MAX_PAGE_SIZE %d", c.DefaultPageSize, c.MaxPageSize)
	}
	return nil
}

func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	values := map[string]string{}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return values, nil
}

func (s source) getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	if val := s.file[key]; val != "" {
		return val
	}
	return fallback
}

func (s source) getEnvInt(key string, fallback int) int {
	if val := s.getEnv(key, ""); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func (s source) getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := s.getEnv(key, ""); val != "" {
		d, err := time.ParseDuration(val)
		if err == nil {
			return d
		}
	}
	return fallback
}
