package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var keys = []string{
	"CONFIG_FILE", "PORT", "DATABASE_URL", "REDIS_URL", "STORE", "JOB_STORE", "JOB_TTL",
	"NUM_WORKERS", "SCHEDULER_INTERVAL", "WEBHOOK_TIMEOUT", "CAPTURE_LIMIT",
	"DEFAULT_PAGE_SIZE", "MAX_PAGE_SIZE", "MAX_QUERY_VALUES",
	"RATE_LIMIT_CAPTURE", "RATE_LIMIT_QUERY", "RATE_LIMIT_SUBSCRIPTION",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE", "memory")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, StoreMemory, cfg.JobStore)
	assert.Equal(t, 24*time.Hour, cfg.JobTTL)
	assert.Equal(t, time.Minute, cfg.SchedulerInterval)
	assert.Equal(t, 10*time.Second, cfg.WebhookTimeout)
	assert.Equal(t, 1000, cfg.CaptureLimit)
	assert.Equal(t, 100, cfg.DefaultPageSize)
	assert.Equal(t, 2000, cfg.RateLimitQuery)
}

func TestLoad_Environment(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/epcis")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("JOB_STORE", "redis")
	t.Setenv("JOB_TTL", "2h")
	t.Setenv("NUM_WORKERS", "4")
	t.Setenv("CAPTURE_LIMIT", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StorePostgres, cfg.Store)
	assert.Equal(t, StoreRedis, cfg.JobStore)
	assert.Equal(t, 2*time.Hour, cfg.JobTTL)
	assert.Equal(t, 4, cfg.NumWorkers)
	assert.Equal(t, 1000, cfg.CaptureLimit, "unparsable values fall back to the default")
}

func TestLoad_FileUnderEnvironment(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "epcis.yaml")
	require.NoError(t, os.WriteFile(path, []byte("STORE: memory\nPORT: 9000\nSCHEDULER_INTERVAL: 30s\nMAX_PAGE_SIZE: 50\nDEFAULT_PAGE_SIZE: 20\n"), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "8081")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8081", cfg.Port)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, 30*time.Second, cfg.SchedulerInterval)
	assert.Equal(t, 20, cfg.DefaultPageSize)
	assert.Equal(t, 50, cfg.MaxPageSize)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"postgres without url", map[string]string{}, "DATABASE_URL is required"},
		{"unknown store", map[string]string{"STORE": "sqlite"}, "STORE must be"},
		{"redis jobs without url", map[string]string{"STORE": "memory", "JOB_STORE": "redis"}, "REDIS_URL is required"},
		{"no workers", map[string]string{"STORE": "memory", "NUM_WORKERS": "0"}, "NUM_WORKERS must be positive"},
		{"page sizes", map[string]string{"STORE": "memory", "DEFAULT_PAGE_SIZE": "500", "MAX_PAGE_SIZE": "100"}, "exceeds MAX_PAGE_SIZE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "reading config file")
	})
}
