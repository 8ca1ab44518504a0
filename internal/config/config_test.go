package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "postgres", cfg.DatabaseDriver)
	assert.Equal(t, "darpan", cfg.MongoDatabase)
	assert.Equal(t, 100, cfg.MinContentChars)
	assert.Equal(t, 2*time.Second, cfg.ClusteringDelay)
	assert.Equal(t, int64(10<<20), cfg.MaxUploadBytes)
	assert.Equal(t, 4, cfg.MaxConcurrentJobs)
	assert.Equal(t, 30*time.Minute, cfg.StaleJobTimeout)
	assert.Equal(t, "@every 1m", cfg.StaleSweepSchedule)
	assert.Zero(t, cfg.LLMTimeout)
	assert.True(t, cfg.DemoLoginEnabled)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_DRIVER", "SQLite")
	t.Setenv("DATABASE_URL", "file:test.db")
	t.Setenv("CLUSTERING_DELAY", "0s")
	t.Setenv("LLM_TEMPERATURE", "0.7")
	t.Setenv("LLM_TIMEOUT", "45s")
	t.Setenv("DEMO_LOGIN_ENABLED", "false")
	t.Setenv("MAX_UPLOAD_BYTES", "1024")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
	assert.Equal(t, "file:test.db", cfg.DatabaseURL)
	assert.Zero(t, cfg.ClusteringDelay)
	assert.InDelta(t, 0.7, cfg.LLMTemperature, 1e-9)
	assert.Equal(t, 45*time.Second, cfg.LLMTimeout)
	assert.False(t, cfg.DemoLoginEnabled)
	assert.Equal(t, int64(1024), cfg.MaxUploadBytes)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{name: "missing secret", env: map[string]string{}, want: "JWT_SECRET is required"},
		{name: "bad driver", env: map[string]string{"JWT_SECRET": "s", "DATABASE_DRIVER": "oracle"}, want: "DATABASE_DRIVER"},
		{name: "bad port", env: map[string]string{"JWT_SECRET": "s", "PORT": "eighty"}, want: "parse PORT"},
		{name: "bad duration", env: map[string]string{"JWT_SECRET": "s", "STALE_JOB_TIMEOUT": "soon"}, want: "parse STALE_JOB_TIMEOUT"},
		{name: "zero workers", env: map[string]string{"JWT_SECRET": "s", "MAX_CONCURRENT_JOBS": "0"}, want: "MAX_CONCURRENT_JOBS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
