package config

import (
	"context"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(context.Background(), envconfig.MapLookuper(map[string]string{
		"SESSION_SECRET": "s3cret",
	}))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, 12*time.Hour, cfg.Session.TTL)
	assert.Equal(t, "@every 5m", cfg.Session.SweepSchedule)
	assert.Equal(t, StoreMemory, cfg.Store.Driver)
	assert.Equal(t, "https://api.openai.com/v1", cfg.OpenAI.BaseURL)
	assert.Equal(t, "1", cfg.OpenAI.PromptVersion)
	assert.Equal(t, 20*time.Second, cfg.OpenAI.Timeout)
	assert.Equal(t, 1200, cfg.OpenAI.PromptMaxChars)
	assert.Equal(t, 25*time.Second, cfg.NanoBanana.Timeout)
	assert.Equal(t, 2, cfg.NanoBanana.Attempts)
	assert.Equal(t, "nanostyle", cfg.Gate.User)
	assert.Equal(t, "NanoStyle Internal", cfg.Gate.Realm)
	assert.Equal(t, 10, cfg.RateLimit.Requests)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := LoadFrom(context.Background(), envconfig.MapLookuper(map[string]string{
		"APP_ENV":            "development",
		"ALLOWED_ORIGINS":    "https://a.example,https://b.example",
		"STORE_DRIVER":       "sqlite",
		"DB_PATH":            "/tmp/n.db",
		"NANOBANANA_RETRIES": "4",
		"NANOBANANA_TIMEOUT": "3s",
		"GENERATE_TIMEOUT":   "45s",
	}))
	require.NoError(t, err)

	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, StoreSQLite, cfg.Store.Driver)
	assert.Equal(t, "/tmp/n.db", cfg.Store.DBPath)
	assert.Equal(t, 4, cfg.NanoBanana.Attempts)
	assert.Equal(t, 3*time.Second, cfg.NanoBanana.Timeout)
	assert.Equal(t, 45*time.Second, cfg.GenerateTimeout)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"secret required in production", map[string]string{}, "SESSION_SECRET"},
		{"unknown driver", map[string]string{"APP_ENV": "development", "STORE_DRIVER": "etcd"}, "STORE_DRIVER"},
		{"redis needs addr", map[string]string{"APP_ENV": "development", "STORE_DRIVER": "redis"}, "REDIS_ADDR"},
		{"attempts", map[string]string{"APP_ENV": "development", "NANOBANANA_RETRIES": "0"}, "NANOBANANA_RETRIES"},
		{"wait order", map[string]string{
			"APP_ENV":                   "development",
			"NANOBANANA_RETRY_WAIT_MIN": "5s",
			"NANOBANANA_RETRY_WAIT_MAX": "1s",
		}, "NANOBANANA_RETRY_WAIT_MAX"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFrom(context.Background(), envconfig.MapLookuper(tt.env))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	_, err := LoadFrom(context.Background(), envconfig.MapLookuper(map[string]string{
		"SESSION_TTL": "forever",
	}))
	assert.Error(t, err)
}
