package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("CLIENT_ID", "client-id")
	t.Setenv("CLIENT_SECRET", "client-secret")
	t.Setenv("REDIRECT_URI", "https://app.example.com/callback")
	t.Setenv("WEBHOOK_URL", "https://app.example.com/webhook")
	t.Setenv("CLIENT_STATE", "secret-value")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8000", cfg.Port)
	assert.Equal(t, "common", cfg.TenantID)
	assert.Equal(t, "client-secret", cfg.StateSecret)
	assert.Equal(t, MissedRecreate, cfg.NotificationMissedPolicy)
	assert.Equal(t, MissedRenew, cfg.LifecycleMissedPolicy)
	assert.Equal(t, FetchModeSync, cfg.FetchMode)
	assert.Equal(t, "@every 1h", cfg.RenewalSchedule)
	assert.True(t, cfg.RenewalEnabled)
	assert.False(t, cfg.DedupEnabled)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_MissingRequired(t *testing.T) {
	setRequired(t)
	t.Setenv("WEBHOOK_URL", "")

	_, err := Load()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			RedirectURI:              "https://app.example.com/callback",
			WebhookURL:               "https://app.example.com/webhook",
			GraphBaseURL:             "https://graph.microsoft.com/v1.0",
			ClientState:              "secret-value",
			NotificationMissedPolicy: MissedRecreate,
			LifecycleMissedPolicy:    MissedRenew,
			FetchMode:                FetchModeSync,
			FetchMaxAttempts:         1,
			RenewalWindow:            1,
			LoginRateLimit:           1,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"blank client state", func(c *Config) { c.ClientState = "  " }, "CLIENT_STATE"},
		{"relative webhook url", func(c *Config) { c.WebhookURL = "/webhook" }, "WEBHOOK_URL"},
		{"bad lifecycle url", func(c *Config) { c.LifecycleWebhookURL = "ftp://x" }, "LIFECYCLE_WEBHOOK_URL"},
		{"unknown policy", func(c *Config) { c.LifecycleMissedPolicy = "ignore" }, "LIFECYCLE_MISSED_POLICY"},
		{"unknown fetch mode", func(c *Config) { c.FetchMode = "async" }, "FETCH_MODE"},
		{"queue without workers", func(c *Config) { c.FetchMode = FetchModeQueue; c.FetchQueueSize = 1 }, "FETCH_WORKERS"},
		{"zero attempts", func(c *Config) { c.FetchMaxAttempts = 0 }, "FETCH_MAX_ATTEMPTS"},
		{"negative dedup size", func(c *Config) { c.DedupCacheSize = -1 }, "DEDUP_CACHE_SIZE"},
		{"dedup without ttl", func(c *Config) { c.DedupEnabled = true; c.DedupCacheSize = 10 }, "DEDUP_TTL"},
		{"dedup without cache or redis", func(c *Config) { c.DedupEnabled = true; c.DedupTTL = 1 }, "DEDUP_CACHE_SIZE"},
		{"dedup on redis", func(c *Config) { c.DedupEnabled = true; c.DedupTTL = 1; c.RedisURL = "redis://localhost:6379" }, ""},
		{"zero window", func(c *Config) { c.RenewalWindow = 0 }, "RENEWAL_WINDOW"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
