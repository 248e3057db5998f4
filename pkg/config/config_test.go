package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 24*time.Hour, cfg.Visitor.ApprovalTTL)
	assert.Equal(t, time.Minute, cfg.Visitor.OverstayInterval)
	assert.Equal(t, 15*time.Minute, cfg.Visitor.ExpireInterval)
	assert.Equal(t, 100, cfg.Visitor.RefreshLimit)
	assert.Equal(t, 20, cfg.Server.RateLimitRequests)
	assert.Equal(t, 15*time.Minute, cfg.Server.RateLimitWindow)
	assert.True(t, cfg.Email.DevMode)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("OVERSTAY_INTERVAL", "30s")
	t.Setenv("REFRESH_LIMIT", "25")
	t.Setenv("RATE_LIMIT_REQUESTS", "5")
	t.Setenv("RATE_LIMIT_WINDOW", "1m")
	t.Setenv("EMAIL_DEV_MODE", "false")

	cfg := Load()

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, 30*time.Second, cfg.Visitor.OverstayInterval)
	assert.Equal(t, 25, cfg.Visitor.RefreshLimit)
	assert.Equal(t, 5, cfg.Server.RateLimitRequests)
	assert.Equal(t, time.Minute, cfg.Server.RateLimitWindow)
	assert.False(t, cfg.Email.DevMode)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("OVERSTAY_INTERVAL", "soon")
	t.Setenv("REFRESH_LIMIT", "many")
	t.Setenv("EMAIL_DEV_MODE", "maybe")

	cfg := Load()

	assert.Equal(t, time.Minute, cfg.Visitor.OverstayInterval)
	assert.Equal(t, 100, cfg.Visitor.RefreshLimit)
	assert.True(t, cfg.Email.DevMode)
}
