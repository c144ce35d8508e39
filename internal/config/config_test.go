package config

import (
	"testing"
	"time"

	"github.com/jason-s-yu/draftsync/internal/timer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, 30*time.Second, cfg.TurnDuration())
	assert.Equal(t, timer.AuthorityHost, cfg.TimerMode)
	assert.Equal(t, 6*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 5*time.Second, cfg.ReconcileInterval)
	assert.Equal(t, uint(5), cfg.RetryPolicy().Attempts)
	assert.Empty(t, cfg.PostgresURL)

	issuer, err := cfg.Issuer()
	require.NoError(t, err)
	assert.Zero(t, issuer.TTL)
}

func TestOverrides(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"DRAFTSYNC_REDIS_ADDR":      "redis:6380",
		"DRAFTSYNC_TURN_SECONDS":    "45",
		"DRAFTSYNC_TIMER_MODE":      "acting-team",
		"DRAFTSYNC_RETRY_ATTEMPTS":  "2",
		"DRAFTSYNC_ALLOWED_ORIGINS": "a.example,b.example",
		"DRAFTSYNC_TOKEN_TTL":       "24h",
		"REDIS_ADDR":                "ignored:1",
	})
	require.NoError(t, err)
	assert.Equal(t, "redis:6380", cfg.RedisAddr)
	assert.Equal(t, 45*time.Second, cfg.TurnDuration())
	assert.Equal(t, timer.AuthorityActingTeam, cfg.TimerMode)
	assert.Equal(t, uint(2), cfg.RetryPolicy().Attempts)
	assert.Equal(t, []string{"a.example", "b.example"}, cfg.AllowedOrigins)

	issuer, err := cfg.Issuer()
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, issuer.TTL)
}

func TestInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
	}{
		{"zero turn", map[string]string{"DRAFTSYNC_TURN_SECONDS": "0"}},
		{"unknown timer mode", map[string]string{"DRAFTSYNC_TIMER_MODE": "everyone"}},
		{"no attempts", map[string]string{"DRAFTSYNC_RETRY_ATTEMPTS": "0"}},
		{"bad token ttl", map[string]string{"DRAFTSYNC_TOKEN_TTL": "soon"}},
		{"half a key pair", map[string]string{"DRAFTSYNC_PRIVATE_KEY_PATH": "/keys/priv"}},
		{"not a number", map[string]string{"DRAFTSYNC_REDIS_DB": "one"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFrom(tt.vars)
			assert.Error(t, err)
		})
	}
}
