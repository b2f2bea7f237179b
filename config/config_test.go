package config

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("CURSOR_SECRET", defaultCursorSecret)
	t.Setenv("STORE_TIMEOUT", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "ranking-service", cfg.ServiceName)
	assert.Equal(t, 2*time.Second, cfg.StoreTimeout, "unparsable value keeps the default")
	assert.Equal(t, 6*time.Hour, cfg.CursorTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.ForYouWindow)
	assert.Equal(t, 500, cfg.MaxCandidatesPerType)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("CURSOR_SECRET", "  a-long-enough-secret  ")
	t.Setenv("STORE_TIMEOUT", "500ms")
	t.Setenv("RECENCY_HALF_LIFE", "12h")
	t.Setenv("MAX_CANDIDATES_PER_TYPE", "50")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "a-long-enough-secret", cfg.CursorSecret)
	assert.Equal(t, 500*time.Millisecond, cfg.StoreTimeout)
	assert.Equal(t, 12*time.Hour, cfg.RecencyHalfLife)
	assert.Equal(t, 50, cfg.MaxCandidatesPerType)
	assert.Zero(t, cfg.RateLimitPerMinute)
}

func TestLoad_ProdRequiresSecret(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("CURSOR_SECRET", defaultCursorSecret)

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CURSOR_SECRET must be set in production")
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := &Config{
		Env:                  "local",
		CursorSecret:         "short",
		StoreTimeout:         0,
		CursorTTL:            time.Hour,
		ForYouWindow:         time.Hour,
		FollowingWindow:      time.Hour,
		TrendingWindow:       -time.Hour,
		RecencyHalfLife:      time.Hour,
		MaxCandidatesPerType: 0,
	}
	err := cfg.Validate()
	require.Error(t, err)
	for _, msg := range []string{"at least 16 bytes", "STORE_TIMEOUT", "windows must be positive", "MAX_CANDIDATES_PER_TYPE"} {
		assert.Contains(t, err.Error(), msg)
	}
}

func TestLogValue_HidesSecrets(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("CURSOR_SECRET", "super-secret-cursor-key")
	t.Setenv("NEO4J_PASSWORD", "hunter2hunter2")
	t.Setenv("DB_URL", "postgres://u:dbpass@db:5432/x")

	cfg, err := Load()
	require.NoError(t, err)

	var buf bytes.Buffer
	slog.New(slog.NewJSONHandler(&buf, nil)).Info("config", "config", cfg)
	out := buf.String()
	assert.Contains(t, out, `"env":"local"`)
	assert.NotContains(t, out, "super-secret-cursor-key")
	assert.NotContains(t, out, "hunter2hunter2")
	assert.NotContains(t, out, "dbpass")
}
