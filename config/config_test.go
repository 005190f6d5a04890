package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scifounders/emailfinder"
)

func TestLoadConfigFinderDefaults(t *testing.T) {
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("JWT_SECRET", "jwt")
	for _, key := range []string{"FINDER_MAX_PROBES", "FINDER_MIN_DELAY", "FINDER_MAX_DELAY", "FINDER_RATE_PER_DOMAIN", "ENVIRONMENT", "BOUNCE_IMAP_ENABLED"} {
		t.Setenv(key, "")
	}

	require.NoError(t, LoadConfig())
	defaults := emailfinder.DefaultConfig()
	assert.Equal(t, 1.0, AppConfig.Finder.RatePerDomain)
	assert.Equal(t, defaults.RatePerDomain, AppConfig.Finder.RatePerDomain)
	assert.Equal(t, defaults.MaxProbes, AppConfig.Finder.MaxProbes)
	assert.Equal(t, time.Second, AppConfig.Finder.MinDelay)
	assert.Equal(t, 3*time.Second, AppConfig.Finder.MaxDelay)

	t.Setenv("FINDER_RATE_PER_DOMAIN", "0.25")
	require.NoError(t, LoadConfig())
	assert.Equal(t, 0.25, AppConfig.Finder.RatePerDomain)
}

func TestValidateRejectsInvertedDelays(t *testing.T) {
	cfg := Config{DBPassword: "x", JWTSecret: "y", Finder: FinderConfig{MaxProbes: 1, MinDelay: 2 * time.Second, MaxDelay: time.Second}}
	assert.Error(t, cfg.Validate())
	cfg.Finder.MaxDelay = 2 * time.Second
	assert.NoError(t, cfg.Validate())
}
