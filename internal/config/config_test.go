package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mikey/phish-guard/internal/core"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := NewFromViper(NewEmptyViper())

	scorer, err := cfg.GetScorer()
	require.NoError(t, err)
	assert.Equal(t, core.ScorerML, scorer.Mode)
	assert.False(t, scorer.FallbackToHeuristic)
	assert.Equal(t, 100, scorer.BatchSize)

	th, err := cfg.GetThresholds()
	require.NoError(t, err)
	assert.Equal(t, 0.3, th.Low)
	assert.Equal(t, 0.95, th.Critical)

	q, err := cfg.GetQuarantine()
	require.NoError(t, err)
	assert.Equal(t, 30*24*time.Hour, q.Retention)
	assert.Equal(t, "@every 1h", q.ExpirySweep)

	cache, err := cfg.GetCache()
	require.NoError(t, err)
	assert.Equal(t, time.Hour, cache.TTL)

	enr, err := cfg.GetEnrichment()
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, enr.Timeout)
	assert.Equal(t, "8.8.8.8:53", enr.DNSServer)

	assert.Equal(t, []string{".ru", ".cn", ".tk", ".xyz"}, cfg.GetFeatures().SuspiciousTLDs)
	assert.Equal(t, ":8080", cfg.GetHTTP().ListenAddress)
	assert.Equal(t, "X-Phish-Status", cfg.GetServer().Headers.Phish)
	assert.Equal(t, "@every 6h", cfg.GetModels().ReloadSchedule)
}

func TestGetScorer_InvalidMode(t *testing.T) {
	v := NewEmptyViper()
	v.Set("scorer.mode", "magic")

	_, err := NewFromViper(v).GetScorer()

	assert.ErrorContains(t, err, "unsupported scorer mode")
}

func TestGetThresholds_NotIncreasing(t *testing.T) {
	v := NewEmptyViper()
	v.Set("fusion.thresholds.high", 0.5)

	_, err := NewFromViper(v).GetThresholds()

	assert.Error(t, err)
}

func TestGetQuarantine_RejectsOtherRetention(t *testing.T) {
	// Arrange
	v := NewEmptyViper()
	v.Set("quarantine.retention", "168h")

	// Act
	_, err := NewFromViper(v).GetQuarantine()

	// Assert
	assert.ErrorContains(t, err, "quarantine.retention must be 720h0m0s")
}

func TestGetDuration_Invalid(t *testing.T) {
	v := NewEmptyViper()
	v.Set("cache.ttl", "soon")

	_, err := NewFromViper(v).GetCache()

	assert.ErrorContains(t, err, "cache.ttl")
}

func TestConfigFileOverridesDefaults(t *testing.T) {
	// Arrange
	dir := t.TempDir()
	yaml := []byte("scorer:\n  mode: heuristic\nquarantine:\n  retention: 720h\n  expiry_sweep: \"@every 15m\"\nfusion:\n  thresholds:\n    low: 0.2\n    medium: 0.5\n    high: 0.7\n    critical: 0.9\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o644))
	v := NewEmptyViper()
	v.SetConfigFile(filepath.Join(dir, "config.yaml"))
	require.NoError(t, v.ReadInConfig())
	cfg := NewFromViper(v)

	// Act
	scorer, err := cfg.GetScorer()
	require.NoError(t, err)
	q, err := cfg.GetQuarantine()
	require.NoError(t, err)
	th, err := cfg.GetThresholds()
	require.NoError(t, err)

	// Assert
	assert.Equal(t, core.ScorerHeuristic, scorer.Mode)
	assert.Equal(t, 30*24*time.Hour, q.Retention)
	assert.Equal(t, "@every 15m", q.ExpirySweep)
	assert.Equal(t, 0.9, th.Critical)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("PHISH_GUARD_STORE_DRIVER", "memory")
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	v.SetEnvPrefix("PHISH_GUARD")
	v.SetEnvKeyReplacer(envReplacer)

	st, err := NewFromViper(v).GetStore()

	require.NoError(t, err)
	assert.Equal(t, "memory", st.Driver)
}

func TestNewWithFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "phish.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  driver: memory\n"), 0o644))

	cfg, err := NewWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.GetString("store.driver"))
	assert.Equal(t, path, cfg.GetViper().ConfigFileUsed())

	_, err = NewWithFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
