package core_test

import (
	"context"
	"errors"
	"testing"

	"github.com/mikey/phish-guard/internal/adapters/store"
	"github.com/mikey/phish-guard/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetStats(t *testing.T) {
	// Arrange
	env := newTestEnv(t, false)
	ctx := context.Background()
	phish, err := env.svc.ClassifyOne(ctx, phishEmail(), core.ClassifyOptions{})
	require.NoError(t, err)
	_, err = env.svc.ClassifyOne(ctx, legitEmail("one"), core.ClassifyOptions{})
	require.NoError(t, err)
	_, err = env.svc.ClassifyOne(ctx, legitEmail("two"), core.ClassifyOptions{})
	require.NoError(t, err)
	_, err = env.svc.ClassifyOne(ctx, legitEmail("three"), core.ClassifyOptions{})
	require.NoError(t, err)
	_, err = env.svc.Release(ctx, phish.QuarantineID, "alice", "")
	require.NoError(t, err)

	// Act
	stats, err := env.svc.GetStats(ctx, "alice", 7)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 7, stats.PeriodDays)
	// four classifications plus the record written by the release
	assert.Equal(t, 5, stats.TotalEmailsProcessed)
	assert.Equal(t, 1, stats.PhishingDetected)
	assert.Equal(t, 20.0, stats.DetectionRatePercentage)
	assert.Equal(t, 0, stats.EmailsQuarantined)
	assert.Equal(t, 1, stats.EmailsReleased)
	assert.Equal(t, 100.0, stats.ReleaseRatePercentage)
	assert.Equal(t, 5, stats.RecentActivity24h.TotalEmails)
	assert.Equal(t, 1, stats.RecentActivity24h.PhishingDetected)
	assert.Equal(t, 1, stats.ThreatDistribution["critical"])
	assert.Equal(t, 4, stats.ThreatDistribution["low"])
	assert.Equal(t, 0, stats.ThreatDistribution["high"])
	require.Len(t, stats.DailyBreakdown, 7)
	assert.Equal(t, 5, stats.DailyBreakdown[0].TotalEmails)
	assert.Equal(t, "test-1", stats.ModelInfo.Version)
	assert.True(t, stats.ModelInfo.ArtifactsLoaded)
}

func TestGetStats_OtherUserSeesNothing(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()
	_, err := env.svc.ClassifyOne(ctx, phishEmail(), core.ClassifyOptions{})
	require.NoError(t, err)

	stats, err := env.svc.GetStats(ctx, "carol", 30)

	require.NoError(t, err)
	assert.Zero(t, stats.TotalEmailsProcessed)
	assert.Zero(t, stats.DetectionRatePercentage)
}

func TestGetStats_RejectsNonPositiveDays(t *testing.T) {
	env := newTestEnv(t, false)

	_, err := env.svc.GetStats(context.Background(), "alice", 0)

	assert.ErrorIs(t, err, core.ErrInputInvalid)
}

func TestGetQuarantineSummary(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()
	first, err := env.svc.ClassifyOne(ctx, phishEmail(), core.ClassifyOptions{})
	require.NoError(t, err)
	second := phishEmail()
	second.Subject = "Second notice"
	_, err = env.svc.ClassifyOne(ctx, second, core.ClassifyOptions{})
	require.NoError(t, err)
	_, err = env.svc.Release(ctx, first.QuarantineID, "alice", "")
	require.NoError(t, err)

	summary, err := env.svc.GetQuarantineSummary(ctx, "alice", 30)

	require.NoError(t, err)
	assert.Equal(t, 2, summary.TotalQuarantined)
	assert.Equal(t, 1, summary.CurrentlyQuarantined)
	assert.Equal(t, 1, summary.ReleasedCount)
	assert.Equal(t, 50.0, summary.ReleaseRatePercentage)
	assert.Equal(t, 1, summary.PendingReview)
	assert.Equal(t, 2, summary.TopQuarantineReasons["Detected as phish with 0.82 confidence"])
	assert.Equal(t, 2, summary.ThreatLevelDistribution["CRITICAL"])
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()

	report := env.svc.HealthCheck(ctx)
	assert.Equal(t, core.HealthHealthy, report.Status)
	assert.Equal(t, "test-1", report.Components["ml_models"].ModelVersion)
	assert.Contains(t, report.Components, "cache")
	assert.Nil(t, report.Performance)

	env.scorer.err = core.ErrModelUnavailable
	report = env.svc.HealthCheck(ctx)
	assert.Equal(t, core.HealthDegraded, report.Status)

	env.store.Inject(store.OpPing, func(int) error { return errors.New("down") })
	report = env.svc.HealthCheck(ctx)
	assert.Equal(t, core.HealthUnhealthy, report.Status)
	assert.Equal(t, core.HealthUnhealthy, report.Components["database"].Status)
}
