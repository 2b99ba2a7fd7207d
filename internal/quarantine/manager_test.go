package quarantine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mikey/phish-guard/internal/adapters/store"
	"github.com/mikey/phish-guard/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []*core.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e *core.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) types() []core.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]core.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

func newManager(t *testing.T) (*Manager, *store.MemoryStore, *recordingPublisher) {
	t.Helper()
	s := store.NewMemoryStore()
	pub := &recordingPublisher{}
	m := NewManager(s, pub, zap.NewNop(), Options{Version: func() string { return "1.0.0" }})
	return m, s, pub
}

func phishVerdict() *core.Verdict {
	return &core.Verdict{
		Email: &core.Email{
			From:    "PayPal <service@paypa1.tk>",
			To:      "alice@example.com",
			Subject: "Urgent: verify your account",
			Body:    "Click http://bit.ly/x now",
			UserID:  "alice",
		},
		Prediction:       core.Prediction{Label: 1, Probability: 0.82},
		Assessment:       core.Assessment{TotalRisk: 1, Level: core.ThreatCritical},
		Header:           core.HeaderAnalysis{Indicators: []string{"spf_failed"}, RiskScore: 0.3},
		URL:              core.URLAnalysis{RiskScore: 0.6, SuspiciousURLs: []string{"http://bit.ly/x"}},
		URLs:             []string{"http://bit.ly/x"},
		ModelVersion:     "1.0.0",
		ProcessingTimeMs: 12.5,
	}
}

func TestShouldQuarantine(t *testing.T) {
	m, _, _ := newManager(t)
	low := core.ThreatLow

	assert.True(t, m.ShouldQuarantine(core.Prediction{Label: 1, Probability: 0.51}, low, core.URLAnalysis{}, core.HeaderAnalysis{}))
	assert.False(t, m.ShouldQuarantine(core.Prediction{Label: 1, Probability: 0.5}, low, core.URLAnalysis{}, core.HeaderAnalysis{}))
	assert.True(t, m.ShouldQuarantine(core.Prediction{}, core.ThreatHigh, core.URLAnalysis{}, core.HeaderAnalysis{}))
	assert.True(t, m.ShouldQuarantine(core.Prediction{}, low, core.URLAnalysis{RiskScore: 0.71}, core.HeaderAnalysis{}))
	assert.True(t, m.ShouldQuarantine(core.Prediction{}, low, core.URLAnalysis{}, core.HeaderAnalysis{RiskScore: 0.61}))
	assert.False(t, m.ShouldQuarantine(core.Prediction{Probability: 0.9}, core.ThreatMedium, core.URLAnalysis{RiskScore: 0.7}, core.HeaderAnalysis{RiskScore: 0.6}))
}

func TestReason(t *testing.T) {
	assert.Equal(t,
		"Detected as phish with 0.82 confidence; spf_failed; Contains 1 suspicious URLs",
		Reason(phishVerdict()))

	v := phishVerdict()
	v.Header.Indicators = nil
	v.URL.SuspiciousURLs = nil
	assert.Equal(t, "Detected as phish with 0.82 confidence", Reason(v))
}

func TestRecord_Quarantined(t *testing.T) {
	// Arrange
	m, s, pub := newManager(t)
	fixed := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return fixed }
	ctx := context.Background()

	// Act
	out, err := m.Record(ctx, phishVerdict())

	// Assert
	require.NoError(t, err)
	assert.True(t, out.Quarantined)
	assert.Regexp(t, `^qtn_[a-z0-9]{20}$`, out.QuarantineID)
	assert.Regexp(t, `^eml_[a-z0-9]{20}$`, out.EmailID)

	q, err := s.GetQuarantine(ctx, out.QuarantineID, "alice")
	require.NoError(t, err)
	assert.Equal(t, out.EmailID, q.EmailID)
	assert.Equal(t, 30*24*time.Hour, q.ExpiresAt.Sub(q.QuarantinedAt))
	assert.Contains(t, q.Reason, "Detected as phish with 0.82 confidence")

	emails, err := s.ListEmails(ctx, core.EmailQuery{UserID: "alice"})
	require.NoError(t, err)
	require.Len(t, emails, 1)
	assert.Equal(t, core.StatusQuarantined, emails[0].Status)

	a, err := s.GetAnalytics(ctx, "alice", "2026-05-01")
	require.NoError(t, err)
	assert.EqualValues(t, 1, a.EmailsQuarantined)
	assert.EqualValues(t, 1, a.PhishingDetected)
	assert.Equal(t, []core.EventType{core.EventQuarantined}, pub.types())
}

func TestRecord_Processed(t *testing.T) {
	m, s, pub := newManager(t)
	v := phishVerdict()
	v.Prediction = core.Prediction{Label: 0, Probability: 0.1}
	v.Assessment = core.Assessment{Level: core.ThreatLow}
	v.Header = core.HeaderAnalysis{}
	v.URL = core.URLAnalysis{}

	out, err := m.Record(context.Background(), v)

	require.NoError(t, err)
	assert.False(t, out.Quarantined)
	assert.Empty(t, out.QuarantineID)
	emails, _ := s.ListEmails(context.Background(), core.EmailQuery{})
	require.Len(t, emails, 1)
	assert.Equal(t, core.StatusProcessed, emails[0].Status)
	assert.Equal(t, core.LabelLegit, emails[0].Prediction)
	assert.Empty(t, pub.types())
}

func TestRecord_RollsBackOnFailure(t *testing.T) {
	m, s, pub := newManager(t)
	s.Inject(store.OpIncrementAnalytics, func(int) error { return errors.New("deadlock") })

	_, err := m.Record(context.Background(), phishVerdict())

	assert.ErrorIs(t, err, core.ErrPersistence)
	emails, _ := s.ListEmails(context.Background(), core.EmailQuery{})
	assert.Empty(t, emails)
	qs, _ := s.ListQuarantines(context.Background(), core.QuarantineQuery{})
	assert.Empty(t, qs)
	assert.Empty(t, pub.types())
}

func TestRecord_PublishFailureIsNotFatal(t *testing.T) {
	m, _, pub := newManager(t)
	pub.err = errors.New("broker down")

	out, err := m.Record(context.Background(), phishVerdict())

	require.NoError(t, err)
	assert.True(t, out.Quarantined)
}

func TestRelease_Lifecycle(t *testing.T) {
	// Arrange
	m, s, pub := newManager(t)
	ctx := context.Background()
	out, err := m.Record(ctx, phishVerdict())
	require.NoError(t, err)

	// Act
	first, err := m.Release(ctx, out.QuarantineID, "alice", "false positive")
	require.NoError(t, err)
	second, err := m.Release(ctx, out.QuarantineID, "alice", "again")
	require.NoError(t, err)

	// Assert
	assert.Equal(t, core.ReleaseReleased, first.Status)
	assert.Equal(t, "false positive", first.ReleaseReason)
	require.NotNil(t, first.ReleasedAt)
	assert.Equal(t, core.ReleaseAlreadyReleased, second.Status)
	assert.Equal(t, "Email was already released from quarantine", second.Message)
	assert.Equal(t, "false positive", second.ReleaseReason)

	emails, err := s.ListEmails(ctx, core.EmailQuery{UserID: "alice"})
	require.NoError(t, err)
	require.Len(t, emails, 2)
	var released []core.EmailRecord
	for _, e := range emails {
		if e.Status == core.StatusReleased {
			released = append(released, e)
		}
	}
	require.Len(t, released, 1)
	assert.Equal(t, first.EmailID, released[0].ID)
	assert.Equal(t, core.LabelReleased, released[0].Prediction)
	assert.Equal(t, core.ThreatLow, released[0].ThreatLevel)
	assert.Equal(t, "1.0.0", released[0].ModelVersion)
	assert.Equal(t, "false positive", released[0].ReleaseReason)
	assert.Zero(t, released[0].ProcessingTimeMs)
	assert.Equal(t, []core.EventType{core.EventQuarantined, core.EventReleased}, pub.types())
}

func TestRelease_NotFoundAndWrongOwner(t *testing.T) {
	m, s, _ := newManager(t)
	ctx := context.Background()
	out, err := m.Record(ctx, phishVerdict())
	require.NoError(t, err)

	res, err := m.Release(ctx, "qtn_nope", "", "")
	require.NoError(t, err)
	assert.Equal(t, core.ReleaseNotFound, res.Status)

	res, err = m.Release(ctx, out.QuarantineID, "mallory", "")
	require.NoError(t, err)
	assert.Equal(t, core.ReleaseNotFound, res.Status)

	q, err := s.GetQuarantine(ctx, out.QuarantineID, "")
	require.NoError(t, err)
	assert.False(t, q.Released)
}

func TestRelease_FailureRollsBack(t *testing.T) {
	m, s, _ := newManager(t)
	ctx := context.Background()
	out, err := m.Record(ctx, phishVerdict())
	require.NoError(t, err)
	s.Inject(store.OpCreateEmail, func(int) error { return errors.New("disk full") })

	_, err = m.Release(ctx, out.QuarantineID, "alice", "")

	assert.ErrorIs(t, err, core.ErrPersistence)
	q, err := s.GetQuarantine(ctx, out.QuarantineID, "")
	require.NoError(t, err)
	assert.False(t, q.Released)
}

func TestBulkRelease(t *testing.T) {
	m, _, _ := newManager(t)
	ctx := context.Background()
	a, err := m.Record(ctx, phishVerdict())
	require.NoError(t, err)
	b, err := m.Record(ctx, phishVerdict())
	require.NoError(t, err)
	_, err = m.Release(ctx, b.QuarantineID, "", "")
	require.NoError(t, err)

	res, err := m.BulkRelease(ctx, []string{a.QuarantineID, b.QuarantineID, "qtn_missing"}, "alice", "bulk")

	require.NoError(t, err)
	assert.Equal(t, 1, res.Released)
	assert.Equal(t, 1, res.Errors)
	assert.Len(t, res.Results, 2)
	assert.Equal(t, []core.BulkReleaseError{{QuarantineID: "qtn_missing", Error: "Not found"}}, res.ErrorDetails)
}

func TestSweepExpired(t *testing.T) {
	m, s, pub := newManager(t)
	ctx := context.Background()
	m.now = func() time.Time { return time.Now().UTC().Add(-31 * 24 * time.Hour) }
	_, err := m.Record(ctx, phishVerdict())
	require.NoError(t, err)
	m.now = func() time.Time { return time.Now().UTC() }
	_, err = m.Record(ctx, phishVerdict())
	require.NoError(t, err)

	n, err := m.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = m.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	expired, err := s.ListExpired(ctx, time.Now().UTC(), 0)
	require.NoError(t, err)
	assert.Empty(t, expired)
	assert.Contains(t, pub.types(), core.EventQuarantineExpired)
}

func TestSweepExpired_KeepsUnpublishedForNextSweep(t *testing.T) {
	// Arrange
	m, s, pub := newManager(t)
	ctx := context.Background()
	m.now = func() time.Time { return time.Now().UTC().Add(-31 * 24 * time.Hour) }
	_, err := m.Record(ctx, phishVerdict())
	require.NoError(t, err)
	_, err = m.Record(ctx, phishVerdict())
	require.NoError(t, err)
	m.now = func() time.Time { return time.Now().UTC() }
	pub.err = errors.New("broker unavailable")

	// Act
	n, err := m.SweepExpired(ctx)

	// Assert
	require.NoError(t, err)
	assert.Zero(t, n)
	expired, err := s.ListExpired(ctx, time.Now().UTC(), 0)
	require.NoError(t, err)
	assert.Len(t, expired, 2)

	pub.err = nil
	n, err = m.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	expired, err = s.ListExpired(ctx, time.Now().UTC(), 0)
	require.NoError(t, err)
	assert.Empty(t, expired)
}
