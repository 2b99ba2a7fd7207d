package quarantine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mikey/phish-guard/internal/core"
	"github.com/mikey/phish-guard/internal/tracing"
	"github.com/mikey/phish-guard/internal/utils"
	"github.com/opentracing/opentracing-go"
	"go.uber.org/zap"
)

// DefaultRetention is how long a quarantined message is held before it expires
const DefaultRetention = 30 * 24 * time.Hour

const (
	msgReleased        = "Email released from quarantine"
	msgAlreadyReleased = "Email was already released from quarantine"
	msgNotFound        = "Quarantine record not found"
	errNotFound        = "Not found"

	sweepBatch = 500
)

// Options configures the lifecycle manager
type Options struct {
	Retention time.Duration
	// Version reports the model version stamped on released emails
	Version func() string
}

// Manager decides whether a verdict is held and owns the quarantine lifecycle
type Manager struct {
	store     core.Store
	events    core.EventPublisher
	logger    *zap.Logger
	retention time.Duration
	version   func() string
	now       func() time.Time
}

// NewManager creates a lifecycle manager; events may be nil
func NewManager(store core.Store, events core.EventPublisher, logger *zap.Logger, opts Options) *Manager {
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Version == nil {
		opts.Version = func() string { return "" }
	}
	return &Manager{
		store:     store,
		events:    events,
		logger:    logger,
		retention: opts.Retention,
		version:   opts.Version,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ShouldQuarantine holds a message when any single signal is strong enough
func (m *Manager) ShouldQuarantine(pred core.Prediction, level core.ThreatLevel, url core.URLAnalysis, header core.HeaderAnalysis) bool {
	switch {
	case pred.Label == 1 && pred.Probability > 0.5:
		return true
	case level == core.ThreatHigh || level == core.ThreatCritical:
		return true
	case url.RiskScore > 0.7:
		return true
	case header.RiskScore > 0.6:
		return true
	}
	return false
}

// Reason builds the human readable quarantine reason
func Reason(v *core.Verdict) string {
	parts := []string{fmt.Sprintf("Detected as %s with %.2f confidence", core.LabelName(v.Prediction.Label), v.Prediction.Probability)}
	parts = append(parts, v.Header.Indicators...)
	if n := len(v.URL.SuspiciousURLs); n > 0 {
		parts = append(parts, fmt.Sprintf("Contains %d suspicious URLs", n))
	}
	return strings.Join(parts, "; ")
}

// Record persists the email, the quarantine when held and the daily
// analytics in one transaction.
func (m *Manager) Record(ctx context.Context, v *core.Verdict) (*core.Outcome, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Quarantine.Record")
	defer span.Finish()
	tracing.TagComponentService(span)
	tracing.TagUser(span, v.Email.UserID)

	now := m.now()
	held := m.ShouldQuarantine(v.Prediction, v.Assessment.Level, v.URL, v.Header)
	e := v.Email

	email := &core.EmailRecord{
		ID:               utils.NewID("eml"),
		UserID:           e.UserID,
		Sender:           e.From,
		Recipient:        e.To,
		Subject:          e.Subject,
		Body:             e.Body,
		Headers:          core.HeaderMap(e.Headers),
		Prediction:       core.LabelName(v.Prediction.Label),
		ConfidenceScore:  v.Prediction.Probability,
		ThreatLevel:      v.Assessment.Level,
		Status:           core.StatusProcessed,
		Features:         core.FeatureSummary(v.Features.Map()),
		ModelVersion:     v.ModelVersion,
		ProcessingTimeMs: v.ProcessingTimeMs,
		URLsFound:        core.StringList(v.URLs),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	var quarantine *core.QuarantineRecord
	if held {
		email.Status = core.StatusQuarantined
		quarantine = &core.QuarantineRecord{
			ID:               utils.NewID("qtn"),
			UserID:           e.UserID,
			EmailID:          email.ID,
			Sender:           e.From,
			Recipient:        e.To,
			Subject:          e.Subject,
			Body:             e.Body,
			Headers:          core.HeaderMap(e.Headers),
			Reason:           Reason(v),
			ThreatIndicators: core.StringList(v.Header.Indicators),
			Prediction:       email.Prediction,
			ConfidenceScore:  v.Prediction.Probability,
			ThreatLevel:      v.Assessment.Level,
			QuarantinedAt:    now,
			ExpiresAt:        now.Add(m.retention),
		}
	}

	err := m.store.WithinTx(ctx, func(tx core.Store) error {
		if err := tx.CreateEmail(ctx, email); err != nil {
			return err
		}
		if quarantine != nil {
			if err := tx.CreateQuarantine(ctx, quarantine); err != nil {
				return err
			}
		}
		return tx.IncrementAnalytics(ctx, core.AnalyticsSample{
			UserID:           e.UserID,
			At:               now,
			Quarantined:      held,
			Phishing:         v.Prediction.Label == 1,
			ProcessingTimeMs: v.ProcessingTimeMs,
		})
	})
	if err != nil {
		tracing.TraceErr(span, err)
		m.logger.Error("Failed to persist classification", zap.String("user_id", e.UserID), zap.Error(err))
		return nil, persistence(err)
	}

	out := &core.Outcome{EmailID: email.ID, Quarantined: held}
	if quarantine != nil {
		out.QuarantineID = quarantine.ID
		m.logger.Info("Email quarantined",
			zap.String("user_id", e.UserID),
			zap.String("quarantine_id", quarantine.ID),
			zap.String("threat_level", string(quarantine.ThreatLevel)),
			zap.String("reason", quarantine.Reason))
		m.publish(ctx, &core.Event{
			Type:         core.EventQuarantined,
			UserID:       e.UserID,
			EmailID:      email.ID,
			QuarantineID: quarantine.ID,
			ThreatLevel:  quarantine.ThreatLevel,
			Reason:       quarantine.Reason,
			OccurredAt:   now,
		})
	}
	return out, nil
}

// Release releases one quarantined email. Unknown ids report not_found and
// repeated releases report already_released, neither with an error.
func (m *Manager) Release(ctx context.Context, id, userID, reason string) (*core.ReleaseResult, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Quarantine.Release")
	defer span.Finish()
	tracing.TagComponentService(span)
	tracing.TagEntity(span, id)
	tracing.TagUser(span, userID)

	var (
		result *core.ReleaseResult
		q      *core.QuarantineRecord
	)
	err := m.store.WithinTx(ctx, func(tx core.Store) error {
		var err error
		q, err = tx.GetQuarantine(ctx, id, userID)
		if errors.Is(err, core.ErrNotFound) {
			result = &core.ReleaseResult{Status: core.ReleaseNotFound, Message: msgNotFound, QuarantineID: id}
			return nil
		}
		if err != nil {
			return err
		}
		if q.Released {
			result = alreadyReleased(q)
			return nil
		}

		now := m.now()
		updated, err := tx.MarkReleased(ctx, id, now, reason)
		if err != nil {
			return err
		}
		if !updated {
			result = alreadyReleased(q)
			return nil
		}

		email := &core.EmailRecord{
			ID:              utils.NewID("eml"),
			UserID:          q.UserID,
			Sender:          q.Sender,
			Recipient:       q.Recipient,
			Subject:         q.Subject,
			Body:            q.Body,
			Headers:         q.Headers,
			Prediction:      core.LabelReleased,
			ConfidenceScore: q.ConfidenceScore,
			ThreatLevel:     core.ThreatLow,
			Status:          core.StatusReleased,
			ModelVersion:    m.version(),
			ReleaseReason:   reason,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := tx.CreateEmail(ctx, email); err != nil {
			return err
		}
		result = &core.ReleaseResult{
			Status:        core.ReleaseReleased,
			Message:       msgReleased,
			QuarantineID:  id,
			EmailID:       email.ID,
			ReleaseReason: reason,
			ReleasedAt:    &now,
		}
		return nil
	})
	if err != nil {
		tracing.TraceErr(span, err)
		m.logger.Error("Failed to release from quarantine", zap.String("quarantine_id", id), zap.Error(err))
		return nil, persistence(err)
	}

	if result.Status == core.ReleaseReleased {
		m.logger.Info("Released email from quarantine",
			zap.String("quarantine_id", id),
			zap.String("user_id", q.UserID),
			zap.String("reason", reason))
		m.publish(ctx, &core.Event{
			Type:         core.EventReleased,
			UserID:       q.UserID,
			EmailID:      result.EmailID,
			QuarantineID: id,
			ThreatLevel:  q.ThreatLevel,
			Reason:       reason,
			OccurredAt:   *result.ReleasedAt,
		})
	}
	return result, nil
}

// BulkRelease releases each id in turn. Results hold every found record;
// unknown ids and failures are reported in the error details.
func (m *Manager) BulkRelease(ctx context.Context, ids []string, userID, reason string) (*core.BulkReleaseResult, error) {
	out := &core.BulkReleaseResult{
		Results:      []*core.ReleaseResult{},
		ErrorDetails: []core.BulkReleaseError{},
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := m.Release(ctx, id, userID, reason)
		switch {
		case err != nil:
			out.ErrorDetails = append(out.ErrorDetails, core.BulkReleaseError{QuarantineID: id, Error: err.Error()})
		case res.Status == core.ReleaseNotFound:
			out.ErrorDetails = append(out.ErrorDetails, core.BulkReleaseError{QuarantineID: id, Error: errNotFound})
		default:
			out.Results = append(out.Results, res)
			if res.Status == core.ReleaseReleased {
				out.Released++
			}
		}
	}
	out.Errors = len(out.ErrorDetails)
	return out, nil
}

// SweepExpired publishes an expiry event for every unreleased quarantine
// past its expiry and marks it notified. Quarantines whose event could not
// be published stay unnotified for the next sweep. It returns the number swept.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Quarantine.SweepExpired")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	total := 0
	for {
		now := m.now()
		expired, err := m.store.ListExpired(ctx, now, sweepBatch)
		if err != nil {
			return total, persistence(err)
		}
		if len(expired) == 0 {
			return total, nil
		}

		ids := make([]string, 0, len(expired))
		for i := range expired {
			q := &expired[i]
			err := m.publish(ctx, &core.Event{
				Type:         core.EventQuarantineExpired,
				UserID:       q.UserID,
				EmailID:      q.EmailID,
				QuarantineID: q.ID,
				ThreatLevel:  q.ThreatLevel,
				Reason:       q.Reason,
				OccurredAt:   now,
			})
			if err == nil {
				ids = append(ids, q.ID)
			}
		}
		if len(ids) > 0 {
			if err := m.store.MarkExpiryNotified(ctx, ids); err != nil {
				return total, persistence(err)
			}
		}
		total += len(ids)
		m.logger.Info("Expired quarantines swept",
			zap.Int("count", len(ids)),
			zap.Int("pending", len(expired)-len(ids)))

		// unpublished rows would be listed again
		if len(ids) < len(expired) || len(expired) < sweepBatch {
			return total, nil
		}
	}
}

// publish sends event to the configured publisher; a nil publisher always succeeds
func (m *Manager) publish(ctx context.Context, event *core.Event) error {
	if m.events == nil {
		return nil
	}
	if err := m.events.Publish(ctx, event); err != nil {
		m.logger.Warn("Failed to publish event",
			zap.String("type", string(event.Type)),
			zap.String("quarantine_id", event.QuarantineID),
			zap.Error(err))
		return err
	}
	return nil
}

func alreadyReleased(q *core.QuarantineRecord) *core.ReleaseResult {
	res := &core.ReleaseResult{
		Status:       core.ReleaseAlreadyReleased,
		Message:      msgAlreadyReleased,
		QuarantineID: q.ID,
		ReleasedAt:   q.ReleasedAt,
	}
	if q.ReleaseReason != nil {
		res.ReleaseReason = *q.ReleaseReason
	}
	return res
}

func persistence(err error) error {
	if errors.Is(err, core.ErrPersistence) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", core.ErrPersistence, err)
}
