package events

import (
	"context"

	"github.com/mikey/phish-guard/internal/core"
	"go.uber.org/zap"
)

// LogPublisher writes events to the log instead of a broker
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, event *core.Event) error {
	p.logger.Debug("Lifecycle event",
		zap.String("type", string(event.Type)),
		zap.String("user_id", event.UserID),
		zap.String("quarantine_id", event.QuarantineID))
	return nil
}
