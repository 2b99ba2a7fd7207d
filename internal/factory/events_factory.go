package factory

import (
	"github.com/mikey/phish-guard/internal/adapters/events"
	"github.com/mikey/phish-guard/internal/config"
	"github.com/mikey/phish-guard/internal/core"
	"go.uber.org/zap"
)

// EventsFactory creates the lifecycle event publisher
type EventsFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewEventsFactory creates a new events factory
func NewEventsFactory(cfg *config.Config, logger *zap.Logger) *EventsFactory {
	return &EventsFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreatePublisher dials RabbitMQ when events are enabled and logs events otherwise
func (f *EventsFactory) CreatePublisher() (core.EventPublisher, error) {
	eventsCfg, err := f.cfg.GetEvents()
	if err != nil {
		return nil, err
	}
	if !eventsCfg.Enabled {
		return events.NewLogPublisher(f.logger), nil
	}
	return events.NewRabbitMQPublisher(eventsCfg.AMQPURL, events.PublisherConfig{
		Exchange:       eventsCfg.Exchange,
		MaxRetries:     eventsCfg.MaxRetries,
		PublishTimeout: eventsCfg.PublishTimeout,
	}, f.logger)
}
