// Package messaging holds event publishers that need no external bus.
package messaging

import (
	"context"

	"go.uber.org/zap"

	"graphsync/application/ports"
	"graphsync/domain/events"
)

// LoggingPublisher writes every event to the log. It is used when no event
// bus is configured.
type LoggingPublisher struct {
	logger *zap.Logger
}

// NewLoggingPublisher creates a publisher that logs at Debug.
func NewLoggingPublisher(logger *zap.Logger) *LoggingPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingPublisher{logger: logger}
}

func (p *LoggingPublisher) Publish(_ context.Context, event events.DomainEvent) error {
	p.logger.Debug("Domain event",
		zap.String("eventType", event.GetEventType()),
		zap.String("aggregateId", event.GetAggregateID()),
		zap.Time("timestamp", event.GetTimestamp()),
		zap.Any("event", event),
	)
	return nil
}

func (p *LoggingPublisher) PublishBatch(ctx context.Context, domainEvents []events.DomainEvent) error {
	for _, e := range domainEvents {
		_ = p.Publish(ctx, e)
	}
	return nil
}

// FanOut publishes to every publisher and returns the first error.
type FanOut []ports.EventPublisher

func (f FanOut) Publish(ctx context.Context, event events.DomainEvent) error {
	var first error
	for _, p := range f {
		if err := p.Publish(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (f FanOut) PublishBatch(ctx context.Context, domainEvents []events.DomainEvent) error {
	var first error
	for _, p := range f {
		if err := p.PublishBatch(ctx, domainEvents); err != nil && first == nil {
			first = err
		}
	}
	return first
}
