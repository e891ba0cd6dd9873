package events

import (
	"context"

	"go.uber.org/zap"
)

// LogPublisher writes envelopes to the structured log. Used when no broker is configured.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, env Envelope) error {
	p.logger.Info("event published",
		zap.String("event_id", env.EventID),
		zap.String("event_type", env.EventType),
		zap.String("correlation_id", env.CorrelationID),
		zap.ByteString("payload", env.Payload),
	)
	return nil
}

func (p *LogPublisher) Close() error { return nil }
