package events

import (
	"context"
	"time"

	"github.com/mercadoparceiro/api/internal/platform/requestctx"
)

// Emitter builds envelopes for services and hands them to a Publisher.
type Emitter struct {
	publisher Publisher
	producer  string
	clock     func() time.Time
}

// NewEmitter wraps publisher. A nil publisher makes Emit a no-op.
func NewEmitter(publisher Publisher, producer string, clock func() time.Time) *Emitter {
	if clock == nil {
		clock = time.Now
	}
	return &Emitter{publisher: publisher, producer: producer, clock: clock}
}

// Emit publishes payload under eventType. correlationID is normally the order
// id; when empty the order in the request scope is used.
func (e *Emitter) Emit(ctx context.Context, eventType, correlationID string, payload any) error {
	if e == nil || e.publisher == nil {
		return nil
	}
	scope := requestctx.ScopeFrom(ctx)
	if correlationID == "" {
		correlationID = scope.OrderID
	}
	env, err := NewEnvelope(eventType, e.producer, correlationID, payload, e.clock())
	if err != nil {
		return err
	}
	env.TraceID = requestctx.TraceID(ctx)
	env.RequestID = scope.RequestID
	return e.publisher.Publish(ctx, env)
}
