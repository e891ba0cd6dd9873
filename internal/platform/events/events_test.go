package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/mercadoparceiro/api/internal/platform/requestctx"
)

type recordingPublisher struct {
	published []Envelope
	err       error
}

func (r *recordingPublisher) Publish(_ context.Context, env Envelope) error {
	if r.err != nil {
		return r.err
	}
	r.published = append(r.published, env)
	return nil
}

func (r *recordingPublisher) Close() error { return nil }

func TestEmitterStampsEnvelope(t *testing.T) {
	now := time.Date(2025, 4, 2, 10, 0, 0, 0, time.FixedZone("BRT", -3*3600))
	pub := &recordingPublisher{}
	emitter := NewEmitter(pub, "api", func() time.Time { return now })

	payload := OrderPayload{OrderID: "o-1", OrderNumber: "PED-20250402-ABC123", TotalCents: 1500, Currency: "BRL"}
	if err := emitter.Emit(context.Background(), TypeOrderCreated, "o-1", payload); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if len(pub.published) != 1 {
		t.Fatalf("expected one envelope, got %d", len(pub.published))
	}
	env := pub.published[0]
	if env.EventID == "" || env.EventType != TypeOrderCreated || env.Producer != "api" || env.CorrelationID != "o-1" {
		t.Fatalf("unexpected envelope %#v", env)
	}
	if !env.OccurredAt.Equal(now) || env.OccurredAt.Location() != time.UTC {
		t.Fatalf("expected UTC timestamp, got %v", env.OccurredAt)
	}
	decoded, err := Decode[OrderPayload](env)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded != payload {
		t.Fatalf("payload mismatch: %#v", decoded)
	}
}

func TestEmitterUsesRequestScope(t *testing.T) {
	pub := &recordingPublisher{}
	ctx := requestctx.WithRequestID(context.Background(), "req-7")
	ctx = requestctx.WithScope(ctx, func(s *requestctx.Scope) { s.OrderID = "o-9" })

	if err := NewEmitter(pub, "api", nil).Emit(ctx, TypeOrderPaid, "", OrderPayload{OrderID: "o-9"}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	env := pub.published[0]
	if env.CorrelationID != "o-9" || env.RequestID != "req-7" {
		t.Fatalf("scope not copied: %#v", env)
	}
}

func TestEmitterPropagatesPublishError(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	if err := NewEmitter(pub, "api", nil).Emit(context.Background(), TypeStockAlert, "o-1", StockAlertPayload{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestNilEmitterIsNoop(t *testing.T) {
	var emitter *Emitter
	if err := emitter.Emit(context.Background(), TypeOrderPaid, "o-1", nil); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestNewEnvelopeRequiresType(t *testing.T) {
	if _, err := NewEnvelope(" ", "api", "", nil, time.Now()); err == nil {
		t.Fatal("expected error for blank type")
	}
}

type fakeWriter struct {
	messages []kafka.Message
	closed   bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.messages = append(f.messages, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaPublisherKeysByCorrelationID(t *testing.T) {
	writer := &fakeWriter{}
	pub := &KafkaPublisher{writer: writer}
	env, err := NewEnvelope(TypeOrderPaid, "api", "order-9", OrderPayload{OrderID: "order-9"}, time.Now())
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if err := pub.Publish(context.Background(), env); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(writer.messages) != 1 {
		t.Fatalf("expected one message, got %d", len(writer.messages))
	}
	msg := writer.messages[0]
	if string(msg.Key) != "order-9" {
		t.Fatalf("expected key order-9, got %q", msg.Key)
	}
	if len(msg.Headers) == 0 || string(msg.Headers[0].Value) != TypeOrderPaid {
		t.Fatalf("expected event_type header, got %#v", msg.Headers)
	}
	_ = pub.Close()
	if !writer.closed {
		t.Fatal("expected writer closed")
	}
}

func TestNewKafkaPublisherValidates(t *testing.T) {
	if _, err := NewKafkaPublisher(nil, "orders"); err == nil {
		t.Fatal("expected error without brokers")
	}
	if _, err := NewKafkaPublisher([]string{"localhost:9092"}, ""); err == nil {
		t.Fatal("expected error without topic")
	}
}
