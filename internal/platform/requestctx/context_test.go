package requestctx

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestScopeEditsDoNotLeakToParent(t *testing.T) {
	parent := WithRequestID(context.Background(), "req-1")
	child := WithScope(parent, func(s *Scope) {
		s.PartnerID = "p-1"
		s.OrderID = "o-1"
	})

	if got := ScopeFrom(parent); got.PartnerID != "" || got.RequestID != "req-1" {
		t.Fatalf("parent scope changed: %+v", got)
	}
	got := ScopeFrom(child)
	if got.RequestID != "req-1" || got.PartnerID != "p-1" || got.OrderID != "o-1" {
		t.Fatalf("unexpected child scope: %+v", got)
	}
}

func TestLoggerFallsBackToNoop(t *testing.T) {
	if Logger(context.Background()) != NoopLogger() {
		t.Fatalf("expected noop logger")
	}
	logger := zap.NewExample()
	if Logger(WithLogger(context.Background(), logger)) != logger {
		t.Fatalf("expected stored logger")
	}
	if Logger(WithLogger(context.Background(), nil)) != NoopLogger() {
		t.Fatalf("nil logger must store noop")
	}
}

func TestTraceIDEmptyWithoutTrace(t *testing.T) {
	if TraceID(context.Background()) != "" {
		t.Fatalf("expected empty trace id")
	}
	ctx := WithTrace(context.Background(), TraceInfo{TraceID: "abc", Sampled: true})
	if TraceID(ctx) != "abc" {
		t.Fatalf("trace id not stored")
	}
}
