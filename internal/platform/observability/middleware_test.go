package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func loggedRouter(t *testing.T) (*chi.Mux, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	r := chi.NewRouter()
	r.Use(InjectLoggerMiddleware(zap.New(core)), RecoveryMiddleware(nil), RequestLoggerMiddleware("proj"))
	r.Get("/api/v1/partners/{partnerID}/orders/{orderID}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Post("/api/v1/webhooks/mercadopago", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	r.Get("/boom", func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	})
	return r, logs
}

func TestRequestLoggerAddsRouteScope(t *testing.T) {
	r, logs := loggedRouter(t)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/partners/p-1/orders/o-1", nil))

	entries := logs.FilterMessage("request completed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one completion entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["partner_id"] != "p-1" || fields["order_id"] != "o-1" {
		t.Fatalf("missing scope fields: %v", fields)
	}
	if fields["route"] != "/api/v1/partners/{partnerID}/orders/{orderID}" || fields["status"] != int64(http.StatusNoContent) {
		t.Fatalf("unexpected route/status: %v", fields)
	}
	if entries[0].Level != zapcore.InfoLevel {
		t.Fatalf("expected info, got %s", entries[0].Level)
	}
}

func TestRequestLoggerFlagsRejectedWebhooks(t *testing.T) {
	r, logs := loggedRouter(t)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/mercadopago", nil))

	entries := logs.FilterMessage("webhook rejected").All()
	if len(entries) != 1 {
		t.Fatalf("expected webhook rejection entry, got %v", logs.All())
	}
	if entries[0].Level != zapcore.WarnLevel || entries[0].ContextMap()["provider"] != "mercadopago" {
		t.Fatalf("unexpected entry %+v", entries[0])
	}
}

func TestRecoveryWritesEnvelopeAndLogsPanic(t *testing.T) {
	r, logs := loggedRouter(t)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/boom", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Fatalf("panic not logged")
	}
	completed := logs.FilterMessage("request completed").All()
	if len(completed) != 1 || completed[0].Level != zapcore.ErrorLevel {
		t.Fatalf("expected error-level completion, got %v", completed)
	}
}

func TestSanitizeUserIDMasksEmails(t *testing.T) {
	tests := map[string]string{
		"":                      "",
		"user-123":              "user-123",
		"ana.souza@exemplo.com": "a***@exemplo.com",
		"line\nbreak":           "linebreak",
	}
	for in, want := range tests {
		if got := SanitizeUserID(in); got != want {
			t.Errorf("SanitizeUserID(%q) = %q, want %q", in, got, want)
		}
	}
}
