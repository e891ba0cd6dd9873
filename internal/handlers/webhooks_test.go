package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mercadoparceiro/api/internal/domain"
	"github.com/mercadoparceiro/api/internal/payments"
	"github.com/mercadoparceiro/api/internal/platform/auth"
	"github.com/mercadoparceiro/api/internal/services"
)

const webhookSecret = "whsec-test"

func webhookRouter(h *WebhookHandlers) chi.Router {
	r := chi.NewRouter()
	r.Route("/webhooks", h.Routes)
	return r
}

func signedMercadoPagoRequest(t *testing.T, target, body, dataID string, at time.Time) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("X-Request-Id", "req-42")
	req.Header.Set("X-Signature", auth.SignMercadoPago(webhookSecret, dataID, "req-42", at))
	return req
}

func TestWebhookHandlers_MercadoPagoSignedNotification(t *testing.T) {
	now := time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC)
	reconciler := &stubReconciler{result: services.ReconcileResult{
		OrderID:  "order-1",
		Previous: domain.SituationPending,
		Current:  domain.SituationPaid,
		Changed:  true,
	}}
	validator := auth.NewMercadoPagoSignatureValidator(webhookSecret, time.Minute, func() time.Time { return now })
	router := webhookRouter(NewWebhookHandlers(reconciler, validator, nil))

	body := `{"type":"payment","action":"payment.updated","data":{"id":123456789}}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, signedMercadoPagoRequest(t, "/webhooks/mercadopago?order_id=order-1", body, "123456789", now))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(reconciler.notes) != 1 {
		t.Fatalf("expected one notification, got %d", len(reconciler.notes))
	}
	got := reconciler.notes[0]
	if got.Provider != payments.ProviderMercadoPago || got.PaymentID != "123456789" || got.OrderID != "order-1" || got.Topic != "payment" {
		t.Fatalf("unexpected notification %+v", got)
	}
	if ack := decodeBody(t, rr); ack["changed"] != true || ack["situation"] != "paid" {
		t.Fatalf("unexpected ack %v", ack)
	}
}

func TestWebhookHandlers_MercadoPagoRejectsBadSignature(t *testing.T) {
	now := time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC)
	reconciler := &stubReconciler{}
	validator := auth.NewMercadoPagoSignatureValidator(webhookSecret, time.Minute, func() time.Time { return now })
	router := webhookRouter(NewWebhookHandlers(reconciler, validator, nil))

	tests := []struct {
		name string
		req  *http.Request
	}{
		{
			name: "signed for another payment",
			req:  signedMercadoPagoRequest(t, "/webhooks/mercadopago", `{"type":"payment","data":{"id":"999"}}`, "123", now),
		},
		{
			name: "stale timestamp",
			req:  signedMercadoPagoRequest(t, "/webhooks/mercadopago", `{"type":"payment","data":{"id":"123"}}`, "123", now.Add(-time.Hour)),
		},
		{
			name: "missing header",
			req:  httptest.NewRequest(http.MethodPost, "/webhooks/mercadopago", strings.NewReader(`{"type":"payment","data":{"id":"123"}}`)),
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, tc.req)
			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rr.Code)
			}
		})
	}
	if len(reconciler.notes) != 0 {
		t.Fatalf("reconciler must not run for rejected signatures")
	}
}

func TestWebhookHandlers_MercadoPagoQueryStringFormat(t *testing.T) {
	reconciler := &stubReconciler{result: services.ReconcileResult{Ignored: true}}
	router := webhookRouter(NewWebhookHandlers(reconciler, nil, nil))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhooks/mercadopago?topic=merchant_order&id=77", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := reconciler.notes[0]; got.Topic != "merchant_order" || got.PaymentID != "77" {
		t.Fatalf("unexpected notification %+v", got)
	}
}

func TestWebhookHandlers_MercadoPagoErrorStatuses(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{name: "payload", err: services.ErrNotificationInvalid, status: http.StatusBadRequest},
		{name: "ownership", err: services.ErrPaymentOwnership, status: http.StatusForbidden},
		{name: "retry later", err: services.ErrOrderUnresolved, status: http.StatusServiceUnavailable},
		{name: "provider", err: services.ErrPaymentProvider, status: http.StatusServiceUnavailable},
		{name: "unexpected", err: errors.New("boom"), status: http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			reconciler := &stubReconciler{err: tc.err}
			router := webhookRouter(NewWebhookHandlers(reconciler, nil, nil))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhooks/mercadopago", strings.NewReader(`{"type":"payment","data":{"id":"1"}}`)))
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
		})
	}
}

func TestWebhookHandlers_MercadoPagoMalformedBody(t *testing.T) {
	reconciler := &stubReconciler{}
	router := webhookRouter(NewWebhookHandlers(reconciler, nil, nil))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhooks/mercadopago", strings.NewReader(`{not json`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestWebhookHandlers_Stripe(t *testing.T) {
	t.Run("invalid signature", func(t *testing.T) {
		reconciler := &stubReconciler{}
		parser := stubStripeParser{err: payments.ErrInvalidStripeSignature}
		rr := httptest.NewRecorder()
		webhookRouter(NewWebhookHandlers(reconciler, nil, parser)).
			ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(`{}`)))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rr.Code)
		}
		if body := decodeBody(t, rr); body["error"] != "invalid_signature" {
			t.Fatalf("unexpected error code %v", body["error"])
		}
	})

	t.Run("non checkout event ignored", func(t *testing.T) {
		reconciler := &stubReconciler{}
		parser := stubStripeParser{event: payments.StripeEvent{ID: "evt_1", Type: "customer.created"}}
		rr := httptest.NewRecorder()
		webhookRouter(NewWebhookHandlers(reconciler, nil, parser)).
			ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(`{}`)))
		if rr.Code != http.StatusOK || len(reconciler.notes) != 0 {
			t.Fatalf("expected ignored 200, got %d with %d notifications", rr.Code, len(reconciler.notes))
		}
	})

	t.Run("checkout session reconciled", func(t *testing.T) {
		reconciler := &stubReconciler{result: services.ReconcileResult{OrderID: "order-1", Current: domain.SituationPaid, Changed: true}}
		parser := stubStripeParser{event: payments.StripeEvent{
			ID:        "evt_2",
			Type:      "checkout.session.completed",
			SessionID: "cs_test_1",
			OrderID:   "order-1",
		}}
		rr := httptest.NewRecorder()
		webhookRouter(NewWebhookHandlers(reconciler, nil, parser)).
			ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(`{}`)))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		got := reconciler.notes[0]
		if got.Provider != payments.ProviderStripe || got.PaymentID != "cs_test_1" || got.OrderID != "order-1" {
			t.Fatalf("unexpected notification %+v", got)
		}
	})
}
