package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mercadoparceiro/api/internal/payments"
	"github.com/mercadoparceiro/api/internal/platform/httpx"
	"github.com/mercadoparceiro/api/internal/platform/requestctx"
	"github.com/mercadoparceiro/api/internal/services"
)

const maxWebhookBodySize = 64 * 1024

// SignatureVerifier validates provider signatures. auth.MercadoPagoSignatureValidator satisfies it.
type SignatureVerifier interface {
	Verify(r *http.Request, dataID string) error
}

// StripeWebhookParser verifies and decodes Stripe events. payments.StripeProvider satisfies it.
type StripeWebhookParser interface {
	ParseWebhook(payload []byte, signature string) (payments.StripeEvent, error)
}

// WebhookHandlers receives payment provider callbacks. Responses follow the
// provider retry contract: 2xx for handled or ignored notifications, 4xx for
// notifications that will never succeed, 5xx to ask for a retry.
type WebhookHandlers struct {
	reconciler services.PaymentReconciler
	signatures SignatureVerifier
	stripe     StripeWebhookParser
}

func NewWebhookHandlers(reconciler services.PaymentReconciler, signatures SignatureVerifier, stripe StripeWebhookParser) *WebhookHandlers {
	return &WebhookHandlers{reconciler: reconciler, signatures: signatures, stripe: stripe}
}

// Routes registers the webhook endpoints relative to the /webhooks group.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/mercadopago", h.mercadoPago)
	r.Post("/stripe", h.stripeEvent)
}

type mercadoPagoNotification struct {
	Type   string `json:"type"`
	Topic  string `json:"topic"`
	Action string `json:"action"`
	Data   struct {
		ID json.RawMessage `json:"id"`
	} `json:"data"`
	Resource string `json:"resource"`
}

func (h *WebhookHandlers) mercadoPago(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reconciler == nil {
		serviceUnavailable(ctx, w, "payment_reconciler")
		return
	}
	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_notification", httpx.MessageInvalidBody, http.StatusBadRequest))
		return
	}

	query := r.URL.Query()
	topic := firstNonEmpty(query.Get("type"), query.Get("topic"))
	paymentID := firstNonEmpty(query.Get("data.id"), query.Get("id"))
	if len(body) > 0 {
		var note mercadoPagoNotification
		if err := json.Unmarshal(body, &note); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_notification", httpx.MessageInvalidBody, http.StatusBadRequest))
			return
		}
		topic = firstNonEmpty(note.Type, note.Topic, topic)
		paymentID = firstNonEmpty(rawID(note.Data.ID), paymentID, lastSegment(note.Resource))
	}

	if h.signatures != nil {
		if err := h.signatures.Verify(r, paymentID); err != nil {
			requestctx.Logger(ctx).Warn("mercadopago webhook signature rejected", zap.Error(err))
			httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "Assinatura inválida.", http.StatusUnauthorized))
			return
		}
	}

	result, err := h.reconciler.HandleNotification(ctx, services.Notification{
		Provider:  payments.ProviderMercadoPago,
		Topic:     topic,
		PaymentID: paymentID,
		OrderID:   query.Get("order_id"),
	})
	if err != nil {
		writeWebhookError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildWebhookAck(result))
}

func (h *WebhookHandlers) stripeEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reconciler == nil || h.stripe == nil {
		serviceUnavailable(ctx, w, "payment_reconciler")
		return
	}
	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_notification", httpx.MessageInvalidBody, http.StatusBadRequest))
		return
	}
	event, err := h.stripe.ParseWebhook(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		requestctx.Logger(ctx).Warn("stripe webhook rejected", zap.Error(err))
		code, status := "invalid_notification", http.StatusBadRequest
		if errors.Is(err, payments.ErrInvalidStripeSignature) {
			code = "invalid_signature"
		}
		httpx.WriteError(ctx, w, httpx.NewError(code, "Notificação inválida.", status))
		return
	}
	if event.SessionID == "" {
		writeJSONResponse(w, http.StatusOK, webhookAck{Received: true, Ignored: true})
		return
	}

	result, err := h.reconciler.HandleNotification(ctx, services.Notification{
		Provider:  payments.ProviderStripe,
		PaymentID: event.SessionID,
		OrderID:   event.OrderID,
	})
	if err != nil {
		writeWebhookError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildWebhookAck(result))
}

type webhookAck struct {
	Received  bool   `json:"received"`
	Ignored   bool   `json:"ignored,omitempty"`
	Changed   bool   `json:"changed"`
	OrderID   string `json:"order_id,omitempty"`
	Situation string `json:"situation,omitempty"`
}

func buildWebhookAck(result services.ReconcileResult) webhookAck {
	return webhookAck{
		Received:  true,
		Ignored:   result.Ignored,
		Changed:   result.Changed,
		OrderID:   result.OrderID,
		Situation: string(result.Current),
	}
}

func writeWebhookError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	code := "reconcile_failed"
	var domainErr services.DomainError
	if errors.As(err, &domainErr) {
		code = domainErr.Code()
	}
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, services.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, services.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}
	requestctx.Logger(ctx).Warn("payment webhook not applied", zap.String("code", code), zap.Int("status", status), zap.Error(err))
	httpx.WriteError(ctx, w, httpx.NewError(code, "Notificação não processada.", status))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// rawID accepts both the numeric and string ids Mercado Pago sends.
func rawID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func lastSegment(resource string) string {
	resource = strings.TrimRight(strings.TrimSpace(resource), "/")
	if i := strings.LastIndex(resource, "/"); i >= 0 {
		return resource[i+1:]
	}
	return resource
}
