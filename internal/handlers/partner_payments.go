package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mercadoparceiro/api/internal/platform/auth"
	"github.com/mercadoparceiro/api/internal/platform/requestctx"
	"github.com/mercadoparceiro/api/internal/services"
)

// PartnerPaymentHandlers drives the Mercado Pago OAuth connection of a partner.
type PartnerPaymentHandlers struct {
	authn       *auth.Authenticator
	payments    services.PartnerPaymentService
	settingsURL string
}

// NewPartnerPaymentHandlers builds the handlers. settingsURL is where the
// browser lands after the provider redirects back.
func NewPartnerPaymentHandlers(authn *auth.Authenticator, payments services.PartnerPaymentService, settingsURL string) *PartnerPaymentHandlers {
	return &PartnerPaymentHandlers{authn: authn, payments: payments, settingsURL: strings.TrimSpace(settingsURL)}
}

func (h *PartnerPaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	// The provider redirects the browser here without our bearer token; the
	// single-use state ties the callback to the partner that started it.
	r.Get("/payments/mercadopago/callback", h.callback)

	r.Group(func(r chi.Router) {
		if h.authn != nil {
			r.Use(h.authn.RequireAuth())
		}
		r.Post("/partners/{partnerID}/payments/connect", h.connect)
		r.Get("/partners/{partnerID}/payments", h.status)
	})
}

func (h *PartnerPaymentHandlers) connect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		serviceUnavailable(ctx, w, "payment_connect")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	partnerID, ok := pathParam(w, r, "partnerID")
	if !ok {
		return
	}
	authURL, err := h.payments.StartConnect(ctx, identity, partnerID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"success": true, "authorization_url": authURL})
}

func (h *PartnerPaymentHandlers) callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		serviceUnavailable(ctx, w, "payment_connect")
		return
	}
	query := r.URL.Query()
	_, err := h.payments.CompleteConnect(ctx, query.Get("code"), query.Get("state"))
	if err != nil {
		reason := "exchange_failed"
		var domainErr services.DomainError
		if errors.As(err, &domainErr) {
			reason = domainErr.Code()
		}
		requestctx.Logger(ctx).Warn("mercadopago oauth callback failed", zap.String("reason", reason), zap.Error(err))
		http.Redirect(w, r, h.redirectURL("error", reason), http.StatusFound)
		return
	}
	http.Redirect(w, r, h.redirectURL("mp_connected", "true"), http.StatusFound)
}

func (h *PartnerPaymentHandlers) redirectURL(key, value string) string {
	target := h.settingsURL
	if target == "" {
		target = "/"
	}
	u, err := url.Parse(target)
	if err != nil {
		return "/?" + url.Values{key: {value}}.Encode()
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}

func (h *PartnerPaymentHandlers) status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		serviceUnavailable(ctx, w, "payment_connect")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	partnerID, ok := pathParam(w, r, "partnerID")
	if !ok {
		return
	}
	st, err := h.payments.Status(ctx, identity, partnerID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, paymentStatusPayload{
		Success:     true,
		PartnerID:   st.PartnerID,
		Provider:    st.Provider,
		Connected:   st.Connected,
		LiveMode:    st.LiveMode,
		PublicKey:   st.PublicKey,
		ExpiresAt:   formatTime(st.ExpiresAt),
		ConnectedAt: formatTime(st.ConnectedAt),
	})
}

type paymentStatusPayload struct {
	Success     bool   `json:"success"`
	PartnerID   string `json:"partner_id"`
	Provider    string `json:"provider,omitempty"`
	Connected   bool   `json:"connected"`
	LiveMode    bool   `json:"live_mode"`
	PublicKey   string `json:"public_key,omitempty"`
	ExpiresAt   string `json:"expires_at,omitempty"`
	ConnectedAt string `json:"connected_at,omitempty"`
}
