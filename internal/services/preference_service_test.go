package services

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/mercadoparceiro/api/internal/domain"
	"github.com/mercadoparceiro/api/internal/payments"
)

type preferenceFixture struct {
	orders  *memOrders
	configs *memConfigs
	gateway *stubGateway
	gate    *stubGate
	logs    *captureLogs
	service PreferenceService
}

func pendingOrder() domain.Order {
	return domain.Order{
		ID:          "order-1",
		Number:      "PED-20250310-AAAAAA",
		BuyerID:     "buyer-1",
		PartnerID:   "partner-1",
		Situation:   domain.SituationPending,
		Currency:    "BRL",
		TotalAmount: 5000,
		Items: []domain.OrderItem{{
			ID: "line-1", OrderID: "order-1", Item: productRef("prod-1"), Name: "Caneca", UnitPrice: 2500, Quantity: 2,
		}},
	}
}

func newPreferenceFixture(t *testing.T, order domain.Order) *preferenceFixture {
	t.Helper()
	f := &preferenceFixture{
		orders: newMemOrders(order),
		configs: newMemConfigs(domain.PartnerPaymentConfig{
			PartnerID: "partner-1", Provider: payments.ProviderMercadoPago, AccessToken: "TEST-seller-token", ProviderUserID: "777",
		}),
		gateway: &stubGateway{},
		gate:    &stubGate{orders: map[string]AccessDecision{"buyer-1/order-1": {Allowed: true, Role: AccessRoleBuyer}}},
		logs:    &captureLogs{},
	}
	svc, err := NewPreferenceService(PreferenceServiceDeps{
		Orders:          f.orders,
		PaymentConfigs:  f.configs,
		Users:           &stubUsers{profiles: map[string]domain.BuyerProfile{"buyer-1": {UserID: "buyer-1", Name: "Ana", Email: "ana@example.com"}}},
		Gate:            f.gate,
		Payments:        f.gateway,
		NotificationURL: "https://api.example.com/webhooks/mercadopago",
		ReturnURL:       "https://app.example.com/",
		MaxInstallments: 24,
		Clock:           fixedClock(orderNow),
		Logger:          f.logs.log,
	})
	if err != nil {
		t.Fatalf("new preference service: %v", err)
	}
	f.service = svc
	return f
}

func TestCreatePreferenceBuildsSellerCheckout(t *testing.T) {
	f := newPreferenceFixture(t, pendingOrder())

	pref, err := f.service.CreatePreference(context.Background(), buyer("buyer-1"), "order-1")
	if err != nil {
		t.Fatalf("create preference: %v", err)
	}
	if pref.ID != "pref-1" || pref.InitPoint != "https://mp/init" {
		t.Fatalf("unexpected preference %+v", pref)
	}
	if len(f.gateway.creates) != 1 {
		t.Fatalf("expected one provider call, got %d", len(f.gateway.creates))
	}
	req := f.gateway.creates[0]
	if req.Credentials.AccessToken != "TEST-seller-token" {
		t.Fatalf("preference must use the seller token, got %q", req.Credentials.AccessToken)
	}
	if req.ExternalReference != "order-1" || req.IdempotencyKey != "preference-order-1" {
		t.Fatalf("unexpected references %q/%q", req.ExternalReference, req.IdempotencyKey)
	}
	if req.MaxInstallments != 12 {
		t.Fatalf("installments must be capped at 12, got %d", req.MaxInstallments)
	}
	if req.Metadata["environment"] != payments.EnvironmentSandbox || req.Metadata["order_number"] != "PED-20250310-AAAAAA" {
		t.Fatalf("unexpected metadata %+v", req.Metadata)
	}
	if req.Payer.Email != "ana@example.com" {
		t.Fatalf("expected payer from profile, got %+v", req.Payer)
	}
	success, err := url.Parse(req.BackURLs.Success)
	if err != nil || success.Path != "/checkout/success" || success.Query().Get("order_id") != "order-1" {
		t.Fatalf("unexpected success url %q", req.BackURLs.Success)
	}
	notify, err := url.Parse(req.NotificationURL)
	if err != nil || notify.Query().Get("order_id") != "order-1" {
		t.Fatalf("unexpected notification url %q", req.NotificationURL)
	}
	stored := f.orders.orders["order-1"]
	if stored.PreferenceID == nil || *stored.PreferenceID != "pref-1" || *stored.ExternalReference != "order-1" {
		t.Fatalf("preference not stored: %+v", stored)
	}
}

func TestCreatePreferenceOnlyOnce(t *testing.T) {
	f := newPreferenceFixture(t, pendingOrder())
	if _, err := f.service.CreatePreference(context.Background(), buyer("buyer-1"), "order-1"); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if _, err := f.service.CreatePreference(context.Background(), buyer("buyer-1"), "order-1"); !errors.Is(err, ErrPreferenceExists) {
		t.Fatalf("expected preference exists, got %v", err)
	}
	if len(f.gateway.creates) != 1 {
		t.Fatalf("second call must not reach the provider")
	}
}

func TestCreatePreferenceLosesRace(t *testing.T) {
	f := newPreferenceFixture(t, pendingOrder())
	f.gateway.createFn = func(payments.PaymentContext, payments.PreferenceRequest) (payments.Preference, error) {
		other := "pref-other"
		o := f.orders.orders["order-1"]
		o.PreferenceID = &other
		f.orders.orders["order-1"] = o
		return payments.Preference{ID: "pref-late", Provider: payments.ProviderMercadoPago}, nil
	}
	if _, err := f.service.CreatePreference(context.Background(), buyer("buyer-1"), "order-1"); !errors.Is(err, ErrPreferenceExists) {
		t.Fatalf("expected preference exists, got %v", err)
	}
	if !f.logs.has("preference.store.rejected") {
		t.Fatalf("expected rejected store to be logged")
	}
	if got := *f.orders.orders["order-1"].PreferenceID; got != "pref-other" {
		t.Fatalf("winner must be kept, got %q", got)
	}
}

func TestCreatePreferenceRejections(t *testing.T) {
	cases := []struct {
		name    string
		setup   func(*preferenceFixture)
		caller  string
		wantErr error
	}{
		{name: "stranger", caller: "intruder", wantErr: ErrOrderForbidden},
		{name: "not pending", caller: "buyer-1", wantErr: ErrOrderNotPending, setup: func(f *preferenceFixture) {
			o := f.orders.orders["order-1"]
			o.Situation = domain.SituationPaid
			f.orders.orders["order-1"] = o
		}},
		{name: "tampered total", caller: "buyer-1", wantErr: ErrAmountMismatch, setup: func(f *preferenceFixture) {
			o := f.orders.orders["order-1"]
			o.TotalAmount = 4000
			f.orders.orders["order-1"] = o
		}},
		{name: "seller not connected", caller: "buyer-1", wantErr: ErrPaymentNotConfigured, setup: func(f *preferenceFixture) {
			delete(f.configs.configs, "partner-1")
		}},
		{name: "empty token", caller: "buyer-1", wantErr: ErrPaymentNotConfigured, setup: func(f *preferenceFixture) {
			f.configs.configs["partner-1"] = domain.PartnerPaymentConfig{PartnerID: "partner-1", Provider: payments.ProviderMercadoPago}
		}},
		{name: "provider down", caller: "buyer-1", wantErr: ErrPaymentProvider, setup: func(f *preferenceFixture) {
			f.gateway.createFn = func(payments.PaymentContext, payments.PreferenceRequest) (payments.Preference, error) {
				return payments.Preference{}, payments.ErrProviderUnavailable
			}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newPreferenceFixture(t, pendingOrder())
			if tc.setup != nil {
				tc.setup(f)
			}
			_, err := f.service.CreatePreference(context.Background(), buyer(tc.caller), "order-1")
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			if f.orders.orders["order-1"].PreferenceID != nil {
				t.Fatalf("no preference may be stored")
			}
		})
	}
}
