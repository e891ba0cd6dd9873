package payments

import (
	"context"
	"errors"
	"testing"
)

type fakeProvider struct {
	lastOp     string
	preference Preference
	payment    Payment
	payments   []Payment
	err        error
}

func (f *fakeProvider) CreatePreference(ctx context.Context, req PreferenceRequest) (Preference, error) {
	f.lastOp = "create"
	return f.preference, f.err
}

func (f *fakeProvider) GetPayment(ctx context.Context, creds Credentials, paymentID string) (Payment, error) {
	f.lastOp = "get"
	return f.payment, f.err
}

func (f *fakeProvider) FindPayments(ctx context.Context, creds Credentials, query PaymentQuery) ([]Payment, error) {
	f.lastOp = "find"
	return f.payments, f.err
}

func TestManagerCreatePreferenceUsesPreferredProvider(t *testing.T) {
	ctx := context.Background()
	mp := &fakeProvider{preference: Preference{ID: "pref_mp"}}
	st := &fakeProvider{preference: Preference{ID: "cs_stripe"}}

	mgr, err := NewManager(map[string]Provider{
		ProviderMercadoPago: mp,
		ProviderStripe:      st,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	pref, err := mgr.CreatePreference(ctx, PaymentContext{PreferredProvider: "Stripe", Currency: "BRL"}, PreferenceRequest{})
	if err != nil {
		t.Fatalf("create preference: %v", err)
	}
	if pref.Provider != ProviderStripe || pref.ID != "cs_stripe" {
		t.Fatalf("expected stripe preference, got %+v", pref)
	}
	if mp.lastOp != "" {
		t.Fatalf("expected mercadopago provider to remain unused")
	}
}

func TestManagerRoutesBRLToMercadoPago(t *testing.T) {
	mp := &fakeProvider{preference: Preference{ID: "pref_mp"}}
	st := &fakeProvider{preference: Preference{ID: "cs_stripe"}}
	mgr, err := NewManager(map[string]Provider{ProviderMercadoPago: mp, ProviderStripe: st},
		WithDefaultProvider(ProviderStripe))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	key, _, err := mgr.Resolve(PaymentContext{Currency: "brl"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if key != ProviderMercadoPago {
		t.Fatalf("expected BRL routed to mercadopago, got %q", key)
	}

	key, _, err = mgr.Resolve(PaymentContext{Currency: "USD"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if key != ProviderStripe {
		t.Fatalf("expected default provider for USD, got %q", key)
	}
}

func TestManagerUnknownProvider(t *testing.T) {
	mgr, err := NewManager(map[string]Provider{ProviderMercadoPago: &fakeProvider{}})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := mgr.GetPayment(context.Background(), "paypal", Credentials{}, "1"); !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
}

func TestManagerPropagatesProviderErrors(t *testing.T) {
	boom := errors.New("boom")
	mgr, err := NewManager(map[string]Provider{ProviderMercadoPago: &fakeProvider{err: boom}})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := mgr.FindPayments(context.Background(), ProviderMercadoPago, Credentials{}, PaymentQuery{ExternalReference: "x"}); !errors.Is(err, boom) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestNewManagerRejectsEmptyRegistrations(t *testing.T) {
	if _, err := NewManager(nil); err == nil {
		t.Fatalf("expected error for empty providers")
	}
	if _, err := NewManager(map[string]Provider{" ": &fakeProvider{}}); err == nil {
		t.Fatalf("expected error for blank key")
	}
}

func TestEnvironmentFromToken(t *testing.T) {
	if got := EnvironmentFromToken("TEST-123"); got != EnvironmentSandbox {
		t.Fatalf("expected sandbox, got %q", got)
	}
	if got := EnvironmentFromToken("APP_USR-123"); got != EnvironmentProduction {
		t.Fatalf("expected production, got %q", got)
	}
}
