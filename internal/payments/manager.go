package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Manager picks the adapter for a checkout. BRL always routes to Mercado Pago
// when it is registered; Stripe only serves callers that ask for it or
// currencies Mercado Pago cannot take.
type Manager struct {
	providers map[string]Provider
	fallback  string
}

type ManagerOption func(*Manager)

// WithDefaultProvider sets the provider for currencies without a fixed route.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) { m.fallback = providerKey(provider) }
}

func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: no providers registered")
	}
	m := &Manager{providers: make(map[string]Provider, len(providers)), fallback: ProviderMercadoPago}
	for name, p := range providers {
		key := providerKey(name)
		if key == "" || p == nil {
			return nil, fmt.Errorf("payments: invalid provider %q", name)
		}
		m.providers[key] = p
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// PaymentContext holds the hints Resolve routes on.
type PaymentContext struct {
	PreferredProvider string
	Currency          string
}

// Resolve tries, in order: the preferred provider, the currency route, the
// default provider, and the only registered provider.
func (m *Manager) Resolve(pctx PaymentContext) (string, Provider, error) {
	if m == nil || len(m.providers) == 0 {
		return "", nil, ErrUnsupportedProvider
	}
	candidates := []string{providerKey(pctx.PreferredProvider)}
	if strings.EqualFold(strings.TrimSpace(pctx.Currency), "BRL") {
		candidates = append(candidates, ProviderMercadoPago)
	}
	candidates = append(candidates, m.fallback)
	for _, key := range candidates {
		if p, ok := m.providers[key]; ok {
			return key, p, nil
		}
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// Provider returns the adapter registered under name.
func (m *Manager) Provider(name string) (Provider, error) {
	if m != nil {
		if p, ok := m.providers[providerKey(name)]; ok {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, name)
}

// CreatePreference mints a checkout on the resolved provider and stamps which
// provider served it.
func (m *Manager) CreatePreference(ctx context.Context, pctx PaymentContext, req PreferenceRequest) (Preference, error) {
	key, p, err := m.Resolve(pctx)
	if err != nil {
		return Preference{}, err
	}
	pref, err := p.CreatePreference(ctx, req)
	if err != nil {
		return Preference{}, err
	}
	pref.Provider = key
	return pref, nil
}

func (m *Manager) GetPayment(ctx context.Context, provider string, creds Credentials, paymentID string) (Payment, error) {
	p, err := m.Provider(provider)
	if err != nil {
		return Payment{}, err
	}
	return p.GetPayment(ctx, creds, paymentID)
}

func (m *Manager) FindPayments(ctx context.Context, provider string, creds Credentials, query PaymentQuery) ([]Payment, error) {
	p, err := m.Provider(provider)
	if err != nil {
		return nil, err
	}
	return p.FindPayments(ctx, creds, query)
}

func providerKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
