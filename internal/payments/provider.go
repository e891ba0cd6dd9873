package payments

import (
	"context"
	"errors"
	"strings"
)

// Provider keys.
const (
	ProviderMercadoPago = "mercadopago"
	ProviderStripe      = "stripe"
)

// Status is the payment state reported by a provider, normalised to the
// Mercado Pago vocabulary.
type Status string

const (
	StatusApproved    Status = "approved"
	StatusPending     Status = "pending"
	StatusInProcess   Status = "in_process"
	StatusAuthorized  Status = "authorized"
	StatusInMediation Status = "in_mediation"
	StatusRejected    Status = "rejected"
	StatusCancelled   Status = "cancelled"
	StatusRefunded    Status = "refunded"
	StatusChargedBack Status = "charged_back"
)

// Environment labels embedded in preference metadata.
const (
	EnvironmentSandbox    = "sandbox"
	EnvironmentProduction = "production"
)

// Adapters map provider answers onto these; callers branch with errors.Is.
var (
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	ErrPaymentNotFound     = errors.New("payments: payment not found")
	// 401/403 from the provider, usually an expired seller token
	ErrUnauthorized        = errors.New("payments: credentials rejected")
	ErrProviderRejected    = errors.New("payments: request rejected by provider")
	ErrProviderUnavailable = errors.New("payments: provider unavailable")
)

// EnvironmentFromToken derives sandbox/production from a Mercado Pago access token.
func EnvironmentFromToken(token string) string {
	if strings.HasPrefix(strings.TrimSpace(token), "TEST-") {
		return EnvironmentSandbox
	}
	return EnvironmentProduction
}

// Credentials identify the seller account a call acts on behalf of.
type Credentials struct {
	AccessToken string
	AccountID   string
}

// LineItem is one priced entry of a checkout.
type LineItem struct {
	ID        string
	Title     string
	Quantity  int
	UnitPrice int64
	Currency  string
}

// Payer is the buyer contact sent to the provider.
type Payer struct {
	Name  string
	Email string
	Phone string
}

// BackURLs are the browser return targets after checkout.
type BackURLs struct {
	Success string
	Failure string
	Pending string
}

// PreferenceRequest carries everything needed to mint a checkout.
type PreferenceRequest struct {
	Credentials       Credentials
	Items             []LineItem
	Payer             Payer
	Currency          string
	MaxInstallments   int
	BackURLs          BackURLs
	NotificationURL   string
	ExternalReference string
	Metadata          map[string]string
	IdempotencyKey    string
}

// Preference is the checkout descriptor returned by a provider.
type Preference struct {
	ID               string
	Provider         string
	InitPoint        string
	SandboxInitPoint string
}

// Payment is the provider view of a single payment.
type Payment struct {
	ID                string
	Provider          string
	Status            Status
	StatusDetail      string
	ExternalReference string
	CollectorID       string
	Amount            int64
	Currency          string
	Metadata          map[string]string
}

// PaymentQuery selects the payments attached to an order.
type PaymentQuery struct {
	ExternalReference string
	PreferenceID      string
}

// Provider is one payment service adapter. Calls act on behalf of the seller
// whose Credentials are passed in.
type Provider interface {
	CreatePreference(ctx context.Context, req PreferenceRequest) (Preference, error)
	GetPayment(ctx context.Context, creds Credentials, paymentID string) (Payment, error)
	FindPayments(ctx context.Context, creds Credentials, query PaymentQuery) ([]Payment, error)
}
