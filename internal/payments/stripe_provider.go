package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/mercadoparceiro/api/internal/domain"
)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type stripeClients struct {
	sessions stripeSessionAPI
}

// StripeProviderConfig configures the secondary payment route. Clients
// replaces the live API in tests.
type StripeProviderConfig struct {
	APIKey        string
	WebhookSecret string
	Backends      *stripe.Backends
	Logger        Logger
	Clients       *stripeClients
}

// StripeProvider sells through Stripe Checkout on the partner's connected
// account. A checkout session plays the role of a Mercado Pago preference.
type StripeProvider struct {
	api           stripeClients
	webhookSecret string
	logger        Logger
}

var _ Provider = (*StripeProvider)(nil)

func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	p := &StripeProvider{
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		logger:        cfg.Logger,
	}
	switch key := strings.TrimSpace(cfg.APIKey); {
	case cfg.Clients != nil:
		p.api = *cfg.Clients
	case key != "":
		p.api = stripeClients{sessions: client.New(key, cfg.Backends).CheckoutSessions}
	default:
		return nil, errors.New("stripe: api key is required")
	}
	if p.api.sessions == nil {
		return nil, errors.New("stripe: checkout sessions client missing")
	}
	if p.logger == nil {
		p.logger = func(context.Context, string, map[string]any) {}
	}
	return p, nil
}

// CreatePreference opens a Checkout session for the order. The order id rides
// in client_reference_id and metadata so webhooks can find it again.
func (p *StripeProvider) CreatePreference(ctx context.Context, req PreferenceRequest) (Preference, error) {
	account := strings.TrimSpace(req.Credentials.AccountID)
	if account == "" {
		return Preference{}, fmt.Errorf("stripe: %w: partner has no connected account", ErrUnauthorized)
	}
	params, err := checkoutSessionParams(req)
	if err != nil {
		return Preference{}, err
	}
	params.Context = ctx
	params.SetStripeAccount(account)
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}

	session, err := p.api.sessions.New(params)
	if err != nil {
		return Preference{}, fmt.Errorf("stripe: create checkout session: %w", classifyStripeError(err))
	}
	p.logger(ctx, "payments.stripe.session.created", map[string]any{
		"sessionId":         session.ID,
		"externalReference": req.ExternalReference,
		"account":           account,
	})
	return Preference{ID: session.ID, Provider: ProviderStripe, InitPoint: session.URL, SandboxInitPoint: session.URL}, nil
}

func checkoutSessionParams(req PreferenceRequest) (*stripe.CheckoutSessionParams, error) {
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("stripe: %w: session without items", ErrProviderRejected)
	}
	currency := req.Currency
	if strings.TrimSpace(currency) == "" {
		currency = domain.DefaultCurrency
	}
	cancelURL := req.BackURLs.Failure
	if cancelURL == "" {
		cancelURL = req.BackURLs.Pending
	}

	metadata := map[string]string{"external_reference": req.ExternalReference}
	for k, v := range req.Metadata {
		if k != "external_reference" {
			metadata[k] = v
		}
	}
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.BackURLs.Success),
		CancelURL:         stripe.String(cancelURL),
		ClientReferenceID: stripe.String(req.ExternalReference),
		Locale:            stripe.String("pt-BR"),
		Metadata:          metadata,
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{Metadata: metadata},
	}
	if req.Payer.Email != "" {
		params.CustomerEmail = stripe.String(req.Payer.Email)
	}
	for _, item := range req.Items {
		itemCurrency := item.Currency
		if itemCurrency == "" {
			itemCurrency = currency
		}
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(int64(max(item.Quantity, 1))),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(itemCurrency)),
				UnitAmount: stripe.Int64(item.UnitPrice),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name:     stripe.String(item.Title),
					Metadata: map[string]string{"item_id": item.ID},
				},
			},
		})
	}
	return params, nil
}

// GetPayment loads a checkout session by id on the connected account.
func (p *StripeProvider) GetPayment(ctx context.Context, creds Credentials, paymentID string) (Payment, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	if account := strings.TrimSpace(creds.AccountID); account != "" {
		params.SetStripeAccount(account)
	}
	params.AddExpand("payment_intent")
	session, err := p.api.sessions.Get(strings.TrimSpace(paymentID), params)
	if err != nil {
		return Payment{}, fmt.Errorf("stripe: get checkout session %s: %w", paymentID, classifyStripeError(err))
	}
	payment := stripeSessionPayment(session)
	if payment.CollectorID == "" {
		payment.CollectorID = strings.TrimSpace(creds.AccountID)
	}
	return payment, nil
}

// FindPayments resolves the checkout session created for the order.
func (p *StripeProvider) FindPayments(ctx context.Context, creds Credentials, query PaymentQuery) ([]Payment, error) {
	if strings.TrimSpace(query.PreferenceID) == "" {
		return nil, nil
	}
	payment, err := p.GetPayment(ctx, creds, query.PreferenceID)
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return []Payment{payment}, nil
}

func stripeSessionPayment(session *stripe.CheckoutSession) Payment {
	if session == nil {
		return Payment{}
	}
	status := StatusPending
	detail := string(session.PaymentStatus)
	switch {
	case session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		session.PaymentStatus == stripe.CheckoutSessionPaymentStatusNoPaymentRequired:
		status = StatusApproved
	case session.Status == stripe.CheckoutSessionStatusExpired:
		status = StatusCancelled
		detail = "expired"
	}
	if intent := session.PaymentIntent; intent != nil && intent.Status == stripe.PaymentIntentStatusCanceled {
		status = StatusCancelled
		detail = string(intent.Status)
	}
	if charge := latestCharge(session); charge != nil {
		if charge.AmountRefunded >= charge.Amount && charge.Amount > 0 {
			status = StatusRefunded
			detail = "refunded"
		}
		if charge.Disputed {
			status = StatusChargedBack
			detail = "disputed"
		}
	}

	ref := session.ClientReferenceID
	if ref == "" && session.Metadata != nil {
		ref = session.Metadata["external_reference"]
	}

	return Payment{
		ID:                session.ID,
		Provider:          ProviderStripe,
		Status:            status,
		StatusDetail:      detail,
		ExternalReference: ref,
		Amount:            session.AmountTotal,
		Currency:          strings.ToUpper(string(session.Currency)),
		Metadata:          session.Metadata,
	}
}

func latestCharge(session *stripe.CheckoutSession) *stripe.Charge {
	if session.PaymentIntent == nil {
		return nil
	}
	return session.PaymentIntent.LatestCharge
}

// StripeEvent is the part of a Stripe webhook the reconciler needs.
type StripeEvent struct {
	ID        string
	Type      string
	Account   string
	SessionID string
	OrderID   string
}

// ErrInvalidStripeSignature is returned for payloads failing verification.
var ErrInvalidStripeSignature = errors.New("stripe: invalid webhook signature")

// ParseWebhook verifies the Stripe-Signature header and extracts the checkout
// session carried by checkout.session.* events. Other event types come back
// with an empty SessionID.
func (p *StripeProvider) ParseWebhook(payload []byte, signature string) (StripeEvent, error) {
	if p == nil || p.webhookSecret == "" {
		return StripeEvent{}, fmt.Errorf("%w: webhook secret not configured", ErrInvalidStripeSignature)
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return StripeEvent{}, fmt.Errorf("%w: %v", ErrInvalidStripeSignature, err)
	}
	out := StripeEvent{ID: event.ID, Type: string(event.Type), Account: event.Account}
	if !strings.HasPrefix(out.Type, "checkout.session.") || event.Data == nil {
		return out, nil
	}
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return StripeEvent{}, fmt.Errorf("stripe: decode checkout session: %w", err)
	}
	out.SessionID = session.ID
	out.OrderID = session.ClientReferenceID
	return out, nil
}

func classifyStripeError(err error) error {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	switch {
	case stripeErr.HTTPStatusCode == 404:
		return fmt.Errorf("%w: %s", ErrPaymentNotFound, stripeErr.Msg)
	case stripeErr.HTTPStatusCode == 401 || stripeErr.HTTPStatusCode == 403:
		return fmt.Errorf("%w: %s", ErrUnauthorized, stripeErr.Msg)
	case stripeErr.HTTPStatusCode == 429 || stripeErr.HTTPStatusCode >= 500:
		return fmt.Errorf("%w: %s", ErrProviderUnavailable, stripeErr.Msg)
	default:
		return fmt.Errorf("%w: %s", ErrProviderRejected, stripeErr.Msg)
	}
}
