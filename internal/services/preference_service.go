package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mercadoparceiro/api/internal/domain"
	"github.com/mercadoparceiro/api/internal/payments"
	"github.com/mercadoparceiro/api/internal/platform/auth"
	"github.com/mercadoparceiro/api/internal/repositories"
)

const defaultMaxInstallments = 12

// PreferenceServiceDeps bundles collaborators for the checkout bridge.
type PreferenceServiceDeps struct {
	Orders          repositories.OrderRepository
	PaymentConfigs  repositories.PaymentConfigRepository
	Users           repositories.UserRepository
	Gate            AccessGate
	Payments        PaymentGateway
	NotificationURL string
	ReturnURL       string
	MaxInstallments int
	Clock           func() time.Time
	Logger          func(ctx context.Context, event string, fields map[string]any)
}

type preferenceService struct {
	orders          repositories.OrderRepository
	configs         repositories.PaymentConfigRepository
	users           repositories.UserRepository
	gate            AccessGate
	payments        PaymentGateway
	notificationURL string
	returnURL       string
	maxInstallments int
	clock           func() time.Time
	logger          func(context.Context, string, map[string]any)
}

var _ PreferenceService = (*preferenceService)(nil)

// NewPreferenceService wires the preference bridge.
func NewPreferenceService(deps PreferenceServiceDeps) (PreferenceService, error) {
	switch {
	case deps.Orders == nil:
		return nil, errors.New("preference service: order repository is required")
	case deps.PaymentConfigs == nil:
		return nil, errors.New("preference service: payment config repository is required")
	case deps.Gate == nil:
		return nil, errors.New("preference service: access gate is required")
	case deps.Payments == nil:
		return nil, errors.New("preference service: payment gateway is required")
	}
	installments := deps.MaxInstallments
	if installments <= 0 || installments > defaultMaxInstallments {
		installments = defaultMaxInstallments
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &preferenceService{
		orders:          deps.Orders,
		configs:         deps.PaymentConfigs,
		users:           deps.Users,
		gate:            deps.Gate,
		payments:        deps.Payments,
		notificationURL: strings.TrimSpace(deps.NotificationURL),
		returnURL:       strings.TrimRight(strings.TrimSpace(deps.ReturnURL), "/"),
		maxInstallments: installments,
		clock:           utcClock(deps.Clock),
		logger:          logger,
	}, nil
}

// CreatePreference mints a provider checkout for a pending order. Only one
// preference is ever stored per order; later calls get ErrPreferenceExists.
func (s *preferenceService) CreatePreference(ctx context.Context, identity *auth.Identity, orderID string) (Preference, error) {
	if _, ok := callerID(identity); !ok {
		return Preference{}, ErrCallerUnauthenticated
	}
	if decision := s.gate.CanAccessOrder(ctx, identity, orderID); !decision.Allowed {
		return Preference{}, ErrOrderForbidden
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if isRepoNotFound(err) {
			return Preference{}, ErrOrderNotFound
		}
		return Preference{}, fmt.Errorf("preference service: load order: %w", err)
	}
	if order.Situation != domain.SituationPending {
		return Preference{}, ErrOrderNotPending
	}
	if order.PreferenceID != nil && *order.PreferenceID != "" {
		return Preference{}, ErrPreferenceExists
	}
	if len(order.Items) == 0 {
		return Preference{}, fmt.Errorf("%w: order has no items", ErrOrderInvalidInput)
	}
	if itemsTotal := order.ItemsTotal(); !domain.AmountsMatch(itemsTotal, order.TotalAmount) {
		return Preference{}, fmt.Errorf("%w: items %d, order %d", ErrAmountMismatch, itemsTotal, order.TotalAmount)
	}

	cfg, err := s.configs.Get(ctx, order.PartnerID)
	if err != nil && !isRepoNotFound(err) {
		return Preference{}, fmt.Errorf("preference service: load payment config: %w", err)
	}
	if err != nil || !cfg.Configured() {
		return Preference{}, ErrPaymentNotConfigured
	}

	req := s.buildRequest(ctx, order, cfg)
	provider := providerFor(order, cfg)
	pref, err := s.payments.CreatePreference(ctx, payments.PaymentContext{
		PreferredProvider: provider,
		Currency:          order.Currency,
	}, req)
	if err != nil {
		s.logger(ctx, "preference.create.failed", map[string]any{
			"orderId":  order.ID,
			"provider": provider,
			"error":    err.Error(),
		})
		return Preference{}, providerError("create preference", err)
	}

	stored, err := s.orders.SetPreference(ctx, order.ID, pref.ID, order.ID, s.clock())
	if err != nil {
		return Preference{}, fmt.Errorf("preference service: store preference: %w", err)
	}
	if !stored {
		s.logger(ctx, "preference.store.rejected", map[string]any{
			"orderId":      order.ID,
			"preferenceId": pref.ID,
		})
		return Preference{}, ErrPreferenceExists
	}

	s.logger(ctx, "preference.created", map[string]any{
		"orderId":      order.ID,
		"preferenceId": pref.ID,
		"provider":     pref.Provider,
		"environment":  req.Metadata["environment"],
	})
	return Preference{
		OrderID:          order.ID,
		ID:               pref.ID,
		Provider:         pref.Provider,
		InitPoint:        pref.InitPoint,
		SandboxInitPoint: pref.SandboxInitPoint,
	}, nil
}

func (s *preferenceService) buildRequest(ctx context.Context, order domain.Order, cfg domain.PartnerPaymentConfig) payments.PreferenceRequest {
	items := make([]payments.LineItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, payments.LineItem{
			ID:        item.Item.ID,
			Title:     item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Currency:  order.Currency,
		})
	}
	return payments.PreferenceRequest{
		Credentials:     sellerCredentials(cfg),
		Items:           items,
		Payer:           s.payer(ctx, order.BuyerID),
		Currency:        order.Currency,
		MaxInstallments: s.maxInstallments,
		BackURLs: payments.BackURLs{
			Success: s.backURL("success", order.ID),
			Failure: s.backURL("failure", order.ID),
			Pending: s.backURL("pending", order.ID),
		},
		NotificationURL:   withOrderID(s.notificationURL, order.ID),
		ExternalReference: order.ID,
		Metadata: map[string]string{
			"order_id":     order.ID,
			"order_number": order.Number,
			"partner_id":   order.PartnerID,
			"buyer_id":     order.BuyerID,
			"environment":  payments.EnvironmentFromToken(cfg.AccessToken),
		},
		IdempotencyKey: "preference-" + order.ID,
	}
}

// payer falls back to an anonymous payer; the provider then asks the buyer.
func (s *preferenceService) payer(ctx context.Context, buyerID string) payments.Payer {
	if s.users == nil {
		return payments.Payer{}
	}
	profile, err := s.users.FindProfile(ctx, buyerID)
	if err != nil {
		s.logger(ctx, "preference.payer.skipped", map[string]any{"buyerId": buyerID, "error": err.Error()})
		return payments.Payer{}
	}
	return payments.Payer{Name: profile.Name, Email: profile.Email, Phone: profile.Phone}
}

func (s *preferenceService) backURL(outcome, orderID string) string {
	if s.returnURL == "" {
		return ""
	}
	return withOrderID(s.returnURL+"/checkout/"+outcome, orderID)
}

func withOrderID(raw, orderID string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set("order_id", orderID)
	u.RawQuery = q.Encode()
	return u.String()
}
