package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mercadoparceiro/api/internal/domain"
	"github.com/mercadoparceiro/api/internal/payments"
)

// PaymentGateway is the provider-routing surface services need. Implemented
// by payments.Manager.
type PaymentGateway interface {
	CreatePreference(ctx context.Context, paymentCtx payments.PaymentContext, req payments.PreferenceRequest) (payments.Preference, error)
	GetPayment(ctx context.Context, provider string, creds payments.Credentials, paymentID string) (payments.Payment, error)
	FindPayments(ctx context.Context, provider string, creds payments.Credentials, query payments.PaymentQuery) ([]payments.Payment, error)
}

var _ PaymentGateway = (*payments.Manager)(nil)

// sellerCredentials turns a stored partner config into provider credentials.
func sellerCredentials(cfg domain.PartnerPaymentConfig) payments.Credentials {
	return payments.Credentials{
		AccessToken: cfg.AccessToken,
		AccountID:   cfg.ProviderUserID,
	}
}

// providerFor picks the provider an order was (or will be) paid through.
func providerFor(order domain.Order, cfg domain.PartnerPaymentConfig) string {
	if provider := strings.ToLower(strings.TrimSpace(order.PaymentProvider)); provider != "" {
		return provider
	}
	if provider := strings.ToLower(strings.TrimSpace(cfg.Provider)); provider != "" {
		return provider
	}
	return payments.ProviderMercadoPago
}

// situationForStatus maps a provider status onto the order lifecycle.
// Statuses that are not final leave the order pending.
func situationForStatus(status payments.Status) domain.Situation {
	switch status {
	case payments.StatusApproved:
		return domain.SituationPaid
	case payments.StatusRejected, payments.StatusCancelled, payments.StatusRefunded, payments.StatusChargedBack:
		return domain.SituationCancelled
	default:
		return domain.SituationPending
	}
}

func statusDetail(payment payments.Payment) string {
	detail := string(payment.Status)
	if payment.StatusDetail != "" {
		detail += ":" + payment.StatusDetail
	}
	return detail
}

// providerError keeps the payments sentinel reachable behind ErrPaymentProvider.
func providerError(op string, err error) error {
	if errors.Is(err, payments.ErrUnsupportedProvider) {
		return fmt.Errorf("%w: %s: %w", ErrPaymentNotConfigured, op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrPaymentProvider, op, err)
}
