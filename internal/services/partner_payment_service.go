package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/mercadoparceiro/api/internal/domain"
	"github.com/mercadoparceiro/api/internal/payments"
	"github.com/mercadoparceiro/api/internal/platform/auth"
	"github.com/mercadoparceiro/api/internal/repositories"
)

const refreshBatchSize = 100

// OAuthClient is implemented by payments.MercadoPagoClient.
type OAuthClient interface {
	AuthorizationURL(state string) string
	ExchangeCode(ctx context.Context, code string) (payments.OAuthToken, error)
	RefreshToken(ctx context.Context, refreshToken string) (payments.OAuthToken, error)
}

// OAuthStateStore binds single-use state tokens to partners. Implemented by redisx.StateStore.
type OAuthStateStore interface {
	Save(ctx context.Context, state, partnerID string) error
	Consume(ctx context.Context, state string) (string, bool, error)
}

type PartnerPaymentServiceDeps struct {
	PaymentConfigs repositories.PaymentConfigRepository
	Gate           AccessGate
	OAuth          OAuthClient
	States         OAuthStateStore
	StateGenerator func() string
	Clock          func() time.Time
	Logger         func(ctx context.Context, event string, fields map[string]any)
}

type partnerPaymentService struct {
	configs  repositories.PaymentConfigRepository
	gate     AccessGate
	oauth    OAuthClient
	states   OAuthStateStore
	newState func() string
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)
}

var _ PartnerPaymentService = (*partnerPaymentService)(nil)

func NewPartnerPaymentService(deps PartnerPaymentServiceDeps) (PartnerPaymentService, error) {
	if deps.PaymentConfigs == nil {
		return nil, errors.New("partner payments: payment config repository is required")
	}
	if deps.Gate == nil {
		return nil, errors.New("partner payments: access gate is required")
	}
	newState := deps.StateGenerator
	if newState == nil {
		newState = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &partnerPaymentService{
		configs:  deps.PaymentConfigs,
		gate:     deps.Gate,
		oauth:    deps.OAuth,
		states:   deps.States,
		newState: newState,
		clock:    utcClock(deps.Clock),
		logger:   logger,
	}, nil
}

// StartConnect returns the provider authorization URL carrying a fresh state
// bound to the partner.
func (s *partnerPaymentService) StartConnect(ctx context.Context, identity *auth.Identity, partnerID string) (string, error) {
	if _, ok := callerID(identity); !ok {
		return "", ErrCallerUnauthenticated
	}
	if !s.gate.CanManagePartner(ctx, identity, partnerID) {
		return "", ErrPartnerForbidden
	}
	if s.oauth == nil || s.states == nil {
		return "", ErrOAuthNotConfigured
	}
	state := s.newState()
	if err := s.states.Save(ctx, state, partnerID); err != nil {
		return "", fmt.Errorf("%w: store state: %w", ErrOAuthNotConfigured, err)
	}
	s.logger(ctx, "payments.connect.started", map[string]any{"partnerId": partnerID})
	return s.oauth.AuthorizationURL(state), nil
}

// CompleteConnect consumes the state and stores the seller credentials. The
// returned partner id is empty whenever the error is non-nil.
func (s *partnerPaymentService) CompleteConnect(ctx context.Context, code, state string) (string, error) {
	code = strings.TrimSpace(code)
	state = strings.TrimSpace(state)
	if code == "" {
		return "", ErrOAuthMissingCode
	}
	if state == "" {
		return "", ErrOAuthInvalidState
	}
	if s.oauth == nil || s.states == nil {
		return "", ErrOAuthNotConfigured
	}
	partnerID, ok, err := s.states.Consume(ctx, state)
	if err != nil {
		s.logger(ctx, "payments.connect.state.failed", map[string]any{"error": err.Error()})
		return "", ErrOAuthInvalidState
	}
	if !ok || partnerID == "" {
		return "", ErrOAuthInvalidState
	}

	token, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		s.logger(ctx, "payments.connect.exchange.failed", map[string]any{"partnerId": partnerID, "error": err.Error()})
		return "", fmt.Errorf("%w: %w", ErrOAuthExchange, err)
	}
	now := s.clock()
	cfg := domain.PartnerPaymentConfig{
		PartnerID:      partnerID,
		Provider:       payments.ProviderMercadoPago,
		AccessToken:    token.AccessToken,
		RefreshToken:   token.RefreshToken,
		PublicKey:      token.PublicKey,
		ProviderUserID: token.UserID,
		LiveMode:       token.LiveMode,
		ExpiresAt:      token.ExpiresAt,
		ConnectedAt:    now,
		UpdatedAt:      now,
	}
	if err := s.configs.Upsert(ctx, cfg); err != nil {
		s.logger(ctx, "payments.connect.save.failed", map[string]any{"partnerId": partnerID, "error": err.Error()})
		return "", fmt.Errorf("%w: %w", ErrOAuthSave, err)
	}
	s.logger(ctx, "payments.connect.completed", map[string]any{
		"partnerId": partnerID,
		"liveMode":  token.LiveMode,
	})
	return partnerID, nil
}

// RefreshExpiring renews credentials expiring within the window. Individual
// failures are counted and logged; the batch continues.
func (s *partnerPaymentService) RefreshExpiring(ctx context.Context, within time.Duration) (TokenRefreshSummary, error) {
	var summary TokenRefreshSummary
	if s.oauth == nil {
		return summary, nil
	}
	now := s.clock()
	expiring, err := s.configs.ListExpiring(ctx, now.Add(within), refreshBatchSize)
	if err != nil {
		return summary, fmt.Errorf("partner payments: list expiring: %w", err)
	}
	for _, cfg := range expiring {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		summary.Checked++
		token, err := s.oauth.RefreshToken(ctx, cfg.RefreshToken)
		if err != nil {
			summary.Failed++
			s.logger(ctx, "payments.token.refresh.failed", map[string]any{"partnerId": cfg.PartnerID, "error": err.Error()})
			continue
		}
		cfg.AccessToken = token.AccessToken
		if token.RefreshToken != "" {
			cfg.RefreshToken = token.RefreshToken
		}
		if token.PublicKey != "" {
			cfg.PublicKey = token.PublicKey
		}
		cfg.LiveMode = token.LiveMode
		cfg.ExpiresAt = token.ExpiresAt
		cfg.UpdatedAt = s.clock()
		if err := s.configs.Upsert(ctx, cfg); err != nil {
			summary.Failed++
			s.logger(ctx, "payments.token.save.failed", map[string]any{"partnerId": cfg.PartnerID, "error": err.Error()})
			continue
		}
		summary.Refreshed++
	}
	s.logger(ctx, "payments.token.refresh.completed", map[string]any{
		"checked":   summary.Checked,
		"refreshed": summary.Refreshed,
		"failed":    summary.Failed,
	})
	return summary, nil
}

func (s *partnerPaymentService) Status(ctx context.Context, identity *auth.Identity, partnerID string) (PaymentConnectionStatus, error) {
	if _, ok := callerID(identity); !ok {
		return PaymentConnectionStatus{}, ErrCallerUnauthenticated
	}
	if !s.gate.CanManagePartner(ctx, identity, partnerID) {
		return PaymentConnectionStatus{}, ErrPartnerForbidden
	}
	status := PaymentConnectionStatus{PartnerID: partnerID, Provider: payments.ProviderMercadoPago}
	cfg, err := s.configs.Get(ctx, partnerID)
	if err != nil {
		if isRepoNotFound(err) {
			return status, nil
		}
		return PaymentConnectionStatus{}, fmt.Errorf("partner payments: load config: %w", err)
	}
	connectedAt := cfg.ConnectedAt
	if cfg.Provider != "" {
		status.Provider = cfg.Provider
	}
	status.Connected = cfg.Configured()
	status.LiveMode = cfg.LiveMode
	status.PublicKey = cfg.PublicKey
	status.ExpiresAt = cfg.ExpiresAt
	status.ConnectedAt = &connectedAt
	return status, nil
}
