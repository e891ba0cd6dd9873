package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mercadoparceiro/api/internal/domain"
	"github.com/mercadoparceiro/api/internal/payments"
	"github.com/mercadoparceiro/api/internal/platform/auth"
	"github.com/mercadoparceiro/api/internal/services"
	"github.com/mercadoparceiro/api/internal/validation"
)

const (
	testBuyerID   = "user-buyer"
	testPartnerID = "0b9f7c1e-8f5a-4c61-9d57-1f0c3f1f6a10"
)

func authedRequest(method, target string, body io.Reader, userID string) *http.Request {
	req := httptest.NewRequest(method, target, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UserID: userID}))
	}
	return req
}

func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return bytes.NewReader(data)
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return out
}

type stubOrderService struct {
	createFn func(services.CreateOrderCommand) (domain.Order, error)
	getFn    func(string) (domain.Order, error)
	cancelFn func(string) (domain.Order, error)
	updateFn func(services.UpdateSituationCommand) (domain.Order, error)
	listed   []services.OrderListFilter
}

func (s *stubOrderService) CreateOrder(_ context.Context, cmd services.CreateOrderCommand) (domain.Order, error) {
	return s.createFn(cmd)
}

func (s *stubOrderService) GetOrder(_ context.Context, _ *auth.Identity, orderID string) (domain.Order, error) {
	return s.getFn(orderID)
}

func (s *stubOrderService) ListBuyerOrders(_ context.Context, _ *auth.Identity, filter services.OrderListFilter) (domain.Page[domain.Order], error) {
	s.listed = append(s.listed, filter)
	return domain.Page[domain.Order]{Items: []domain.Order{{ID: "order-1", Situation: domain.SituationPending}}, NextPageToken: "next"}, nil
}

func (s *stubOrderService) ListPartnerOrders(_ context.Context, _ *auth.Identity, _ string, filter services.OrderListFilter) (domain.Page[domain.Order], error) {
	s.listed = append(s.listed, filter)
	return domain.Page[domain.Order]{}, nil
}

func (s *stubOrderService) UpdateSituation(_ context.Context, cmd services.UpdateSituationCommand) (domain.Order, error) {
	return s.updateFn(cmd)
}

func (s *stubOrderService) CancelOrder(_ context.Context, _ *auth.Identity, orderID string) (domain.Order, error) {
	return s.cancelFn(orderID)
}

type stubPreferenceService struct {
	calls int
	err   error
}

func (s *stubPreferenceService) CreatePreference(_ context.Context, _ *auth.Identity, orderID string) (services.Preference, error) {
	s.calls++
	if s.err != nil {
		return services.Preference{}, s.err
	}
	return services.Preference{OrderID: orderID, ID: "pref-1", Provider: payments.ProviderMercadoPago, InitPoint: "https://mp/init"}, nil
}

type stubReconciler struct {
	notes  []services.Notification
	result services.ReconcileResult
	err    error
}

func (s *stubReconciler) HandleNotification(_ context.Context, n services.Notification) (services.ReconcileResult, error) {
	s.notes = append(s.notes, n)
	return s.result, s.err
}

func (s *stubReconciler) ReconcileStale(context.Context) (services.StaleReconcileSummary, error) {
	return services.StaleReconcileSummary{}, nil
}

type stubStripeParser struct {
	event payments.StripeEvent
	err   error
}

func (s stubStripeParser) ParseWebhook([]byte, string) (payments.StripeEvent, error) {
	return s.event, s.err
}

type stubPartnerPayments struct {
	completeErr error
	code, state string
}

func (s *stubPartnerPayments) StartConnect(_ context.Context, _ *auth.Identity, partnerID string) (string, error) {
	return "https://auth.mercadopago.com/authorization?state=abc&partner=" + partnerID, nil
}

func (s *stubPartnerPayments) CompleteConnect(_ context.Context, code, state string) (string, error) {
	s.code, s.state = code, state
	return testPartnerID, s.completeErr
}

func (s *stubPartnerPayments) RefreshExpiring(context.Context, time.Duration) (services.TokenRefreshSummary, error) {
	return services.TokenRefreshSummary{}, nil
}

func (s *stubPartnerPayments) Status(_ context.Context, _ *auth.Identity, partnerID string) (services.PaymentConnectionStatus, error) {
	return services.PaymentConnectionStatus{PartnerID: partnerID, Provider: payments.ProviderMercadoPago, Connected: true}, nil
}

type stubAddressService struct {
	createErr error
	deleted   []string
}

func (s *stubAddressService) List(context.Context, *auth.Identity) ([]domain.Address, error) {
	return []domain.Address{{ID: "addr-1", IsDefault: true}, {ID: "addr-2"}}, nil
}

func (s *stubAddressService) Create(_ context.Context, identity *auth.Identity, input validation.AddressInput) (domain.Address, error) {
	if s.createErr != nil {
		return domain.Address{}, s.createErr
	}
	return domain.Address{ID: "addr-3", UserID: identity.UserID, Street: input.Street}, nil
}

func (s *stubAddressService) Update(_ context.Context, _ *auth.Identity, addressID string, _ validation.AddressInput) (domain.Address, error) {
	return domain.Address{ID: addressID}, nil
}

func (s *stubAddressService) Delete(_ context.Context, _ *auth.Identity, addressID string) error {
	s.deleted = append(s.deleted, addressID)
	return nil
}

func (s *stubAddressService) SetDefault(_ context.Context, _ *auth.Identity, addressID string) (domain.Address, error) {
	return domain.Address{ID: addressID, IsDefault: true}, nil
}

type stubGate struct {
	allowPartner bool
}

func (g stubGate) CanAccessOrder(context.Context, *auth.Identity, string) services.AccessDecision {
	return services.AccessDecision{}
}

func (g stubGate) CanManagePartner(context.Context, *auth.Identity, string) bool { return g.allowPartner }

func (g stubGate) CanManageAddress(context.Context, *auth.Identity, string) bool { return false }

func (g stubGate) CanManageProduct(context.Context, *auth.Identity, string) bool { return false }

func (g stubGate) CanManageService(context.Context, *auth.Identity, string) bool { return false }

func (g stubGate) CanManageContact(context.Context, *auth.Identity, string) bool { return false }

type stubMedia struct {
	calls int
	last  services.UploadImageCommand
}

func (m *stubMedia) UploadImage(_ context.Context, cmd services.UploadImageCommand) (domain.UploadedImage, error) {
	m.calls++
	m.last = cmd
	return domain.UploadedImage{URL: "https://res.cloudinary.com/x.jpg", PublicID: "x"}, nil
}

func (m *stubMedia) DeleteImage(context.Context, string) error { return nil }

type stubSystemService struct {
	report domain.HealthReport
	err    error
}

func (s stubSystemService) HealthReport(context.Context) (domain.HealthReport, error) {
	return s.report, s.err
}
