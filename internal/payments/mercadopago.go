package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/mercadoparceiro/api/internal/domain"
	"github.com/mercadoparceiro/api/internal/platform/observability"
	"github.com/mercadoparceiro/api/internal/platform/textutil"
)

const (
	defaultMercadoPagoBaseURL = "https://api.mercadopago.com"
	defaultMercadoPagoAuthURL = "https://auth.mercadopago.com.br/authorization"
	defaultMercadoPagoTimeout = 15 * time.Second
	maxInstallments           = 12
	maxErrorBody              = 4 << 10
)

// Logger receives structured provider events.
type Logger func(ctx context.Context, event string, fields map[string]any)

// MercadoPagoConfig configures the Mercado Pago client.
type MercadoPagoConfig struct {
	BaseURL             string
	AuthURL             string
	ClientID            string
	ClientSecret        string
	RedirectURL         string
	PlatformAccessToken string
	HTTPClient          *http.Client
	Logger              Logger
	Clock               func() time.Time
}

// MercadoPagoClient talks to the Checkout Pro, payments and OAuth endpoints.
type MercadoPagoClient struct {
	baseURL       string
	authURL       string
	clientID      string
	clientSecret  string
	redirectURL   string
	platformToken string
	http          *http.Client
	logger        Logger
	clock         func() time.Time
}

var _ Provider = (*MercadoPagoClient)(nil)

// NewMercadoPagoClient builds a client; zero values fall back to the public endpoints.
func NewMercadoPagoClient(cfg MercadoPagoConfig) *MercadoPagoClient {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultMercadoPagoBaseURL
	}
	authURL := strings.TrimSpace(cfg.AuthURL)
	if authURL == "" {
		authURL = defaultMercadoPagoAuthURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultMercadoPagoTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &MercadoPagoClient{
		baseURL:       baseURL,
		authURL:       authURL,
		clientID:      strings.TrimSpace(cfg.ClientID),
		clientSecret:  strings.TrimSpace(cfg.ClientSecret),
		redirectURL:   strings.TrimSpace(cfg.RedirectURL),
		platformToken: strings.TrimSpace(cfg.PlatformAccessToken),
		http:          httpClient,
		logger:        logger,
		clock: func() time.Time {
			return clock().UTC()
		},
	}
}

type mpItem struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	CurrencyID string  `json:"currency_id"`
}

type mpPayer struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

type mpPaymentMethods struct {
	Installments int `json:"installments"`
}

type mpBackURLs struct {
	Success string `json:"success,omitempty"`
	Failure string `json:"failure,omitempty"`
	Pending string `json:"pending,omitempty"`
}

type mpPreferenceRequest struct {
	Items             []mpItem          `json:"items"`
	Payer             *mpPayer          `json:"payer,omitempty"`
	PaymentMethods    mpPaymentMethods  `json:"payment_methods"`
	BackURLs          mpBackURLs        `json:"back_urls"`
	AutoReturn        string            `json:"auto_return,omitempty"`
	NotificationURL   string            `json:"notification_url,omitempty"`
	ExternalReference string            `json:"external_reference"`
	MarketplaceFee    float64           `json:"marketplace_fee"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

type mpPreferenceResponse struct {
	ID               string `json:"id"`
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point"`
}

type mpPayment struct {
	ID                json.Number    `json:"id"`
	Status            string         `json:"status"`
	StatusDetail      string         `json:"status_detail"`
	ExternalReference string         `json:"external_reference"`
	CollectorID       json.Number    `json:"collector_id"`
	TransactionAmount float64        `json:"transaction_amount"`
	CurrencyID        string         `json:"currency_id"`
	Metadata          map[string]any `json:"metadata"`
	Collector         *struct {
		ID json.Number `json:"id"`
	} `json:"collector"`
}

type mpSearchResponse struct {
	Results []mpPayment `json:"results"`
}

type mpError struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// CreatePreference mints a Checkout Pro preference with the seller's token.
func (c *MercadoPagoClient) CreatePreference(ctx context.Context, req PreferenceRequest) (Preference, error) {
	if len(req.Items) == 0 {
		return Preference{}, fmt.Errorf("%w: preference without items", ErrProviderRejected)
	}
	installments := req.MaxInstallments
	if installments <= 0 || installments > maxInstallments {
		installments = maxInstallments
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = domain.DefaultCurrency
	}
	body := mpPreferenceRequest{
		Items:             make([]mpItem, 0, len(req.Items)),
		PaymentMethods:    mpPaymentMethods{Installments: installments},
		BackURLs:          mpBackURLs{Success: req.BackURLs.Success, Failure: req.BackURLs.Failure, Pending: req.BackURLs.Pending},
		NotificationURL:   req.NotificationURL,
		ExternalReference: req.ExternalReference,
		Metadata:          req.Metadata,
	}
	if req.BackURLs.Success != "" {
		body.AutoReturn = "approved"
	}
	if req.Payer.Name != "" || req.Payer.Email != "" {
		body.Payer = &mpPayer{Name: req.Payer.Name, Email: req.Payer.Email}
	}
	for _, item := range req.Items {
		itemCurrency := strings.ToUpper(strings.TrimSpace(item.Currency))
		if itemCurrency == "" {
			itemCurrency = currency
		}
		body.Items = append(body.Items, mpItem{
			ID:         item.ID,
			Title:      textutil.Truncate(item.Title, 256),
			Quantity:   item.Quantity,
			UnitPrice:  domain.CentsToDecimal(item.UnitPrice),
			CurrencyID: itemCurrency,
		})
	}

	ctx, end := observability.StartSpan(ctx, "mercadopago.preference.create",
		attribute.String("payment.provider", ProviderMercadoPago),
		attribute.String("payment.external_reference", req.ExternalReference))
	var resp mpPreferenceResponse
	err := c.do(ctx, http.MethodPost, "/checkout/preferences", c.token(req.Credentials), req.IdempotencyKey, body, &resp)
	end(err)
	if err != nil {
		return Preference{}, fmt.Errorf("mercadopago: create preference: %w", err)
	}
	if resp.ID == "" {
		return Preference{}, fmt.Errorf("mercadopago: create preference: %w: empty id", ErrProviderRejected)
	}
	c.logger(ctx, "payments.mercadopago.preference.created", map[string]any{
		"preferenceId":      resp.ID,
		"externalReference": req.ExternalReference,
		"items":             len(req.Items),
	})
	return Preference{
		ID:               resp.ID,
		Provider:         ProviderMercadoPago,
		InitPoint:        resp.InitPoint,
		SandboxInitPoint: resp.SandboxInitPoint,
	}, nil
}

// GetPayment loads one payment. Empty credentials fall back to the platform token.
func (c *MercadoPagoClient) GetPayment(ctx context.Context, creds Credentials, paymentID string) (Payment, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return Payment{}, fmt.Errorf("%w: empty payment id", ErrPaymentNotFound)
	}
	ctx, end := observability.StartSpan(ctx, "mercadopago.payment.get",
		attribute.String("payment.provider", ProviderMercadoPago),
		attribute.String("payment.id", paymentID))
	var resp mpPayment
	err := c.do(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(paymentID), c.token(creds), "", nil, &resp)
	end(err)
	if err != nil {
		return Payment{}, fmt.Errorf("mercadopago: get payment %s: %w", paymentID, err)
	}
	return resp.toPayment(), nil
}

// FindPayments searches payments by external reference, newest first.
func (c *MercadoPagoClient) FindPayments(ctx context.Context, creds Credentials, query PaymentQuery) ([]Payment, error) {
	ref := strings.TrimSpace(query.ExternalReference)
	if ref == "" {
		return nil, nil
	}
	params := url.Values{}
	params.Set("external_reference", ref)
	params.Set("sort", "date_created")
	params.Set("criteria", "desc")
	params.Set("limit", "10")

	ctx, end := observability.StartSpan(ctx, "mercadopago.payment.search",
		attribute.String("payment.provider", ProviderMercadoPago),
		attribute.String("payment.external_reference", ref))
	var resp mpSearchResponse
	err := c.do(ctx, http.MethodGet, "/v1/payments/search?"+params.Encode(), c.token(creds), "", nil, &resp)
	end(err)
	if err != nil {
		return nil, fmt.Errorf("mercadopago: search payments: %w", err)
	}
	out := make([]Payment, 0, len(resp.Results))
	for _, p := range resp.Results {
		out = append(out, p.toPayment())
	}
	return out, nil
}

func (p mpPayment) toPayment() Payment {
	collector := p.CollectorID.String()
	if collector == "" && p.Collector != nil {
		collector = p.Collector.ID.String()
	}
	var metadata map[string]string
	if len(p.Metadata) > 0 {
		metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			metadata[k] = fmt.Sprint(v)
		}
	}
	return Payment{
		ID:                p.ID.String(),
		Provider:          ProviderMercadoPago,
		Status:            Status(strings.ToLower(strings.TrimSpace(p.Status))),
		StatusDetail:      p.StatusDetail,
		ExternalReference: p.ExternalReference,
		CollectorID:       collector,
		Amount:            domain.DecimalToCents(p.TransactionAmount),
		Currency:          strings.ToUpper(p.CurrencyID),
		Metadata:          metadata,
	}
}

// OAuthToken is the credential set returned by the OAuth token endpoint.
type OAuthToken struct {
	AccessToken  string
	RefreshToken string
	PublicKey    string
	UserID       string
	LiveMode     bool
	ExpiresAt    *time.Time
}

type mpTokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	GrantType    string `json:"grant_type"`
	Code         string `json:"code,omitempty"`
	RedirectURI  string `json:"redirect_uri,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

type mpTokenResponse struct {
	AccessToken  string      `json:"access_token"`
	TokenType    string      `json:"token_type"`
	ExpiresIn    int64       `json:"expires_in"`
	Scope        string      `json:"scope"`
	UserID       json.Number `json:"user_id"`
	RefreshToken string      `json:"refresh_token"`
	PublicKey    string      `json:"public_key"`
	LiveMode     bool        `json:"live_mode"`
}

// AuthorizationURL is where a seller is sent to grant access to the platform.
func (c *MercadoPagoClient) AuthorizationURL(state string) string {
	params := url.Values{}
	params.Set("client_id", c.clientID)
	params.Set("response_type", "code")
	params.Set("platform_id", "mp")
	params.Set("state", state)
	if c.redirectURL != "" {
		params.Set("redirect_uri", c.redirectURL)
	}
	sep := "?"
	if strings.Contains(c.authURL, "?") {
		sep = "&"
	}
	return c.authURL + sep + params.Encode()
}

// ExchangeCode trades an authorization code for seller credentials.
func (c *MercadoPagoClient) ExchangeCode(ctx context.Context, code string) (OAuthToken, error) {
	return c.requestToken(ctx, "mercadopago.oauth.exchange", mpTokenRequest{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		GrantType:    "authorization_code",
		Code:         strings.TrimSpace(code),
		RedirectURI:  c.redirectURL,
	})
}

// RefreshToken renews seller credentials before they expire.
func (c *MercadoPagoClient) RefreshToken(ctx context.Context, refreshToken string) (OAuthToken, error) {
	return c.requestToken(ctx, "mercadopago.oauth.refresh", mpTokenRequest{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		GrantType:    "refresh_token",
		RefreshToken: strings.TrimSpace(refreshToken),
	})
}

func (c *MercadoPagoClient) requestToken(ctx context.Context, span string, body mpTokenRequest) (OAuthToken, error) {
	if c.clientID == "" || c.clientSecret == "" {
		return OAuthToken{}, fmt.Errorf("mercadopago: oauth: %w: client credentials not configured", ErrUnauthorized)
	}
	ctx, end := observability.StartSpan(ctx, span, attribute.String("payment.provider", ProviderMercadoPago))
	var resp mpTokenResponse
	err := c.do(ctx, http.MethodPost, "/oauth/token", "", "", body, &resp)
	end(err)
	if err != nil {
		return OAuthToken{}, fmt.Errorf("mercadopago: oauth %s: %w", body.GrantType, err)
	}
	if resp.AccessToken == "" {
		return OAuthToken{}, fmt.Errorf("mercadopago: oauth %s: %w: empty access token", body.GrantType, ErrProviderRejected)
	}
	token := OAuthToken{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		PublicKey:    resp.PublicKey,
		UserID:       resp.UserID.String(),
		LiveMode:     resp.LiveMode,
	}
	if resp.ExpiresIn > 0 {
		expires := c.clock().Add(time.Duration(resp.ExpiresIn) * time.Second)
		token.ExpiresAt = &expires
	}
	return token, nil
}

func (c *MercadoPagoClient) token(creds Credentials) string {
	if token := strings.TrimSpace(creds.AccessToken); token != "" {
		return token
	}
	return c.platformToken
}

func (c *MercadoPagoClient) do(ctx context.Context, method, path, token, idempotencyKey string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	} else if path != "/oauth/token" {
		return fmt.Errorf("%w: missing access token", ErrUnauthorized)
	}
	if idempotencyKey != "" {
		req.Header.Set("X-Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %v", ErrProviderUnavailable, ctxErr)
		}
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		var apiErr mpError
		_ = json.Unmarshal(raw, &apiErr)
		detail := strings.TrimSpace(apiErr.Message)
		if detail == "" {
			detail = apiErr.Error
		}
		return fmt.Errorf("%w: status %d %s", classifyStatus(resp.StatusCode), resp.StatusCode, textutil.Truncate(detail, 200))
	}
	if out == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrProviderUnavailable, err)
	}
	return nil
}

func classifyStatus(status int) error {
	switch {
	case status == http.StatusNotFound:
		return ErrPaymentNotFound
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrUnauthorized
	case status == http.StatusTooManyRequests || status >= 500:
		return ErrProviderUnavailable
	default:
		return ErrProviderRejected
	}
}

// IsRetryable reports whether err is worth retrying later.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrProviderUnavailable)
}
