package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mercadoparceiro/api/internal/domain"
	"github.com/mercadoparceiro/api/internal/platform/auth"
	"github.com/mercadoparceiro/api/internal/platform/httpx"
	"github.com/mercadoparceiro/api/internal/services"
)

var orderSituationFilter = map[string][]string{
	"situation": {string(domain.SituationPending), string(domain.SituationPaid), string(domain.SituationCancelled)},
}

// OrderHandlers exposes checkout and order management endpoints.
type OrderHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderService
	preferences services.PreferenceService
	idempotency func(http.Handler) http.Handler
}

// OrderHandlersOption customises OrderHandlers.
type OrderHandlersOption func(*OrderHandlers)

// WithPreferenceService enables POST /orders/{orderID}/preference.
func WithPreferenceService(svc services.PreferenceService) OrderHandlersOption {
	return func(h *OrderHandlers) { h.preferences = svc }
}

// WithPreferenceIdempotency wraps the preference route, typically with
// idempotency.Middleware.
func WithPreferenceIdempotency(mw func(http.Handler) http.Handler) OrderHandlersOption {
	return func(h *OrderHandlers) { h.idempotency = mw }
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...OrderHandlersOption) *OrderHandlers {
	h := &OrderHandlers{authn: authn, orders: orders}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers order endpoints for buyers and sellers.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(r chi.Router) {
		if h.authn != nil {
			r.Use(h.authn.RequireAuth())
		}
		r.Post("/orders", h.createOrder)
		r.Get("/orders/{orderID}", h.getOrder)
		r.Post("/orders/{orderID}:cancel", h.cancelOrder)
		if h.idempotency != nil {
			r.With(h.idempotency).Post("/orders/{orderID}/preference", h.createPreference)
		} else {
			r.Post("/orders/{orderID}/preference", h.createPreference)
		}
		r.Get("/me/orders", h.listBuyerOrders)
		r.Get("/partners/{partnerID}/orders", h.listPartnerOrders)
		r.Put("/partners/{partnerID}/orders/{orderID}/situation", h.updateSituation)
	})
}

type createOrderRequest struct {
	PartnerID         string             `json:"partner_id"`
	ItemKind          string             `json:"item_kind"`
	ItemID            string             `json:"item_id"`
	Quantity          int                `json:"quantity"`
	TotalAmount       int64              `json:"total_amount"`
	DeliveryType      string             `json:"delivery_type"`
	DeliveryAddressID string             `json:"delivery_address_id"`
	PaymentMethod     string             `json:"payment_method"`
	PaymentProvider   string             `json:"payment_provider"`
	Notes             string             `json:"notes"`
	AdditionalItems   []orderLineRequest `json:"additional_items"`
}

type orderLineRequest struct {
	ItemKind string `json:"item_kind"`
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

type updateSituationRequest struct {
	Situation string `json:"situation"`
	Reason    string `json:"reason"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order_service")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req createOrderRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	cmd := services.CreateOrderCommand{
		BuyerID:           identity.UserID,
		PartnerID:         req.PartnerID,
		Item:              domain.ItemRef{Kind: domain.ItemKind(req.ItemKind), ID: req.ItemID},
		Quantity:          req.Quantity,
		TotalAmount:       req.TotalAmount,
		DeliveryType:      domain.DeliveryType(req.DeliveryType),
		DeliveryAddressID: req.DeliveryAddressID,
		PaymentMethod:     req.PaymentMethod,
		PaymentProvider:   req.PaymentProvider,
		Notes:             req.Notes,
	}
	for _, line := range req.AdditionalItems {
		cmd.AdditionalItems = append(cmd.AdditionalItems, services.OrderLineCommand{
			Item:     domain.ItemRef{Kind: domain.ItemKind(line.ItemKind), ID: line.ItemID},
			Quantity: line.Quantity,
		})
	}

	order, err := h.orders.CreateOrder(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/orders/"+order.ID)
	writeJSONResponse(w, http.StatusCreated, orderResponse{Success: true, Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order_service")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	orderID, ok := pathParam(w, r, "orderID")
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(ctx, identity, orderID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Success: true, Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order_service")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	orderID, ok := pathParam(w, r, "orderID")
	if !ok {
		return
	}
	order, err := h.orders.CancelOrder(ctx, identity, orderID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Success: true, Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) createPreference(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.preferences == nil {
		serviceUnavailable(ctx, w, "payment_service")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	orderID, ok := pathParam(w, r, "orderID")
	if !ok {
		return
	}
	pref, err := h.preferences.CreatePreference(ctx, identity, orderID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, preferenceResponse{
		Success:          true,
		OrderID:          pref.OrderID,
		PreferenceID:     pref.ID,
		Provider:         pref.Provider,
		InitPoint:        pref.InitPoint,
		SandboxInitPoint: pref.SandboxInitPoint,
	})
}

func (h *OrderHandlers) listBuyerOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order_service")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	params, pager, ok := parsePager(w, r, orderSituationFilter)
	if !ok {
		return
	}
	page, err := h.orders.ListBuyerOrders(ctx, identity, services.OrderListFilter{
		Pagination: pager,
		Situation:  domain.Situation(params.Filter("situation")),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildList(page, buildOrderPayload))
}

func (h *OrderHandlers) listPartnerOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order_service")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	partnerID, ok := pathParam(w, r, "partnerID")
	if !ok {
		return
	}
	params, pager, ok := parsePager(w, r, orderSituationFilter)
	if !ok {
		return
	}
	page, err := h.orders.ListPartnerOrders(ctx, identity, partnerID, services.OrderListFilter{
		Pagination: pager,
		Situation:  domain.Situation(params.Filter("situation")),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildList(page, buildOrderPayload))
}

func (h *OrderHandlers) updateSituation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order_service")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	partnerID, ok := pathParam(w, r, "partnerID")
	if !ok {
		return
	}
	orderID, ok := pathParam(w, r, "orderID")
	if !ok {
		return
	}
	var req updateSituationRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	situation := domain.Situation(strings.ToLower(strings.TrimSpace(req.Situation)))
	switch situation {
	case domain.SituationPending, domain.SituationPaid, domain.SituationCancelled:
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_situation", "Situação inválida.", http.StatusBadRequest).WithField("situation"))
		return
	}

	order, err := h.orders.UpdateSituation(ctx, services.UpdateSituationCommand{
		Identity:  identity,
		PartnerID: partnerID,
		OrderID:   orderID,
		Situation: situation,
		Reason:    req.Reason,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Success: true, Order: buildOrderPayload(order)})
}

type orderResponse struct {
	Success bool         `json:"success"`
	Order   orderPayload `json:"order"`
}

type preferenceResponse struct {
	Success          bool   `json:"success"`
	OrderID          string `json:"order_id"`
	PreferenceID     string `json:"preference_id"`
	Provider         string `json:"provider"`
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point,omitempty"`
}

type orderPayload struct {
	ID              string             `json:"id"`
	Number          string             `json:"number"`
	BuyerID         string             `json:"buyer_id"`
	PartnerID       string             `json:"partner_id"`
	ItemKind        string             `json:"item_kind"`
	ItemID          string             `json:"item_id"`
	Quantity        int                `json:"quantity"`
	TotalAmount     int64              `json:"total_amount"`
	TotalFormatted  string             `json:"total_formatted"`
	Currency        string             `json:"currency"`
	DeliveryType    string             `json:"delivery_type"`
	DeliveryAddress *addressPayload    `json:"delivery_address,omitempty"`
	PaymentMethod   string             `json:"payment_method,omitempty"`
	PaymentProvider string             `json:"payment_provider,omitempty"`
	Notes           string             `json:"notes,omitempty"`
	Situation       string             `json:"situation"`
	PreferenceID    string             `json:"preference_id,omitempty"`
	PaymentID       string             `json:"payment_id,omitempty"`
	PaymentDetail   string             `json:"payment_status_detail,omitempty"`
	StockApplied    bool               `json:"stock_applied"`
	PaidAt          string             `json:"paid_at,omitempty"`
	CancelledAt     string             `json:"cancelled_at,omitempty"`
	CreatedAt       string             `json:"created_at"`
	UpdatedAt       string             `json:"updated_at"`
	Items           []orderItemPayload `json:"items"`
}

type orderItemPayload struct {
	ID         string `json:"id"`
	ItemKind   string `json:"item_kind"`
	ItemID     string `json:"item_id"`
	Name       string `json:"name"`
	UnitPrice  int64  `json:"unit_price"`
	Quantity   int    `json:"quantity"`
	LineTotal  int64  `json:"line_total"`
	TrackStock bool   `json:"track_stock"`
}

func buildOrderPayload(order domain.Order) orderPayload {
	payload := orderPayload{
		ID:              order.ID,
		Number:          order.Number,
		BuyerID:         order.BuyerID,
		PartnerID:       order.PartnerID,
		ItemKind:        string(order.Item.Kind),
		ItemID:          order.Item.ID,
		Quantity:        order.Quantity,
		TotalAmount:     order.TotalAmount,
		TotalFormatted:  domain.FormatBRL(order.TotalAmount),
		Currency:        order.Currency,
		DeliveryType:    string(order.DeliveryType),
		PaymentMethod:   order.PaymentMethod,
		PaymentProvider: order.PaymentProvider,
		Notes:           order.Notes,
		Situation:       string(order.Situation),
		PreferenceID:    deref(order.PreferenceID),
		PaymentID:       deref(order.PaymentID),
		PaymentDetail:   deref(order.PaymentStatusDetail),
		StockApplied:    order.StockAppliedAt != nil,
		PaidAt:          formatTime(order.PaidAt),
		CancelledAt:     formatTime(order.CancelledAt),
		CreatedAt:       formatTime(&order.CreatedAt),
		UpdatedAt:       formatTime(&order.UpdatedAt),
		Items:           make([]orderItemPayload, 0, len(order.Items)),
	}
	if order.DeliveryAddress != nil {
		addr := buildAddressPayload(*order.DeliveryAddress)
		payload.DeliveryAddress = &addr
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ID:         item.ID,
			ItemKind:   string(item.Item.Kind),
			ItemID:     item.Item.ID,
			Name:       item.Name,
			UnitPrice:  item.UnitPrice,
			Quantity:   item.Quantity,
			LineTotal:  item.LineTotal(),
			TrackStock: item.TrackStock,
		})
	}
	return payload
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
