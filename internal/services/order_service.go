package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mercadoparceiro/api/internal/domain"
	"github.com/mercadoparceiro/api/internal/platform/auth"
	"github.com/mercadoparceiro/api/internal/platform/events"
	"github.com/mercadoparceiro/api/internal/repositories"
	"github.com/mercadoparceiro/api/internal/validation"
)

const (
	orderNumberPrefix   = "PED"
	orderNumberAttempts = 3
	sourceManual        = "manual"
)

// OrderServiceDeps bundles collaborators for the order orchestrator.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Catalog     repositories.CatalogRepository
	Addresses   repositories.AddressRepository
	Stock       repositories.StockRepository
	Gate        AccessGate
	Ledger      StockLedger
	UnitOfWork  repositories.UnitOfWork
	Events      EventEmitter
	Metrics     OrderMetrics
	FloorPolicy FloorPolicy
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	catalog    repositories.CatalogRepository
	addresses  repositories.AddressRepository
	stock      repositories.StockRepository
	gate       AccessGate
	ledger     StockLedger
	unitOfWork repositories.UnitOfWork
	events     EventEmitter
	metrics    OrderMetrics
	policy     FloorPolicy
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
}

var _ OrderService = (*orderService)(nil)

// NewOrderService wires the checkout orchestrator.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	switch {
	case deps.Orders == nil:
		return nil, errors.New("order service: order repository is required")
	case deps.Catalog == nil:
		return nil, errors.New("order service: catalog repository is required")
	case deps.Addresses == nil:
		return nil, errors.New("order service: address repository is required")
	case deps.Gate == nil:
		return nil, errors.New("order service: access gate is required")
	case deps.Ledger == nil:
		return nil, errors.New("order service: stock ledger is required")
	}
	policy := deps.FloorPolicy
	if policy == "" {
		policy = FloorPolicyBlock
	}
	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = uuid.NewString
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &orderService{
		orders:     deps.Orders,
		catalog:    deps.Catalog,
		addresses:  deps.Addresses,
		stock:      deps.Stock,
		gate:       deps.Gate,
		ledger:     deps.Ledger,
		unitOfWork: unit,
		events:     deps.Events,
		metrics:    deps.Metrics,
		policy:     policy,
		clock:      utcClock(deps.Clock),
		newID:      idGen,
		logger:     logger,
	}, nil
}

// CreateOrder validates the checkout, snapshots prices and address, and stores
// one pending order. Stock is only checked here, never decremented.
func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (domain.Order, error) {
	if strings.TrimSpace(cmd.BuyerID) == "" {
		return domain.Order{}, ErrCallerUnauthenticated
	}
	input, err := validation.ValidateOrder(orderInput(cmd))
	if err != nil {
		return domain.Order{}, invalid(ErrOrderInvalidInput, err)
	}

	now := s.clock()
	lines := make([]OrderLineCommand, 0, 1+len(input.AdditionalItems))
	lines = append(lines, OrderLineCommand{
		Item:     domain.ItemRef{Kind: domain.ItemKind(input.ItemKind), ID: input.ItemID},
		Quantity: input.Quantity,
	})
	for _, line := range input.AdditionalItems {
		lines = append(lines, OrderLineCommand{
			Item:     domain.ItemRef{Kind: domain.ItemKind(line.ItemKind), ID: line.ItemID},
			Quantity: line.Quantity,
		})
	}
	items, err := s.snapshotItems(ctx, input.PartnerID, lines, now)
	if err != nil {
		return domain.Order{}, err
	}

	order := domain.Order{
		ID:              s.newID(),
		BuyerID:         input.BuyerID,
		PartnerID:       input.PartnerID,
		Item:            lines[0].Item,
		Quantity:        lines[0].Quantity,
		Currency:        domain.DefaultCurrency,
		DeliveryType:    domain.DeliveryType(input.DeliveryType),
		PaymentMethod:   input.PaymentMethod,
		PaymentProvider: strings.ToLower(strings.TrimSpace(cmd.PaymentProvider)),
		Notes:           input.Notes,
		Situation:       domain.SituationPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for i := range items {
		items[i].OrderID = order.ID
	}
	order.Items = items
	order.TotalAmount = order.ItemsTotal()
	if !domain.AmountsMatch(order.TotalAmount, input.TotalAmount) {
		return domain.Order{}, fmt.Errorf("%w: expected %d, got %d", ErrAmountMismatch, order.TotalAmount, input.TotalAmount)
	}

	if order.DeliveryType == domain.DeliveryTypeDelivery {
		address, err := s.ownedAddress(ctx, input.BuyerID, input.DeliveryAddressID)
		if err != nil {
			return domain.Order{}, err
		}
		order.DeliveryAddress = &address
	}

	if err := s.insertWithNumber(ctx, &order); err != nil {
		return domain.Order{}, err
	}

	if s.metrics != nil {
		s.metrics.OrderCreated()
	}
	s.logger(ctx, "order.created", map[string]any{
		"orderId":   order.ID,
		"number":    order.Number,
		"partnerId": order.PartnerID,
		"items":     len(order.Items),
		"total":     order.TotalAmount,
	})
	s.emit(ctx, events.TypeOrderCreated, order, "checkout")
	return order, nil
}

func orderInput(cmd CreateOrderCommand) validation.OrderInput {
	extra := make([]validation.LineInput, 0, len(cmd.AdditionalItems))
	for _, line := range cmd.AdditionalItems {
		extra = append(extra, validation.LineInput{
			ItemKind: string(line.Item.Kind),
			ItemID:   line.Item.ID,
			Quantity: line.Quantity,
		})
	}
	return validation.OrderInput{
		BuyerID:           cmd.BuyerID,
		PartnerID:         cmd.PartnerID,
		ItemKind:          string(cmd.Item.Kind),
		ItemID:            cmd.Item.ID,
		Quantity:          cmd.Quantity,
		TotalAmount:       cmd.TotalAmount,
		DeliveryType:      string(cmd.DeliveryType),
		DeliveryAddressID: cmd.DeliveryAddressID,
		PaymentMethod:     cmd.PaymentMethod,
		Notes:             cmd.Notes,
		AdditionalItems:   extra,
	}
}

// snapshotItems resolves every line against the catalogue. Repeated refs are
// checked against stock with their combined quantity.
func (s *orderService) snapshotItems(ctx context.Context, partnerID string, lines []OrderLineCommand, now time.Time) ([]domain.OrderItem, error) {
	requested := make(map[domain.ItemRef]int, len(lines))
	resolved := make(map[domain.ItemRef]domain.CatalogItem, len(lines))
	items := make([]domain.OrderItem, 0, len(lines))
	for _, line := range lines {
		entry, ok := resolved[line.Item]
		if !ok {
			found, err := s.catalog.FindItem(ctx, line.Item)
			if err != nil {
				if isRepoNotFound(err) {
					return nil, fmt.Errorf("%w: %s %s", ErrItemUnavailable, line.Item.Kind, line.Item.ID)
				}
				return nil, fmt.Errorf("order service: resolve item: %w", err)
			}
			if found.PartnerID != partnerID || !found.Active {
				return nil, fmt.Errorf("%w: %s %s", ErrItemUnavailable, line.Item.Kind, line.Item.ID)
			}
			entry = found
			resolved[line.Item] = found
		}
		requested[line.Item] += line.Quantity
		trackStock := entry.TrackStock && line.Item.Kind.Stockable()
		if trackStock && s.policy == FloorPolicyBlock && entry.Stock < requested[line.Item] {
			return nil, fmt.Errorf("%w: %s has %d, requested %d", ErrInsufficientStock, entry.Name, entry.Stock, requested[line.Item])
		}
		items = append(items, domain.OrderItem{
			ID:         s.newID(),
			Item:       line.Item,
			Name:       entry.Name,
			UnitPrice:  entry.UnitPrice,
			Quantity:   line.Quantity,
			TrackStock: trackStock,
			CreatedAt:  now,
		})
	}
	return items, nil
}

func (s *orderService) ownedAddress(ctx context.Context, buyerID, addressID string) (domain.Address, error) {
	address, err := s.addresses.FindByID(ctx, addressID)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.Address{}, ErrAddressNotFound
		}
		return domain.Address{}, fmt.Errorf("order service: load address: %w", err)
	}
	if address.UserID != buyerID {
		return domain.Address{}, ErrAddressForbidden
	}
	return address, nil
}

// insertWithNumber retries on the rare order number collision.
func (s *orderService) insertWithNumber(ctx context.Context, order *domain.Order) error {
	var lastErr error
	for attempt := 0; attempt < orderNumberAttempts; attempt++ {
		number, err := newOrderNumber(order.CreatedAt)
		if err != nil {
			return fmt.Errorf("order service: generate number: %w", err)
		}
		order.Number = number
		err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
			return s.orders.Insert(txCtx, *order)
		})
		if err == nil {
			return nil
		}
		if isRepoConflict(err) && violatedConstraint(err) == repositories.ConstraintOrderNumber {
			lastErr = err
			continue
		}
		return fmt.Errorf("order service: insert order: %w", err)
	}
	return fmt.Errorf("order service: insert order: %w", lastErr)
}

// newOrderNumber formats PED-YYYYMMDD-XXXXXX.
func newOrderNumber(now time.Time) (string, error) {
	suffix, err := randomCode(6)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s-%s", orderNumberPrefix, now.Format("20060102"), suffix), nil
}

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// codeByteLimit is the largest multiple of the alphabet size that fits in a
// byte; bytes at or above it are discarded to keep the draw uniform.
const codeByteLimit = 256 - 256%len(codeAlphabet)

func randomCode(length int) (string, error) {
	return randomCodeFrom(rand.Reader, length)
}

func randomCodeFrom(src io.Reader, length int) (string, error) {
	out := make([]byte, 0, length)
	buf := make([]byte, length)
	for len(out) < length {
		if _, err := io.ReadFull(src, buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= codeByteLimit {
				continue
			}
			out = append(out, codeAlphabet[int(b)%len(codeAlphabet)])
			if len(out) == length {
				break
			}
		}
	}
	return string(out), nil
}

func (s *orderService) GetOrder(ctx context.Context, identity *auth.Identity, orderID string) (domain.Order, error) {
	if _, ok := callerID(identity); !ok {
		return domain.Order{}, ErrCallerUnauthenticated
	}
	if decision := s.gate.CanAccessOrder(ctx, identity, orderID); !decision.Allowed {
		return domain.Order{}, ErrOrderForbidden
	}
	return s.load(ctx, orderID)
}

func (s *orderService) ListBuyerOrders(ctx context.Context, identity *auth.Identity, filter OrderListFilter) (domain.Page[domain.Order], error) {
	userID, ok := callerID(identity)
	if !ok {
		return domain.Page[domain.Order]{}, ErrCallerUnauthenticated
	}
	return s.orders.ListByBuyer(ctx, userID, repositories.ListFilter{Pagination: filter.Pagination, Situation: filter.Situation})
}

func (s *orderService) ListPartnerOrders(ctx context.Context, identity *auth.Identity, partnerID string, filter OrderListFilter) (domain.Page[domain.Order], error) {
	if _, ok := callerID(identity); !ok {
		return domain.Page[domain.Order]{}, ErrCallerUnauthenticated
	}
	if !s.gate.CanManagePartner(ctx, identity, partnerID) {
		return domain.Page[domain.Order]{}, ErrPartnerForbidden
	}
	return s.orders.ListByPartner(ctx, partnerID, repositories.ListFilter{Pagination: filter.Pagination, Situation: filter.Situation})
}

// UpdateSituation applies a seller's manual correction. Moving to paid
// writes sale movements, leaving paid writes returns, and reopening is only
// possible while the ledger holds nothing for the order.
func (s *orderService) UpdateSituation(ctx context.Context, cmd UpdateSituationCommand) (domain.Order, error) {
	if _, ok := callerID(cmd.Identity); !ok {
		return domain.Order{}, ErrCallerUnauthenticated
	}
	if !s.gate.CanManagePartner(ctx, cmd.Identity, cmd.PartnerID) {
		return domain.Order{}, ErrPartnerForbidden
	}
	order, err := s.load(ctx, cmd.OrderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.PartnerID != cmd.PartnerID {
		return domain.Order{}, ErrOrderNotFound
	}
	from, to := order.Situation, cmd.Situation
	if !manualTransitionAllowed(from, to) {
		return domain.Order{}, fmt.Errorf("%w: %s -> %s", ErrOrderInvalidState, from, to)
	}

	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		if from == domain.SituationCancelled && to == domain.SituationPending {
			if s.stock == nil {
				return errors.New("order service: stock repository is required to reopen orders")
			}
			movements, err := s.stock.ListOrderMovements(txCtx, order.ID)
			if err != nil {
				return err
			}
			if len(movements) > 0 {
				return fmt.Errorf("%w: order has ledger entries", ErrOrderInvalidState)
			}
		}
		changed, err := s.orders.ChangeSituation(txCtx, repositories.SituationChange{
			OrderID:      order.ID,
			From:         from,
			To:           to,
			StatusDetail: manualDetail(cmd.Reason),
			At:           s.clock(),
		})
		if err != nil {
			return err
		}
		if !changed {
			return fmt.Errorf("%w: situation changed concurrently", ErrOrderInvalidState)
		}
		switch {
		case to == domain.SituationPaid:
			_, err = s.ledger.ApplyOrderPaid(txCtx, order)
		case from == domain.SituationPaid && to == domain.SituationCancelled:
			_, err = s.ledger.ApplyOrderReturned(txCtx, order)
		}
		return err
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientStock) || errors.Is(err, ErrOrderInvalidState) {
			return domain.Order{}, err
		}
		return domain.Order{}, fmt.Errorf("order service: update situation: %w", err)
	}

	updated, err := s.load(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	s.logger(ctx, "order.situation.updated", map[string]any{
		"orderId": order.ID,
		"from":    string(from),
		"to":      string(to),
		"actor":   cmd.Identity.UserID,
	})
	switch to {
	case domain.SituationPaid:
		s.emit(ctx, events.TypeOrderPaid, updated, sourceManual)
	case domain.SituationCancelled:
		s.emit(ctx, events.TypeOrderCancelled, updated, sourceManual)
	}
	return updated, nil
}

func manualTransitionAllowed(from, to domain.Situation) bool {
	switch from {
	case domain.SituationPending:
		return to == domain.SituationPaid || to == domain.SituationCancelled
	case domain.SituationPaid:
		return to == domain.SituationCancelled
	case domain.SituationCancelled:
		return to == domain.SituationPending
	default:
		return false
	}
}

func manualDetail(reason string) string {
	reason = validation.SanitizeText(reason)
	if reason == "" {
		return ""
	}
	return "manual: " + reason
}

// CancelOrder lets either side cancel a pending order.
func (s *orderService) CancelOrder(ctx context.Context, identity *auth.Identity, orderID string) (domain.Order, error) {
	if _, ok := callerID(identity); !ok {
		return domain.Order{}, ErrCallerUnauthenticated
	}
	if decision := s.gate.CanAccessOrder(ctx, identity, orderID); !decision.Allowed {
		return domain.Order{}, ErrOrderForbidden
	}
	changed, err := s.orders.ChangeSituation(ctx, repositories.SituationChange{
		OrderID: orderID,
		From:    domain.SituationPending,
		To:      domain.SituationCancelled,
		At:      s.clock(),
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("order service: cancel order: %w", err)
	}
	if !changed {
		return domain.Order{}, ErrOrderNotPending
	}
	order, err := s.load(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	s.emit(ctx, events.TypeOrderCancelled, order, "buyer")
	return order, nil
}

func (s *orderService) load(ctx context.Context, orderID string) (domain.Order, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.Order{}, ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("order service: load order: %w", err)
	}
	return order, nil
}

func (s *orderService) emit(ctx context.Context, eventType string, order domain.Order, source string) {
	if s.events == nil {
		return
	}
	if err := s.events.Emit(ctx, eventType, order.ID, orderPayload(order, source)); err != nil {
		s.logger(ctx, "order.event.failed", map[string]any{
			"orderId": order.ID,
			"event":   eventType,
			"error":   err.Error(),
		})
	}
}

func orderPayload(order domain.Order, source string) events.OrderPayload {
	payload := events.OrderPayload{
		OrderID:     order.ID,
		OrderNumber: order.Number,
		PartnerID:   order.PartnerID,
		BuyerID:     order.BuyerID,
		Situation:   string(order.Situation),
		TotalCents:  order.TotalAmount,
		Currency:    order.Currency,
		Source:      source,
	}
	if order.PaymentID != nil {
		payload.PaymentID = *order.PaymentID
	}
	return payload
}
