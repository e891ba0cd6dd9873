package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mercadoparceiro/api/internal/domain"
	"github.com/mercadoparceiro/api/internal/repositories"
)

// FloorPolicy decides what a sale does when stock would go below zero.
type FloorPolicy string

const (
	FloorPolicyBlock     FloorPolicy = "block"
	FloorPolicyBackorder FloorPolicy = "backorder"
	FloorPolicyClamp     FloorPolicy = "clamp"
)

// ParseFloorPolicy accepts block, backorder or clamp; empty means block.
func ParseFloorPolicy(value string) (FloorPolicy, error) {
	switch FloorPolicy(strings.ToLower(strings.TrimSpace(value))) {
	case "", FloorPolicyBlock:
		return FloorPolicyBlock, nil
	case FloorPolicyBackorder:
		return FloorPolicyBackorder, nil
	case FloorPolicyClamp:
		return FloorPolicyClamp, nil
	default:
		return "", fmt.Errorf("stock: unknown floor policy %q", value)
	}
}

// apply returns the new counter and the delta actually recorded.
func (p FloorPolicy) apply(previous, delta int) (next, recorded int, ok bool) {
	next = previous + delta
	if next >= 0 || delta >= 0 {
		return next, delta, true
	}
	switch p {
	case FloorPolicyBackorder:
		return next, delta, true
	case FloorPolicyClamp:
		return 0, -previous, true
	default:
		return previous, 0, false
	}
}

const systemActor = "system"

// StockLedgerDeps bundles collaborators for the stock ledger.
type StockLedgerDeps struct {
	Stock       repositories.StockRepository
	Orders      repositories.OrderRepository
	Products    repositories.ProductRepository
	UnitOfWork  repositories.UnitOfWork
	Policy      FloorPolicy
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type stockLedger struct {
	stock      repositories.StockRepository
	orders     repositories.OrderRepository
	products   repositories.ProductRepository
	unitOfWork repositories.UnitOfWork
	policy     FloorPolicy
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
}

var _ StockLedger = (*stockLedger)(nil)

// NewStockLedger wires the ledger writer.
func NewStockLedger(deps StockLedgerDeps) (StockLedger, error) {
	if deps.Stock == nil {
		return nil, errors.New("stock ledger: stock repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("stock ledger: order repository is required")
	}
	policy := deps.Policy
	if policy == "" {
		policy = FloorPolicyBlock
	}
	if _, err := ParseFloorPolicy(string(policy)); err != nil {
		return nil, err
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
	return &stockLedger{
		stock:      deps.Stock,
		orders:     deps.Orders,
		products:   deps.Products,
		unitOfWork: unit,
		policy:     policy,
		clock:      utcClock(deps.Clock),
		newID:      idGen,
		logger:     logger,
	}, nil
}

// ApplyOrderPaid writes one sale movement per trackable line item and stamps
// the order. Units refused by the floor policy are skipped and reported; the
// stamp is then left empty and ErrInsufficientStock returned alongside the
// partial application. Callers should run it inside their transaction.
func (l *stockLedger) ApplyOrderPaid(ctx context.Context, order domain.Order) (StockApplication, error) {
	app := StockApplication{OrderID: order.ID}
	err := l.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		now := l.clock()
		for _, item := range order.Items {
			if !item.TrackStock || !item.Item.Kind.Stockable() {
				continue
			}
			locked, err := l.stock.LockItem(txCtx, item.Item)
			if err != nil {
				if isRepoNotFound(err) {
					app.Shortages = append(app.Shortages, StockShortage{Item: item.Item, Required: item.Quantity})
					continue
				}
				return err
			}
			if !locked.TrackStock {
				continue
			}
			next, delta, ok := l.policy.apply(locked.Stock, -item.Quantity)
			if !ok {
				app.Shortages = append(app.Shortages, StockShortage{Item: item.Item, Required: item.Quantity, Available: locked.Stock})
				continue
			}
			if delta != -item.Quantity {
				l.logger(txCtx, "stock.floor.clamped", map[string]any{
					"orderId":   order.ID,
					"itemId":    item.Item.ID,
					"required":  item.Quantity,
					"available": locked.Stock,
				})
			}
			movement := l.orderMovement(order, item, locked, domain.MovementTypeSale, delta, next, now)
			inserted, err := l.stock.InsertMovement(txCtx, movement)
			if err != nil {
				return err
			}
			if !inserted {
				app.Duplicates++
				continue
			}
			if err := l.stock.SetStock(txCtx, item.Item, next, now); err != nil {
				return err
			}
			app.Movements = append(app.Movements, movement)
		}
		if len(app.Shortages) > 0 {
			return nil
		}
		return l.orders.MarkStockApplied(txCtx, order.ID, now)
	})
	if err != nil {
		return StockApplication{OrderID: order.ID}, fmt.Errorf("stock ledger: apply order %s: %w", order.ID, err)
	}
	if len(app.Shortages) > 0 {
		return app, fmt.Errorf("%w: %d item(s) of order %s", ErrInsufficientStock, len(app.Shortages), order.ID)
	}
	return app, nil
}

// ApplyOrderReturned reverses every sale movement recorded for the order.
func (l *stockLedger) ApplyOrderReturned(ctx context.Context, order domain.Order) (StockApplication, error) {
	app := StockApplication{OrderID: order.ID}
	err := l.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		now := l.clock()
		existing, err := l.stock.ListOrderMovements(txCtx, order.ID)
		if err != nil {
			return err
		}
		items := make(map[string]domain.OrderItem, len(order.Items))
		for _, item := range order.Items {
			items[item.ID] = item
		}
		for _, sale := range existing {
			if sale.Type != domain.MovementTypeSale || sale.OrderItemID == nil {
				continue
			}
			item, ok := items[*sale.OrderItemID]
			if !ok {
				item = domain.OrderItem{ID: *sale.OrderItemID, Item: sale.Item}
			}
			locked, err := l.stock.LockItem(txCtx, sale.Item)
			if err != nil {
				if isRepoNotFound(err) {
					continue
				}
				return err
			}
			delta := -sale.Quantity
			next := locked.Stock + delta
			movement := l.orderMovement(order, item, locked, domain.MovementTypeReturn, delta, next, now)
			inserted, err := l.stock.InsertMovement(txCtx, movement)
			if err != nil {
				return err
			}
			if !inserted {
				app.Duplicates++
				continue
			}
			if err := l.stock.SetStock(txCtx, sale.Item, next, now); err != nil {
				return err
			}
			app.Movements = append(app.Movements, movement)
		}
		return l.orders.ClearStockApplied(txCtx, order.ID, now)
	})
	if err != nil {
		return StockApplication{OrderID: order.ID}, fmt.Errorf("stock ledger: return order %s: %w", order.ID, err)
	}
	return app, nil
}

// Adjust records a manual movement. Purchases add, damage and loss subtract,
// adjustments take the signed quantity as given.
func (l *stockLedger) Adjust(ctx context.Context, cmd AdjustStockCommand) (domain.StockMovement, error) {
	if l.products == nil {
		return domain.StockMovement{}, errors.New("stock ledger: product repository is required for adjustments")
	}
	delta, err := manualDelta(cmd.Type, cmd.Quantity)
	if err != nil {
		return domain.StockMovement{}, err
	}
	var movement domain.StockMovement
	err = l.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		product, err := l.products.FindByID(txCtx, cmd.ProductID)
		if err != nil {
			if isRepoNotFound(err) {
				return ErrCatalogNotFound
			}
			return err
		}
		if product.PartnerID != cmd.PartnerID {
			return ErrCatalogNotFound
		}
		ref := domain.ItemRef{Kind: product.Kind, ID: product.ID}
		locked, err := l.stock.LockItem(txCtx, ref)
		if err != nil {
			return err
		}
		if !locked.TrackStock {
			return fmt.Errorf("%w: product does not track stock", ErrStockInvalidInput)
		}
		next, recorded, ok := l.policy.apply(locked.Stock, delta)
		if !ok {
			return fmt.Errorf("%w: available %d, requested %d", ErrInsufficientStock, locked.Stock, -delta)
		}
		now := l.clock()
		actor := strings.TrimSpace(cmd.ActorID)
		if actor == "" {
			actor = systemActor
		}
		movement = domain.StockMovement{
			ID:            l.newID(),
			PartnerID:     locked.PartnerID,
			Item:          ref,
			Quantity:      recorded,
			PreviousStock: locked.Stock,
			NewStock:      next,
			Type:          cmd.Type,
			Reason:        cmd.Reason,
			CreatedBy:     actor,
			CreatedAt:     now,
		}
		if _, err := l.stock.InsertMovement(txCtx, movement); err != nil {
			return err
		}
		return l.stock.SetStock(txCtx, ref, next, now)
	})
	if err != nil {
		return domain.StockMovement{}, err
	}
	l.logger(ctx, "stock.adjusted", map[string]any{
		"productId": movement.Item.ID,
		"type":      string(movement.Type),
		"quantity":  movement.Quantity,
		"newStock":  movement.NewStock,
	})
	return movement, nil
}

func (l *stockLedger) ListMovements(ctx context.Context, partnerID, productID string, pager domain.Pagination) (domain.Page[domain.StockMovement], error) {
	return l.stock.ListMovements(ctx, partnerID, productID, pager)
}

func (l *stockLedger) orderMovement(order domain.Order, item domain.OrderItem, locked repositories.StockItem, kind domain.MovementType, delta, next int, now time.Time) domain.StockMovement {
	orderID := order.ID
	itemID := item.ID
	reason := "Pedido " + order.Number
	if kind == domain.MovementTypeReturn {
		reason = "Cancelamento do pedido " + order.Number
	}
	return domain.StockMovement{
		ID:            l.newID(),
		PartnerID:     locked.PartnerID,
		Item:          item.Item,
		Quantity:      delta,
		PreviousStock: locked.Stock,
		NewStock:      next,
		Type:          kind,
		OrderID:       &orderID,
		OrderItemID:   &itemID,
		Reason:        reason,
		CreatedBy:     systemActor,
		CreatedAt:     now,
	}
}

func manualDelta(kind domain.MovementType, quantity int) (int, error) {
	if quantity == 0 {
		return 0, fmt.Errorf("%w: quantity must not be zero", ErrStockInvalidInput)
	}
	abs := quantity
	if abs < 0 {
		abs = -abs
	}
	switch kind {
	case domain.MovementTypePurchase:
		return abs, nil
	case domain.MovementTypeDamage, domain.MovementTypeLoss:
		return -abs, nil
	case domain.MovementTypeAdjustment:
		return quantity, nil
	default:
		return 0, fmt.Errorf("%w: %s movements are recorded by orders", ErrStockInvalidInput, kind)
	}
}
