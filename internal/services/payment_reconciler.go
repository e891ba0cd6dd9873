package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mercadoparceiro/api/internal/domain"
	"github.com/mercadoparceiro/api/internal/payments"
	"github.com/mercadoparceiro/api/internal/platform/events"
	"github.com/mercadoparceiro/api/internal/repositories"
)

const (
	topicPayment         = "payment"
	defaultStaleAfter    = 30 * time.Minute
	defaultExpireAfter   = 72 * time.Hour
	defaultStaleBatch    = 100
	expiredStatusDetail  = "expired"
	sourceWebhook        = "webhook"
	sourceReconciliation = "reconciliation"
)

// Webhook outcome labels.
const (
	outcomeIgnored   = "ignored"
	outcomeNoop      = "noop"
	outcomePending   = "pending"
	outcomePaid      = "paid"
	outcomeCancelled = "cancelled"
	outcomeFailed    = "failed"
)

// PaymentReconcilerDeps bundles collaborators for the reconciler.
type PaymentReconcilerDeps struct {
	Orders         repositories.OrderRepository
	PaymentConfigs repositories.PaymentConfigRepository
	Ledger         StockLedger
	Payments       PaymentGateway
	UnitOfWork     repositories.UnitOfWork
	Events         EventEmitter
	Metrics        ReconcileMetrics
	StaleAfter     time.Duration
	ExpireAfter    time.Duration
	BatchSize      int
	Clock          func() time.Time
	Logger         func(ctx context.Context, event string, fields map[string]any)
}

type paymentReconciler struct {
	orders      repositories.OrderRepository
	configs     repositories.PaymentConfigRepository
	ledger      StockLedger
	payments    PaymentGateway
	unitOfWork  repositories.UnitOfWork
	events      EventEmitter
	metrics     ReconcileMetrics
	staleAfter  time.Duration
	expireAfter time.Duration
	batchSize   int
	clock       func() time.Time
	logger      func(context.Context, string, map[string]any)
}

var _ PaymentReconciler = (*paymentReconciler)(nil)

// NewPaymentReconciler wires the webhook and stale-order reconciler.
func NewPaymentReconciler(deps PaymentReconcilerDeps) (PaymentReconciler, error) {
	switch {
	case deps.Orders == nil:
		return nil, errors.New("payment reconciler: order repository is required")
	case deps.PaymentConfigs == nil:
		return nil, errors.New("payment reconciler: payment config repository is required")
	case deps.Ledger == nil:
		return nil, errors.New("payment reconciler: stock ledger is required")
	case deps.Payments == nil:
		return nil, errors.New("payment reconciler: payment gateway is required")
	}
	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	staleAfter := deps.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	expireAfter := deps.ExpireAfter
	if expireAfter <= 0 {
		expireAfter = defaultExpireAfter
	}
	batch := deps.BatchSize
	if batch <= 0 {
		batch = defaultStaleBatch
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &paymentReconciler{
		orders:      deps.Orders,
		configs:     deps.PaymentConfigs,
		ledger:      deps.Ledger,
		payments:    deps.Payments,
		unitOfWork:  unit,
		events:      deps.Events,
		metrics:     deps.Metrics,
		staleAfter:  staleAfter,
		expireAfter: expireAfter,
		batchSize:   batch,
		clock:       utcClock(deps.Clock),
		logger:      logger,
	}, nil
}

// HandleNotification resolves the order behind a provider callback and
// applies the payment state fetched with the seller's own credentials.
// Errors mean "retry later"; replays on resolved orders succeed as no-ops.
func (r *paymentReconciler) HandleNotification(ctx context.Context, n Notification) (ReconcileResult, error) {
	provider := strings.ToLower(strings.TrimSpace(n.Provider))
	if provider == "" {
		provider = payments.ProviderMercadoPago
	}
	topic := strings.ToLower(strings.TrimSpace(n.Topic))
	if topic != "" && topic != topicPayment {
		r.outcome(provider, outcomeIgnored)
		return ReconcileResult{Ignored: true}, nil
	}
	paymentID := strings.TrimSpace(n.PaymentID)
	if paymentID == "" {
		r.outcome(provider, outcomeFailed)
		return ReconcileResult{}, fmt.Errorf("%w: missing payment id", ErrNotificationInvalid)
	}

	result, err := r.handle(ctx, provider, paymentID, strings.TrimSpace(n.OrderID))
	if err != nil {
		r.outcome(provider, outcomeFailed)
		r.logger(ctx, "reconcile.notification.failed", map[string]any{
			"provider":  provider,
			"paymentId": paymentID,
			"orderId":   n.OrderID,
			"error":     err.Error(),
		})
		return ReconcileResult{}, err
	}
	return result, nil
}

func (r *paymentReconciler) handle(ctx context.Context, provider, paymentID, orderID string) (ReconcileResult, error) {
	if orderID == "" {
		// Platform credentials may only reveal which order the payment is for.
		discovered, err := r.payments.GetPayment(ctx, provider, payments.Credentials{}, paymentID)
		if err != nil {
			return ReconcileResult{}, providerError("discover payment", err)
		}
		orderID = strings.TrimSpace(discovered.ExternalReference)
		if orderID == "" {
			return ReconcileResult{}, fmt.Errorf("%w: payment %s has no external reference", ErrOrderUnresolved, paymentID)
		}
	}

	order, err := r.findOrder(ctx, orderID)
	if err != nil {
		return ReconcileResult{}, err
	}
	cfg, err := r.sellerConfig(ctx, order.PartnerID)
	if err != nil {
		return ReconcileResult{}, err
	}
	if order.PaymentProvider != "" && provider != strings.ToLower(order.PaymentProvider) {
		return ReconcileResult{}, fmt.Errorf("%w: order paid through %s", ErrPaymentOwnership, order.PaymentProvider)
	}

	payment, err := r.payments.GetPayment(ctx, provider, sellerCredentials(cfg), paymentID)
	if err != nil {
		return ReconcileResult{}, providerError("fetch payment", err)
	}
	if err := verifyOwnership(order, cfg, payment); err != nil {
		return ReconcileResult{}, err
	}
	return r.apply(ctx, provider, order, payment, sourceWebhook)
}

func (r *paymentReconciler) findOrder(ctx context.Context, ref string) (domain.Order, error) {
	order, err := r.orders.FindByID(ctx, ref)
	if err == nil {
		return order, nil
	}
	if !isRepoNotFound(err) {
		return domain.Order{}, fmt.Errorf("payment reconciler: load order: %w", err)
	}
	order, err = r.orders.FindByExternalReference(ctx, ref)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.Order{}, fmt.Errorf("%w: %s", ErrOrderUnresolved, ref)
		}
		return domain.Order{}, fmt.Errorf("payment reconciler: load order: %w", err)
	}
	return order, nil
}

func (r *paymentReconciler) sellerConfig(ctx context.Context, partnerID string) (domain.PartnerPaymentConfig, error) {
	cfg, err := r.configs.Get(ctx, partnerID)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.PartnerPaymentConfig{}, fmt.Errorf("%w: partner %s", ErrSellerTokenMissing, partnerID)
		}
		return domain.PartnerPaymentConfig{}, fmt.Errorf("payment reconciler: load payment config: %w", err)
	}
	if !cfg.Configured() {
		return domain.PartnerPaymentConfig{}, fmt.Errorf("%w: partner %s", ErrSellerTokenMissing, partnerID)
	}
	return cfg, nil
}

func verifyOwnership(order domain.Order, cfg domain.PartnerPaymentConfig, payment payments.Payment) error {
	if payment.ExternalReference != order.ID {
		return fmt.Errorf("%w: external reference %q", ErrPaymentOwnership, payment.ExternalReference)
	}
	if payment.CollectorID != "" && cfg.ProviderUserID != "" && payment.CollectorID != cfg.ProviderUserID {
		return fmt.Errorf("%w: collector %s", ErrPaymentOwnership, payment.CollectorID)
	}
	return nil
}

// apply moves a pending order to the mapped situation. The situation change
// and the stock ledger share one transaction; a stock shortage still commits
// the payment and raises an alert instead.
func (r *paymentReconciler) apply(ctx context.Context, provider string, order domain.Order, payment payments.Payment, source string) (ReconcileResult, error) {
	target := situationForStatus(payment.Status)
	result := ReconcileResult{
		OrderID:   order.ID,
		PaymentID: payment.ID,
		Previous:  order.Situation,
		Current:   order.Situation,
	}
	if order.Situation != domain.SituationPending {
		result.Ignored = true
		r.outcome(provider, outcomeNoop)
		return result, nil
	}
	now := r.clock()
	if target == domain.SituationPending {
		if err := r.orders.UpdatePaymentDetail(ctx, order.ID, payment.ID, statusDetail(payment), now); err != nil {
			return ReconcileResult{}, fmt.Errorf("payment reconciler: store status detail: %w", err)
		}
		r.outcome(provider, outcomePending)
		return result, nil
	}

	var shortages []StockShortage
	changed := false
	err := r.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		shortages = nil
		ok, err := r.orders.ChangeSituation(txCtx, repositories.SituationChange{
			OrderID:      order.ID,
			From:         domain.SituationPending,
			To:           target,
			PaymentID:    payment.ID,
			StatusDetail: statusDetail(payment),
			At:           now,
		})
		if err != nil {
			return err
		}
		changed = ok
		if !ok || target != domain.SituationPaid {
			return nil
		}
		app, err := r.ledger.ApplyOrderPaid(txCtx, order)
		if errors.Is(err, ErrInsufficientStock) {
			shortages = app.Shortages
			return nil
		}
		return err
	})
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("payment reconciler: apply %s: %w", target, err)
	}
	if !changed {
		result.Ignored = true
		r.outcome(provider, outcomeNoop)
		return result, nil
	}

	result.Changed = true
	result.Current = target
	order.Situation = target
	order.PaymentID = &payment.ID
	r.logger(ctx, "reconcile.order.updated", map[string]any{
		"orderId":   order.ID,
		"paymentId": payment.ID,
		"status":    string(payment.Status),
		"situation": string(target),
		"source":    source,
	})
	switch target {
	case domain.SituationPaid:
		result.StockApplied = len(shortages) == 0
		r.outcome(provider, outcomePaid)
		r.emit(ctx, events.TypeOrderPaid, order.ID, orderPayload(order, source))
		if len(shortages) > 0 {
			r.stockAlert(ctx, order, shortages)
		}
	case domain.SituationCancelled:
		r.outcome(provider, outcomeCancelled)
		r.emit(ctx, events.TypeOrderCancelled, order.ID, orderPayload(order, source))
	}
	return result, nil
}

func (r *paymentReconciler) stockAlert(ctx context.Context, order domain.Order, shortages []StockShortage) {
	details := make([]events.StockAlertDetail, 0, len(shortages))
	for _, s := range shortages {
		details = append(details, events.StockAlertDetail{
			ItemKind:  string(s.Item.Kind),
			ItemID:    s.Item.ID,
			Required:  s.Required,
			Available: s.Available,
		})
	}
	if r.metrics != nil {
		r.metrics.StockAlert()
	}
	r.logger(ctx, "reconcile.stock_apply.failed", map[string]any{
		"orderId":   order.ID,
		"partnerId": order.PartnerID,
		"shortages": len(shortages),
	})
	r.emit(ctx, events.TypeStockAlert, order.ID, events.StockAlertPayload{
		OrderID:   order.ID,
		PartnerID: order.PartnerID,
		Reason:    "insufficient_stock",
		Details:   details,
	})
}

// ReconcileStale polls the provider for pending orders whose webhook never
// arrived, and expires those that never saw a payment at all.
func (r *paymentReconciler) ReconcileStale(ctx context.Context) (StaleReconcileSummary, error) {
	var summary StaleReconcileSummary
	now := r.clock()
	orders, err := r.orders.ListStalePending(ctx, now.Add(-r.staleAfter), now.Add(-r.expireAfter), r.batchSize)
	if err != nil {
		return summary, fmt.Errorf("payment reconciler: list stale orders: %w", err)
	}
	for _, order := range orders {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		summary.Checked++
		outcome, err := r.reconcileOne(ctx, order, now)
		if err != nil {
			summary.Failed++
			r.logger(ctx, "reconcile.stale.failed", map[string]any{"orderId": order.ID, "error": err.Error()})
			continue
		}
		switch outcome {
		case staleResolved:
			summary.Resolved++
		case staleExpired:
			summary.Expired++
		default:
			summary.Untouched++
		}
	}
	r.logger(ctx, "reconcile.stale.completed", map[string]any{
		"checked":   summary.Checked,
		"resolved":  summary.Resolved,
		"expired":   summary.Expired,
		"failed":    summary.Failed,
		"untouched": summary.Untouched,
	})
	return summary, nil
}

type staleOutcome int

const (
	staleUntouched staleOutcome = iota
	staleResolved
	staleExpired
)

func (r *paymentReconciler) reconcileOne(ctx context.Context, order domain.Order, now time.Time) (staleOutcome, error) {
	expired := now.Sub(order.CreatedAt) >= r.expireAfter
	if order.PreferenceID == nil {
		// No checkout was ever opened, so there is nothing to search for.
		if expired {
			return r.expire(ctx, order, now)
		}
		return staleUntouched, nil
	}
	cfg, err := r.sellerConfig(ctx, order.PartnerID)
	if err != nil {
		if errors.Is(err, ErrSellerTokenMissing) && expired {
			return r.expire(ctx, order, now)
		}
		return staleUntouched, err
	}
	provider := providerFor(order, cfg)
	query := payments.PaymentQuery{ExternalReference: order.ID}
	if order.PreferenceID != nil {
		query.PreferenceID = *order.PreferenceID
	}
	found, err := r.payments.FindPayments(ctx, provider, sellerCredentials(cfg), query)
	if err != nil {
		return staleUntouched, providerError("search payments", err)
	}
	owned := make([]payments.Payment, 0, len(found))
	for _, p := range found {
		if verifyOwnership(order, cfg, p) == nil {
			owned = append(owned, p)
		}
	}
	if len(owned) == 0 {
		if expired {
			return r.expire(ctx, order, now)
		}
		return staleUntouched, nil
	}
	payment := decisivePayment(owned)
	result, err := r.apply(ctx, provider, order, payment, sourceReconciliation)
	if err != nil {
		return staleUntouched, err
	}
	if result.Changed {
		return staleResolved, nil
	}
	return staleUntouched, nil
}

// decisivePayment prefers an approval, then any final failure, then the last
// payment listed.
func decisivePayment(list []payments.Payment) payments.Payment {
	for _, p := range list {
		if situationForStatus(p.Status) == domain.SituationPaid {
			return p
		}
	}
	for _, p := range list {
		if situationForStatus(p.Status) == domain.SituationCancelled {
			return p
		}
	}
	return list[len(list)-1]
}

func (r *paymentReconciler) expire(ctx context.Context, order domain.Order, now time.Time) (staleOutcome, error) {
	changed, err := r.orders.ChangeSituation(ctx, repositories.SituationChange{
		OrderID:      order.ID,
		From:         domain.SituationPending,
		To:           domain.SituationCancelled,
		StatusDetail: expiredStatusDetail,
		At:           now,
	})
	if err != nil {
		return staleUntouched, fmt.Errorf("payment reconciler: expire order: %w", err)
	}
	if !changed {
		return staleUntouched, nil
	}
	order.Situation = domain.SituationCancelled
	r.logger(ctx, "reconcile.order.expired", map[string]any{"orderId": order.ID, "createdAt": order.CreatedAt})
	r.emit(ctx, events.TypeOrderCancelled, order.ID, orderPayload(order, sourceReconciliation))
	return staleExpired, nil
}

func (r *paymentReconciler) emit(ctx context.Context, eventType, orderID string, payload any) {
	if r.events == nil {
		return
	}
	if err := r.events.Emit(ctx, eventType, orderID, payload); err != nil {
		r.logger(ctx, "reconcile.event.failed", map[string]any{
			"orderId": orderID,
			"event":   eventType,
			"error":   err.Error(),
		})
	}
}

func (r *paymentReconciler) outcome(provider, outcome string) {
	if r.metrics != nil {
		r.metrics.WebhookOutcome(provider, outcome)
	}
}
