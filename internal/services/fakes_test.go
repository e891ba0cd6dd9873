package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mercadoparceiro/api/internal/domain"
	"github.com/mercadoparceiro/api/internal/payments"
	"github.com/mercadoparceiro/api/internal/platform/auth"
	"github.com/mercadoparceiro/api/internal/repositories"
)

type repoErr struct {
	msg        string
	notFound   bool
	conflict   bool
	constraint string
}

func (e *repoErr) Error() string       { return e.msg }
func (e *repoErr) IsNotFound() bool    { return e.notFound }
func (e *repoErr) IsConflict() bool    { return e.conflict }
func (e *repoErr) IsUnavailable() bool { return false }
func (e *repoErr) Constraint() string  { return e.constraint }

func errNotFound(what string) error { return &repoErr{msg: what + " not found", notFound: true} }

func errUniqueViolation(constraint string) error {
	return &repoErr{msg: "duplicate key", conflict: true, constraint: constraint}
}

var errBoom = errors.New("boom")

func buyer(id string) *auth.Identity { return &auth.Identity{UserID: id} }

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func sequentialIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

// memOrders keeps orders in memory and honours the conditional updates.
type memOrders struct {
	orders    map[string]domain.Order
	access    map[string]repositories.OrderAccess
	insertErr error
	inserted  []domain.Order
	stale     []domain.Order
}

func newMemOrders(orders ...domain.Order) *memOrders {
	m := &memOrders{orders: map[string]domain.Order{}, access: map[string]repositories.OrderAccess{}}
	for _, o := range orders {
		m.orders[o.ID] = o
	}
	return m
}

func (m *memOrders) Insert(_ context.Context, order domain.Order) error {
	if m.insertErr != nil {
		err := m.insertErr
		m.insertErr = nil
		return err
	}
	m.orders[order.ID] = order
	m.inserted = append(m.inserted, order)
	return nil
}

func (m *memOrders) FindByID(_ context.Context, id string) (domain.Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return domain.Order{}, errNotFound("order")
	}
	return o, nil
}

func (m *memOrders) FindByExternalReference(_ context.Context, ref string) (domain.Order, error) {
	for _, o := range m.orders {
		if o.ExternalReference != nil && *o.ExternalReference == ref {
			return o, nil
		}
	}
	return domain.Order{}, errNotFound("order")
}

func (m *memOrders) FindAccess(_ context.Context, id string) (repositories.OrderAccess, error) {
	a, ok := m.access[id]
	if !ok {
		return repositories.OrderAccess{}, errNotFound("order")
	}
	return a, nil
}

func (m *memOrders) ListByBuyer(_ context.Context, buyerID string, _ repositories.ListFilter) (domain.Page[domain.Order], error) {
	var out []domain.Order
	for _, o := range m.orders {
		if o.BuyerID == buyerID {
			out = append(out, o)
		}
	}
	return domain.Page[domain.Order]{Items: out}, nil
}

func (m *memOrders) ListByPartner(_ context.Context, partnerID string, _ repositories.ListFilter) (domain.Page[domain.Order], error) {
	var out []domain.Order
	for _, o := range m.orders {
		if o.PartnerID == partnerID {
			out = append(out, o)
		}
	}
	return domain.Page[domain.Order]{Items: out}, nil
}

func (m *memOrders) SetPreference(_ context.Context, id, prefID, ref string, at time.Time) (bool, error) {
	o, ok := m.orders[id]
	if !ok || o.PreferenceID != nil || o.Situation != domain.SituationPending {
		return false, nil
	}
	o.PreferenceID = &prefID
	o.ExternalReference = &ref
	o.UpdatedAt = at
	m.orders[id] = o
	return true, nil
}

func (m *memOrders) ChangeSituation(_ context.Context, c repositories.SituationChange) (bool, error) {
	o, ok := m.orders[c.OrderID]
	if !ok || o.Situation != c.From {
		return false, nil
	}
	o.Situation = c.To
	if c.PaymentID != "" {
		id := c.PaymentID
		o.PaymentID = &id
	}
	if c.StatusDetail != "" {
		detail := c.StatusDetail
		o.PaymentStatusDetail = &detail
	}
	at := c.At
	switch c.To {
	case domain.SituationPaid:
		o.PaidAt = &at
	case domain.SituationCancelled:
		o.CancelledAt = &at
	case domain.SituationPending:
		o.PaidAt, o.CancelledAt = nil, nil
	}
	m.orders[c.OrderID] = o
	return true, nil
}

func (m *memOrders) UpdatePaymentDetail(_ context.Context, id, paymentID, detail string, _ time.Time) error {
	o, ok := m.orders[id]
	if !ok || o.Situation != domain.SituationPending {
		return nil
	}
	if paymentID != "" {
		o.PaymentID = &paymentID
	}
	o.PaymentStatusDetail = &detail
	m.orders[id] = o
	return nil
}

func (m *memOrders) MarkStockApplied(_ context.Context, id string, at time.Time) error {
	o := m.orders[id]
	if o.StockAppliedAt == nil {
		o.StockAppliedAt = &at
	}
	m.orders[id] = o
	return nil
}

func (m *memOrders) ClearStockApplied(_ context.Context, id string, _ time.Time) error {
	o := m.orders[id]
	o.StockAppliedAt = nil
	m.orders[id] = o
	return nil
}

func (m *memOrders) ListStalePending(_ context.Context, staleCutoff, expireCutoff time.Time, _ int) ([]domain.Order, error) {
	if m.stale != nil {
		return m.stale, nil
	}
	var out []domain.Order
	for _, o := range m.orders {
		if o.Situation != domain.SituationPending {
			continue
		}
		if (o.PreferenceID != nil && o.CreatedAt.Before(staleCutoff)) || o.CreatedAt.Before(expireCutoff) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// memStock enforces one movement per (order item, type) like the unique key.
type memStock struct {
	items     map[domain.ItemRef]*repositories.StockItem
	movements []domain.StockMovement
	insertErr error
}

func newMemStock(items ...repositories.StockItem) *memStock {
	m := &memStock{items: map[domain.ItemRef]*repositories.StockItem{}}
	for i := range items {
		item := items[i]
		m.items[item.Ref] = &item
	}
	return m
}

func (m *memStock) LockItem(_ context.Context, ref domain.ItemRef) (repositories.StockItem, error) {
	item, ok := m.items[ref]
	if !ok {
		return repositories.StockItem{}, errNotFound("item")
	}
	return *item, nil
}

func (m *memStock) SetStock(_ context.Context, ref domain.ItemRef, stock int, _ time.Time) error {
	m.items[ref].Stock = stock
	return nil
}

func (m *memStock) InsertMovement(_ context.Context, mv domain.StockMovement) (bool, error) {
	if m.insertErr != nil {
		return false, m.insertErr
	}
	if mv.OrderItemID != nil {
		for _, existing := range m.movements {
			if existing.OrderItemID != nil && *existing.OrderItemID == *mv.OrderItemID && existing.Type == mv.Type {
				return false, nil
			}
		}
	}
	m.movements = append(m.movements, mv)
	return true, nil
}

func (m *memStock) ListMovements(_ context.Context, partnerID, productID string, _ domain.Pagination) (domain.Page[domain.StockMovement], error) {
	var out []domain.StockMovement
	for _, mv := range m.movements {
		if mv.PartnerID == partnerID && mv.Item.ID == productID {
			out = append(out, mv)
		}
	}
	return domain.Page[domain.StockMovement]{Items: out}, nil
}

func (m *memStock) ListOrderMovements(_ context.Context, orderID string) ([]domain.StockMovement, error) {
	var out []domain.StockMovement
	for _, mv := range m.movements {
		if mv.OrderID != nil && *mv.OrderID == orderID {
			out = append(out, mv)
		}
	}
	return out, nil
}

func (m *memStock) stock(ref domain.ItemRef) int { return m.items[ref].Stock }

type memProducts struct {
	products map[string]domain.Product
	images   map[string]string
}

func newMemProducts(products ...domain.Product) *memProducts {
	m := &memProducts{products: map[string]domain.Product{}, images: map[string]string{}}
	for _, p := range products {
		m.products[p.ID] = p
	}
	return m
}

func (m *memProducts) Insert(_ context.Context, p domain.Product) error {
	m.products[p.ID] = p
	return nil
}

func (m *memProducts) Update(_ context.Context, p domain.Product) error {
	if _, ok := m.products[p.ID]; !ok {
		return errNotFound("product")
	}
	m.products[p.ID] = p
	return nil
}

func (m *memProducts) FindByID(_ context.Context, id string) (domain.Product, error) {
	p, ok := m.products[id]
	if !ok {
		return domain.Product{}, errNotFound("product")
	}
	return p, nil
}

func (m *memProducts) List(_ context.Context, partnerID string, _ repositories.ListFilter) (domain.Page[domain.Product], error) {
	var out []domain.Product
	for _, p := range m.products {
		if p.PartnerID == partnerID {
			out = append(out, p)
		}
	}
	return domain.Page[domain.Product]{Items: out}, nil
}

func (m *memProducts) SetImage(_ context.Context, id, url, publicID string, at time.Time) error {
	p, ok := m.products[id]
	if !ok {
		return errNotFound("product")
	}
	p.ImageURL, p.ImagePublicID, p.UpdatedAt = url, publicID, at
	m.products[id] = p
	return nil
}

type stubCatalog struct {
	items map[domain.ItemRef]domain.CatalogItem
	err   error
}

func (s *stubCatalog) FindItem(_ context.Context, ref domain.ItemRef) (domain.CatalogItem, error) {
	if s.err != nil {
		return domain.CatalogItem{}, s.err
	}
	item, ok := s.items[ref]
	if !ok {
		return domain.CatalogItem{}, errNotFound("item")
	}
	return item, nil
}

type memConfigs struct {
	configs  map[string]domain.PartnerPaymentConfig
	getErr   error
	upserts  []domain.PartnerPaymentConfig
	expiring []domain.PartnerPaymentConfig
}

func newMemConfigs(configs ...domain.PartnerPaymentConfig) *memConfigs {
	m := &memConfigs{configs: map[string]domain.PartnerPaymentConfig{}}
	for _, c := range configs {
		m.configs[c.PartnerID] = c
	}
	return m
}

func (m *memConfigs) Get(_ context.Context, partnerID string) (domain.PartnerPaymentConfig, error) {
	if m.getErr != nil {
		return domain.PartnerPaymentConfig{}, m.getErr
	}
	c, ok := m.configs[partnerID]
	if !ok {
		return domain.PartnerPaymentConfig{}, errNotFound("payment config")
	}
	return c, nil
}

func (m *memConfigs) Upsert(_ context.Context, c domain.PartnerPaymentConfig) error {
	m.configs[c.PartnerID] = c
	m.upserts = append(m.upserts, c)
	return nil
}

func (m *memConfigs) ListExpiring(context.Context, time.Time, int) ([]domain.PartnerPaymentConfig, error) {
	return m.expiring, nil
}

type stubUsers struct {
	profiles map[string]domain.BuyerProfile
}

func (s *stubUsers) FindProfile(_ context.Context, userID string) (domain.BuyerProfile, error) {
	p, ok := s.profiles[userID]
	if !ok {
		return domain.BuyerProfile{}, errNotFound("user")
	}
	return p, nil
}

type memAddresses struct {
	addresses map[string]domain.Address
	order     []string
	locks     int
}

func newMemAddresses(addresses ...domain.Address) *memAddresses {
	m := &memAddresses{addresses: map[string]domain.Address{}}
	for _, a := range addresses {
		m.addresses[a.ID] = a
		m.order = append(m.order, a.ID)
	}
	return m
}

func (m *memAddresses) LockOwner(context.Context, string) error {
	m.locks++
	return nil
}

func (m *memAddresses) ListByUser(_ context.Context, userID string) ([]domain.Address, error) {
	var out []domain.Address
	for _, id := range m.order {
		if a, ok := m.addresses[id]; ok && a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].IsDefault && !out[j].IsDefault })
	return out, nil
}

func (m *memAddresses) FindByID(_ context.Context, id string) (domain.Address, error) {
	a, ok := m.addresses[id]
	if !ok {
		return domain.Address{}, errNotFound("address")
	}
	return a, nil
}

func (m *memAddresses) Insert(_ context.Context, a domain.Address) error {
	m.addresses[a.ID] = a
	m.order = append(m.order, a.ID)
	return nil
}

func (m *memAddresses) Update(_ context.Context, a domain.Address) error {
	if _, ok := m.addresses[a.ID]; !ok {
		return errNotFound("address")
	}
	m.addresses[a.ID] = a
	return nil
}

func (m *memAddresses) Delete(_ context.Context, id string) error {
	if _, ok := m.addresses[id]; !ok {
		return errNotFound("address")
	}
	delete(m.addresses, id)
	return nil
}

func (m *memAddresses) SetDefault(_ context.Context, userID, id string, _ time.Time) error {
	target, ok := m.addresses[id]
	if !ok || target.UserID != userID {
		return errNotFound("address")
	}
	for key, a := range m.addresses {
		if a.UserID == userID {
			a.IsDefault = key == id
			m.addresses[key] = a
		}
	}
	return nil
}

func (m *memAddresses) defaults(userID string) int {
	n := 0
	for _, a := range m.addresses {
		if a.UserID == userID && a.IsDefault {
			n++
		}
	}
	return n
}

// stubGate answers from fixed tables.
type stubGate struct {
	orders   map[string]AccessDecision
	partners map[string]string
	owned    map[string]bool
}

func (g *stubGate) CanAccessOrder(_ context.Context, identity *auth.Identity, orderID string) AccessDecision {
	if identity == nil {
		return AccessDecision{}
	}
	return g.orders[identity.UserID+"/"+orderID]
}

func (g *stubGate) CanManagePartner(_ context.Context, identity *auth.Identity, partnerID string) bool {
	return identity != nil && g.partners[partnerID] == identity.UserID
}

func (g *stubGate) CanManageAddress(_ context.Context, identity *auth.Identity, id string) bool {
	return identity != nil && g.owned[identity.UserID+"/"+id]
}

func (g *stubGate) CanManageProduct(_ context.Context, identity *auth.Identity, id string) bool {
	return identity != nil && g.owned[identity.UserID+"/"+id]
}

func (g *stubGate) CanManageService(_ context.Context, identity *auth.Identity, id string) bool {
	return identity != nil && g.owned[identity.UserID+"/"+id]
}

func (g *stubGate) CanManageContact(_ context.Context, identity *auth.Identity, id string) bool {
	return identity != nil && g.owned[identity.UserID+"/"+id]
}

type emitted struct {
	eventType     string
	correlationID string
	payload       any
}

type captureEvents struct {
	events []emitted
	err    error
}

func (c *captureEvents) Emit(_ context.Context, eventType, correlationID string, payload any) error {
	c.events = append(c.events, emitted{eventType: eventType, correlationID: correlationID, payload: payload})
	return c.err
}

func (c *captureEvents) types() []string {
	out := make([]string, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.eventType)
	}
	return out
}

type captureLogs struct {
	events []string
}

func (c *captureLogs) log(_ context.Context, event string, _ map[string]any) {
	c.events = append(c.events, event)
}

func (c *captureLogs) has(event string) bool {
	for _, e := range c.events {
		if e == event {
			return true
		}
	}
	return false
}

// txRecorder counts transactions and can fail them.
type txRecorder struct {
	runs int
	err  error
}

func (t *txRecorder) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	t.runs++
	if t.err != nil {
		return t.err
	}
	return fn(ctx)
}

type stubGateway struct {
	createFn func(payments.PaymentContext, payments.PreferenceRequest) (payments.Preference, error)
	getFn    func(provider string, creds payments.Credentials, id string) (payments.Payment, error)
	findFn   func(provider string, creds payments.Credentials, q payments.PaymentQuery) ([]payments.Payment, error)
	creates  []payments.PreferenceRequest
	gets     []payments.Credentials
}

func (s *stubGateway) CreatePreference(_ context.Context, pctx payments.PaymentContext, req payments.PreferenceRequest) (payments.Preference, error) {
	s.creates = append(s.creates, req)
	if s.createFn != nil {
		return s.createFn(pctx, req)
	}
	return payments.Preference{ID: "pref-1", Provider: payments.ProviderMercadoPago, InitPoint: "https://mp/init"}, nil
}

func (s *stubGateway) GetPayment(_ context.Context, provider string, creds payments.Credentials, id string) (payments.Payment, error) {
	s.gets = append(s.gets, creds)
	if s.getFn != nil {
		return s.getFn(provider, creds, id)
	}
	return payments.Payment{}, payments.ErrPaymentNotFound
}

func (s *stubGateway) FindPayments(_ context.Context, provider string, creds payments.Credentials, q payments.PaymentQuery) ([]payments.Payment, error) {
	if s.findFn != nil {
		return s.findFn(provider, creds, q)
	}
	return nil, nil
}

type countingMetrics struct {
	created  int
	alerts   int
	outcomes map[string]int
}

func (m *countingMetrics) OrderCreated() { m.created++ }

func (m *countingMetrics) WebhookOutcome(provider, outcome string) {
	if m.outcomes == nil {
		m.outcomes = map[string]int{}
	}
	m.outcomes[provider+"/"+outcome]++
}

func (m *countingMetrics) StockAlert() { m.alerts++ }
