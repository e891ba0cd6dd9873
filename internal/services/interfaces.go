package services

import (
	"context"
	"io"
	"time"

	"github.com/mercadoparceiro/api/internal/domain"
	"github.com/mercadoparceiro/api/internal/platform/auth"
	"github.com/mercadoparceiro/api/internal/validation"
)

// AccessGate answers ownership questions. It never returns errors: any doubt
// means "not allowed".
type AccessGate interface {
	CanAccessOrder(ctx context.Context, identity *auth.Identity, orderID string) AccessDecision
	CanManagePartner(ctx context.Context, identity *auth.Identity, partnerID string) bool
	CanManageAddress(ctx context.Context, identity *auth.Identity, addressID string) bool
	CanManageProduct(ctx context.Context, identity *auth.Identity, productID string) bool
	CanManageService(ctx context.Context, identity *auth.Identity, serviceID string) bool
	CanManageContact(ctx context.Context, identity *auth.Identity, contactID string) bool
}

// OrderService creates and manages orders.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (domain.Order, error)
	GetOrder(ctx context.Context, identity *auth.Identity, orderID string) (domain.Order, error)
	ListBuyerOrders(ctx context.Context, identity *auth.Identity, filter OrderListFilter) (domain.Page[domain.Order], error)
	ListPartnerOrders(ctx context.Context, identity *auth.Identity, partnerID string, filter OrderListFilter) (domain.Page[domain.Order], error)
	UpdateSituation(ctx context.Context, cmd UpdateSituationCommand) (domain.Order, error)
	CancelOrder(ctx context.Context, identity *auth.Identity, orderID string) (domain.Order, error)
}

// PreferenceService mints provider checkouts for pending orders.
type PreferenceService interface {
	CreatePreference(ctx context.Context, identity *auth.Identity, orderID string) (Preference, error)
}

// PaymentReconciler applies provider payment state to orders.
type PaymentReconciler interface {
	HandleNotification(ctx context.Context, n Notification) (ReconcileResult, error)
	ReconcileStale(ctx context.Context) (StaleReconcileSummary, error)
}

// StockLedger writes the movement ledger and keeps counters in step.
type StockLedger interface {
	ApplyOrderPaid(ctx context.Context, order domain.Order) (StockApplication, error)
	ApplyOrderReturned(ctx context.Context, order domain.Order) (StockApplication, error)
	Adjust(ctx context.Context, cmd AdjustStockCommand) (domain.StockMovement, error)
	ListMovements(ctx context.Context, partnerID, productID string, pager domain.Pagination) (domain.Page[domain.StockMovement], error)
}

// AddressService manages the caller's addresses.
type AddressService interface {
	List(ctx context.Context, identity *auth.Identity) ([]domain.Address, error)
	Create(ctx context.Context, identity *auth.Identity, input validation.AddressInput) (domain.Address, error)
	Update(ctx context.Context, identity *auth.Identity, addressID string, input validation.AddressInput) (domain.Address, error)
	Delete(ctx context.Context, identity *auth.Identity, addressID string) error
	SetDefault(ctx context.Context, identity *auth.Identity, addressID string) (domain.Address, error)
}

// CompanyLookupService resolves CNPJ registry data.
type CompanyLookupService interface {
	Lookup(ctx context.Context, raw string) (domain.CompanyInfo, error)
}

// ServiceCatalog manages partner services and their codes.
type ServiceCatalog interface {
	CreateService(ctx context.Context, identity *auth.Identity, partnerID string, input validation.ServiceInput) (domain.Service, error)
	UpdateService(ctx context.Context, identity *auth.Identity, serviceID string, input validation.ServiceInput) (domain.Service, error)
	ListServices(ctx context.Context, identity *auth.Identity, partnerID string, pager domain.Pagination) (domain.Page[domain.Service], error)
	DeleteService(ctx context.Context, identity *auth.Identity, serviceID string) error
	GenerateCode(ctx context.Context) (string, error)
}

// MediaService uploads partner images.
type MediaService interface {
	UploadImage(ctx context.Context, cmd UploadImageCommand) (domain.UploadedImage, error)
	DeleteImage(ctx context.Context, publicID string) error
}

// PartnerPaymentService connects partners to Mercado Pago through OAuth.
type PartnerPaymentService interface {
	StartConnect(ctx context.Context, identity *auth.Identity, partnerID string) (string, error)
	CompleteConnect(ctx context.Context, code, state string) (string, error)
	RefreshExpiring(ctx context.Context, within time.Duration) (TokenRefreshSummary, error)
	Status(ctx context.Context, identity *auth.Identity, partnerID string) (PaymentConnectionStatus, error)
}

// ProductService manages products, rental items and spaces.
type ProductService interface {
	CreateProduct(ctx context.Context, identity *auth.Identity, partnerID string, input validation.ProductInput) (domain.Product, error)
	UpdateProduct(ctx context.Context, identity *auth.Identity, productID string, input validation.ProductInput) (domain.Product, error)
	GetProduct(ctx context.Context, identity *auth.Identity, productID string) (domain.Product, error)
	ListProducts(ctx context.Context, identity *auth.Identity, partnerID string, pager domain.Pagination) (domain.Page[domain.Product], error)
	SetProductImage(ctx context.Context, identity *auth.Identity, productID, fileName string, r io.Reader) (domain.Product, error)
	AdjustStock(ctx context.Context, identity *auth.Identity, productID string, input validation.StockAdjustmentInput) (domain.StockMovement, error)
	ListStockMovements(ctx context.Context, identity *auth.Identity, productID string, pager domain.Pagination) (domain.Page[domain.StockMovement], error)
}

// ContactService manages partner customers and suppliers.
type ContactService interface {
	CreateContact(ctx context.Context, identity *auth.Identity, partnerID string, input validation.ContactInput) (domain.Contact, error)
	UpdateContact(ctx context.Context, identity *auth.Identity, contactID string, input validation.ContactInput) (domain.Contact, error)
	ListContacts(ctx context.Context, identity *auth.Identity, partnerID string, kind domain.ContactKind, pager domain.Pagination) (domain.Page[domain.Contact], error)
	DeleteContact(ctx context.Context, identity *auth.Identity, contactID string) error
	CreateSupplierFromCNPJ(ctx context.Context, identity *auth.Identity, partnerID, cnpj string) (domain.Contact, error)
}

// SystemService reports service health.
type SystemService interface {
	HealthReport(ctx context.Context) (domain.HealthReport, error)
}

// EventEmitter publishes domain events. Implemented by events.Emitter.
type EventEmitter interface {
	Emit(ctx context.Context, eventType, correlationID string, payload any) error
}

// OrderMetrics is implemented by observability.Metrics.
type OrderMetrics interface {
	OrderCreated()
}

// ReconcileMetrics is implemented by observability.Metrics.
type ReconcileMetrics interface {
	WebhookOutcome(provider, outcome string)
	StockAlert()
}

// DomainError represents a structured error with stable codes for transport across layers.
type DomainError interface {
	error
	Code() string
	SafeMessage() string
}

// Command and DTO definitions ------------------------------------------------

// AccessRole tells which side of an order the caller is on.
type AccessRole string

const (
	AccessRoleNone   AccessRole = ""
	AccessRoleBuyer  AccessRole = "buyer"
	AccessRoleSeller AccessRole = "seller"
)

type AccessDecision struct {
	Allowed bool
	Role    AccessRole
}

type OrderLineCommand struct {
	Item     domain.ItemRef
	Quantity int
}

type CreateOrderCommand struct {
	BuyerID           string
	PartnerID         string
	Item              domain.ItemRef
	Quantity          int
	TotalAmount       int64
	DeliveryType      domain.DeliveryType
	DeliveryAddressID string
	PaymentMethod     string
	PaymentProvider   string
	Notes             string
	AdditionalItems   []OrderLineCommand
}

type OrderListFilter struct {
	Pagination domain.Pagination
	Situation  domain.Situation
}

// UpdateSituationCommand is a seller's manual correction of an order.
type UpdateSituationCommand struct {
	Identity  *auth.Identity
	PartnerID string
	OrderID   string
	Situation domain.Situation
	Reason    string
}

type Preference struct {
	OrderID          string
	ID               string
	Provider         string
	InitPoint        string
	SandboxInitPoint string
}

// Notification is an inbound provider callback reduced to what reconciliation needs.
type Notification struct {
	Provider  string
	Topic     string
	PaymentID string
	OrderID   string
}

type ReconcileResult struct {
	OrderID      string
	PaymentID    string
	Previous     domain.Situation
	Current      domain.Situation
	Changed      bool
	Ignored      bool
	StockApplied bool
}

type StaleReconcileSummary struct {
	Checked   int
	Resolved  int
	Expired   int
	Failed    int
	Untouched int
}

// StockShortage describes a line the floor policy refused.
type StockShortage struct {
	Item      domain.ItemRef
	Required  int
	Available int
}

type StockApplication struct {
	OrderID    string
	Movements  []domain.StockMovement
	Duplicates int
	Shortages  []StockShortage
}

type AdjustStockCommand struct {
	PartnerID string
	ProductID string
	Type      domain.MovementType
	Quantity  int
	Reason    string
	ActorID   string
}

type UploadImageCommand struct {
	PartnerID string
	Purpose   string
	FileName  string
	Reader    io.Reader
}

type TokenRefreshSummary struct {
	Checked   int
	Refreshed int
	Failed    int
}

type PaymentConnectionStatus struct {
	PartnerID   string
	Provider    string
	Connected   bool
	LiveMode    bool
	PublicKey   string
	ExpiresAt   *time.Time
	ConnectedAt *time.Time
}
