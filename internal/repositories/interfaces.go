package repositories

import (
	"context"
	"time"

	"github.com/mercadoparceiro/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Stock() StockRepository
	Catalog() CatalogRepository
	Products() ProductRepository
	Services() ServiceRepository
	Contacts() ContactRepository
	Partners() PartnerRepository
	PaymentConfigs() PaymentConfigRepository
	Users() UserRepository
	Addresses() AddressRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// ConstraintError is implemented by repository errors that know which
// constraint a write violated.
type ConstraintError interface {
	RepositoryError
	Constraint() string
}

// Constraint names reported by ConstraintError for unique keys services react to.
const (
	ConstraintOrderNumber = "orders_number_key"
	ConstraintServiceCode = "services_code_key"
)

// UnitOfWork groups repository operations in one transaction. Repositories
// called with the context handed to fn join the transaction.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ListFilter carries page-token pagination plus optional equality filters.
type ListFilter struct {
	Pagination domain.Pagination
	Situation  domain.Situation
	Kind       string
}

// OrderAccess holds the identities allowed to see an order.
type OrderAccess struct {
	OrderID        string
	BuyerID        string
	PartnerID      string
	PartnerOwnerID string
}

// SituationChange is a conditional transition: it applies only while the
// stored situation equals From.
type SituationChange struct {
	OrderID      string
	From         domain.Situation
	To           domain.Situation
	PaymentID    string
	StatusDetail string
	At           time.Time
}

// OrderRepository persists orders with their line items.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByExternalReference(ctx context.Context, ref string) (domain.Order, error)
	FindAccess(ctx context.Context, orderID string) (OrderAccess, error)
	ListByBuyer(ctx context.Context, buyerID string, filter ListFilter) (domain.Page[domain.Order], error)
	ListByPartner(ctx context.Context, partnerID string, filter ListFilter) (domain.Page[domain.Order], error)
	// SetPreference stores the provider preference only while the order is
	// pending without one. It reports whether the row was updated.
	SetPreference(ctx context.Context, orderID, preferenceID, externalReference string, at time.Time) (bool, error)
	// ChangeSituation reports whether the conditional update matched.
	ChangeSituation(ctx context.Context, change SituationChange) (bool, error)
	UpdatePaymentDetail(ctx context.Context, orderID, paymentID, statusDetail string, at time.Time) error
	MarkStockApplied(ctx context.Context, orderID string, at time.Time) error
	ClearStockApplied(ctx context.Context, orderID string, at time.Time) error
	// ListStalePending returns pending orders, oldest first, that either have a
	// preference and were created before staleCutoff or were created before
	// expireCutoff with or without one.
	ListStalePending(ctx context.Context, staleCutoff, expireCutoff time.Time, limit int) ([]domain.Order, error)
}

// StockItem is the locked view of a stock counter.
type StockItem struct {
	Ref        domain.ItemRef
	PartnerID  string
	TrackStock bool
	Stock      int
}

// StockRepository guards stock counters and the append-only movement ledger.
type StockRepository interface {
	// LockItem takes a row lock on the counter for the rest of the transaction.
	LockItem(ctx context.Context, ref domain.ItemRef) (StockItem, error)
	SetStock(ctx context.Context, ref domain.ItemRef, stock int, at time.Time) error
	// InsertMovement reports false when the order item already has a movement of that type.
	InsertMovement(ctx context.Context, movement domain.StockMovement) (bool, error)
	ListMovements(ctx context.Context, partnerID, productID string, pager domain.Pagination) (domain.Page[domain.StockMovement], error)
	ListOrderMovements(ctx context.Context, orderID string) ([]domain.StockMovement, error)
}

// CatalogRepository resolves any orderable entity by tagged reference.
type CatalogRepository interface {
	FindItem(ctx context.Context, ref domain.ItemRef) (domain.CatalogItem, error)
}

// ProductRepository persists products, rentals and spaces.
type ProductRepository interface {
	Insert(ctx context.Context, product domain.Product) error
	Update(ctx context.Context, product domain.Product) error
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	List(ctx context.Context, partnerID string, filter ListFilter) (domain.Page[domain.Product], error)
	SetImage(ctx context.Context, productID, url, publicID string, at time.Time) error
}

// ServiceRepository persists bookable services.
type ServiceRepository interface {
	Insert(ctx context.Context, service domain.Service) error
	Update(ctx context.Context, service domain.Service) error
	Delete(ctx context.Context, serviceID string) error
	FindByID(ctx context.Context, serviceID string) (domain.Service, error)
	List(ctx context.Context, partnerID string, filter ListFilter) (domain.Page[domain.Service], error)
	CodeExists(ctx context.Context, code string) (bool, error)
}

// ContactRepository persists partner customers and suppliers.
type ContactRepository interface {
	Insert(ctx context.Context, contact domain.Contact) error
	Update(ctx context.Context, contact domain.Contact) error
	Delete(ctx context.Context, contactID string) error
	FindByID(ctx context.Context, contactID string) (domain.Contact, error)
	List(ctx context.Context, partnerID string, filter ListFilter) (domain.Page[domain.Contact], error)
}

// PartnerRepository reads seller accounts.
type PartnerRepository interface {
	FindByID(ctx context.Context, partnerID string) (domain.Partner, error)
}

// PaymentConfigRepository stores provider credentials per partner.
type PaymentConfigRepository interface {
	Get(ctx context.Context, partnerID string) (domain.PartnerPaymentConfig, error)
	Upsert(ctx context.Context, cfg domain.PartnerPaymentConfig) error
	ListExpiring(ctx context.Context, before time.Time, limit int) ([]domain.PartnerPaymentConfig, error)
}

// UserRepository reads buyer profile data.
type UserRepository interface {
	FindProfile(ctx context.Context, userID string) (domain.BuyerProfile, error)
}

// AddressRepository persists user addresses.
type AddressRepository interface {
	// LockOwner serialises address writes of one user for the rest of the transaction.
	LockOwner(ctx context.Context, userID string) error
	ListByUser(ctx context.Context, userID string) ([]domain.Address, error)
	FindByID(ctx context.Context, addressID string) (domain.Address, error)
	Insert(ctx context.Context, address domain.Address) error
	Update(ctx context.Context, address domain.Address) error
	Delete(ctx context.Context, addressID string) error
	SetDefault(ctx context.Context, userID, addressID string, at time.Time) error
}

// HealthRepository reports dependency readiness.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}
