package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// Page wraps a single page of results together with the continuation token.
type Page[T any] struct {
	Items         []T
	NextPageToken string
}

// ItemKind discriminates the catalogue entity an order line refers to.
type ItemKind string

const (
	// ItemKindProduct is a physical good with an optional stock counter.
	ItemKindProduct ItemKind = "product"
	// ItemKindService is a bookable service identified by a unique code.
	ItemKindService ItemKind = "service"
	// ItemKindRental is an item lent for a period; stock is tracked like products.
	ItemKindRental ItemKind = "rental"
	// ItemKindSpace is a physical space offered by the partner.
	ItemKindSpace ItemKind = "space"
)

// Valid reports whether the kind is one of the known catalogue kinds.
func (k ItemKind) Valid() bool {
	switch k {
	case ItemKindProduct, ItemKindService, ItemKindRental, ItemKindSpace:
		return true
	default:
		return false
	}
}

// Stockable reports whether items of this kind may carry a stock counter.
func (k ItemKind) Stockable() bool {
	return k == ItemKindProduct || k == ItemKindRental
}

// ItemRef is a tagged reference to a catalogue entity.
type ItemRef struct {
	Kind ItemKind
	ID   string
}

// Situation is the lifecycle state of an order.
type Situation string

const (
	// SituationPending means the order awaits payment resolution.
	SituationPending Situation = "pending"
	// SituationPaid means the provider approved the payment.
	SituationPaid Situation = "paid"
	// SituationCancelled means the payment failed or the order was cancelled.
	SituationCancelled Situation = "cancelled"
)

// Terminal reports whether the webhook path may no longer move the order.
func (s Situation) Terminal() bool {
	return s == SituationPaid || s == SituationCancelled
}

// DeliveryType selects how the buyer receives the item.
type DeliveryType string

const (
	// DeliveryTypeDelivery ships the order to the buyer's address.
	DeliveryTypeDelivery DeliveryType = "delivery"
	// DeliveryTypePickup means the buyer collects the order at the partner.
	DeliveryTypePickup DeliveryType = "pickup"
)

// Order identifies a single purchase from one partner.
type Order struct {
	ID                  string
	Number              string
	BuyerID             string
	PartnerID           string
	Item                ItemRef
	Quantity            int
	TotalAmount         int64
	Currency            string
	DeliveryType        DeliveryType
	DeliveryAddress     *Address
	PaymentMethod       string
	PaymentProvider     string
	Notes               string
	Situation           Situation
	PreferenceID        *string
	ExternalReference   *string
	PaymentID           *string
	PaymentStatusDetail *string
	StockAppliedAt      *time.Time
	PaidAt              *time.Time
	CancelledAt         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
	Items               []OrderItem
}

// ItemsTotal sums unit price times quantity over the order's line items.
func (o Order) ItemsTotal() int64 {
	var total int64
	for _, item := range o.Items {
		total += item.LineTotal()
	}
	return total
}

// OrderItem is the immutable snapshot of a purchased catalogue entry.
type OrderItem struct {
	ID         string
	OrderID    string
	Item       ItemRef
	Name       string
	UnitPrice  int64
	Quantity   int
	TrackStock bool
	CreatedAt  time.Time
}

// LineTotal returns unit price times quantity.
func (i OrderItem) LineTotal() int64 {
	return i.UnitPrice * int64(i.Quantity)
}

// MovementType classifies a stock ledger entry.
type MovementType string

const (
	MovementTypeSale       MovementType = "sale"
	MovementTypeReturn     MovementType = "return"
	MovementTypeAdjustment MovementType = "adjustment"
	MovementTypePurchase   MovementType = "purchase"
	MovementTypeDamage     MovementType = "damage"
	MovementTypeLoss       MovementType = "loss"
)

// Valid reports whether the movement type is recognised.
func (t MovementType) Valid() bool {
	switch t {
	case MovementTypeSale, MovementTypeReturn, MovementTypeAdjustment,
		MovementTypePurchase, MovementTypeDamage, MovementTypeLoss:
		return true
	default:
		return false
	}
}

// StockMovement is an append-only ledger entry; it is never mutated after insert.
type StockMovement struct {
	ID            string
	PartnerID     string
	Item          ItemRef
	Quantity      int
	PreviousStock int
	NewStock      int
	Type          MovementType
	OrderID       *string
	OrderItemID   *string
	Reason        string
	CreatedBy     string
	CreatedAt     time.Time
}

// Partner is a seller account.
type Partner struct {
	ID          string
	OwnerUserID string
	Name        string
	CNPJ        *string
	Email       string
	CreatedAt   time.Time
}

// PartnerPaymentConfig holds the provider credentials a partner obtained through OAuth.
type PartnerPaymentConfig struct {
	PartnerID      string
	Provider       string
	AccessToken    string
	RefreshToken   string
	PublicKey      string
	ProviderUserID string
	LiveMode       bool
	ExpiresAt      *time.Time
	ConnectedAt    time.Time
	UpdatedAt      time.Time
}

// Configured reports whether the partner can receive payments. Stripe
// partners are addressed by connected account id instead of a token.
func (c PartnerPaymentConfig) Configured() bool {
	if c.Provider == "stripe" {
		return c.ProviderUserID != ""
	}
	return c.AccessToken != ""
}

// Address is a postal address owned by a user.
type Address struct {
	ID         string
	UserID     string
	Label      string
	Recipient  string
	Street     string
	Number     string
	Complement string
	District   string
	City       string
	State      string
	PostalCode string
	Phone      string
	IsDefault  bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// BuyerProfile carries the contact data sent to the payment provider as payer.
type BuyerProfile struct {
	UserID string
	Name   string
	Email  string
	Phone  string
}
