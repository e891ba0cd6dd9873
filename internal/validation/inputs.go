package validation

import (
	"strings"

	"github.com/mercadoparceiro/api/internal/domain"
	"github.com/mercadoparceiro/api/internal/platform/textutil"
)

// Constraint bounds shared by the inputs below.
const (
	MaxOrderQuantity    = 1000
	MaxAmountCents      = 100_000_000
	MaxNotesLength      = 500
	MaxAdditionalItems  = 20
	MaxServiceDuration  = 1440
	MaxStockAdjustment  = 100_000
	MaxDescriptionChars = 2000
)

// LineInput is an extra item added to an order.
type LineInput struct {
	ItemKind string `json:"item_kind" validate:"required,oneof=product service rental space"`
	ItemID   string `json:"item_id" validate:"required,uuid"`
	Quantity int    `json:"quantity" validate:"min=1,max=1000"`
}

// OrderInput is the raw checkout request.
type OrderInput struct {
	BuyerID           string      `json:"buyer_id" validate:"required,max=128"`
	PartnerID         string      `json:"partner_id" validate:"required,uuid"`
	ItemKind          string      `json:"item_kind" validate:"required,oneof=product service rental space"`
	ItemID            string      `json:"item_id" validate:"required,uuid"`
	Quantity          int         `json:"quantity" validate:"min=1,max=1000"`
	TotalAmount       int64       `json:"total_amount" validate:"min=1,max=100000000"`
	DeliveryType      string      `json:"delivery_type" validate:"required,oneof=delivery pickup"`
	DeliveryAddressID string      `json:"delivery_address_id" validate:"required_if=DeliveryType delivery,omitempty,uuid"`
	PaymentMethod     string      `json:"payment_method" validate:"max=40"`
	Notes             string      `json:"notes" validate:"max=500"`
	AdditionalItems   []LineInput `json:"additional_items" validate:"max=20,dive"`
}

// ValidateOrder trims and sanitises an order request and checks every field.
// Pickup orders drop any delivery address.
func ValidateOrder(in OrderInput) (OrderInput, error) {
	in.BuyerID = strings.TrimSpace(in.BuyerID)
	in.PartnerID = strings.ToLower(strings.TrimSpace(in.PartnerID))
	in.ItemKind = strings.ToLower(strings.TrimSpace(in.ItemKind))
	in.ItemID = strings.ToLower(strings.TrimSpace(in.ItemID))
	in.DeliveryType = strings.ToLower(strings.TrimSpace(in.DeliveryType))
	in.DeliveryAddressID = strings.ToLower(strings.TrimSpace(in.DeliveryAddressID))
	in.PaymentMethod = strings.TrimSpace(in.PaymentMethod)
	in.Notes = SanitizeText(in.Notes)
	if in.DeliveryType == string(domain.DeliveryTypePickup) {
		in.DeliveryAddressID = ""
	}
	lines := make([]LineInput, len(in.AdditionalItems))
	for i, line := range in.AdditionalItems {
		line.ItemKind = strings.ToLower(strings.TrimSpace(line.ItemKind))
		line.ItemID = strings.ToLower(strings.TrimSpace(line.ItemID))
		lines[i] = line
	}
	in.AdditionalItems = lines
	if err := check(in); err != nil {
		return OrderInput{}, err
	}
	return in, nil
}

// AddressInput carries a postal address as typed by the user.
type AddressInput struct {
	Label      string `json:"label" validate:"max=40"`
	Recipient  string `json:"recipient" validate:"min=2,max=120"`
	Street     string `json:"street" validate:"min=2,max=120"`
	Number     string `json:"number" validate:"min=1,max=10"`
	Complement string `json:"complement" validate:"max=80"`
	District   string `json:"district" validate:"min=2,max=80"`
	City       string `json:"city" validate:"min=2,max=80"`
	State      string `json:"state" validate:"uf"`
	PostalCode string `json:"postal_code" validate:"cep"`
	Phone      string `json:"phone" validate:"omitempty,phone_br"`
}

// ValidateAddress normalises CEP, UF and phone before checking the address.
func ValidateAddress(in AddressInput) (AddressInput, error) {
	in.Label = strings.TrimSpace(in.Label)
	in.Recipient = strings.TrimSpace(in.Recipient)
	in.Street = strings.TrimSpace(in.Street)
	in.Number = strings.TrimSpace(in.Number)
	in.Complement = strings.TrimSpace(in.Complement)
	in.District = strings.TrimSpace(in.District)
	in.City = strings.TrimSpace(in.City)
	in.State = strings.ToUpper(strings.TrimSpace(in.State))
	in.PostalCode = textutil.DigitsOnly(in.PostalCode)
	if strings.TrimSpace(in.Phone) != "" {
		in.Phone = normalizePhoneDigits(in.Phone)
	} else {
		in.Phone = ""
	}
	if err := check(in); err != nil {
		return AddressInput{}, err
	}
	return in, nil
}

// ProductInput describes a product, rental item or space.
type ProductInput struct {
	Kind        string `json:"kind" validate:"required,oneof=product rental space"`
	Name        string `json:"name" validate:"min=2,max=120"`
	Description string `json:"description" validate:"max=2000"`
	Price       int64  `json:"price" validate:"min=0,max=100000000"`
	TrackStock  bool   `json:"track_stock"`
	Stock       int    `json:"stock" validate:"min=0,max=100000"`
	Active      bool   `json:"active"`
}

// ValidateProduct checks a product payload. Stock is ignored for untracked items.
func ValidateProduct(in ProductInput) (ProductInput, error) {
	in.Kind = strings.ToLower(strings.TrimSpace(in.Kind))
	if in.Kind == "" {
		in.Kind = string(domain.ItemKindProduct)
	}
	in.Name = strings.TrimSpace(in.Name)
	in.Description = SanitizeText(in.Description)
	if err := check(in); err != nil {
		return ProductInput{}, err
	}
	if !domain.ItemKind(in.Kind).Stockable() {
		in.TrackStock = false
	}
	if !in.TrackStock {
		in.Stock = 0
	}
	return in, nil
}

// ServiceInput describes a bookable service.
type ServiceInput struct {
	Name            string `json:"name" validate:"min=2,max=120"`
	Description     string `json:"description" validate:"max=2000"`
	Price           int64  `json:"price" validate:"min=0,max=100000000"`
	DurationMinutes int    `json:"duration_minutes" validate:"min=0,max=1440"`
	Active          bool   `json:"active"`
}

func ValidateService(in ServiceInput) (ServiceInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = SanitizeText(in.Description)
	if err := check(in); err != nil {
		return ServiceInput{}, err
	}
	return in, nil
}

// ContactInput describes a customer or supplier kept by a partner.
type ContactInput struct {
	Kind       string `json:"kind" validate:"required,oneof=customer supplier"`
	Name       string `json:"name" validate:"min=2,max=120"`
	Document   string `json:"document" validate:"omitempty,document_br"`
	Email      string `json:"email" validate:"omitempty,email,max=254"`
	Phone      string `json:"phone" validate:"omitempty,phone_br"`
	Street     string `json:"street" validate:"max=120"`
	Number     string `json:"number" validate:"max=10"`
	District   string `json:"district" validate:"max=80"`
	City       string `json:"city" validate:"max=80"`
	State      string `json:"state" validate:"omitempty,uf"`
	PostalCode string `json:"postal_code" validate:"omitempty,cep"`
	Notes      string `json:"notes" validate:"max=500"`
}

// ValidateContact normalises documents and contact channels.
func ValidateContact(in ContactInput) (ContactInput, error) {
	in.Kind = strings.ToLower(strings.TrimSpace(in.Kind))
	in.Name = strings.TrimSpace(in.Name)
	in.Document = textutil.DigitsOnly(in.Document)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if strings.TrimSpace(in.Phone) != "" {
		in.Phone = normalizePhoneDigits(in.Phone)
	} else {
		in.Phone = ""
	}
	in.Street = strings.TrimSpace(in.Street)
	in.Number = strings.TrimSpace(in.Number)
	in.District = strings.TrimSpace(in.District)
	in.City = strings.TrimSpace(in.City)
	in.State = strings.ToUpper(strings.TrimSpace(in.State))
	in.PostalCode = textutil.DigitsOnly(in.PostalCode)
	in.Notes = SanitizeText(in.Notes)
	if err := check(in); err != nil {
		return ContactInput{}, err
	}
	return in, nil
}

// StockAdjustmentInput is a manual ledger entry.
type StockAdjustmentInput struct {
	ProductID string `json:"product_id" validate:"required,uuid"`
	Type      string `json:"type" validate:"required,oneof=sale return adjustment purchase damage loss"`
	Quantity  int    `json:"quantity" validate:"ne=0,min=-100000,max=100000"`
	Reason    string `json:"reason" validate:"max=200"`
}

func ValidateStockAdjustment(in StockAdjustmentInput) (StockAdjustmentInput, error) {
	in.ProductID = strings.ToLower(strings.TrimSpace(in.ProductID))
	in.Type = strings.ToLower(strings.TrimSpace(in.Type))
	in.Reason = SanitizeText(in.Reason)
	if err := check(in); err != nil {
		return StockAdjustmentInput{}, err
	}
	return in, nil
}

func normalizePhoneDigits(raw string) string {
	if digits, err := NormalizePhone(raw); err == nil {
		return digits
	}
	return textutil.DigitsOnly(raw)
}
