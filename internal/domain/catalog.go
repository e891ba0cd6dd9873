package domain

import "time"

// Product covers goods, rental items and spaces sold by a partner.
type Product struct {
	ID            string
	PartnerID     string
	Kind          ItemKind
	Name          string
	Description   string
	Price         int64
	TrackStock    bool
	Stock         int
	ImageURL      string
	ImagePublicID string
	Active        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Service is a bookable offering identified by a unique human-facing code.
type Service struct {
	ID              string
	PartnerID       string
	Code            string
	Name            string
	Description     string
	Price           int64
	DurationMinutes int
	Active          bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CatalogItem is the uniform view over any orderable entity.
type CatalogItem struct {
	Ref        ItemRef
	PartnerID  string
	Name       string
	UnitPrice  int64
	TrackStock bool
	Stock      int
	Active     bool
}

// ContactKind separates customers from suppliers.
type ContactKind string

const (
	ContactKindCustomer ContactKind = "customer"
	ContactKindSupplier ContactKind = "supplier"
)

// Contact is a customer or supplier record kept by a partner.
type Contact struct {
	ID         string
	PartnerID  string
	Kind       ContactKind
	Name       string
	Document   string
	Email      string
	Phone      string
	Street     string
	Number     string
	District   string
	City       string
	State      string
	PostalCode string
	Notes      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CompanyInfo is the flattened registry record for a CNPJ.
type CompanyInfo struct {
	CNPJ       string
	LegalName  string
	TradeName  string
	Status     string
	Street     string
	Number     string
	Complement string
	District   string
	City       string
	State      string
	PostalCode string
	Phone      string
	Email      string
	OpenedAt   *time.Time
}

// UploadedImage references an asset stored at the image host.
type UploadedImage struct {
	URL      string
	PublicID string
	Width    int
	Height   int
	Bytes    int64
}
