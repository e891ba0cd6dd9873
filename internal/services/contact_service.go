package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mercadoparceiro/api/internal/domain"
	"github.com/mercadoparceiro/api/internal/platform/auth"
	"github.com/mercadoparceiro/api/internal/repositories"
	"github.com/mercadoparceiro/api/internal/validation"
)

type ContactServiceDeps struct {
	Contacts    repositories.ContactRepository
	Gate        AccessGate
	Companies   CompanyLookupService
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type contactService struct {
	contacts  repositories.ContactRepository
	gate      AccessGate
	companies CompanyLookupService
	clock     func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

var _ ContactService = (*contactService)(nil)

func NewContactService(deps ContactServiceDeps) (ContactService, error) {
	if deps.Contacts == nil {
		return nil, errors.New("contact service: contact repository is required")
	}
	if deps.Gate == nil {
		return nil, errors.New("contact service: access gate is required")
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = uuid.NewString
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &contactService{
		contacts:  deps.Contacts,
		gate:      deps.Gate,
		companies: deps.Companies,
		clock:     utcClock(deps.Clock),
		newID:     idGen,
		logger:    logger,
	}, nil
}

func (s *contactService) CreateContact(ctx context.Context, identity *auth.Identity, partnerID string, input validation.ContactInput) (domain.Contact, error) {
	if _, ok := callerID(identity); !ok {
		return domain.Contact{}, ErrCallerUnauthenticated
	}
	if !s.gate.CanManagePartner(ctx, identity, partnerID) {
		return domain.Contact{}, ErrCatalogForbidden
	}
	input, err := validation.ValidateContact(input)
	if err != nil {
		return domain.Contact{}, invalid(ErrCatalogInvalidInput, err)
	}
	now := s.clock()
	contact := contactFromInput(input)
	contact.ID = s.newID()
	contact.PartnerID = partnerID
	contact.CreatedAt = now
	contact.UpdatedAt = now
	if err := s.contacts.Insert(ctx, contact); err != nil {
		return domain.Contact{}, fmt.Errorf("contact service: insert: %w", err)
	}
	s.logger(ctx, "contact.created", map[string]any{"contactId": contact.ID, "kind": string(contact.Kind)})
	return contact, nil
}

func (s *contactService) UpdateContact(ctx context.Context, identity *auth.Identity, contactID string, input validation.ContactInput) (domain.Contact, error) {
	if _, ok := callerID(identity); !ok {
		return domain.Contact{}, ErrCallerUnauthenticated
	}
	if !s.gate.CanManageContact(ctx, identity, contactID) {
		return domain.Contact{}, ErrCatalogForbidden
	}
	input, err := validation.ValidateContact(input)
	if err != nil {
		return domain.Contact{}, invalid(ErrCatalogInvalidInput, err)
	}
	current, err := s.contacts.FindByID(ctx, contactID)
	if err != nil {
		return domain.Contact{}, catalogLookupError("contact", err)
	}
	updated := contactFromInput(input)
	updated.ID = current.ID
	updated.PartnerID = current.PartnerID
	updated.CreatedAt = current.CreatedAt
	updated.UpdatedAt = s.clock()
	if err := s.contacts.Update(ctx, updated); err != nil {
		return domain.Contact{}, catalogLookupError("contact", err)
	}
	return updated, nil
}

func (s *contactService) ListContacts(ctx context.Context, identity *auth.Identity, partnerID string, kind domain.ContactKind, pager domain.Pagination) (domain.Page[domain.Contact], error) {
	if _, ok := callerID(identity); !ok {
		return domain.Page[domain.Contact]{}, ErrCallerUnauthenticated
	}
	if !s.gate.CanManagePartner(ctx, identity, partnerID) {
		return domain.Page[domain.Contact]{}, ErrCatalogForbidden
	}
	switch kind {
	case "", domain.ContactKindCustomer, domain.ContactKindSupplier:
	default:
		return domain.Page[domain.Contact]{}, fmt.Errorf("%w: unknown contact kind %q", ErrCatalogInvalidInput, kind)
	}
	return s.contacts.List(ctx, partnerID, repositories.ListFilter{Pagination: pager, Kind: string(kind)})
}

func (s *contactService) DeleteContact(ctx context.Context, identity *auth.Identity, contactID string) error {
	if _, ok := callerID(identity); !ok {
		return ErrCallerUnauthenticated
	}
	if !s.gate.CanManageContact(ctx, identity, contactID) {
		return ErrCatalogForbidden
	}
	if err := s.contacts.Delete(ctx, contactID); err != nil {
		return catalogLookupError("contact", err)
	}
	return nil
}

// CreateSupplierFromCNPJ prefills a supplier from the company registry.
func (s *contactService) CreateSupplierFromCNPJ(ctx context.Context, identity *auth.Identity, partnerID, cnpj string) (domain.Contact, error) {
	if _, ok := callerID(identity); !ok {
		return domain.Contact{}, ErrCallerUnauthenticated
	}
	if !s.gate.CanManagePartner(ctx, identity, partnerID) {
		return domain.Contact{}, ErrCatalogForbidden
	}
	if s.companies == nil {
		return domain.Contact{}, ErrCNPJLookupFailed
	}
	info, err := s.companies.Lookup(ctx, cnpj)
	if err != nil {
		return domain.Contact{}, err
	}
	return s.CreateContact(ctx, identity, partnerID, supplierInput(info))
}

func supplierInput(info domain.CompanyInfo) validation.ContactInput {
	name := strings.TrimSpace(info.TradeName)
	if name == "" {
		name = strings.TrimSpace(info.LegalName)
	}
	street := info.Street
	if info.Complement != "" {
		street = strings.TrimSpace(street + " " + info.Complement)
	}
	return validation.ContactInput{
		Kind:       string(domain.ContactKindSupplier),
		Name:       truncateRunes(name, 120),
		Document:   info.CNPJ,
		Email:      info.Email,
		Phone:      info.Phone,
		Street:     truncateRunes(street, 120),
		Number:     truncateRunes(info.Number, 10),
		District:   truncateRunes(info.District, 80),
		City:       truncateRunes(info.City, 80),
		State:      info.State,
		PostalCode: info.PostalCode,
		Notes:      truncateRunes(info.LegalName, 500),
	}
}

func truncateRunes(value string, limit int) string {
	runes := []rune(strings.TrimSpace(value))
	if len(runes) <= limit {
		return string(runes)
	}
	return string(runes[:limit])
}

func contactFromInput(in validation.ContactInput) domain.Contact {
	return domain.Contact{
		Kind:       domain.ContactKind(in.Kind),
		Name:       in.Name,
		Document:   in.Document,
		Email:      in.Email,
		Phone:      in.Phone,
		Street:     in.Street,
		Number:     in.Number,
		District:   in.District,
		City:       in.City,
		State:      in.State,
		PostalCode: in.PostalCode,
		Notes:      in.Notes,
	}
}
