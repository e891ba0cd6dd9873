package services

import (
	"context"
	"errors"
	"testing"

	"github.com/mercadoparceiro/api/internal/domain"
	"github.com/mercadoparceiro/api/internal/platform/taxid"
	"github.com/mercadoparceiro/api/internal/repositories"
	"github.com/mercadoparceiro/api/internal/validation"
)

type stubContactRepo struct {
	contacts map[string]domain.Contact
	filters  []repositories.ListFilter
}

func (s *stubContactRepo) Insert(_ context.Context, c domain.Contact) error {
	s.contacts[c.ID] = c
	return nil
}

func (s *stubContactRepo) Update(_ context.Context, c domain.Contact) error {
	if _, ok := s.contacts[c.ID]; !ok {
		return errNotFound("contact")
	}
	s.contacts[c.ID] = c
	return nil
}

func (s *stubContactRepo) Delete(_ context.Context, id string) error {
	if _, ok := s.contacts[id]; !ok {
		return errNotFound("contact")
	}
	delete(s.contacts, id)
	return nil
}

func (s *stubContactRepo) FindByID(_ context.Context, id string) (domain.Contact, error) {
	c, ok := s.contacts[id]
	if !ok {
		return domain.Contact{}, errNotFound("contact")
	}
	return c, nil
}

func (s *stubContactRepo) List(_ context.Context, _ string, filter repositories.ListFilter) (domain.Page[domain.Contact], error) {
	s.filters = append(s.filters, filter)
	return domain.Page[domain.Contact]{}, nil
}

func newContactFixture(t *testing.T, registry *stubRegistry) (ContactService, *stubContactRepo, *stubGate) {
	t.Helper()
	repo := &stubContactRepo{contacts: map[string]domain.Contact{}}
	gate := &stubGate{partners: map[string]string{"partner-1": "seller-1"}, owned: map[string]bool{}}
	lookup, err := NewCompanyLookupService(CompanyLookupServiceDeps{Registry: registry})
	if err != nil {
		t.Fatalf("new lookup: %v", err)
	}
	svc, err := NewContactService(ContactServiceDeps{
		Contacts:    repo,
		Gate:        gate,
		Companies:   lookup,
		Clock:       fixedClock(orderNow),
		IDGenerator: sequentialIDs("contact"),
	})
	if err != nil {
		t.Fatalf("new contact service: %v", err)
	}
	return svc, repo, gate
}

func TestCreateContactNormalises(t *testing.T) {
	svc, repo, _ := newContactFixture(t, &stubRegistry{})
	contact, err := svc.CreateContact(context.Background(), buyer("seller-1"), "partner-1", validation.ContactInput{
		Kind: "Customer", Name: "João", Document: "123.456.789-09", Email: " JOAO@Example.com ", Phone: "+55 (11) 98888-7777",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if contact.Document != "12345678909" || contact.Email != "joao@example.com" || contact.Phone != "11988887777" {
		t.Fatalf("unexpected contact %+v", contact)
	}
	if _, ok := repo.contacts[contact.ID]; !ok {
		t.Fatalf("contact not stored")
	}
}

func TestCreateSupplierFromCNPJ(t *testing.T) {
	registry := &stubRegistry{lookupFn: func(cnpj string) (domain.CompanyInfo, error) {
		return domain.CompanyInfo{
			CNPJ: cnpj, LegalName: "DISTRIBUIDORA PET SUL LTDA", Street: "Rua das Flores", Complement: "Sala 2",
			Number: "45", City: "Porto Alegre", State: "RS", PostalCode: "90010000", Email: "contato@petsul.com.br",
		}, nil
	}}
	svc, _, _ := newContactFixture(t, registry)

	contact, err := svc.CreateSupplierFromCNPJ(context.Background(), buyer("seller-1"), "partner-1", "11.222.333/0001-81")
	if err != nil {
		t.Fatalf("create supplier: %v", err)
	}
	if contact.Kind != domain.ContactKindSupplier || contact.Name != "DISTRIBUIDORA PET SUL LTDA" || contact.Document != "11222333000181" {
		t.Fatalf("unexpected supplier %+v", contact)
	}
	if contact.Street != "Rua das Flores Sala 2" {
		t.Fatalf("complement should be appended, got %q", contact.Street)
	}

	registry.lookupFn = func(string) (domain.CompanyInfo, error) { return domain.CompanyInfo{}, taxid.ErrNotFound }
	if _, err := svc.CreateSupplierFromCNPJ(context.Background(), buyer("seller-1"), "partner-1", "11222333000181"); !errors.Is(err, ErrCNPJNotFound) {
		t.Fatalf("expected cnpj not found, got %v", err)
	}
}

func TestListContactsValidatesKind(t *testing.T) {
	svc, repo, _ := newContactFixture(t, &stubRegistry{})
	if _, err := svc.ListContacts(context.Background(), buyer("seller-1"), "partner-1", "vendor", domain.Pagination{}); !errors.Is(err, ErrCatalogInvalidInput) {
		t.Fatalf("expected invalid kind, got %v", err)
	}
	if _, err := svc.ListContacts(context.Background(), buyer("seller-1"), "partner-1", domain.ContactKindSupplier, domain.Pagination{PageSize: 10}); err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(repo.filters) != 1 || repo.filters[0].Kind != "supplier" || repo.filters[0].Pagination.PageSize != 10 {
		t.Fatalf("unexpected filters %+v", repo.filters)
	}
}

func TestContactOwnership(t *testing.T) {
	svc, repo, gate := newContactFixture(t, &stubRegistry{})
	repo.contacts["c1"] = domain.Contact{ID: "c1", PartnerID: "partner-1", Kind: domain.ContactKindCustomer, Name: "Ana"}
	if err := svc.DeleteContact(context.Background(), buyer("intruder"), "c1"); !errors.Is(err, ErrCatalogForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	gate.owned["seller-1/c1"] = true
	if err := svc.DeleteContact(context.Background(), buyer("seller-1"), "c1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := svc.DeleteContact(context.Background(), buyer("seller-1"), "c1"); !errors.Is(err, ErrCatalogNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
