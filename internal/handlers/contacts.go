package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mercadoparceiro/api/internal/domain"
	"github.com/mercadoparceiro/api/internal/platform/auth"
	"github.com/mercadoparceiro/api/internal/services"
	"github.com/mercadoparceiro/api/internal/validation"
)

// ContactHandlers manages a partner's customers and suppliers.
type ContactHandlers struct {
	authn    *auth.Authenticator
	contacts services.ContactService
}

func NewContactHandlers(authn *auth.Authenticator, contacts services.ContactService) *ContactHandlers {
	return &ContactHandlers{authn: authn, contacts: contacts}
}

func (h *ContactHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(r chi.Router) {
		if h.authn != nil {
			r.Use(h.authn.RequireAuth())
		}
		r.Get("/partners/{partnerID}/contacts", h.listContacts)
		r.Post("/partners/{partnerID}/contacts", h.createContact)
		r.Put("/partners/{partnerID}/contacts/{contactID}", h.updateContact)
		r.Delete("/partners/{partnerID}/contacts/{contactID}", h.deleteContact)
		r.Post("/partners/{partnerID}/suppliers:from-cnpj", h.supplierFromCNPJ)
	})
}

func (h *ContactHandlers) listContacts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.contacts == nil {
		serviceUnavailable(ctx, w, "contact_service")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	partnerID, ok := pathParam(w, r, "partnerID")
	if !ok {
		return
	}
	params, pager, ok := parsePager(w, r, map[string][]string{
		"kind": {string(domain.ContactKindCustomer), string(domain.ContactKindSupplier)},
	})
	if !ok {
		return
	}
	page, err := h.contacts.ListContacts(ctx, identity, partnerID, domain.ContactKind(params.Filter("kind")), pager)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildList(page, buildContactPayload))
}

func (h *ContactHandlers) createContact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.contacts == nil {
		serviceUnavailable(ctx, w, "contact_service")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	partnerID, ok := pathParam(w, r, "partnerID")
	if !ok {
		return
	}
	var input validation.ContactInput
	if !decodeJSONBody(w, r, &input) {
		return
	}
	contact, err := h.contacts.CreateContact(ctx, identity, partnerID, input)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, contactResponse{Success: true, Contact: buildContactPayload(contact)})
}

func (h *ContactHandlers) updateContact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.contacts == nil {
		serviceUnavailable(ctx, w, "contact_service")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	contactID, ok := pathParam(w, r, "contactID")
	if !ok {
		return
	}
	var input validation.ContactInput
	if !decodeJSONBody(w, r, &input) {
		return
	}
	contact, err := h.contacts.UpdateContact(ctx, identity, contactID, input)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, contactResponse{Success: true, Contact: buildContactPayload(contact)})
}

func (h *ContactHandlers) deleteContact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.contacts == nil {
		serviceUnavailable(ctx, w, "contact_service")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	contactID, ok := pathParam(w, r, "contactID")
	if !ok {
		return
	}
	if err := h.contacts.DeleteContact(ctx, identity, contactID); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type supplierFromCNPJRequest struct {
	CNPJ string `json:"cnpj"`
}

func (h *ContactHandlers) supplierFromCNPJ(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.contacts == nil {
		serviceUnavailable(ctx, w, "contact_service")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	partnerID, ok := pathParam(w, r, "partnerID")
	if !ok {
		return
	}
	var req supplierFromCNPJRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	contact, err := h.contacts.CreateSupplierFromCNPJ(ctx, identity, partnerID, req.CNPJ)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, contactResponse{Success: true, Contact: buildContactPayload(contact)})
}

type contactResponse struct {
	Success bool           `json:"success"`
	Contact contactPayload `json:"contact"`
}

type contactPayload struct {
	ID         string `json:"id"`
	PartnerID  string `json:"partner_id"`
	Kind       string `json:"kind"`
	Name       string `json:"name"`
	Document   string `json:"document,omitempty"`
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Street     string `json:"street,omitempty"`
	Number     string `json:"number,omitempty"`
	District   string `json:"district,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Notes      string `json:"notes,omitempty"`
	CreatedAt  string `json:"created_at"`
}

func buildContactPayload(c domain.Contact) contactPayload {
	return contactPayload{
		ID:         c.ID,
		PartnerID:  c.PartnerID,
		Kind:       string(c.Kind),
		Name:       c.Name,
		Document:   c.Document,
		Email:      c.Email,
		Phone:      c.Phone,
		Street:     c.Street,
		Number:     c.Number,
		District:   c.District,
		City:       c.City,
		State:      c.State,
		PostalCode: c.PostalCode,
		Notes:      c.Notes,
		CreatedAt:  formatTime(&c.CreatedAt),
	}
}
