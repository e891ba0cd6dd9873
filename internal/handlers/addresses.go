package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mercadoparceiro/api/internal/domain"
	"github.com/mercadoparceiro/api/internal/platform/auth"
	"github.com/mercadoparceiro/api/internal/services"
	"github.com/mercadoparceiro/api/internal/validation"
)

// AddressHandlers serves the caller's address book under /me/addresses.
type AddressHandlers struct {
	authn     *auth.Authenticator
	addresses services.AddressService
}

func NewAddressHandlers(authn *auth.Authenticator, addresses services.AddressService) *AddressHandlers {
	return &AddressHandlers{authn: authn, addresses: addresses}
}

// Routes registers the address endpoints.
func (h *AddressHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(r chi.Router) {
		if h.authn != nil {
			r.Use(h.authn.RequireAuth())
		}
		r.Get("/me/addresses", h.listAddresses)
		r.Post("/me/addresses", h.createAddress)
		r.Put("/me/addresses/{addressID}", h.updateAddress)
		r.Delete("/me/addresses/{addressID}", h.deleteAddress)
		r.Post("/me/addresses/{addressID}:default", h.setDefault)
	})
}

func (h *AddressHandlers) listAddresses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.addresses == nil {
		serviceUnavailable(ctx, w, "address_service")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	addresses, err := h.addresses.List(ctx, identity)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	payload := make([]addressPayload, 0, len(addresses))
	for _, addr := range addresses {
		payload = append(payload, buildAddressPayload(addr))
	}
	writeJSONResponse(w, http.StatusOK, listResponse[addressPayload]{Items: payload})
}

func (h *AddressHandlers) createAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.addresses == nil {
		serviceUnavailable(ctx, w, "address_service")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var input validation.AddressInput
	if !decodeJSONBody(w, r, &input) {
		return
	}
	saved, err := h.addresses.Create(ctx, identity, input)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/me/addresses/"+saved.ID)
	writeJSONResponse(w, http.StatusCreated, addressResponse{Success: true, Address: buildAddressPayload(saved)})
}

func (h *AddressHandlers) updateAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.addresses == nil {
		serviceUnavailable(ctx, w, "address_service")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	addressID, ok := pathParam(w, r, "addressID")
	if !ok {
		return
	}
	var input validation.AddressInput
	if !decodeJSONBody(w, r, &input) {
		return
	}
	saved, err := h.addresses.Update(ctx, identity, addressID, input)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, addressResponse{Success: true, Address: buildAddressPayload(saved)})
}

func (h *AddressHandlers) deleteAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.addresses == nil {
		serviceUnavailable(ctx, w, "address_service")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	addressID, ok := pathParam(w, r, "addressID")
	if !ok {
		return
	}
	if err := h.addresses.Delete(ctx, identity, addressID); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AddressHandlers) setDefault(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.addresses == nil {
		serviceUnavailable(ctx, w, "address_service")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	addressID, ok := pathParam(w, r, "addressID")
	if !ok {
		return
	}
	saved, err := h.addresses.SetDefault(ctx, identity, addressID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, addressResponse{Success: true, Address: buildAddressPayload(saved)})
}

type addressResponse struct {
	Success bool           `json:"success"`
	Address addressPayload `json:"address"`
}

type addressPayload struct {
	ID         string `json:"id"`
	Label      string `json:"label,omitempty"`
	Recipient  string `json:"recipient"`
	Street     string `json:"street"`
	Number     string `json:"number"`
	Complement string `json:"complement,omitempty"`
	District   string `json:"district"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Phone      string `json:"phone,omitempty"`
	IsDefault  bool   `json:"is_default"`
}

func buildAddressPayload(addr domain.Address) addressPayload {
	return addressPayload{
		ID:         addr.ID,
		Label:      addr.Label,
		Recipient:  addr.Recipient,
		Street:     addr.Street,
		Number:     addr.Number,
		Complement: addr.Complement,
		District:   addr.District,
		City:       addr.City,
		State:      addr.State,
		PostalCode: addr.PostalCode,
		Phone:      addr.Phone,
		IsDefault:  addr.IsDefault,
	}
}
