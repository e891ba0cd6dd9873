package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mercadoparceiro/api/internal/domain"
	"github.com/mercadoparceiro/api/internal/platform/auth"
	"github.com/mercadoparceiro/api/internal/services"
	"github.com/mercadoparceiro/api/internal/validation"
)

// ServiceCatalogHandlers manages a partner's bookable services.
type ServiceCatalogHandlers struct {
	authn   *auth.Authenticator
	catalog services.ServiceCatalog
}

func NewServiceCatalogHandlers(authn *auth.Authenticator, catalog services.ServiceCatalog) *ServiceCatalogHandlers {
	return &ServiceCatalogHandlers{authn: authn, catalog: catalog}
}

func (h *ServiceCatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(r chi.Router) {
		if h.authn != nil {
			r.Use(h.authn.RequireAuth())
		}
		r.Get("/partners/{partnerID}/services", h.listServices)
		r.Post("/partners/{partnerID}/services", h.createService)
		r.Get("/partners/{partnerID}/services:next-code", h.nextCode)
		r.Put("/partners/{partnerID}/services/{serviceID}", h.updateService)
		r.Delete("/partners/{partnerID}/services/{serviceID}", h.deleteService)
	})
}

func (h *ServiceCatalogHandlers) listServices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		serviceUnavailable(ctx, w, "service_catalog")
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
	_, pager, ok := parsePager(w, r, nil)
	if !ok {
		return
	}
	page, err := h.catalog.ListServices(ctx, identity, partnerID, pager)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildList(page, buildServicePayload))
}

func (h *ServiceCatalogHandlers) createService(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		serviceUnavailable(ctx, w, "service_catalog")
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
	var input validation.ServiceInput
	if !decodeJSONBody(w, r, &input) {
		return
	}
	svc, err := h.catalog.CreateService(ctx, identity, partnerID, input)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, serviceResponse{Success: true, Service: buildServicePayload(svc)})
}

func (h *ServiceCatalogHandlers) nextCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		serviceUnavailable(ctx, w, "service_catalog")
		return
	}
	if _, ok := requireIdentity(w, r); !ok {
		return
	}
	code, err := h.catalog.GenerateCode(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"success": true, "code": code})
}

func (h *ServiceCatalogHandlers) updateService(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		serviceUnavailable(ctx, w, "service_catalog")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	serviceID, ok := pathParam(w, r, "serviceID")
	if !ok {
		return
	}
	var input validation.ServiceInput
	if !decodeJSONBody(w, r, &input) {
		return
	}
	svc, err := h.catalog.UpdateService(ctx, identity, serviceID, input)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, serviceResponse{Success: true, Service: buildServicePayload(svc)})
}

func (h *ServiceCatalogHandlers) deleteService(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		serviceUnavailable(ctx, w, "service_catalog")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	serviceID, ok := pathParam(w, r, "serviceID")
	if !ok {
		return
	}
	if err := h.catalog.DeleteService(ctx, identity, serviceID); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type serviceResponse struct {
	Success bool           `json:"success"`
	Service servicePayload `json:"service"`
}

type servicePayload struct {
	ID              string `json:"id"`
	PartnerID       string `json:"partner_id"`
	Code            string `json:"code"`
	Name            string `json:"name"`
	Description     string `json:"description,omitempty"`
	Price           int64  `json:"price"`
	DurationMinutes int    `json:"duration_minutes"`
	Active          bool   `json:"active"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

func buildServicePayload(svc domain.Service) servicePayload {
	return servicePayload{
		ID:              svc.ID,
		PartnerID:       svc.PartnerID,
		Code:            svc.Code,
		Name:            svc.Name,
		Description:     svc.Description,
		Price:           svc.Price,
		DurationMinutes: svc.DurationMinutes,
		Active:          svc.Active,
		CreatedAt:       formatTime(&svc.CreatedAt),
		UpdatedAt:       formatTime(&svc.UpdatedAt),
	}
}
