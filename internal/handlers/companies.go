package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mercadoparceiro/api/internal/domain"
	"github.com/mercadoparceiro/api/internal/platform/auth"
	"github.com/mercadoparceiro/api/internal/services"
)

// CompanyHandlers exposes the CNPJ registry lookup.
type CompanyHandlers struct {
	authn   *auth.Authenticator
	lookup  services.CompanyLookupService
	limiter RateLimiter
}

// NewCompanyHandlers builds the handlers. limiter may be nil.
func NewCompanyHandlers(authn *auth.Authenticator, lookup services.CompanyLookupService, limiter RateLimiter) *CompanyHandlers {
	return &CompanyHandlers{authn: authn, lookup: lookup, limiter: limiter}
}

func (h *CompanyHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(r chi.Router) {
		if h.authn != nil {
			r.Use(h.authn.RequireAuth())
		}
		r.Use(RateLimitMiddleware(h.limiter))
		r.Get("/cnpj/{cnpj}", h.lookupCNPJ)
	})
}

func (h *CompanyHandlers) lookupCNPJ(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.lookup == nil {
		serviceUnavailable(ctx, w, "cnpj_lookup")
		return
	}
	raw, ok := pathParam(w, r, "cnpj")
	if !ok {
		return
	}
	info, err := h.lookup.Lookup(ctx, raw)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, companyResponse{Success: true, Data: buildCompanyPayload(info)})
}

type companyResponse struct {
	Success bool           `json:"success"`
	Data    companyPayload `json:"data"`
}

type companyPayload struct {
	CNPJ       string `json:"cnpj"`
	LegalName  string `json:"razao_social"`
	TradeName  string `json:"nome_fantasia,omitempty"`
	Status     string `json:"situacao,omitempty"`
	Street     string `json:"logradouro,omitempty"`
	Number     string `json:"numero,omitempty"`
	Complement string `json:"complemento,omitempty"`
	District   string `json:"bairro,omitempty"`
	City       string `json:"municipio,omitempty"`
	State      string `json:"uf,omitempty"`
	PostalCode string `json:"cep,omitempty"`
	Phone      string `json:"telefone,omitempty"`
	Email      string `json:"email,omitempty"`
	OpenedAt   string `json:"data_abertura,omitempty"`
}

func buildCompanyPayload(info domain.CompanyInfo) companyPayload {
	payload := companyPayload{
		CNPJ:       info.CNPJ,
		LegalName:  info.LegalName,
		TradeName:  info.TradeName,
		Status:     info.Status,
		Street:     info.Street,
		Number:     info.Number,
		Complement: info.Complement,
		District:   info.District,
		City:       info.City,
		State:      info.State,
		PostalCode: info.PostalCode,
		Phone:      info.Phone,
		Email:      info.Email,
	}
	if info.OpenedAt != nil {
		payload.OpenedAt = info.OpenedAt.Format("2006-01-02")
	}
	return payload
}
