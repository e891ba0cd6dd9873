package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mercadoparceiro/api/internal/platform/auth"
	"github.com/mercadoparceiro/api/internal/platform/httpx"
	"github.com/mercadoparceiro/api/internal/platform/storage"
	"github.com/mercadoparceiro/api/internal/services"
)

// UploadHandlers accepts partner images that are not bound to a product,
// such as service banners and logos.
type UploadHandlers struct {
	authn *auth.Authenticator
	gate  services.AccessGate
	media services.MediaService
}

func NewUploadHandlers(authn *auth.Authenticator, gate services.AccessGate, media services.MediaService) *UploadHandlers {
	return &UploadHandlers{authn: authn, gate: gate, media: media}
}

func (h *UploadHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(r chi.Router) {
		if h.authn != nil {
			r.Use(h.authn.RequireAuth())
		}
		r.Post("/partners/{partnerID}/uploads", h.upload)
	})
}

func (h *UploadHandlers) upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.media == nil || h.gate == nil {
		serviceUnavailable(ctx, w, "upload_service")
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
	if !h.gate.CanManagePartner(ctx, identity, partnerID) {
		writeServiceError(ctx, w, services.ErrPartnerForbidden)
		return
	}

	file, name, ok := readImagePart(w, r)
	if !ok {
		return
	}
	defer file.Close()

	purpose := storage.AssetPurpose(strings.ToLower(strings.TrimSpace(r.FormValue("purpose"))))
	if purpose == "" {
		purpose = storage.PurposeService
	}
	if !purpose.Valid() {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_purpose", "Destino de imagem inválido.", http.StatusBadRequest).WithField("purpose"))
		return
	}

	image, err := h.media.UploadImage(ctx, services.UploadImageCommand{
		PartnerID: partnerID,
		Purpose:   string(purpose),
		FileName:  name,
		Reader:    file,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, map[string]any{
		"success":   true,
		"url":       image.URL,
		"public_id": image.PublicID,
		"width":     image.Width,
		"height":    image.Height,
	})
}
