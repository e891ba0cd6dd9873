package handlers

import (
	"errors"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mercadoparceiro/api/internal/domain"
	"github.com/mercadoparceiro/api/internal/platform/auth"
	"github.com/mercadoparceiro/api/internal/platform/httpx"
	"github.com/mercadoparceiro/api/internal/platform/storage"
	"github.com/mercadoparceiro/api/internal/services"
	"github.com/mercadoparceiro/api/internal/validation"
)

// multipart overhead on top of the image itself
const maxImageFormSize = storage.MaxUploadBytes + 64*1024

// ProductHandlers manages products, rental items, spaces and their stock.
type ProductHandlers struct {
	authn    *auth.Authenticator
	products services.ProductService
}

func NewProductHandlers(authn *auth.Authenticator, products services.ProductService) *ProductHandlers {
	return &ProductHandlers{authn: authn, products: products}
}

func (h *ProductHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(r chi.Router) {
		if h.authn != nil {
			r.Use(h.authn.RequireAuth())
		}
		r.Get("/partners/{partnerID}/products", h.listProducts)
		r.Post("/partners/{partnerID}/products", h.createProduct)
		r.Get("/partners/{partnerID}/products/{productID}", h.getProduct)
		r.Put("/partners/{partnerID}/products/{productID}", h.updateProduct)
		r.Post("/partners/{partnerID}/products/{productID}/image", h.uploadImage)
		r.Post("/partners/{partnerID}/products/{productID}/stock-movements", h.adjustStock)
		r.Get("/partners/{partnerID}/products/{productID}/stock-movements", h.listMovements)
	})
}

func (h *ProductHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.products == nil {
		serviceUnavailable(ctx, w, "product_service")
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
	page, err := h.products.ListProducts(ctx, identity, partnerID, pager)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildList(page, buildProductPayload))
}

func (h *ProductHandlers) createProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.products == nil {
		serviceUnavailable(ctx, w, "product_service")
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
	var input validation.ProductInput
	if !decodeJSONBody(w, r, &input) {
		return
	}
	product, err := h.products.CreateProduct(ctx, identity, partnerID, input)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, productResponse{Success: true, Product: buildProductPayload(product)})
}

func (h *ProductHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.products == nil {
		serviceUnavailable(ctx, w, "product_service")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	productID, ok := pathParam(w, r, "productID")
	if !ok {
		return
	}
	product, err := h.products.GetProduct(ctx, identity, productID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, productResponse{Success: true, Product: buildProductPayload(product)})
}

func (h *ProductHandlers) updateProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.products == nil {
		serviceUnavailable(ctx, w, "product_service")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	productID, ok := pathParam(w, r, "productID")
	if !ok {
		return
	}
	var input validation.ProductInput
	if !decodeJSONBody(w, r, &input) {
		return
	}
	product, err := h.products.UpdateProduct(ctx, identity, productID, input)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, productResponse{Success: true, Product: buildProductPayload(product)})
}

func (h *ProductHandlers) uploadImage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.products == nil {
		serviceUnavailable(ctx, w, "product_service")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	productID, ok := pathParam(w, r, "productID")
	if !ok {
		return
	}
	file, name, ok := readImagePart(w, r)
	if !ok {
		return
	}
	defer file.Close()

	product, err := h.products.SetProductImage(ctx, identity, productID, name, file)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, productResponse{Success: true, Product: buildProductPayload(product)})
}

type stockMovementRequest struct {
	Type     string `json:"type"`
	Quantity int    `json:"quantity"`
	Reason   string `json:"reason"`
}

func (h *ProductHandlers) adjustStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.products == nil {
		serviceUnavailable(ctx, w, "product_service")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	productID, ok := pathParam(w, r, "productID")
	if !ok {
		return
	}
	var req stockMovementRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	movement, err := h.products.AdjustStock(ctx, identity, productID, validation.StockAdjustmentInput{
		ProductID: productID,
		Type:      req.Type,
		Quantity:  req.Quantity,
		Reason:    req.Reason,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, map[string]any{"success": true, "movement": buildMovementPayload(movement)})
}

func (h *ProductHandlers) listMovements(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.products == nil {
		serviceUnavailable(ctx, w, "product_service")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	productID, ok := pathParam(w, r, "productID")
	if !ok {
		return
	}
	_, pager, ok := parsePager(w, r, nil)
	if !ok {
		return
	}
	page, err := h.products.ListStockMovements(ctx, identity, productID, pager)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildList(page, buildMovementPayload))
}

// readImagePart pulls the "file" part of a multipart upload, enforcing the
// upload ceiling before the image is decoded.
func readImagePart(w http.ResponseWriter, r *http.Request) (multipart.File, string, bool) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, maxImageFormSize)
	if err := r.ParseMultipartForm(maxImageFormSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpx.WriteError(ctx, w, httpx.NewError("image_too_large", "A imagem deve ter no máximo 10 MB", http.StatusRequestEntityTooLarge))
			return nil, "", false
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "Envie a imagem no campo \"file\".", http.StatusBadRequest))
		return nil, "", false
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "Envie a imagem no campo \"file\".", http.StatusBadRequest).WithField("file"))
		return nil, "", false
	}
	return file, header.Filename, true
}

type productResponse struct {
	Success bool           `json:"success"`
	Product productPayload `json:"product"`
}

type productPayload struct {
	ID          string `json:"id"`
	PartnerID   string `json:"partner_id"`
	Kind        string `json:"kind"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Price       int64  `json:"price"`
	TrackStock  bool   `json:"track_stock"`
	Stock       int    `json:"stock"`
	ImageURL    string `json:"image_url,omitempty"`
	Active      bool   `json:"active"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

func buildProductPayload(p domain.Product) productPayload {
	return productPayload{
		ID:          p.ID,
		PartnerID:   p.PartnerID,
		Kind:        string(p.Kind),
		Name:        p.Name,
		Description: p.Description,
		Price:       p.Price,
		TrackStock:  p.TrackStock,
		Stock:       p.Stock,
		ImageURL:    p.ImageURL,
		Active:      p.Active,
		CreatedAt:   formatTime(&p.CreatedAt),
		UpdatedAt:   formatTime(&p.UpdatedAt),
	}
}

type movementPayload struct {
	ID            string `json:"id"`
	ItemKind      string `json:"item_kind"`
	ItemID        string `json:"item_id"`
	Quantity      int    `json:"quantity"`
	PreviousStock int    `json:"previous_stock"`
	NewStock      int    `json:"new_stock"`
	Type          string `json:"type"`
	OrderID       string `json:"order_id,omitempty"`
	Reason        string `json:"reason,omitempty"`
	CreatedBy     string `json:"created_by,omitempty"`
	CreatedAt     string `json:"created_at"`
}

func buildMovementPayload(m domain.StockMovement) movementPayload {
	return movementPayload{
		ID:            m.ID,
		ItemKind:      string(m.Item.Kind),
		ItemID:        m.Item.ID,
		Quantity:      m.Quantity,
		PreviousStock: m.PreviousStock,
		NewStock:      m.NewStock,
		Type:          string(m.Type),
		OrderID:       deref(m.OrderID),
		Reason:        m.Reason,
		CreatedBy:     m.CreatedBy,
		CreatedAt:     formatTime(&m.CreatedAt),
	}
}
