package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/mercadoparceiro/api/internal/domain"
	"github.com/mercadoparceiro/api/internal/platform/auth"
	"github.com/mercadoparceiro/api/internal/platform/storage"
	"github.com/mercadoparceiro/api/internal/repositories"
	"github.com/mercadoparceiro/api/internal/validation"
)

const initialStockReason = "Estoque inicial"

type ProductServiceDeps struct {
	Products    repositories.ProductRepository
	Gate        AccessGate
	Ledger      StockLedger
	Media       MediaService
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type productService struct {
	products   repositories.ProductRepository
	gate       AccessGate
	ledger     StockLedger
	media      MediaService
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
}

var _ ProductService = (*productService)(nil)

func NewProductService(deps ProductServiceDeps) (ProductService, error) {
	switch {
	case deps.Products == nil:
		return nil, errors.New("product service: product repository is required")
	case deps.Gate == nil:
		return nil, errors.New("product service: access gate is required")
	case deps.Ledger == nil:
		return nil, errors.New("product service: stock ledger is required")
	}
	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = uuid.NewString
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &productService{
		products:   deps.Products,
		gate:       deps.Gate,
		ledger:     deps.Ledger,
		media:      deps.Media,
		unitOfWork: unit,
		clock:      utcClock(deps.Clock),
		newID:      idGen,
		logger:     logger,
	}, nil
}

// CreateProduct inserts the product with an empty counter and books any
// initial stock as a ledger adjustment in the same transaction.
func (s *productService) CreateProduct(ctx context.Context, identity *auth.Identity, partnerID string, input validation.ProductInput) (domain.Product, error) {
	actor, ok := callerID(identity)
	if !ok {
		return domain.Product{}, ErrCallerUnauthenticated
	}
	if !s.gate.CanManagePartner(ctx, identity, partnerID) {
		return domain.Product{}, ErrCatalogForbidden
	}
	input, err := validation.ValidateProduct(input)
	if err != nil {
		return domain.Product{}, invalid(ErrCatalogInvalidInput, err)
	}
	now := s.clock()
	product := domain.Product{
		ID:          s.newID(),
		PartnerID:   partnerID,
		Kind:        domain.ItemKind(input.Kind),
		Name:        input.Name,
		Description: input.Description,
		Price:       input.Price,
		TrackStock:  input.TrackStock,
		Active:      input.Active,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.products.Insert(txCtx, product); err != nil {
			return err
		}
		if !product.TrackStock || input.Stock == 0 {
			return nil
		}
		_, err := s.ledger.Adjust(txCtx, AdjustStockCommand{
			PartnerID: partnerID,
			ProductID: product.ID,
			Type:      domain.MovementTypeAdjustment,
			Quantity:  input.Stock,
			Reason:    initialStockReason,
			ActorID:   actor,
		})
		return err
	})
	if err != nil {
		return domain.Product{}, fmt.Errorf("product service: create: %w", err)
	}
	product.Stock = input.Stock
	s.logger(ctx, "product.created", map[string]any{"productId": product.ID, "kind": string(product.Kind)})
	return product, nil
}

// UpdateProduct edits the descriptive fields. Stock only changes through
// movements, so the counter in input is ignored.
func (s *productService) UpdateProduct(ctx context.Context, identity *auth.Identity, productID string, input validation.ProductInput) (domain.Product, error) {
	if _, ok := callerID(identity); !ok {
		return domain.Product{}, ErrCallerUnauthenticated
	}
	if !s.gate.CanManageProduct(ctx, identity, productID) {
		return domain.Product{}, ErrCatalogForbidden
	}
	input, err := validation.ValidateProduct(input)
	if err != nil {
		return domain.Product{}, invalid(ErrCatalogInvalidInput, err)
	}
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return domain.Product{}, catalogLookupError("product", err)
	}
	product.Kind = domain.ItemKind(input.Kind)
	product.Name = input.Name
	product.Description = input.Description
	product.Price = input.Price
	product.TrackStock = input.TrackStock
	product.Active = input.Active
	product.UpdatedAt = s.clock()
	if err := s.products.Update(ctx, product); err != nil {
		return domain.Product{}, catalogLookupError("product", err)
	}
	return product, nil
}

func (s *productService) GetProduct(ctx context.Context, identity *auth.Identity, productID string) (domain.Product, error) {
	if _, ok := callerID(identity); !ok {
		return domain.Product{}, ErrCallerUnauthenticated
	}
	if !s.gate.CanManageProduct(ctx, identity, productID) {
		return domain.Product{}, ErrCatalogForbidden
	}
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return domain.Product{}, catalogLookupError("product", err)
	}
	return product, nil
}

func (s *productService) ListProducts(ctx context.Context, identity *auth.Identity, partnerID string, pager domain.Pagination) (domain.Page[domain.Product], error) {
	if _, ok := callerID(identity); !ok {
		return domain.Page[domain.Product]{}, ErrCallerUnauthenticated
	}
	if !s.gate.CanManagePartner(ctx, identity, partnerID) {
		return domain.Page[domain.Product]{}, ErrCatalogForbidden
	}
	return s.products.List(ctx, partnerID, repositories.ListFilter{Pagination: pager})
}

// SetProductImage uploads a new image and drops the previous one from the host.
func (s *productService) SetProductImage(ctx context.Context, identity *auth.Identity, productID, fileName string, r io.Reader) (domain.Product, error) {
	if _, ok := callerID(identity); !ok {
		return domain.Product{}, ErrCallerUnauthenticated
	}
	if s.media == nil {
		return domain.Product{}, ErrUploadFailed
	}
	if !s.gate.CanManageProduct(ctx, identity, productID) {
		return domain.Product{}, ErrCatalogForbidden
	}
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return domain.Product{}, catalogLookupError("product", err)
	}
	image, err := s.media.UploadImage(ctx, UploadImageCommand{
		PartnerID: product.PartnerID,
		Purpose:   string(storage.PurposeProduct),
		FileName:  fileName,
		Reader:    r,
	})
	if err != nil {
		return domain.Product{}, err
	}
	now := s.clock()
	if err := s.products.SetImage(ctx, product.ID, image.URL, image.PublicID, now); err != nil {
		if derr := s.media.DeleteImage(ctx, image.PublicID); derr != nil {
			s.logger(ctx, "product.image.cleanup.failed", map[string]any{"publicId": image.PublicID, "error": derr.Error()})
		}
		return domain.Product{}, catalogLookupError("product", err)
	}
	previous := product.ImagePublicID
	product.ImageURL = image.URL
	product.ImagePublicID = image.PublicID
	product.UpdatedAt = now
	if previous != "" && previous != image.PublicID {
		if err := s.media.DeleteImage(ctx, previous); err != nil {
			s.logger(ctx, "product.image.cleanup.failed", map[string]any{"publicId": previous, "error": err.Error()})
		}
	}
	return product, nil
}

func (s *productService) AdjustStock(ctx context.Context, identity *auth.Identity, productID string, input validation.StockAdjustmentInput) (domain.StockMovement, error) {
	actor, ok := callerID(identity)
	if !ok {
		return domain.StockMovement{}, ErrCallerUnauthenticated
	}
	input.ProductID = productID
	input, err := validation.ValidateStockAdjustment(input)
	if err != nil {
		return domain.StockMovement{}, invalid(ErrStockInvalidInput, err)
	}
	if !s.gate.CanManageProduct(ctx, identity, productID) {
		return domain.StockMovement{}, ErrCatalogForbidden
	}
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return domain.StockMovement{}, catalogLookupError("product", err)
	}
	return s.ledger.Adjust(ctx, AdjustStockCommand{
		PartnerID: product.PartnerID,
		ProductID: product.ID,
		Type:      domain.MovementType(input.Type),
		Quantity:  input.Quantity,
		Reason:    input.Reason,
		ActorID:   actor,
	})
}

func (s *productService) ListStockMovements(ctx context.Context, identity *auth.Identity, productID string, pager domain.Pagination) (domain.Page[domain.StockMovement], error) {
	if _, ok := callerID(identity); !ok {
		return domain.Page[domain.StockMovement]{}, ErrCallerUnauthenticated
	}
	if !s.gate.CanManageProduct(ctx, identity, productID) {
		return domain.Page[domain.StockMovement]{}, ErrCatalogForbidden
	}
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return domain.Page[domain.StockMovement]{}, catalogLookupError("product", err)
	}
	return s.ledger.ListMovements(ctx, product.PartnerID, product.ID, pager)
}
