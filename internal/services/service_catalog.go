package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/mercadoparceiro/api/internal/domain"
	"github.com/mercadoparceiro/api/internal/platform/auth"
	"github.com/mercadoparceiro/api/internal/repositories"
	"github.com/mercadoparceiro/api/internal/validation"
)

const (
	serviceCodePrefix   = "SRV-"
	serviceCodeLength   = 6
	serviceCodeAttempts = 10
	serviceInsertTries  = 3
)

type ServiceCatalogDeps struct {
	Services    repositories.ServiceRepository
	Gate        AccessGate
	Clock       func() time.Time
	IDGenerator func() string
	// CodeSource returns the random part of a code; defaults to crypto/rand.
	CodeSource func() (string, error)
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type serviceCatalog struct {
	services   repositories.ServiceRepository
	gate       AccessGate
	clock      func() time.Time
	newID      func() string
	codeSource func() (string, error)
	logger     func(context.Context, string, map[string]any)
}

var _ ServiceCatalog = (*serviceCatalog)(nil)

func NewServiceCatalog(deps ServiceCatalogDeps) (ServiceCatalog, error) {
	if deps.Services == nil {
		return nil, errors.New("service catalog: service repository is required")
	}
	if deps.Gate == nil {
		return nil, errors.New("service catalog: access gate is required")
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = uuid.NewString
	}
	source := deps.CodeSource
	if source == nil {
		source = func() (string, error) { return randomCode(serviceCodeLength) }
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &serviceCatalog{
		services:   deps.Services,
		gate:       deps.Gate,
		clock:      utcClock(deps.Clock),
		newID:      idGen,
		codeSource: source,
		logger:     logger,
	}, nil
}

// GenerateCode returns an unused SRV-XXXXXX code. After repeated collisions it
// appends the current unix millis to the last candidate, stepping the millis
// until the result is free too.
func (c *serviceCatalog) GenerateCode(ctx context.Context) (string, error) {
	var candidate string
	for attempt := 0; attempt < serviceCodeAttempts; attempt++ {
		suffix, err := c.codeSource()
		if err != nil {
			return "", fmt.Errorf("service catalog: generate code: %w", err)
		}
		candidate = serviceCodePrefix + suffix
		exists, err := c.services.CodeExists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("service catalog: check code: %w", err)
		}
		if !exists {
			return candidate, nil
		}
	}
	millis := c.clock().UnixMilli()
	for attempt := int64(0); attempt < serviceCodeAttempts; attempt++ {
		fallback := candidate + "-" + strconv.FormatInt(millis+attempt, 10)
		exists, err := c.services.CodeExists(ctx, fallback)
		if err != nil {
			return "", fmt.Errorf("service catalog: check code: %w", err)
		}
		if !exists {
			c.logger(ctx, "service.code.fallback", map[string]any{"code": fallback})
			return fallback, nil
		}
	}
	return "", ErrServiceCodeConflict
}

func (c *serviceCatalog) CreateService(ctx context.Context, identity *auth.Identity, partnerID string, input validation.ServiceInput) (domain.Service, error) {
	if _, ok := callerID(identity); !ok {
		return domain.Service{}, ErrCallerUnauthenticated
	}
	if !c.gate.CanManagePartner(ctx, identity, partnerID) {
		return domain.Service{}, ErrCatalogForbidden
	}
	input, err := validation.ValidateService(input)
	if err != nil {
		return domain.Service{}, invalid(ErrCatalogInvalidInput, err)
	}
	now := c.clock()
	service := domain.Service{
		ID:              c.newID(),
		PartnerID:       partnerID,
		Name:            input.Name,
		Description:     input.Description,
		Price:           input.Price,
		DurationMinutes: input.DurationMinutes,
		Active:          input.Active,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	// The existence check races with other inserts; UNIQUE(code) decides.
	for attempt := 0; attempt < serviceInsertTries; attempt++ {
		code, err := c.GenerateCode(ctx)
		if err != nil {
			return domain.Service{}, err
		}
		service.Code = code
		err = c.services.Insert(ctx, service)
		if err == nil {
			c.logger(ctx, "service.created", map[string]any{"serviceId": service.ID, "code": service.Code})
			return service, nil
		}
		if isRepoConflict(err) && violatedConstraint(err) == repositories.ConstraintServiceCode {
			continue
		}
		return domain.Service{}, fmt.Errorf("service catalog: insert: %w", err)
	}
	return domain.Service{}, ErrServiceCodeConflict
}

// UpdateService changes the editable fields; the code never changes.
func (c *serviceCatalog) UpdateService(ctx context.Context, identity *auth.Identity, serviceID string, input validation.ServiceInput) (domain.Service, error) {
	if _, ok := callerID(identity); !ok {
		return domain.Service{}, ErrCallerUnauthenticated
	}
	if !c.gate.CanManageService(ctx, identity, serviceID) {
		return domain.Service{}, ErrCatalogForbidden
	}
	input, err := validation.ValidateService(input)
	if err != nil {
		return domain.Service{}, invalid(ErrCatalogInvalidInput, err)
	}
	service, err := c.services.FindByID(ctx, serviceID)
	if err != nil {
		return domain.Service{}, catalogLookupError("service", err)
	}
	service.Name = input.Name
	service.Description = input.Description
	service.Price = input.Price
	service.DurationMinutes = input.DurationMinutes
	service.Active = input.Active
	service.UpdatedAt = c.clock()
	if err := c.services.Update(ctx, service); err != nil {
		return domain.Service{}, catalogLookupError("service", err)
	}
	return service, nil
}

func (c *serviceCatalog) ListServices(ctx context.Context, identity *auth.Identity, partnerID string, pager domain.Pagination) (domain.Page[domain.Service], error) {
	if _, ok := callerID(identity); !ok {
		return domain.Page[domain.Service]{}, ErrCallerUnauthenticated
	}
	if !c.gate.CanManagePartner(ctx, identity, partnerID) {
		return domain.Page[domain.Service]{}, ErrCatalogForbidden
	}
	return c.services.List(ctx, partnerID, repositories.ListFilter{Pagination: pager})
}

func (c *serviceCatalog) DeleteService(ctx context.Context, identity *auth.Identity, serviceID string) error {
	if _, ok := callerID(identity); !ok {
		return ErrCallerUnauthenticated
	}
	if !c.gate.CanManageService(ctx, identity, serviceID) {
		return ErrCatalogForbidden
	}
	if err := c.services.Delete(ctx, serviceID); err != nil {
		return catalogLookupError("service", err)
	}
	c.logger(ctx, "service.deleted", map[string]any{"serviceId": serviceID})
	return nil
}

func catalogLookupError(entity string, err error) error {
	if isRepoNotFound(err) {
		return ErrCatalogNotFound
	}
	return fmt.Errorf("%s: %w", entity, err)
}
