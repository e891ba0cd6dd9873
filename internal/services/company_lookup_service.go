package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/mercadoparceiro/api/internal/domain"
	"github.com/mercadoparceiro/api/internal/platform/taxid"
	"github.com/mercadoparceiro/api/internal/validation"
)

// CompanyRegistry fetches registry data for a normalised CNPJ. Implemented by taxid.Client.
type CompanyRegistry interface {
	Lookup(ctx context.Context, cnpj string) (domain.CompanyInfo, error)
}

// CompanyCache is implemented by redisx.JSONCache[domain.CompanyInfo].
type CompanyCache interface {
	Get(ctx context.Context, id string) (domain.CompanyInfo, bool, error)
	Set(ctx context.Context, id string, value domain.CompanyInfo) error
}

type CompanyLookupServiceDeps struct {
	Registry CompanyRegistry
	Cache    CompanyCache
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type companyLookupService struct {
	registry CompanyRegistry
	cache    CompanyCache
	logger   func(context.Context, string, map[string]any)
}

var _ CompanyLookupService = (*companyLookupService)(nil)

func NewCompanyLookupService(deps CompanyLookupServiceDeps) (CompanyLookupService, error) {
	if deps.Registry == nil {
		return nil, errors.New("company lookup: registry client is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &companyLookupService{registry: deps.Registry, cache: deps.Cache, logger: logger}, nil
}

// Lookup normalises raw and serves cached results before calling the registry.
// Malformed input never reaches the network.
func (s *companyLookupService) Lookup(ctx context.Context, raw string) (domain.CompanyInfo, error) {
	cnpj, err := validation.NormalizeCNPJ(raw)
	if err != nil {
		return domain.CompanyInfo{}, invalid(ErrCNPJInvalid, err)
	}
	if s.cache != nil {
		info, ok, err := s.cache.Get(ctx, cnpj)
		switch {
		case err != nil:
			s.logger(ctx, "cnpj.cache.skipped", map[string]any{"error": err.Error()})
		case ok:
			return info, nil
		}
	}

	info, err := s.registry.Lookup(ctx, cnpj)
	if err != nil {
		if errors.Is(err, taxid.ErrNotFound) {
			return domain.CompanyInfo{}, ErrCNPJNotFound
		}
		s.logger(ctx, "cnpj.lookup.failed", map[string]any{"cnpj": cnpj, "error": err.Error()})
		return domain.CompanyInfo{}, fmt.Errorf("%w: %w", ErrCNPJLookupFailed, err)
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, cnpj, info); err != nil {
			s.logger(ctx, "cnpj.cache.skipped", map[string]any{"error": err.Error()})
		}
	}
	return info, nil
}
