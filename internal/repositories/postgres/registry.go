// Package postgres implements the repositories on PostgreSQL through pgx.
package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"

	pg "github.com/mercadoparceiro/api/internal/platform/postgres"
	"github.com/mercadoparceiro/api/internal/repositories"
)

// Registry wires every Postgres repository around one pool.
type Registry struct {
	pool   *pgxpool.Pool
	health repositories.HealthRepository

	orders    *OrderRepository
	stock     *StockRepository
	catalog   *CatalogRepository
	products  *ProductRepository
	services  *ServiceRepository
	contacts  *ContactRepository
	partners  *PartnerRepository
	payments  *PaymentConfigRepository
	users     *UserRepository
	addresses *AddressRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds the repositories. health may be nil when readiness is not exposed.
func NewRegistry(pool *pgxpool.Pool, health repositories.HealthRepository) (*Registry, error) {
	if pool == nil {
		return nil, errors.New("postgres registry: pool is required")
	}
	return &Registry{
		pool:      pool,
		health:    health,
		orders:    &OrderRepository{pool: pool},
		stock:     &StockRepository{pool: pool},
		catalog:   &CatalogRepository{pool: pool},
		products:  &ProductRepository{pool: pool},
		services:  &ServiceRepository{pool: pool},
		contacts:  &ContactRepository{pool: pool},
		partners:  &PartnerRepository{pool: pool},
		payments:  &PaymentConfigRepository{pool: pool},
		users:     &UserRepository{pool: pool},
		addresses: &AddressRepository{pool: pool},
	}, nil
}

func (r *Registry) Close(context.Context) error {
	r.pool.Close()
	return nil
}

func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return pg.RunInTx(ctx, r.pool, fn)
}

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }
func (r *Registry) Stock() repositories.StockRepository { return r.stock }
func (r *Registry) Catalog() repositories.CatalogRepository { return r.catalog }
func (r *Registry) Products() repositories.ProductRepository { return r.products }
func (r *Registry) Services() repositories.ServiceRepository { return r.services }
func (r *Registry) Contacts() repositories.ContactRepository { return r.contacts }
func (r *Registry) Partners() repositories.PartnerRepository { return r.partners }
func (r *Registry) PaymentConfigs() repositories.PaymentConfigRepository { return r.payments }
func (r *Registry) Users() repositories.UserRepository { return r.users }
func (r *Registry) Addresses() repositories.AddressRepository { return r.addresses }
func (r *Registry) Health() repositories.HealthRepository { return r.health }
