package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mercadoparceiro/api/internal/domain"
	pg "github.com/mercadoparceiro/api/internal/platform/postgres"
	"github.com/mercadoparceiro/api/internal/repositories"
)

// CatalogRepository reads products and services through one tagged reference.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

var _ repositories.CatalogRepository = (*CatalogRepository)(nil)

func (r *CatalogRepository) FindItem(ctx context.Context, ref domain.ItemRef) (domain.CatalogItem, error) {
	item := domain.CatalogItem{Ref: ref}
	q := pg.Conn(ctx, r.pool)
	var err error
	switch ref.Kind {
	case domain.ItemKindService:
		err = q.QueryRow(ctx, `SELECT partner_id, name, price, active FROM services WHERE id = $1`, ref.ID).
			Scan(&item.PartnerID, &item.Name, &item.UnitPrice, &item.Active)
	case domain.ItemKindProduct, domain.ItemKindRental, domain.ItemKindSpace:
		err = q.QueryRow(ctx, `SELECT partner_id, name, price, track_stock, stock, active FROM products WHERE id = $1 AND kind = $2`,
			ref.ID, string(ref.Kind)).Scan(&item.PartnerID, &item.Name, &item.UnitPrice, &item.TrackStock, &item.Stock, &item.Active)
		if !ref.Kind.Stockable() {
			item.TrackStock = false
		}
	default:
		return domain.CatalogItem{}, pg.WrapError("catalog.find", fmt.Errorf("unknown item kind %q", ref.Kind))
	}
	if err != nil {
		return domain.CatalogItem{}, pg.WrapError("catalog.find", err)
	}
	return item, nil
}

// ProductRepository stores products, rentals and spaces.
type ProductRepository struct {
	pool *pgxpool.Pool
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

const productColumns = `id, partner_id, kind, name, description, price, track_stock, stock, image_url,
	image_public_id, active, created_at, updated_at`

func scanProduct(row pgx.Row) (domain.Product, error) {
	var (
		p    domain.Product
		kind string
	)
	err := row.Scan(&p.ID, &p.PartnerID, &kind, &p.Name, &p.Description, &p.Price, &p.TrackStock, &p.Stock,
		&p.ImageURL, &p.ImagePublicID, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	p.Kind = domain.ItemKind(kind)
	return p, err
}

func (r *ProductRepository) Insert(ctx context.Context, p domain.Product) error {
	_, err := pg.Conn(ctx, r.pool).Exec(ctx, `INSERT INTO products (`+productColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		p.ID, p.PartnerID, string(p.Kind), p.Name, p.Description, p.Price, p.TrackStock, p.Stock,
		p.ImageURL, p.ImagePublicID, p.Active, p.CreatedAt, p.UpdatedAt)
	return pg.WrapError("products.insert", err)
}

// Update never touches the stock counter; stock changes go through the ledger.
func (r *ProductRepository) Update(ctx context.Context, p domain.Product) error {
	tag, err := pg.Conn(ctx, r.pool).Exec(ctx, `UPDATE products SET kind = $2, name = $3, description = $4,
		price = $5, track_stock = $6, active = $7, updated_at = $8 WHERE id = $1`,
		p.ID, string(p.Kind), p.Name, p.Description, p.Price, p.TrackStock, p.Active, p.UpdatedAt)
	if err != nil {
		return pg.WrapError("products.update", err)
	}
	if tag.RowsAffected() == 0 {
		return pg.NotFound("products.update")
	}
	return nil
}

func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	p, err := scanProduct(pg.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, productID))
	if err != nil {
		return domain.Product{}, pg.WrapError("products.find", err)
	}
	return p, nil
}

func (r *ProductRepository) List(ctx context.Context, partnerID string, filter repositories.ListFilter) (domain.Page[domain.Product], error) {
	ks, err := newKeyset(filter.Pagination)
	if err != nil {
		return domain.Page[domain.Product]{}, err
	}
	query := `SELECT ` + productColumns + ` FROM products WHERE partner_id = $1`
	args := []any{partnerID}
	if filter.Kind != "" {
		args = append(args, filter.Kind)
		query += " AND kind = $2"
	}
	query, args = ks.apply(query, args, "")
	rows, err := pg.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return domain.Page[domain.Product]{}, pg.WrapError("products.list", err)
	}
	defer rows.Close()
	var items []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return domain.Page[domain.Product]{}, pg.WrapError("products.list", err)
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return domain.Page[domain.Product]{}, pg.WrapError("products.list", err)
	}
	return page(ks, items, func(p domain.Product) (time.Time, string) { return p.CreatedAt, p.ID })
}

func (r *ProductRepository) SetImage(ctx context.Context, productID, url, publicID string, at time.Time) error {
	tag, err := pg.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE products SET image_url = $2, image_public_id = $3, updated_at = $4 WHERE id = $1`, productID, url, publicID, at)
	if err != nil {
		return pg.WrapError("products.set_image", err)
	}
	if tag.RowsAffected() == 0 {
		return pg.NotFound("products.set_image")
	}
	return nil
}

// ServiceRepository stores bookable services.
type ServiceRepository struct {
	pool *pgxpool.Pool
}

var _ repositories.ServiceRepository = (*ServiceRepository)(nil)

const serviceColumns = `id, partner_id, code, name, description, price, duration_minutes, active, created_at, updated_at`

func scanService(row pgx.Row) (domain.Service, error) {
	var s domain.Service
	err := row.Scan(&s.ID, &s.PartnerID, &s.Code, &s.Name, &s.Description, &s.Price, &s.DurationMinutes,
		&s.Active, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

func (r *ServiceRepository) Insert(ctx context.Context, s domain.Service) error {
	_, err := pg.Conn(ctx, r.pool).Exec(ctx, `INSERT INTO services (`+serviceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		s.ID, s.PartnerID, s.Code, s.Name, s.Description, s.Price, s.DurationMinutes, s.Active, s.CreatedAt, s.UpdatedAt)
	return pg.WrapError("services.insert", err)
}

func (r *ServiceRepository) Update(ctx context.Context, s domain.Service) error {
	tag, err := pg.Conn(ctx, r.pool).Exec(ctx, `UPDATE services SET name = $2, description = $3, price = $4,
		duration_minutes = $5, active = $6, updated_at = $7 WHERE id = $1`,
		s.ID, s.Name, s.Description, s.Price, s.DurationMinutes, s.Active, s.UpdatedAt)
	if err != nil {
		return pg.WrapError("services.update", err)
	}
	if tag.RowsAffected() == 0 {
		return pg.NotFound("services.update")
	}
	return nil
}

func (r *ServiceRepository) Delete(ctx context.Context, serviceID string) error {
	tag, err := pg.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM services WHERE id = $1`, serviceID)
	if err != nil {
		return pg.WrapError("services.delete", err)
	}
	if tag.RowsAffected() == 0 {
		return pg.NotFound("services.delete")
	}
	return nil
}

func (r *ServiceRepository) FindByID(ctx context.Context, serviceID string) (domain.Service, error) {
	s, err := scanService(pg.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+serviceColumns+` FROM services WHERE id = $1`, serviceID))
	if err != nil {
		return domain.Service{}, pg.WrapError("services.find", err)
	}
	return s, nil
}

func (r *ServiceRepository) List(ctx context.Context, partnerID string, filter repositories.ListFilter) (domain.Page[domain.Service], error) {
	ks, err := newKeyset(filter.Pagination)
	if err != nil {
		return domain.Page[domain.Service]{}, err
	}
	query, args := ks.apply(`SELECT `+serviceColumns+` FROM services WHERE partner_id = $1`, []any{partnerID}, "")
	rows, err := pg.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return domain.Page[domain.Service]{}, pg.WrapError("services.list", err)
	}
	defer rows.Close()
	var items []domain.Service
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return domain.Page[domain.Service]{}, pg.WrapError("services.list", err)
		}
		items = append(items, s)
	}
	if err := rows.Err(); err != nil {
		return domain.Page[domain.Service]{}, pg.WrapError("services.list", err)
	}
	return page(ks, items, func(s domain.Service) (time.Time, string) { return s.CreatedAt, s.ID })
}

func (r *ServiceRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := pg.Conn(ctx, r.pool).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM services WHERE code = $1)`, code).Scan(&exists)
	if err != nil {
		return false, pg.WrapError("services.code_exists", err)
	}
	return exists, nil
}
