package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mercadoparceiro/api/internal/domain"
	pg "github.com/mercadoparceiro/api/internal/platform/postgres"
	"github.com/mercadoparceiro/api/internal/repositories"
)

// ContactRepository stores partner customers and suppliers.
type ContactRepository struct {
	pool *pgxpool.Pool
}

var _ repositories.ContactRepository = (*ContactRepository)(nil)

const contactColumns = `id, partner_id, kind, name, document, email, phone, street, number, district, city,
	state, postal_code, notes, created_at, updated_at`

func scanContact(row pgx.Row) (domain.Contact, error) {
	var (
		c    domain.Contact
		kind string
	)
	err := row.Scan(&c.ID, &c.PartnerID, &kind, &c.Name, &c.Document, &c.Email, &c.Phone, &c.Street, &c.Number,
		&c.District, &c.City, &c.State, &c.PostalCode, &c.Notes, &c.CreatedAt, &c.UpdatedAt)
	c.Kind = domain.ContactKind(kind)
	return c, err
}

func (r *ContactRepository) Insert(ctx context.Context, c domain.Contact) error {
	_, err := pg.Conn(ctx, r.pool).Exec(ctx, `INSERT INTO contacts (`+contactColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		c.ID, c.PartnerID, string(c.Kind), c.Name, c.Document, c.Email, c.Phone, c.Street, c.Number,
		c.District, c.City, c.State, c.PostalCode, c.Notes, c.CreatedAt, c.UpdatedAt)
	return pg.WrapError("contacts.insert", err)
}

func (r *ContactRepository) Update(ctx context.Context, c domain.Contact) error {
	tag, err := pg.Conn(ctx, r.pool).Exec(ctx, `UPDATE contacts SET kind = $2, name = $3, document = $4, email = $5,
		phone = $6, street = $7, number = $8, district = $9, city = $10, state = $11, postal_code = $12,
		notes = $13, updated_at = $14 WHERE id = $1`,
		c.ID, string(c.Kind), c.Name, c.Document, c.Email, c.Phone, c.Street, c.Number, c.District, c.City,
		c.State, c.PostalCode, c.Notes, c.UpdatedAt)
	if err != nil {
		return pg.WrapError("contacts.update", err)
	}
	if tag.RowsAffected() == 0 {
		return pg.NotFound("contacts.update")
	}
	return nil
}

func (r *ContactRepository) Delete(ctx context.Context, contactID string) error {
	tag, err := pg.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM contacts WHERE id = $1`, contactID)
	if err != nil {
		return pg.WrapError("contacts.delete", err)
	}
	if tag.RowsAffected() == 0 {
		return pg.NotFound("contacts.delete")
	}
	return nil
}

func (r *ContactRepository) FindByID(ctx context.Context, contactID string) (domain.Contact, error) {
	c, err := scanContact(pg.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+contactColumns+` FROM contacts WHERE id = $1`, contactID))
	if err != nil {
		return domain.Contact{}, pg.WrapError("contacts.find", err)
	}
	return c, nil
}

func (r *ContactRepository) List(ctx context.Context, partnerID string, filter repositories.ListFilter) (domain.Page[domain.Contact], error) {
	ks, err := newKeyset(filter.Pagination)
	if err != nil {
		return domain.Page[domain.Contact]{}, err
	}
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE partner_id = $1`
	args := []any{partnerID}
	if filter.Kind != "" {
		args = append(args, filter.Kind)
		query += " AND kind = $2"
	}
	query, args = ks.apply(query, args, "")
	rows, err := pg.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return domain.Page[domain.Contact]{}, pg.WrapError("contacts.list", err)
	}
	defer rows.Close()
	var items []domain.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return domain.Page[domain.Contact]{}, pg.WrapError("contacts.list", err)
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return domain.Page[domain.Contact]{}, pg.WrapError("contacts.list", err)
	}
	return page(ks, items, func(c domain.Contact) (time.Time, string) { return c.CreatedAt, c.ID })
}
