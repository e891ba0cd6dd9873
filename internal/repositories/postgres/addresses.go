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

// AddressRepository stores user addresses.
type AddressRepository struct {
	pool *pgxpool.Pool
}

var _ repositories.AddressRepository = (*AddressRepository)(nil)

const addressColumns = `id, user_id, label, recipient, street, number, complement, district, city, state,
	postal_code, phone, is_default, created_at, updated_at`

func scanAddress(row pgx.Row) (domain.Address, error) {
	var a domain.Address
	err := row.Scan(&a.ID, &a.UserID, &a.Label, &a.Recipient, &a.Street, &a.Number, &a.Complement, &a.District,
		&a.City, &a.State, &a.PostalCode, &a.Phone, &a.IsDefault, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

// LockOwner takes a transaction-scoped advisory lock keyed by the user id, so
// concurrent creates cannot both pass the per-user limit.
func (r *AddressRepository) LockOwner(ctx context.Context, userID string) error {
	_, err := pg.Conn(ctx, r.pool).Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('addresses:' || $1))`, userID)
	return pg.WrapError("addresses.lock_owner", err)
}

func (r *AddressRepository) ListByUser(ctx context.Context, userID string) ([]domain.Address, error) {
	rows, err := pg.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+addressColumns+` FROM addresses WHERE user_id = $1 ORDER BY is_default DESC, created_at ASC`, userID)
	if err != nil {
		return nil, pg.WrapError("addresses.list", err)
	}
	defer rows.Close()
	var out []domain.Address
	for rows.Next() {
		a, err := scanAddress(rows)
		if err != nil {
			return nil, pg.WrapError("addresses.list", err)
		}
		out = append(out, a)
	}
	return out, pg.WrapError("addresses.list", rows.Err())
}

func (r *AddressRepository) FindByID(ctx context.Context, addressID string) (domain.Address, error) {
	a, err := scanAddress(pg.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+addressColumns+` FROM addresses WHERE id = $1`, addressID))
	if err != nil {
		return domain.Address{}, pg.WrapError("addresses.find", err)
	}
	return a, nil
}

func (r *AddressRepository) Insert(ctx context.Context, a domain.Address) error {
	_, err := pg.Conn(ctx, r.pool).Exec(ctx, `INSERT INTO addresses (`+addressColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		a.ID, a.UserID, a.Label, a.Recipient, a.Street, a.Number, a.Complement, a.District, a.City, a.State,
		a.PostalCode, a.Phone, a.IsDefault, a.CreatedAt, a.UpdatedAt)
	return pg.WrapError("addresses.insert", err)
}

// Update rewrites the postal fields; the default flag is managed by SetDefault.
func (r *AddressRepository) Update(ctx context.Context, a domain.Address) error {
	tag, err := pg.Conn(ctx, r.pool).Exec(ctx, `UPDATE addresses SET label = $2, recipient = $3, street = $4,
		number = $5, complement = $6, district = $7, city = $8, state = $9, postal_code = $10, phone = $11,
		updated_at = $12 WHERE id = $1`,
		a.ID, a.Label, a.Recipient, a.Street, a.Number, a.Complement, a.District, a.City, a.State,
		a.PostalCode, a.Phone, a.UpdatedAt)
	if err != nil {
		return pg.WrapError("addresses.update", err)
	}
	if tag.RowsAffected() == 0 {
		return pg.NotFound("addresses.update")
	}
	return nil
}

func (r *AddressRepository) Delete(ctx context.Context, addressID string) error {
	tag, err := pg.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM addresses WHERE id = $1`, addressID)
	if err != nil {
		return pg.WrapError("addresses.delete", err)
	}
	if tag.RowsAffected() == 0 {
		return pg.NotFound("addresses.delete")
	}
	return nil
}

// SetDefault clears the user's other defaults before flagging addressID, so the
// partial unique index never sees two defaults.
func (r *AddressRepository) SetDefault(ctx context.Context, userID, addressID string, at time.Time) error {
	return pg.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		q := pg.Conn(ctx, r.pool)
		if _, err := q.Exec(ctx, `UPDATE addresses SET is_default = FALSE, updated_at = $3
			WHERE user_id = $1 AND id <> $2 AND is_default`, userID, addressID, at); err != nil {
			return pg.WrapError("addresses.clear_default", err)
		}
		tag, err := q.Exec(ctx, `UPDATE addresses SET is_default = TRUE, updated_at = $3 WHERE id = $2 AND user_id = $1`,
			userID, addressID, at)
		if err != nil {
			return pg.WrapError("addresses.set_default", err)
		}
		if tag.RowsAffected() == 0 {
			return pg.NotFound("addresses.set_default")
		}
		return nil
	})
}
