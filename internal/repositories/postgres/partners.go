package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mercadoparceiro/api/internal/domain"
	pg "github.com/mercadoparceiro/api/internal/platform/postgres"
	"github.com/mercadoparceiro/api/internal/repositories"
)

// PartnerRepository reads partners.
type PartnerRepository struct {
	pool *pgxpool.Pool
}

var _ repositories.PartnerRepository = (*PartnerRepository)(nil)

func (r *PartnerRepository) FindByID(ctx context.Context, partnerID string) (domain.Partner, error) {
	var p domain.Partner
	err := pg.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT id, owner_user_id, name, cnpj, email, created_at FROM partners WHERE id = $1`, partnerID).
		Scan(&p.ID, &p.OwnerUserID, &p.Name, &p.CNPJ, &p.Email, &p.CreatedAt)
	if err != nil {
		return domain.Partner{}, pg.WrapError("partners.find", err)
	}
	return p, nil
}

// PaymentConfigRepository stores OAuth credentials per partner.
type PaymentConfigRepository struct {
	pool *pgxpool.Pool
}

var _ repositories.PaymentConfigRepository = (*PaymentConfigRepository)(nil)

const paymentConfigColumns = `partner_id, provider, access_token, refresh_token, public_key, provider_user_id,
	live_mode, expires_at, connected_at, updated_at`

func (r *PaymentConfigRepository) Get(ctx context.Context, partnerID string) (domain.PartnerPaymentConfig, error) {
	var c domain.PartnerPaymentConfig
	err := pg.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+paymentConfigColumns+` FROM partner_payment_configs WHERE partner_id = $1`, partnerID).
		Scan(&c.PartnerID, &c.Provider, &c.AccessToken, &c.RefreshToken, &c.PublicKey, &c.ProviderUserID,
			&c.LiveMode, &c.ExpiresAt, &c.ConnectedAt, &c.UpdatedAt)
	if err != nil {
		return domain.PartnerPaymentConfig{}, pg.WrapError("payment_configs.get", err)
	}
	return c, nil
}

// Upsert keeps the original connected_at when a partner reconnects.
func (r *PaymentConfigRepository) Upsert(ctx context.Context, c domain.PartnerPaymentConfig) error {
	_, err := pg.Conn(ctx, r.pool).Exec(ctx, `INSERT INTO partner_payment_configs (`+paymentConfigColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (partner_id) DO UPDATE SET
			provider = EXCLUDED.provider,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			public_key = EXCLUDED.public_key,
			provider_user_id = EXCLUDED.provider_user_id,
			live_mode = EXCLUDED.live_mode,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at`,
		c.PartnerID, c.Provider, c.AccessToken, c.RefreshToken, c.PublicKey, c.ProviderUserID,
		c.LiveMode, c.ExpiresAt, c.ConnectedAt, c.UpdatedAt)
	return pg.WrapError("payment_configs.upsert", err)
}

func (r *PaymentConfigRepository) ListExpiring(ctx context.Context, before time.Time, limit int) ([]domain.PartnerPaymentConfig, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := pg.Conn(ctx, r.pool).Query(ctx, `SELECT `+paymentConfigColumns+` FROM partner_payment_configs
		WHERE expires_at IS NOT NULL AND expires_at < $1 AND refresh_token <> ''
		ORDER BY expires_at ASC LIMIT $2`, before, limit)
	if err != nil {
		return nil, pg.WrapError("payment_configs.list_expiring", err)
	}
	defer rows.Close()
	var out []domain.PartnerPaymentConfig
	for rows.Next() {
		var c domain.PartnerPaymentConfig
		if err := rows.Scan(&c.PartnerID, &c.Provider, &c.AccessToken, &c.RefreshToken, &c.PublicKey, &c.ProviderUserID,
			&c.LiveMode, &c.ExpiresAt, &c.ConnectedAt, &c.UpdatedAt); err != nil {
			return nil, pg.WrapError("payment_configs.list_expiring", err)
		}
		out = append(out, c)
	}
	return out, pg.WrapError("payment_configs.list_expiring", rows.Err())
}

// UserRepository reads buyer profiles.
type UserRepository struct {
	pool *pgxpool.Pool
}

var _ repositories.UserRepository = (*UserRepository)(nil)

func (r *UserRepository) FindProfile(ctx context.Context, userID string) (domain.BuyerProfile, error) {
	profile := domain.BuyerProfile{UserID: userID}
	err := pg.Conn(ctx, r.pool).QueryRow(ctx, `SELECT name, email, phone FROM users WHERE id = $1`, userID).
		Scan(&profile.Name, &profile.Email, &profile.Phone)
	if err != nil {
		return domain.BuyerProfile{}, pg.WrapError("users.find_profile", err)
	}
	return profile, nil
}
