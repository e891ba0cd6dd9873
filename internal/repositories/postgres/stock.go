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

// StockRepository locks product counters and appends ledger rows.
type StockRepository struct {
	pool *pgxpool.Pool
}

var _ repositories.StockRepository = (*StockRepository)(nil)

const movementColumns = `id, partner_id, item_kind, item_id, quantity, previous_stock, new_stock, type,
	order_id, order_item_id, reason, created_by, created_at`

func (r *StockRepository) LockItem(ctx context.Context, ref domain.ItemRef) (repositories.StockItem, error) {
	if !ref.Kind.Stockable() {
		return repositories.StockItem{}, pg.WrapError("stock.lock", fmt.Errorf("item kind %q has no stock counter", ref.Kind))
	}
	item := repositories.StockItem{Ref: ref}
	err := pg.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT partner_id, track_stock, stock FROM products WHERE id = $1 AND kind = $2 FOR UPDATE`,
		ref.ID, string(ref.Kind)).Scan(&item.PartnerID, &item.TrackStock, &item.Stock)
	if err != nil {
		return repositories.StockItem{}, pg.WrapError("stock.lock", err)
	}
	return item, nil
}

func (r *StockRepository) SetStock(ctx context.Context, ref domain.ItemRef, stock int, at time.Time) error {
	tag, err := pg.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE products SET stock = $2, updated_at = $3 WHERE id = $1`, ref.ID, stock, at)
	if err != nil {
		return pg.WrapError("stock.set", err)
	}
	if tag.RowsAffected() == 0 {
		return pg.NotFound("stock.set")
	}
	return nil
}

// InsertMovement appends m. A second entry for the same order item and type is
// dropped and reported as not inserted.
func (r *StockRepository) InsertMovement(ctx context.Context, m domain.StockMovement) (bool, error) {
	tag, err := pg.Conn(ctx, r.pool).Exec(ctx, `INSERT INTO stock_movements (`+movementColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT ON CONSTRAINT `+pg.ConstraintMovementPerOrderItem+` DO NOTHING`,
		m.ID, m.PartnerID, string(m.Item.Kind), m.Item.ID, m.Quantity, m.PreviousStock, m.NewStock, string(m.Type),
		m.OrderID, m.OrderItemID, m.Reason, m.CreatedBy, m.CreatedAt)
	if err != nil {
		return false, pg.WrapError("stock.insert_movement", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *StockRepository) ListMovements(ctx context.Context, partnerID, productID string, pager domain.Pagination) (domain.Page[domain.StockMovement], error) {
	ks, err := newKeyset(pager)
	if err != nil {
		return domain.Page[domain.StockMovement]{}, err
	}
	query, args := ks.apply(`SELECT `+movementColumns+` FROM stock_movements WHERE partner_id = $1 AND item_id = $2`,
		[]any{partnerID, productID}, "")
	rows, err := pg.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return domain.Page[domain.StockMovement]{}, pg.WrapError("stock.list", err)
	}
	movements, err := collectMovements(rows)
	if err != nil {
		return domain.Page[domain.StockMovement]{}, pg.WrapError("stock.list", err)
	}
	return page(ks, movements, func(m domain.StockMovement) (time.Time, string) { return m.CreatedAt, m.ID })
}

func (r *StockRepository) ListOrderMovements(ctx context.Context, orderID string) ([]domain.StockMovement, error) {
	rows, err := pg.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+movementColumns+` FROM stock_movements WHERE order_id = $1 ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, pg.WrapError("stock.list_order", err)
	}
	movements, err := collectMovements(rows)
	return movements, pg.WrapError("stock.list_order", err)
}

func collectMovements(rows pgx.Rows) ([]domain.StockMovement, error) {
	defer rows.Close()
	var out []domain.StockMovement
	for rows.Next() {
		var (
			m        domain.StockMovement
			kind, mt string
		)
		if err := rows.Scan(&m.ID, &m.PartnerID, &kind, &m.Item.ID, &m.Quantity, &m.PreviousStock, &m.NewStock, &mt,
			&m.OrderID, &m.OrderItemID, &m.Reason, &m.CreatedBy, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Item.Kind = domain.ItemKind(kind)
		m.Type = domain.MovementType(mt)
		out = append(out, m)
	}
	return out, rows.Err()
}
