package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mercadoparceiro/api/internal/domain"
	pg "github.com/mercadoparceiro/api/internal/platform/postgres"
	"github.com/mercadoparceiro/api/internal/repositories"
)

const orderColumns = `o.id, o.number, o.buyer_id, o.partner_id, o.item_kind, o.item_id, o.quantity,
	o.total_amount, o.currency, o.delivery_type, o.delivery_address, o.payment_method,
	o.payment_provider, o.notes, o.situation, o.preference_id, o.external_reference,
	o.payment_id, o.payment_status_detail, o.stock_applied_at, o.paid_at, o.cancelled_at,
	o.created_at, o.updated_at`

// OrderRepository stores orders and order_items.
type OrderRepository struct {
	pool *pgxpool.Pool
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

type addressSnapshot struct {
	ID         string `json:"id"`
	Label      string `json:"label,omitempty"`
	Recipient  string `json:"recipient"`
	Street     string `json:"street"`
	Number     string `json:"number"`
	Complement string `json:"complement,omitempty"`
	District   string `json:"district"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Phone      string `json:"phone,omitempty"`
}

func encodeAddress(addr *domain.Address) ([]byte, error) {
	if addr == nil {
		return nil, nil
	}
	return json.Marshal(addressSnapshot{
		ID:         addr.ID,
		Label:      addr.Label,
		Recipient:  addr.Recipient,
		Street:     addr.Street,
		Number:     addr.Number,
		Complement: addr.Complement,
		District:   addr.District,
		City:       addr.City,
		State:      addr.State,
		PostalCode: addr.PostalCode,
		Phone:      addr.Phone,
	})
}

func decodeAddress(raw []byte) (*domain.Address, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var snap addressSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, err
	}
	return &domain.Address{
		ID:         snap.ID,
		Label:      snap.Label,
		Recipient:  snap.Recipient,
		Street:     snap.Street,
		Number:     snap.Number,
		Complement: snap.Complement,
		District:   snap.District,
		City:       snap.City,
		State:      snap.State,
		PostalCode: snap.PostalCode,
		Phone:      snap.Phone,
	}, nil
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var (
		o         domain.Order
		kind      string
		delivery  string
		situation string
		address   []byte
	)
	err := row.Scan(&o.ID, &o.Number, &o.BuyerID, &o.PartnerID, &kind, &o.Item.ID, &o.Quantity,
		&o.TotalAmount, &o.Currency, &delivery, &address, &o.PaymentMethod,
		&o.PaymentProvider, &o.Notes, &situation, &o.PreferenceID, &o.ExternalReference,
		&o.PaymentID, &o.PaymentStatusDetail, &o.StockAppliedAt, &o.PaidAt, &o.CancelledAt,
		&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return domain.Order{}, err
	}
	o.Item.Kind = domain.ItemKind(kind)
	o.DeliveryType = domain.DeliveryType(delivery)
	o.Situation = domain.Situation(situation)
	if o.DeliveryAddress, err = decodeAddress(address); err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	address, err := encodeAddress(order.DeliveryAddress)
	if err != nil {
		return pg.WrapError("orders.insert", err)
	}
	return pg.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		q := pg.Conn(ctx, r.pool)
		_, err := q.Exec(ctx, `INSERT INTO orders (id, number, buyer_id, partner_id, item_kind, item_id, quantity,
			total_amount, currency, delivery_type, delivery_address, payment_method, payment_provider, notes,
			situation, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $16)`,
			order.ID, order.Number, order.BuyerID, order.PartnerID, string(order.Item.Kind), order.Item.ID, order.Quantity,
			order.TotalAmount, order.Currency, string(order.DeliveryType), address, order.PaymentMethod, order.PaymentProvider,
			order.Notes, string(order.Situation), order.CreatedAt)
		if err != nil {
			return pg.WrapError("orders.insert", err)
		}
		for _, item := range order.Items {
			_, err := q.Exec(ctx, `INSERT INTO order_items (id, order_id, item_kind, item_id, name, unit_price, quantity, track_stock, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				item.ID, order.ID, string(item.Item.Kind), item.Item.ID, item.Name, item.UnitPrice, item.Quantity, item.TrackStock, item.CreatedAt)
			if err != nil {
				return pg.WrapError("orders.insert_item", err)
			}
		}
		return nil
	})
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	return r.findOne(ctx, "orders.find", `SELECT `+orderColumns+` FROM orders o WHERE o.id = $1`, orderID)
}

func (r *OrderRepository) FindByExternalReference(ctx context.Context, ref string) (domain.Order, error) {
	return r.findOne(ctx, "orders.find_by_reference",
		`SELECT `+orderColumns+` FROM orders o WHERE o.external_reference = $1 OR o.id::text = $1 LIMIT 1`, ref)
}

func (r *OrderRepository) findOne(ctx context.Context, op, query string, arg string) (domain.Order, error) {
	q := pg.Conn(ctx, r.pool)
	order, err := scanOrder(q.QueryRow(ctx, query, arg))
	if err != nil {
		return domain.Order{}, pg.WrapError(op, err)
	}
	items, err := loadItems(ctx, q, []string{order.ID})
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items[order.ID]
	return order, nil
}

func (r *OrderRepository) FindAccess(ctx context.Context, orderID string) (repositories.OrderAccess, error) {
	var access repositories.OrderAccess
	err := pg.Conn(ctx, r.pool).QueryRow(ctx, `SELECT o.id, o.buyer_id, o.partner_id, p.owner_user_id
		FROM orders o JOIN partners p ON p.id = o.partner_id WHERE o.id = $1`, orderID).
		Scan(&access.OrderID, &access.BuyerID, &access.PartnerID, &access.PartnerOwnerID)
	if err != nil {
		return repositories.OrderAccess{}, pg.WrapError("orders.find_access", err)
	}
	return access, nil
}

func (r *OrderRepository) ListByBuyer(ctx context.Context, buyerID string, filter repositories.ListFilter) (domain.Page[domain.Order], error) {
	return r.list(ctx, "orders.list_by_buyer", "o.buyer_id = $1", buyerID, filter)
}

func (r *OrderRepository) ListByPartner(ctx context.Context, partnerID string, filter repositories.ListFilter) (domain.Page[domain.Order], error) {
	return r.list(ctx, "orders.list_by_partner", "o.partner_id = $1", partnerID, filter)
}

func (r *OrderRepository) list(ctx context.Context, op, predicate, owner string, filter repositories.ListFilter) (domain.Page[domain.Order], error) {
	ks, err := newKeyset(filter.Pagination)
	if err != nil {
		return domain.Page[domain.Order]{}, err
	}
	query := `SELECT ` + orderColumns + ` FROM orders o WHERE ` + predicate
	args := []any{owner}
	if filter.Situation != "" {
		args = append(args, string(filter.Situation))
		query += " AND o.situation = $2"
	}
	query, args = ks.apply(query, args, "o")

	q := pg.Conn(ctx, r.pool)
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return domain.Page[domain.Order]{}, pg.WrapError(op, err)
	}
	orders, err := collectOrders(rows)
	if err != nil {
		return domain.Page[domain.Order]{}, pg.WrapError(op, err)
	}
	if err := attachItems(ctx, q, orders); err != nil {
		return domain.Page[domain.Order]{}, err
	}
	return page(ks, orders, func(o domain.Order) (time.Time, string) { return o.CreatedAt, o.ID })
}

func (r *OrderRepository) SetPreference(ctx context.Context, orderID, preferenceID, externalReference string, at time.Time) (bool, error) {
	tag, err := pg.Conn(ctx, r.pool).Exec(ctx, `UPDATE orders
		SET preference_id = $2, external_reference = $3, updated_at = $4
		WHERE id = $1 AND preference_id IS NULL AND situation = 'pending'`,
		orderID, preferenceID, externalReference, at)
	if err != nil {
		return false, pg.WrapError("orders.set_preference", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *OrderRepository) ChangeSituation(ctx context.Context, change repositories.SituationChange) (bool, error) {
	tag, err := pg.Conn(ctx, r.pool).Exec(ctx, `UPDATE orders SET
			situation = $3,
			payment_id = COALESCE(NULLIF($4, ''), payment_id),
			payment_status_detail = COALESCE(NULLIF($5, ''), payment_status_detail),
			paid_at = CASE WHEN $3 = 'paid' THEN $6 WHEN $3 = 'pending' THEN NULL ELSE paid_at END,
			cancelled_at = CASE WHEN $3 = 'cancelled' THEN $6 WHEN $3 = 'pending' THEN NULL ELSE cancelled_at END,
			updated_at = $6
		WHERE id = $1 AND situation = $2`,
		change.OrderID, string(change.From), string(change.To), change.PaymentID, change.StatusDetail, change.At)
	if err != nil {
		return false, pg.WrapError("orders.change_situation", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *OrderRepository) UpdatePaymentDetail(ctx context.Context, orderID, paymentID, statusDetail string, at time.Time) error {
	_, err := pg.Conn(ctx, r.pool).Exec(ctx, `UPDATE orders SET
			payment_id = COALESCE(NULLIF($2, ''), payment_id),
			payment_status_detail = $3,
			updated_at = $4
		WHERE id = $1 AND situation = 'pending'`, orderID, paymentID, statusDetail, at)
	return pg.WrapError("orders.update_payment_detail", err)
}

func (r *OrderRepository) MarkStockApplied(ctx context.Context, orderID string, at time.Time) error {
	_, err := pg.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE orders SET stock_applied_at = $2, updated_at = $2 WHERE id = $1 AND stock_applied_at IS NULL`, orderID, at)
	return pg.WrapError("orders.mark_stock_applied", err)
}

func (r *OrderRepository) ClearStockApplied(ctx context.Context, orderID string, at time.Time) error {
	_, err := pg.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE orders SET stock_applied_at = NULL, updated_at = $2 WHERE id = $1`, orderID, at)
	return pg.WrapError("orders.clear_stock_applied", err)
}

func (r *OrderRepository) ListStalePending(ctx context.Context, staleCutoff, expireCutoff time.Time, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	q := pg.Conn(ctx, r.pool)
	rows, err := q.Query(ctx, `SELECT `+orderColumns+` FROM orders o
		WHERE o.situation = 'pending'
		  AND ((o.preference_id IS NOT NULL AND o.created_at < $1) OR o.created_at < $2)
		ORDER BY o.created_at ASC LIMIT $3`, staleCutoff, expireCutoff, limit)
	if err != nil {
		return nil, pg.WrapError("orders.list_stale", err)
	}
	orders, err := collectOrders(rows)
	if err != nil {
		return nil, pg.WrapError("orders.list_stale", err)
	}
	if err := attachItems(ctx, q, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func collectOrders(rows pgx.Rows) ([]domain.Order, error) {
	defer rows.Close()
	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

func attachItems(ctx context.Context, q pg.Querier, orders []domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}
	items, err := loadItems(ctx, q, ids)
	if err != nil {
		return err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}
	return nil
}

func loadItems(ctx context.Context, q pg.Querier, orderIDs []string) (map[string][]domain.OrderItem, error) {
	rows, err := q.Query(ctx, `SELECT id, order_id, item_kind, item_id, name, unit_price, quantity, track_stock, created_at
		FROM order_items WHERE order_id = ANY($1::uuid[]) ORDER BY created_at, id`, orderIDs)
	if err != nil {
		return nil, pg.WrapError("orders.load_items", err)
	}
	defer rows.Close()

	out := make(map[string][]domain.OrderItem, len(orderIDs))
	for rows.Next() {
		var (
			item domain.OrderItem
			kind string
		)
		if err := rows.Scan(&item.ID, &item.OrderID, &kind, &item.Item.ID, &item.Name, &item.UnitPrice,
			&item.Quantity, &item.TrackStock, &item.CreatedAt); err != nil {
			return nil, pg.WrapError("orders.load_items", err)
		}
		item.Item.Kind = domain.ItemKind(kind)
		out[item.OrderID] = append(out[item.OrderID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, pg.WrapError("orders.load_items", err)
	}
	return out, nil
}
