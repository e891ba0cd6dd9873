package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mercadoparceiro/api/internal/domain"
	pg "github.com/mercadoparceiro/api/internal/platform/postgres"
)

// openTestRegistry connects to the database named by API_TEST_POSTGRES_DSN.
// Tests are skipped when it is unset.
func openTestRegistry(t *testing.T) (*Registry, *pgxpool.Pool) {
	t.Helper()
	dsn := os.Getenv("API_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("API_TEST_POSTGRES_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := pg.Connect(ctx, dsn, pg.Options{MaxConns: 4})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := pg.ApplySchema(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("apply schema: %v", err)
	}
	reg, err := NewRegistry(pool, nil)
	if err != nil {
		pool.Close()
		t.Fatalf("registry: %v", err)
	}
	t.Cleanup(pool.Close)
	return reg, pool
}

func seedPartner(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()
	id := uuid.NewString()
	_, err := pool.Exec(context.Background(),
		`INSERT INTO partners (id, owner_user_id, name) VALUES ($1, $2, $3)`, id, "owner-"+id[:8], "Padaria Bom Pão")
	if err != nil {
		t.Fatalf("seed partner: %v", err)
	}
	return id
}

func seedOrder(t *testing.T, reg *Registry, partnerID string, product domain.Product, qty int) domain.Order {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	orderID := uuid.NewString()
	order := domain.Order{
		ID:              orderID,
		Number:          "PED-" + orderID[:8],
		BuyerID:         "buyer-1",
		PartnerID:       partnerID,
		Item:            domain.ItemRef{Kind: product.Kind, ID: product.ID},
		Quantity:        qty,
		TotalAmount:     product.Price * int64(qty),
		Currency:        "BRL",
		DeliveryType:    domain.DeliveryTypePickup,
		PaymentProvider: "mercadopago",
		Situation:       domain.SituationPending,
		CreatedAt:       now,
		Items: []domain.OrderItem{{
			ID:         uuid.NewString(),
			OrderID:    orderID,
			Item:       domain.ItemRef{Kind: product.Kind, ID: product.ID},
			Name:       product.Name,
			UnitPrice:  product.Price,
			Quantity:   qty,
			TrackStock: product.TrackStock,
			CreatedAt:  now,
		}},
	}
	if err := reg.Orders().Insert(context.Background(), order); err != nil {
		t.Fatalf("insert order: %v", err)
	}
	return order
}

func TestRegistry_SaleMovementIsRecordedOncePerOrderItem(t *testing.T) {
	reg, pool := openTestRegistry(t)
	ctx := context.Background()
	partnerID := seedPartner(t, pool)
	now := time.Now().UTC()

	product := domain.Product{
		ID:         uuid.NewString(),
		PartnerID:  partnerID,
		Kind:       domain.ItemKindProduct,
		Name:       "Pão de queijo (kg)",
		Price:      4590,
		TrackStock: true,
		Stock:      10,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := reg.Products().Insert(ctx, product); err != nil {
		t.Fatalf("insert product: %v", err)
	}
	order := seedOrder(t, reg, partnerID, product, 3)
	item := order.Items[0]

	apply := func() (bool, error) {
		var inserted bool
		err := reg.RunInTx(ctx, func(ctx context.Context) error {
			locked, err := reg.Stock().LockItem(ctx, item.Item)
			if err != nil {
				return err
			}
			next := locked.Stock - item.Quantity
			inserted, err = reg.Stock().InsertMovement(ctx, domain.StockMovement{
				ID:            uuid.NewString(),
				PartnerID:     partnerID,
				Item:          item.Item,
				Quantity:      -item.Quantity,
				PreviousStock: locked.Stock,
				NewStock:      next,
				Type:          domain.MovementTypeSale,
				OrderID:       &order.ID,
				OrderItemID:   &item.ID,
				CreatedAt:     now,
			})
			if err != nil || !inserted {
				return err
			}
			return reg.Stock().SetStock(ctx, item.Item, next, now)
		})
		return inserted, err
	}

	if inserted, err := apply(); err != nil || !inserted {
		t.Fatalf("first apply: inserted=%v err=%v", inserted, err)
	}
	if inserted, err := apply(); err != nil || inserted {
		t.Fatalf("second apply must be a no-op: inserted=%v err=%v", inserted, err)
	}

	stored, err := reg.Products().FindByID(ctx, product.ID)
	if err != nil {
		t.Fatalf("find product: %v", err)
	}
	if stored.Stock != 7 {
		t.Fatalf("expected stock 7, got %d", stored.Stock)
	}
	movements, err := reg.Stock().ListOrderMovements(ctx, order.ID)
	if err != nil {
		t.Fatalf("list movements: %v", err)
	}
	if len(movements) != 1 || movements[0].NewStock != 7 {
		t.Fatalf("unexpected movements %+v", movements)
	}
}

func TestRegistry_PreferenceIsSetOnlyOnce(t *testing.T) {
	reg, pool := openTestRegistry(t)
	ctx := context.Background()
	partnerID := seedPartner(t, pool)
	now := time.Now().UTC()

	product := domain.Product{
		ID:        uuid.NewString(),
		PartnerID: partnerID,
		Kind:      domain.ItemKindProduct,
		Name:      "Bolo de fubá",
		Price:     2500,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := reg.Products().Insert(ctx, product); err != nil {
		t.Fatalf("insert product: %v", err)
	}
	order := seedOrder(t, reg, partnerID, product, 1)

	ok, err := reg.Orders().SetPreference(ctx, order.ID, "pref-1", order.ID, now)
	if err != nil || !ok {
		t.Fatalf("first preference: ok=%v err=%v", ok, err)
	}
	ok, err = reg.Orders().SetPreference(ctx, order.ID, "pref-2", order.ID, now)
	if err != nil || ok {
		t.Fatalf("second preference must lose: ok=%v err=%v", ok, err)
	}

	stored, err := reg.Orders().FindByExternalReference(ctx, order.ID)
	if err != nil {
		t.Fatalf("find by reference: %v", err)
	}
	if stored.PreferenceID == nil || *stored.PreferenceID != "pref-1" {
		t.Fatalf("preference overwritten: %v", stored.PreferenceID)
	}
}
