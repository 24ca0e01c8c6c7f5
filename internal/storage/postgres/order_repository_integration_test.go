package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func TestOrderRepository_PostgresCreateGetListAndSave(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)
	ctx := context.Background()

	now := time.Now().UTC().Round(time.Microsecond)
	order1 := sampleOrder("order-1", "customer-1", now.Add(-2*time.Minute))
	order2 := sampleOrder("order-2", "customer-1", now.Add(-time.Minute))
	order3 := sampleOrder("order-3", "customer-2", now)

	for _, o := range []domain.Order{order1, order2, order3} {
		if err := repo.Create(ctx, o); err != nil {
			t.Fatalf("create %s: %v", o.ID, err)
		}
	}

	got, err := repo.Get(ctx, order1.ID)
	if err != nil {
		t.Fatalf("get order1: %v", err)
	}
	if got.ID != order1.ID || got.CustomerID != order1.CustomerID || got.Status != order1.Status {
		t.Fatalf("unexpected order payload: %+v", got)
	}
	if got.PaymentMethod != domain.PaymentMethodOnline || got.Address.City != "Lisbon" {
		t.Fatalf("payment method or address not persisted: %+v", got)
	}
	if len(got.Items) != 2 || got.Items[0].SizeLabel != "M" || got.Items[1].SizeLabel != domain.OneSizeLabel {
		t.Fatalf("items must keep order: %+v", got.Items)
	}

	listed, err := repo.ListByCustomer(ctx, "customer-1", 1)
	if err != nil {
		t.Fatalf("list by customer with limit: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != order2.ID {
		t.Fatalf("unexpected list result with limit: %+v", listed)
	}

	all, err := repo.ListAll(ctx, 0)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 || all[0].ID != order3.ID {
		t.Fatalf("expected 3 orders newest first, got %+v", all)
	}

	got.Status = domain.OrderStatusPaymentConfirmed
	got.Paid = true
	saved, err := repo.Save(ctx, got)
	if err != nil {
		t.Fatalf("save order: %v", err)
	}
	if saved.Version != got.Version+1 {
		t.Fatalf("unexpected version after save: got=%d want=%d", saved.Version, got.Version+1)
	}

	updated, err := repo.Get(ctx, order1.ID)
	if err != nil {
		t.Fatalf("get updated order: %v", err)
	}
	if updated.Status != domain.OrderStatusPaymentConfirmed || !updated.Paid {
		t.Fatalf("unexpected state after save: %+v", updated)
	}
}

func TestOrderRepository_PostgresErrors(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)
	ctx := context.Background()

	now := time.Now().UTC().Round(time.Microsecond)
	base := sampleOrder("order-errors", "customer-2", now)

	if _, err := repo.Get(ctx, "missing-order"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
	if _, err := repo.Save(ctx, base); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound on save missing, got %v", err)
	}

	if err := repo.Create(ctx, base); err != nil {
		t.Fatalf("create base order: %v", err)
	}
	if err := repo.Create(ctx, base); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected ErrOrderVersionConflict on duplicate create, got %v", err)
	}

	stale := base
	stale.Status = domain.OrderStatusCancelled
	stale.Version = 42
	if _, err := repo.Save(ctx, stale); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected ErrOrderVersionConflict on stale save, got %v", err)
	}
}

func TestOrderRepository_PostgresDeleteChecksVersion(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)
	ctx := context.Background()

	order := sampleOrder("order-delete", "customer-3", time.Now().UTC().Round(time.Microsecond))
	if err := repo.Create(ctx, order); err != nil {
		t.Fatalf("create order: %v", err)
	}

	if err := repo.Delete(ctx, order.ID, 5); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
	if err := repo.Delete(ctx, order.ID, 0); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := repo.Delete(ctx, order.ID, 0); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound on second delete, got %v", err)
	}
	if _, err := repo.Get(ctx, order.ID); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("deleted order must be gone, got %v", err)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !isUniqueViolation(&pgconn.PgError{Code: "23505"}) {
		t.Fatal("expected unique violation for code 23505")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "22001"}) {
		t.Fatal("unexpected unique violation for non-unique code")
	}
	if isUniqueViolation(errors.New("plain error")) {
		t.Fatal("plain error must not be unique violation")
	}
}

func sampleOrder(id, customerID string, createdAt time.Time) domain.Order {
	return domain.Order{
		ID:         id,
		CustomerID: customerID,
		Items: []domain.OrderItem{
			{ID: id + "-item-1", ProductID: "tee", ProductName: "Tee", SizeLabel: "M", Qty: 2, UnitPriceMinor: 150},
			{ID: id + "-item-2", ProductID: "cap", ProductName: "Cap", SizeLabel: domain.OneSizeLabel, Qty: 1, UnitPriceMinor: 100},
		},
		Address:          domain.Address{FirstName: "Ana", City: "Lisbon", Country: "PT"},
		Currency:         "EUR",
		DeliveryFeeMinor: 50,
		AmountMinor:      450,
		PaymentMethod:    domain.PaymentMethodOnline,
		Status:           domain.OrderStatusPlaced,
		CreatedAt:        createdAt,
		UpdatedAt:        createdAt,
	}
}
