package memory

import (
	"context"
	"errors"
	"testing"

	domain "github.com/vitrina/api/internal/domain"
	"github.com/vitrina/api/internal/repositories"
)

func TestRunInTxRollsBackOnError(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	store.SeedVariant(domain.ProductVariant{ID: "v1", ProductID: "p1", Stock: 4})

	boom := errors.New("boom")
	err := store.RunInTx(ctx, func(ctx context.Context) error {
		variant, err := store.Variants().FindByID(ctx, "v1")
		if err != nil {
			return err
		}
		variant.Stock = 0
		if err := store.Variants().Update(ctx, variant); err != nil {
			return err
		}
		if err := store.Movements().Append(ctx, domain.StockMovement{ID: "m1", VariantID: "v1", Delta: -4}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}

	variant, err := store.Variants().FindByID(ctx, "v1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if variant.Stock != 4 {
		t.Fatalf("expected rollback to stock 4, got %d", variant.Stock)
	}
	movements, _ := store.Movements().ListByVariant(ctx, "v1", repositories.MovementListFilter{})
	if len(movements) != 0 {
		t.Fatalf("expected no movements after rollback, got %d", len(movements))
	}
}

func TestRunInTxNestedJoinsOuter(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	err := store.RunInTx(ctx, func(ctx context.Context) error {
		if err := store.RunInTx(ctx, func(ctx context.Context) error {
			_, err := store.Counters().Next(ctx, "orders", 1)
			return err
		}); err != nil {
			return err
		}
		return errors.New("abort outer")
	})
	if err == nil {
		t.Fatalf("expected error")
	}

	next, err := store.Counters().Next(ctx, "orders", 1)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if next != 1 {
		t.Fatalf("expected inner write to roll back with outer, got %d", next)
	}
}

func TestVariantInsertRejectsDuplicateColor(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	if err := store.Variants().Insert(ctx, domain.ProductVariant{ID: "p1_ff0000", ProductID: "p1", Color: domain.Color{Hex: "#FF0000"}}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	err := store.Variants().Insert(ctx, domain.ProductVariant{ID: "other", ProductID: "p1", Color: domain.Color{Hex: "#ff0000"}})
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestOrdersAreCopiedOnRead(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	order := domain.Order{ID: "o1", Items: []domain.OrderItem{{ProductVariantID: "v1", Quantity: 1}}}
	if err := store.Orders().Insert(ctx, order); err != nil {
		t.Fatalf("insert: %v", err)
	}

	loaded, _ := store.Orders().FindByID(ctx, "o1")
	loaded.Items[0].Quantity = 9

	again, _ := store.Orders().FindByID(ctx, "o1")
	if again.Items[0].Quantity != 1 {
		t.Fatalf("expected stored order to be isolated, got quantity %d", again.Items[0].Quantity)
	}
}

func TestOrderListHidesHiddenByDefault(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	_ = store.Orders().Insert(ctx, domain.Order{ID: "visible", Status: domain.OrderStatusProcessing})
	_ = store.Orders().Insert(ctx, domain.Order{ID: "hidden", Status: domain.OrderStatusCancelled, Hidden: true})

	orders, err := store.Orders().List(ctx, repositories.OrderListFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(orders) != 1 || orders[0].ID != "visible" {
		t.Fatalf("unexpected orders %+v", orders)
	}

	all, _ := store.Orders().List(ctx, repositories.OrderListFilter{IncludeHidden: true})
	if len(all) != 2 {
		t.Fatalf("expected hidden orders when requested, got %d", len(all))
	}
}

func TestMovementsNewestFirst(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	for _, id := range []string{"m1", "m2", "m3"} {
		if err := store.Movements().Append(ctx, domain.StockMovement{ID: id, VariantID: "v1", Delta: 1}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	movements, _ := store.Movements().ListByVariant(ctx, "v1", repositories.MovementListFilter{Limit: 2})
	if len(movements) != 2 || movements[0].ID != "m3" || movements[1].ID != "m2" {
		t.Fatalf("unexpected order %+v", movements)
	}
}
