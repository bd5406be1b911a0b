package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/vitrina/api/internal/domain"
	"github.com/vitrina/api/internal/repositories/memory"
)

var testNow = time.Date(2025, 3, 14, 15, 0, 0, 0, time.UTC)

func dec(t *testing.T, value string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(value)
	if err != nil {
		t.Fatalf("decimal %q: %v", value, err)
	}
	return d
}

func decPtr(t *testing.T, value string) *decimal.Decimal {
	t.Helper()
	d := dec(t, value)
	return &d
}

func assertDecimal(t *testing.T, label string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(decimal.RequireFromString(want)) {
		t.Fatalf("%s: expected %s, got %s", label, want, got.String())
	}
}

type recordingInventoryEvents struct {
	mu     sync.Mutex
	events []InventoryMovementEvent
	err    error
}

func (r *recordingInventoryEvents) PublishInventoryEvent(_ context.Context, event InventoryMovementEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func (r *recordingInventoryEvents) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type recordingOrderEvents struct {
	mu     sync.Mutex
	events []OrderEvent
}

func (r *recordingOrderEvents) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

type staticRate struct {
	rate decimal.Decimal
	err  error
}

func (s staticRate) CurrentRate(context.Context) (decimal.Decimal, error) {
	return s.rate, s.err
}

func sequenceIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return prefix + string(rune('A'+n-1))
	}
}

func newTestLedger(t *testing.T, store *memory.Store, events InventoryEventPublisher) InventoryLedger {
	t.Helper()
	ledger, err := NewInventoryLedger(InventoryLedgerDeps{
		Variants:   store.Variants(),
		Movements:  store.Movements(),
		UnitOfWork: store,
		Events:     events,
		Clock:      func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	return ledger
}

// seedStock registers a variant and brings it to the given stock through the ledger.
func seedStock(t *testing.T, ledger InventoryLedger, productID, hex string, price string, stock int, unitCost string) domain.ProductVariant {
	t.Helper()
	variant, err := ledger.RegisterVariant(context.Background(), RegisterVariantCommand{
		Variant: domain.ProductVariant{
			ProductID: productID,
			Color:     domain.Color{Name: hex, Hex: hex},
			PriceUSD:  dec(t, price),
		},
		InitialStock: stock,
		UnitCostUSD:  dec(t, unitCost),
		Actor:        "seed",
	})
	if err != nil {
		t.Fatalf("register variant: %v", err)
	}
	return variant
}

func stockOf(t *testing.T, store *memory.Store, variantID string) int {
	t.Helper()
	variant, err := store.Variants().FindByID(context.Background(), variantID)
	if err != nil {
		t.Fatalf("find variant %s: %v", variantID, err)
	}
	return variant.Stock
}

var errPublish = errors.New("publish failed")
