package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	domain "github.com/vitrina/api/internal/domain"
	"github.com/vitrina/api/internal/repositories/memory"
)

type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	released int
}

type fakeLock struct {
	locker *fakeLocker
	key    string
}

func (f *fakeLocker) Obtain(_ context.Context, key string, _ time.Duration) (Lock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held == nil {
		f.held = make(map[string]bool)
	}
	if f.held[key] {
		return nil, ErrLockNotObtained
	}
	f.held[key] = true
	return fakeLock{locker: f, key: key}, nil
}

func (l fakeLock) Release(context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	delete(l.locker.held, l.key)
	l.locker.released++
	return nil
}

func TestPriceRefresherPagesThroughVariants(t *testing.T) {
	store := memory.NewStore()
	for i := 0; i < 5; i++ {
		store.SeedVariant(domain.ProductVariant{
			ID:        fmt.Sprintf("v%d", i),
			ProductID: "p",
			Stock:     i,
			PriceUSD:  dec(t, "1.5"),
		})
	}
	store.SeedVariant(domain.ProductVariant{ID: "v9", ProductID: "p", PriceUSD: dec(t, "2"), PriceARS: dec(t, "2400")})

	locker := &fakeLocker{}
	refresher, err := NewPriceRefresher(PriceRefresherDeps{
		Variants:   store.Variants(),
		UnitOfWork: store,
		Rates:      staticRate{rate: dec(t, "1200")},
		Locker:     locker,
		PageSize:   2,
		Clock:      func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("new refresher: %v", err)
	}

	result, err := refresher.RefreshARSPrices(context.Background())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if result.Scanned != 6 || result.Updated != 5 || result.Rate != "1200.00" {
		t.Fatalf("unexpected result %+v", result)
	}
	variant, _ := store.Variants().FindByID(context.Background(), "v3")
	assertDecimal(t, "price ars", variant.PriceARS, "1800")
	if variant.Stock != 3 || !variant.UpdatedAt.Equal(testNow) {
		t.Fatalf("expected stock untouched and timestamp set, got %+v", variant)
	}
	if locker.released != 1 {
		t.Fatalf("expected the lock to be released")
	}
}

func TestPriceRefresherRespectsHeldLock(t *testing.T) {
	store := memory.NewStore()
	locker := &fakeLocker{held: map[string]bool{priceRefreshLockKey: true}}
	refresher, err := NewPriceRefresher(PriceRefresherDeps{
		Variants:   store.Variants(),
		UnitOfWork: store,
		Rates:      staticRate{rate: dec(t, "1200")},
		Locker:     locker,
	})
	if err != nil {
		t.Fatalf("new refresher: %v", err)
	}
	if _, err := refresher.RefreshARSPrices(context.Background()); !errors.Is(err, ErrLockNotObtained) {
		t.Fatalf("expected lock contention, got %v", err)
	}
}

func TestPriceRefresherRejectsNonPositiveRate(t *testing.T) {
	store := memory.NewStore()
	locker := &fakeLocker{}
	refresher, _ := NewPriceRefresher(PriceRefresherDeps{
		Variants:   store.Variants(),
		UnitOfWork: store,
		Rates:      staticRate{rate: dec(t, "0")},
		Locker:     locker,
	})
	if _, err := refresher.RefreshARSPrices(context.Background()); err == nil {
		t.Fatalf("expected zero rate to be rejected")
	}
	if len(locker.held) != 0 {
		t.Fatalf("expected lock released after failure")
	}
}
