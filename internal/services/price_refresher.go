package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vitrina/api/internal/repositories"
)

const (
	priceRefreshLockKey   = "lock:prices:ars-refresh"
	defaultPriceLockTTL   = 2 * time.Minute
	defaultPriceRefreshPg = 100
)

// ErrLockNotObtained reports that another worker holds the lock.
var ErrLockNotObtained = errors.New("lock: not obtained")

// Locker obtains short-lived distributed locks.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// Lock is a held lock.
type Lock interface {
	Release(ctx context.Context) error
}

// PriceRefreshResult summarises a batch refresh.
type PriceRefreshResult struct {
	Rate    string `json:"rate"`
	Scanned int    `json:"scanned"`
	Updated int    `json:"updated"`
}

// PriceRefresherDeps bundles constructor inputs for the price refresher.
type PriceRefresherDeps struct {
	Variants   repositories.VariantRepository
	UnitOfWork repositories.UnitOfWork
	Rates      ExchangeRateProvider
	Locker     Locker
	LockTTL    time.Duration
	PageSize   int
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

// PriceRefresher recomputes the stored ARS price of every variant from the current exchange rate.
type PriceRefresher struct {
	variants repositories.VariantRepository
	uow      repositories.UnitOfWork
	rates    ExchangeRateProvider
	locker   Locker
	lockTTL  time.Duration
	pageSize int
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)
}

// NewPriceRefresher constructs a PriceRefresher.
func NewPriceRefresher(deps PriceRefresherDeps) (*PriceRefresher, error) {
	if deps.Variants == nil {
		return nil, errors.New("price refresher: variant repository is required")
	}
	if deps.UnitOfWork == nil {
		return nil, errors.New("price refresher: unit of work is required")
	}
	if deps.Rates == nil {
		return nil, errors.New("price refresher: exchange rate provider is required")
	}
	if deps.Locker == nil {
		return nil, errors.New("price refresher: locker is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &PriceRefresher{
		variants: deps.Variants,
		uow:      deps.UnitOfWork,
		rates:    deps.Rates,
		locker:   deps.Locker,
		lockTTL:  durationOr(deps.LockTTL, defaultPriceLockTTL),
		pageSize: positiveOr(deps.PageSize, defaultPriceRefreshPg),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// RefreshARSPrices pages through every variant and stores PriceUSD × rate as PriceARS.
// Only one refresh runs at a time across instances; a concurrent call fails with ErrLockNotObtained.
func (r *PriceRefresher) RefreshARSPrices(ctx context.Context) (PriceRefreshResult, error) {
	lock, err := r.locker.Obtain(ctx, priceRefreshLockKey, r.lockTTL)
	if err != nil {
		return PriceRefreshResult{}, err
	}
	defer func() {
		if releaseErr := lock.Release(context.WithoutCancel(ctx)); releaseErr != nil {
			r.logger(ctx, "prices.lock_release_failed", map[string]any{"error": releaseErr.Error()})
		}
	}()

	rate, err := r.rates.CurrentRate(ctx)
	if err != nil {
		return PriceRefreshResult{}, fmt.Errorf("prices: exchange rate unavailable: %w", err)
	}
	if !rate.IsPositive() {
		return PriceRefreshResult{}, fmt.Errorf("prices: exchange rate must be positive, got %s", rate.String())
	}

	result := PriceRefreshResult{Rate: rate.StringFixed(2)}
	after := ""
	for {
		page, err := r.variants.List(ctx, repositories.VariantListFilter{AfterID: after, Limit: r.pageSize})
		if err != nil {
			return result, err
		}
		if len(page) == 0 {
			break
		}
		ids := make([]string, len(page))
		for i, variant := range page {
			ids[i] = variant.ID
		}
		updated := 0
		err = r.uow.RunInTx(ctx, func(txCtx context.Context) error {
			updated = 0
			current, err := r.variants.FindByIDs(txCtx, ids)
			if err != nil {
				return err
			}
			now := r.clock()
			for _, id := range ids {
				variant, ok := current[id]
				if !ok {
					continue
				}
				next := variant.PriceUSD.Mul(rate).Round(2)
				if next.Equal(variant.PriceARS) {
					continue
				}
				variant.PriceARS = next
				variant.UpdatedAt = now
				if err := r.variants.Update(txCtx, variant); err != nil {
					return err
				}
				updated++
			}
			return nil
		})
		if err != nil {
			return result, err
		}
		result.Scanned += len(page)
		result.Updated += updated
		after = page[len(page)-1].ID
		if len(page) < r.pageSize {
			break
		}
	}

	r.logger(ctx, "prices.ars_refreshed", map[string]any{
		"rate":    result.Rate,
		"scanned": result.Scanned,
		"updated": result.Updated,
	})
	return result, nil
}
