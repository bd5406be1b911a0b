package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vitrina/api/internal/platform/config"
	"github.com/vitrina/api/internal/platform/idempotency"
	"github.com/vitrina/api/internal/platform/observability"
	"github.com/vitrina/api/internal/repositories"
	"github.com/vitrina/api/internal/services"
)

// Services bundles the service-layer contracts that handlers and commands rely upon. Concrete
// implementations are assembled via dependency injection in NewContainer.
type Services struct {
	Ledger  services.InventoryLedger
	Orders  services.OrderService
	Refunds services.RefundService
	Catalog services.CatalogService
	Prices  *services.PriceRefresher
	Rooms   *services.RoomManager
}

// Infrastructure carries the external adapters services depend on. Nil members disable the
// features that need them: no renderer or artifact store leaves catalog generation unwired and
// no locker leaves the price refresher unwired.
type Infrastructure struct {
	Rates           services.ExchangeRateProvider
	Locker          services.Locker
	InventoryEvents services.InventoryEventPublisher
	OrderEvents     services.OrderEventPublisher
	Renderer        services.CatalogRenderer
	Artifacts       services.ArtifactStore
	Health          repositories.HealthRepository
	Idempotency     idempotency.Store
	Clock           func() time.Time
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
	Rates        services.ExchangeRateProvider
	Health       repositories.HealthRepository
	Idempotency  idempotency.Store

	closers []func(context.Context) error
}

// NewContainer constructs the runtime dependencies over an already opened registry. Tests
// supply an in-memory registry and fake infrastructure; Open builds the production set.
func NewContainer(cfg config.Config, reg repositories.Registry, infra Infrastructure, logger *zap.Logger) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	if infra.Rates == nil {
		return nil, errors.New("exchange rate provider is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	svc, err := buildServices(reg, cfg, infra, logger)
	if err != nil {
		return nil, err
	}
	idem := infra.Idempotency
	if idem == nil {
		idem = idempotency.NewMemoryStore()
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
		Rates:        infra.Rates,
		Health:       infra.Health,
		Idempotency:  idem,
	}, nil
}

// Close releases resources in reverse order of acquisition: in-flight catalog jobs first,
// then external clients, then the repositories.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.Services.Catalog != nil {
		if err := c.Services.Catalog.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("wait for catalog jobs: %w", err))
		}
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Repositories != nil {
		if err := c.Repositories.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close repositories: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (c *Container) addCloser(fn func(context.Context) error) {
	c.closers = append(c.closers, fn)
}

func buildServices(reg repositories.Registry, cfg config.Config, infra Infrastructure, logger *zap.Logger) (Services, error) {
	var svc Services
	clock := infra.Clock
	if clock == nil {
		clock = time.Now
	}

	ledger, err := services.NewInventoryLedger(services.InventoryLedgerDeps{
		Variants:   reg.Variants(),
		Movements:  reg.Movements(),
		UnitOfWork: reg,
		Events:     infra.InventoryEvents,
		Clock:      clock,
		Logger:     observability.EventLogger(logger.Named("ledger")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build inventory ledger: %w", err)
	}
	svc.Ledger = ledger

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:              reg.Orders(),
		Variants:            reg.Variants(),
		Catalog:             reg.Catalog(),
		Counters:            reg.Counters(),
		Ledger:              ledger,
		UnitOfWork:          reg,
		Rates:               infra.Rates,
		Events:              infra.OrderEvents,
		BankTransferFeeRate: cfg.Pricing.BankTransferFeeRate,
		Clock:               clock,
		Logger:              observability.EventLogger(logger.Named("orders")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	refundSvc, err := services.NewRefundService(services.RefundServiceDeps{
		Orders:     reg.Orders(),
		UnitOfWork: reg,
		Events:     infra.OrderEvents,
		Clock:      clock,
		Logger:     observability.EventLogger(logger.Named("refunds")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build refund service: %w", err)
	}
	svc.Refunds = refundSvc

	svc.Rooms = services.NewRoomManager(services.RoomManagerOptions{
		Clock:          clock,
		Capacity:       cfg.Rooms.Capacity,
		TTL:            cfg.Rooms.TTL,
		JoinsPerMinute: cfg.Rooms.JoinsPerMinute,
		SweepInterval:  cfg.Rooms.SweepInterval,
		Logger:         observability.EventLogger(logger.Named("rooms")),
	})

	if infra.Renderer != nil && infra.Artifacts != nil {
		catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
			Catalog:    reg.Catalog(),
			Variants:   reg.Variants(),
			Rates:      infra.Rates,
			Renderer:   infra.Renderer,
			Artifacts:  infra.Artifacts,
			Rooms:      svc.Rooms,
			LogoObject: cfg.Catalog.LogoObject,
			JobTimeout: cfg.Catalog.JobTimeout,
			Clock:      clock,
			Logger:     observability.EventLogger(logger.Named("catalog")),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build catalog service: %w", err)
		}
		svc.Catalog = catalogSvc
	}

	if infra.Locker != nil {
		refresher, err := services.NewPriceRefresher(services.PriceRefresherDeps{
			Variants:   reg.Variants(),
			UnitOfWork: reg,
			Rates:      infra.Rates,
			Locker:     infra.Locker,
			LockTTL:    cfg.Pricing.RefreshLockTTL,
			Clock:      clock,
			Logger:     observability.EventLogger(logger.Named("prices")),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build price refresher: %w", err)
		}
		svc.Prices = refresher
	}

	return svc, nil
}
