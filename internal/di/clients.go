package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/vitrina/api/internal/platform/config"
	"github.com/vitrina/api/internal/platform/exchangerate"
	pfirestore "github.com/vitrina/api/internal/platform/firestore"
	"github.com/vitrina/api/internal/platform/idempotency"
	"github.com/vitrina/api/internal/platform/jobs"
	"github.com/vitrina/api/internal/platform/locks"
	"github.com/vitrina/api/internal/platform/observability"
	"github.com/vitrina/api/internal/platform/renderer"
	"github.com/vitrina/api/internal/platform/storage"
	"github.com/vitrina/api/internal/repositories"
	firestoreRepo "github.com/vitrina/api/internal/repositories/firestore"
	"github.com/vitrina/api/internal/repositories/memory"
)

const (
	firestoreProbeTimeout = 2 * time.Second
	redisProbeTimeout     = 1 * time.Second
	probeCollection       = "orders"
)

// Open connects every external client named by cfg and assembles the container over them.
// Clients that fail after a partial start are closed before returning the error.
func Open(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *Container, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var closers []func(context.Context) error
	defer func() {
		if err == nil {
			return
		}
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i](context.Background())
		}
	}()

	var (
		infra  Infrastructure
		probes []repositories.DependencyProbe
		reg    repositories.Registry
	)

	switch cfg.Persistence.Driver {
	case config.DriverMemory:
		logger.Warn("using in-memory persistence; data is lost on restart")
		reg = memory.NewStore()
	default:
		provider := pfirestore.NewProvider(cfg.Firestore)
		closers = append(closers, provider.Close)
		fsReg, err := firestoreRepo.NewRegistry(provider)
		if err != nil {
			return nil, fmt.Errorf("build firestore registry: %w", err)
		}
		// The registry owns the provider from here on.
		closers = closers[:len(closers)-1]
		reg = fsReg
		probes = append(probes, repositories.DependencyProbe{
			Name:    "firestore",
			Timeout: firestoreProbeTimeout,
			Probe:   firestoreProbe(provider),
		})
	}
	defer func() {
		if err != nil {
			_ = reg.Close(context.Background())
		}
	}()

	var redisClient *redis.Client
	if addr := strings.TrimSpace(cfg.Redis.Addr); addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		closers = append(closers, func(context.Context) error { return redisClient.Close() })
		probes = append(probes, repositories.DependencyProbe{
			Name:    "redis",
			Timeout: redisProbeTimeout,
			Probe: func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			},
		})

		locker, err := locks.NewRedisLocker(redislock.New(redisClient))
		if err != nil {
			return nil, err
		}
		infra.Locker = locker

		idem, err := idempotency.NewRedisStore(redisClient, "")
		if err != nil {
			return nil, err
		}
		infra.Idempotency = idem
	}

	rateOpts := exchangerate.Options{
		Fallback: cfg.Pricing.DefaultExchangeRate,
		TTL:      cfg.Pricing.RateCacheTTL,
		Logger:   observability.EventLogger(logger.Named("fx")),
	}
	if redisClient != nil {
		infra.Rates, err = exchangerate.NewCachedProvider(redisClient, rateOpts)
	} else {
		infra.Rates, err = exchangerate.NewCachedProvider(nil, rateOpts)
	}
	if err != nil {
		return nil, fmt.Errorf("build exchange rate provider: %w", err)
	}

	if cfg.PubSub.InventoryTopic != "" || cfg.PubSub.OrderTopic != "" {
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("create pubsub client: %w", err)
		}
		var inventoryTopic, orderTopic *pubsub.Topic
		if cfg.PubSub.InventoryTopic != "" {
			inventoryTopic = client.Topic(cfg.PubSub.InventoryTopic)
		}
		if cfg.PubSub.OrderTopic != "" {
			orderTopic = client.Topic(cfg.PubSub.OrderTopic)
		}
		closers = append(closers, func(context.Context) error {
			for _, topic := range []*pubsub.Topic{inventoryTopic, orderTopic} {
				if topic != nil {
					topic.Stop()
				}
			}
			return client.Close()
		})
		publisher, err := jobs.NewPubSubEventPublisher(inventoryTopic, orderTopic)
		if err != nil {
			return nil, err
		}
		infra.InventoryEvents = publisher
		infra.OrderEvents = publisher
	}

	if cfg.Storage.ArtifactsBucket != "" {
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		closers = append(closers, func(context.Context) error { return client.Close() })
		store, err := storage.NewArtifactStore(client, storage.Options{
			ArtifactsBucket: cfg.Storage.ArtifactsBucket,
			AssetsBucket:    cfg.Storage.AssetsBucket,
		})
		if err != nil {
			return nil, err
		}
		infra.Artifacts = store
	}

	if cfg.Catalog.RendererEndpoint != "" {
		client, err := renderer.NewClient(renderer.Options{
			Endpoint: cfg.Catalog.RendererEndpoint,
			Token:    cfg.Catalog.RendererToken,
			Timeout:  cfg.Catalog.RendererTimeout,
		})
		if err != nil {
			return nil, err
		}
		infra.Renderer = client
	}
	if infra.Renderer == nil || infra.Artifacts == nil {
		logger.Warn("catalog generation disabled; renderer endpoint or artifacts bucket not configured")
	}

	if len(probes) > 0 {
		health, err := repositories.NewProbeHealthRepository(probes, time.Now)
		if err != nil {
			return nil, err
		}
		infra.Health = health
	}

	container, err := NewContainer(cfg, reg, infra, logger)
	if err != nil {
		return nil, err
	}
	for _, closer := range closers {
		container.addCloser(closer)
	}
	return container, nil
}

func firestoreProbe(provider *pfirestore.Provider) func(context.Context) error {
	return func(ctx context.Context) error {
		client, err := provider.Client(ctx)
		if err != nil {
			return err
		}
		iter := client.Collection(probeCollection).Limit(1).Documents(ctx)
		defer iter.Stop()
		if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
			return err
		}
		return nil
	}
}
