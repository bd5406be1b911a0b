package exchangerate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// DefaultKey is the Redis key holding the published USD→ARS rate.
const DefaultKey = "fx:usd_ars"

const defaultTTL = time.Minute

// ErrInvalidRate reports a rate that is missing, malformed, or not positive.
var ErrInvalidRate = errors.New("exchangerate: invalid rate")

type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// Options configures a CachedProvider.
type Options struct {
	Key      string
	Fallback decimal.Decimal
	TTL      time.Duration
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

// CachedProvider serves the published exchange rate from Redis, memoised in-process for TTL.
// When Redis holds no rate the configured fallback is used; when Redis is unreachable the
// last known rate is served, then the fallback.
type CachedProvider struct {
	client   redisClient
	key      string
	fallback decimal.Decimal
	ttl      time.Duration
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)

	mu        sync.Mutex
	cached    decimal.Decimal
	hasCached bool
	fetchedAt time.Time
}

// NewCachedProvider builds a provider over the given Redis client. client may be nil, in which case only
// the fallback rate is served.
func NewCachedProvider(client redisClient, opts Options) (*CachedProvider, error) {
	if client == nil && !opts.Fallback.IsPositive() {
		return nil, fmt.Errorf("%w: a redis client or a positive fallback rate is required", ErrInvalidRate)
	}
	key := strings.TrimSpace(opts.Key)
	if key == "" {
		key = DefaultKey
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &CachedProvider{
		client:   client,
		key:      key,
		fallback: opts.Fallback,
		ttl:      ttl,
		clock:    clock,
		logger:   logger,
	}, nil
}

// CurrentRate returns the USD→ARS rate.
func (p *CachedProvider) CurrentRate(ctx context.Context) (decimal.Decimal, error) {
	now := p.clock()
	p.mu.Lock()
	if p.hasCached && now.Sub(p.fetchedAt) < p.ttl {
		rate := p.cached
		p.mu.Unlock()
		return rate, nil
	}
	p.mu.Unlock()

	if p.client == nil {
		return p.fallback, nil
	}

	raw, err := p.client.Get(ctx, p.key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		if !p.fallback.IsPositive() {
			return decimal.Zero, fmt.Errorf("%w: no rate published under %s", ErrInvalidRate, p.key)
		}
		p.remember(p.fallback, now)
		return p.fallback, nil
	case err != nil:
		p.logger(ctx, "exchangerate.redis_unavailable", map[string]any{"error": err.Error(), "key": p.key})
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.hasCached {
			return p.cached, nil
		}
		if p.fallback.IsPositive() {
			return p.fallback, nil
		}
		return decimal.Zero, fmt.Errorf("exchangerate: redis unavailable: %w", err)
	}

	rate, err := parseRate(raw)
	if err != nil {
		return decimal.Zero, err
	}
	p.remember(rate, now)
	return rate, nil
}

// Publish stores a new rate in Redis and refreshes the in-process cache.
func (p *CachedProvider) Publish(ctx context.Context, rate decimal.Decimal) error {
	if !rate.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidRate, rate.String())
	}
	if p.client == nil {
		return errors.New("exchangerate: redis client not configured")
	}
	if err := p.client.Set(ctx, p.key, rate.String(), 0).Err(); err != nil {
		return fmt.Errorf("exchangerate: publish rate: %w", err)
	}
	p.remember(rate, p.clock())
	return nil
}

func (p *CachedProvider) remember(rate decimal.Decimal, at time.Time) {
	p.mu.Lock()
	p.cached = rate
	p.hasCached = true
	p.fetchedAt = at
	p.mu.Unlock()
}

func parseRate(raw string) (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidRate, raw)
	}
	if !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrInvalidRate, rate.String())
	}
	return rate, nil
}
