package exchangerate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

type fakeRedis struct {
	values map[string]string
	err    error
	gets   int
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.gets++
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	value, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(value, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, _ time.Duration) *redis.StatusCmd {
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	if f.values == nil {
		f.values = make(map[string]string)
	}
	f.values[key] = value.(string)
	return redis.NewStatusResult("OK", nil)
}

func TestCachedProviderMemoisesWithinTTL(t *testing.T) {
	now := time.Date(2025, 3, 14, 15, 0, 0, 0, time.UTC)
	client := &fakeRedis{values: map[string]string{DefaultKey: "1185.50"}}
	provider, err := NewCachedProvider(client, Options{TTL: time.Minute, Clock: func() time.Time { return now }})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	for i := 0; i < 3; i++ {
		rate, err := provider.CurrentRate(context.Background())
		if err != nil {
			t.Fatalf("current rate: %v", err)
		}
		if !rate.Equal(decimal.RequireFromString("1185.5")) {
			t.Fatalf("unexpected rate %s", rate)
		}
	}
	if client.gets != 1 {
		t.Fatalf("expected a single redis read, got %d", client.gets)
	}

	now = now.Add(2 * time.Minute)
	client.values[DefaultKey] = "1200"
	rate, _ := provider.CurrentRate(context.Background())
	if !rate.Equal(decimal.NewFromInt(1200)) || client.gets != 2 {
		t.Fatalf("expected refreshed rate after ttl, got %s after %d reads", rate, client.gets)
	}
}

func TestCachedProviderFallbacks(t *testing.T) {
	now := time.Date(2025, 3, 14, 15, 0, 0, 0, time.UTC)
	client := &fakeRedis{}
	provider, _ := NewCachedProvider(client, Options{Fallback: decimal.NewFromInt(1000), Clock: func() time.Time { return now }})

	rate, err := provider.CurrentRate(context.Background())
	if err != nil || !rate.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("expected fallback when no rate is published, got %s %v", rate, err)
	}

	if err := provider.Publish(context.Background(), decimal.NewFromInt(1250)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	now = now.Add(time.Hour)
	client.err = errors.New("connection refused")
	rate, err = provider.CurrentRate(context.Background())
	if err != nil || !rate.Equal(decimal.NewFromInt(1250)) {
		t.Fatalf("expected last known rate while redis is down, got %s %v", rate, err)
	}
}

func TestCachedProviderRejectsInvalidValues(t *testing.T) {
	client := &fakeRedis{values: map[string]string{DefaultKey: "not-a-number"}}
	provider, _ := NewCachedProvider(client, Options{})
	if _, err := provider.CurrentRate(context.Background()); !errors.Is(err, ErrInvalidRate) {
		t.Fatalf("expected invalid rate, got %v", err)
	}
	if err := provider.Publish(context.Background(), decimal.Zero); !errors.Is(err, ErrInvalidRate) {
		t.Fatalf("expected zero rate to be rejected, got %v", err)
	}
	if _, err := NewCachedProvider(nil, Options{}); !errors.Is(err, ErrInvalidRate) {
		t.Fatalf("expected constructor to require a source, got %v", err)
	}
}
