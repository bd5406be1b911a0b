package locks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bsm/redislock"

	"github.com/vitrina/api/internal/services"
)

type stubObtainer struct {
	err error
}

func (s stubObtainer) Obtain(context.Context, string, time.Duration, *redislock.Options) (*redislock.Lock, error) {
	return nil, s.err
}

func TestRedisLockerMapsContention(t *testing.T) {
	locker := &RedisLocker{client: stubObtainer{err: redislock.ErrNotObtained}}
	_, err := locker.Obtain(context.Background(), "lock:prices", time.Minute)
	if !errors.Is(err, services.ErrLockNotObtained) {
		t.Fatalf("expected ErrLockNotObtained, got %v", err)
	}
}

func TestRedisLockerWrapsBackendErrors(t *testing.T) {
	backend := errors.New("dial tcp: connection refused")
	locker := &RedisLocker{client: stubObtainer{err: backend}}
	_, err := locker.Obtain(context.Background(), "lock:prices", time.Minute)
	if !errors.Is(err, backend) || errors.Is(err, services.ErrLockNotObtained) {
		t.Fatalf("expected wrapped backend error, got %v", err)
	}
	if _, err := NewRedisLocker(nil); err == nil {
		t.Fatalf("expected nil client to be rejected")
	}
}
