package services

import (
	"context"
	"sync"
)

type outboxKey struct{}

// outbox holds notifications that must only be sent once the enclosing unit of work commits.
type outbox struct {
	mu      sync.Mutex
	pending []func(context.Context)
}

// ensureOutbox returns the outbox already carried by ctx, or installs a new one. owned reports whether
// the caller created it and is therefore responsible for resetting it per attempt and flushing it.
func ensureOutbox(ctx context.Context) (context.Context, *outbox, bool) {
	if box, ok := ctx.Value(outboxKey{}).(*outbox); ok && box != nil {
		return ctx, box, false
	}
	box := &outbox{}
	return context.WithValue(ctx, outboxKey{}, box), box, true
}

func (o *outbox) add(fn func(context.Context)) {
	o.mu.Lock()
	o.pending = append(o.pending, fn)
	o.mu.Unlock()
}

// reset drops entries from a transaction attempt that is being retried.
func (o *outbox) reset() {
	o.mu.Lock()
	o.pending = nil
	o.mu.Unlock()
}

func (o *outbox) flush(ctx context.Context) {
	o.mu.Lock()
	pending := o.pending
	o.pending = nil
	o.mu.Unlock()
	for _, fn := range pending {
		fn(ctx)
	}
}
