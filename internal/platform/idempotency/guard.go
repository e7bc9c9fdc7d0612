package idempotency

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Logger receives structured guard events.
type Logger func(ctx context.Context, event string, fields map[string]any)

// Guard applies a retention window and clock to a Store.
type Guard struct {
	store  Store
	ttl    time.Duration
	now    func() time.Time
	logger Logger
}

// GuardOption customises a Guard.
type GuardOption func(*Guard)

// WithTTL overrides how long processed events are remembered.
func WithTTL(ttl time.Duration) GuardOption {
	return func(g *Guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithClock injects the time source.
func WithClock(clock func() time.Time) GuardOption {
	return func(g *Guard) {
		if clock != nil {
			g.now = clock
		}
	}
}

// WithLogger registers a structured logger.
func WithLogger(logger Logger) GuardOption {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGuard constructs a Guard over store.
func NewGuard(store Store, opts ...GuardOption) (*Guard, error) {
	if store == nil {
		return nil, errors.New("idempotency: store is required")
	}
	guard := &Guard{
		store:  store,
		ttl:    DefaultTTL,
		now:    time.Now,
		logger: func(context.Context, string, map[string]any) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(guard)
		}
	}
	return guard, nil
}

// Claim reserves key. It returns false when the event was seen within the retention window.
func (g *Guard) Claim(ctx context.Context, key string) (bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return false, errors.New("idempotency: key is required")
	}
	return g.store.Claim(ctx, key, g.now(), g.ttl)
}

// Complete records the final outcome of key.
func (g *Guard) Complete(ctx context.Context, key, outcome string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("idempotency: key is required")
	}
	return g.store.Complete(ctx, key, outcome, g.now(), g.ttl)
}

// Release forgets key so the next delivery of the event is processed.
func (g *Guard) Release(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("idempotency: key is required")
	}
	return g.store.Release(ctx, key)
}

// RunCleanup deletes expired records every interval until ctx is done.
func (g *Guard) RunCleanup(ctx context.Context, interval time.Duration, batchSize int) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Cleanup(ctx, batchSize)
		}
	}
}

// Cleanup removes one batch of expired records and returns how many were deleted.
func (g *Guard) Cleanup(ctx context.Context, batchSize int) int {
	removed, err := g.store.CleanupExpired(ctx, g.now(), batchSize)
	if err != nil {
		g.logger(ctx, "idempotency.cleanup.failed", map[string]any{"error": err.Error()})
		return 0
	}
	if removed > 0 {
		g.logger(ctx, "idempotency.cleanup.removed", map[string]any{"removed": removed})
	}
	return removed
}
