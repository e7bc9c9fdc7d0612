package idempotency

import (
	"context"
	"errors"
	"time"
)

// NonceStore exposes a Store as a signature-nonce registry so replay
// protection holds across instances when the Store is shared.
type NonceStore struct {
	store Store
	now   func() time.Time
}

// NewNonceStore wraps store.
func NewNonceStore(store Store, clock func() time.Time) *NonceStore {
	if clock == nil {
		clock = time.Now
	}
	return &NonceStore{store: store, now: clock}
}

// UseNonce claims scope/nonce until expiry. It returns false on replay.
func (n *NonceStore) UseNonce(ctx context.Context, scope, nonce string, expiry time.Time) (bool, error) {
	if scope == "" || nonce == "" {
		return false, errors.New("idempotency: scope and nonce are required")
	}
	now := n.now()
	ttl := expiry.Sub(now)
	if ttl <= 0 {
		ttl = time.Minute
	}
	return n.store.Claim(ctx, "nonce:"+scope+":"+nonce, now, ttl)
}
