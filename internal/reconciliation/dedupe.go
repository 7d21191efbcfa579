package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bnd-apparel/storefront-backend/pkg/redis"
)

const callbackDedupeScope = "toyyibpay:callback"

// CallbackGuard skips replays of a callback delivery that was already applied.
// It only saves work: Apply stays correct when the guard is absent or Redis
// is down.
type CallbackGuard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

// NewCallbackGuard remembers applied deliveries in store for ttl; zero keeps
// them until Redis evicts the key.
func NewCallbackGuard(store redis.IdempotencyStore, ttl time.Duration) (*CallbackGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &CallbackGuard{store: store, ttl: ttl}, nil
}

// DeliveryKey identifies a delivery by bill code (or order reference when the
// bill code is missing) and raw status.
func DeliveryKey(p Parsed) string {
	ref := p.RawReference
	if p.BillCode != nil {
		ref = *p.BillCode
	}
	return strings.ToLower(fmt.Sprintf("%s:%s", ref, p.RawStatus))
}

// CheckAndMark returns true when key was already marked, and marks it otherwise.
func (g *CallbackGuard) CheckAndMark(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, errors.New("delivery key is required")
	}
	set, err := g.store.SetNX(ctx, g.store.IdempotencyKey(callbackDedupeScope, key), "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("set callback dedupe key: %w", err)
	}
	return !set, nil
}

// Release forgets key so the next delivery is processed again.
func (g *CallbackGuard) Release(ctx context.Context, key string) error {
	if key == "" {
		return errors.New("delivery key is required")
	}
	return g.store.Del(ctx, g.store.IdempotencyKey(callbackDedupeScope, key))
}
