package ledger

import (
	"context"
	"strconv"
)

// Counter tracks how many plain mail reminders each identity has received
// within the retention window. The TTL slides: every increment refreshes it,
// so the window measures time since the last reminder, and an identity that
// stays quiet for the whole window conceptually resets to zero.
type Counter struct {
	ledger *Ledger
}

func NewCounter(l *Ledger) *Counter {
	return &Counter{ledger: l}
}

// Increment bumps the identity's count and returns the new value.
// Atomicity against partial writes is the store's job; cross-process atomicity
// is not required because reconciliation passes are single-flight.
func (c *Counter) Increment(ctx context.Context, identity string) (int64, error) {
	return c.ledger.kv.IncrBy(ctx, escalPrefix+identity, 1, RetentionTTL)
}

// Get returns the current count; absent counters read as zero.
func (c *Counter) Get(ctx context.Context, identity string) (int64, error) {
	b, ok, err := c.ledger.kv.Get(ctx, escalPrefix+identity)
	if err != nil || !ok {
		return 0, err
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		// A corrupted counter is treated as absent rather than wedging the
		// dispatch path for this identity.
		return 0, nil
	}
	return n, nil
}

// Reset deletes the counter (conceptually zero).
func (c *Counter) Reset(ctx context.Context, identity string) error {
	return c.ledger.kv.Delete(ctx, escalPrefix+identity)
}
