package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnavailable marks operations that failed because the backing store was
// unreachable. Callers must treat the corresponding side effect as performed
// but not confirmed persisted; they log and move on rather than retry, since
// re-sending would duplicate the user-visible message.
var ErrUnavailable = errors.New("store unavailable")

// KV is the minimal persistence API used by the ledger and counter.
//
// All methods honor ctx. Delete on an absent key is not an error. IncrBy must
// be atomic against partial writes and refreshes the key's TTL on every call
// (sliding expiry).
type KV interface {
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Delete(ctx context.Context, key string) error

	// Scan returns all live entries whose key starts with prefix.
	// Volume is bounded by active policy violations, not user count, so a
	// full prefix walk is acceptable.
	Scan(ctx context.Context, prefix string) (map[string][]byte, error)

	IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)

	Close() error
}

// Config configures the store backend.
type Config struct {
	Driver    string
	Namespace string // key prefix on shared backends; default "pwnotify"

	// redis
	Addr        string
	Password    string
	DB          int
	DialTimeout time.Duration

	// sqlite
	Path        string
	BusyTimeout time.Duration
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}
