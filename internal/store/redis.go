package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	logx "pwnotify/pkg/logx"
)

// redisStore keeps all keys under "<namespace>:" so a shared cache instance
// can host multiple deployments. TTLs are enforced natively by Redis.
type redisStore struct {
	rdb *redis.Client
	ns  string
	log logx.Logger
}

func openRedis(cfg Config, log logx.Logger) (KV, error) {
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: dialTimeout,
	})

	// Fail at startup if the store is unreachable: a mis-pointed store config
	// is a ConfigurationError, not something to discover mid-pass.
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, unavailable("redis ping", err)
	}

	log.Debug("redis store opened", logx.String("addr", cfg.Addr), logx.Int("db", cfg.DB))
	return &redisStore{rdb: rdb, ns: cfg.Namespace, log: log}, nil
}

func (s *redisStore) key(k string) string { return s.ns + ":" + k }

func (s *redisStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return unavailable("redis set", err)
	}
	return nil
}

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.rdb.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable("redis get", err)
	}
	return b, true, nil
}

func (s *redisStore) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, s.key(key)).Err(); err != nil {
		return unavailable("redis del", err)
	}
	return nil
}

func (s *redisStore) Scan(ctx context.Context, prefix string) (map[string][]byte, error) {
	match := s.key(prefix) + "*"
	out := map[string][]byte{}
	var cursor uint64
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, match, 200).Result()
		if err != nil {
			return nil, unavailable("redis scan", err)
		}
		for _, k := range keys {
			b, err := s.rdb.Get(ctx, k).Bytes()
			if errors.Is(err, redis.Nil) {
				// expired between SCAN and GET
				continue
			}
			if err != nil {
				return nil, unavailable("redis get", err)
			}
			out[k[len(s.ns)+1:]] = b
		}
		cursor = next
		if cursor == 0 {
			return out, nil
		}
	}
}

func (s *redisStore) IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	// INCRBY+EXPIRE in one round trip; EXPIRE on every call gives the
	// sliding-window semantics the counter contract requires.
	pipe := s.rdb.TxPipeline()
	incr := pipe.IncrBy(ctx, s.key(key), delta)
	if ttl > 0 {
		pipe.Expire(ctx, s.key(key), ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, unavailable("redis incrby", err)
	}
	return incr.Val(), nil
}

func (s *redisStore) Close() error { return s.rdb.Close() }
