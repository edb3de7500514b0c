package store

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Memory is a process-local KV with TTL semantics matching the durable
// drivers. It backs the "memory" driver and the test suites.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memEntry
	now     func() time.Time
}

type memEntry struct {
	value []byte
	until time.Time
}

func NewMemory() *Memory {
	return &Memory{entries: map[string]memEntry{}, now: time.Now}
}

// SetClock overrides the time source. Test hook.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *Memory) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memEntry{value: append([]byte(nil), value...), until: m.deadlineLocked(ttl)}
	return nil
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || m.expiredLocked(e) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Scan(ctx context.Context, prefix string) (map[string][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string][]byte{}
	for k, e := range m.entries {
		if m.expiredLocked(e) {
			delete(m.entries, k)
			continue
		}
		if strings.HasPrefix(k, prefix) {
			out[k] = append([]byte(nil), e.value...)
		}
	}
	return out, nil
}

func (m *Memory) IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var cur int64
	if e, ok := m.entries[key]; ok && !m.expiredLocked(e) {
		cur, _ = strconv.ParseInt(string(e.value), 10, 64)
	}
	cur += delta
	m.entries[key] = memEntry{value: []byte(strconv.FormatInt(cur, 10)), until: m.deadlineLocked(ttl)}
	return cur, nil
}

func (m *Memory) Close() error { return nil }

func (m *Memory) deadlineLocked(ttl time.Duration) time.Time {
	if ttl <= 0 {
		// no expiry
		return time.Time{}
	}
	return m.now().Add(ttl)
}

func (m *Memory) expiredLocked(e memEntry) bool {
	return !e.until.IsZero() && !m.now().Before(e.until)
}
