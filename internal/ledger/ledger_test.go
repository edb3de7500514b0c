package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pwnotify/internal/channel"
	"pwnotify/internal/store"
)

func TestLedgerRoundTrip(t *testing.T) {
	t.Parallel()
	l := NewLedger(store.NewMemory())
	ctx := context.Background()

	rec := Record{
		Identity:            "alice",
		Channel:             channel.Chat,
		ContactAddress:      "alice@example.org",
		DisplayName:         "Alice",
		SentAt:              time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		CredentialChangedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, l.Put(ctx, "42", rec))

	all, err := l.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "42", all[0].MessageID)
	assert.Equal(t, rec.Identity, all[0].Record.Identity)
	assert.True(t, rec.SentAt.Equal(all[0].Record.SentAt))
}

func TestFindByIdentity(t *testing.T) {
	t.Parallel()
	l := NewLedger(store.NewMemory())
	ctx := context.Background()

	require.NoError(t, l.Put(ctx, "1", Record{Identity: "alice", Channel: channel.Chat}))
	require.NoError(t, l.Put(ctx, "2", Record{Identity: "alice", Channel: channel.Mail}))
	require.NoError(t, l.Put(ctx, "3", Record{Identity: "bob", Channel: channel.Chat}))

	got, err := l.FindByIdentity(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, got, 2)
	for _, e := range got {
		assert.Equal(t, "alice", e.Record.Identity)
	}

	got, err = l.FindByIdentity(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRemoveIsIdempotent(t *testing.T) {
	t.Parallel()
	l := NewLedger(store.NewMemory())
	ctx := context.Background()

	require.NoError(t, l.Put(ctx, "1", Record{Identity: "alice", Channel: channel.Chat}))
	require.NoError(t, l.Remove(ctx, "1"))
	require.NoError(t, l.Remove(ctx, "1"))
	require.NoError(t, l.Remove(ctx, "never-existed"))

	all, err := l.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestAllSkipsUndecodableEntries(t *testing.T) {
	t.Parallel()
	kv := store.NewMemory()
	l := NewLedger(kv)
	ctx := context.Background()

	require.NoError(t, l.Put(ctx, "good", Record{Identity: "alice", Channel: channel.Chat}))
	require.NoError(t, kv.Put(ctx, "notif:bad", []byte("not json"), 0))

	all, err := l.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "good", all[0].MessageID)
}

func TestRecordsExpireAfterRetention(t *testing.T) {
	t.Parallel()
	kv := store.NewMemory()
	l := NewLedger(kv)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	now := base
	kv.SetClock(func() time.Time { return now })

	require.NoError(t, l.Put(ctx, "1", Record{Identity: "alice", Channel: channel.Chat}))

	now = base.Add(RetentionTTL - time.Minute)
	all, err := l.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	now = base.Add(RetentionTTL + time.Minute)
	all, err = l.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all, "orphaned records must age out on their own")
}

func TestCounterLifecycle(t *testing.T) {
	t.Parallel()
	c := NewCounter(NewLedger(store.NewMemory()))
	ctx := context.Background()

	n, err := c.Get(ctx, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 0, n, "absent counter reads as zero")

	for i := 1; i <= 3; i++ {
		n, err = c.Increment(ctx, "alice")
		require.NoError(t, err)
		assert.EqualValues(t, i, n)
	}

	n, err = c.Get(ctx, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	require.NoError(t, c.Reset(ctx, "alice"))
	n, err = c.Get(ctx, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	// Reset of an absent counter is a no-op, not an error.
	require.NoError(t, c.Reset(ctx, "bob"))
}

func TestCounterTTLSlides(t *testing.T) {
	t.Parallel()
	kv := store.NewMemory()
	c := NewCounter(NewLedger(kv))
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	now := base
	kv.SetClock(func() time.Time { return now })

	_, err := c.Increment(ctx, "alice")
	require.NoError(t, err)

	// A later increment pushes the expiry out again.
	now = base.Add(20 * 24 * time.Hour)
	n, err := c.Increment(ctx, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	now = now.Add(20 * 24 * time.Hour)
	n, err = c.Get(ctx, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n, "counter refreshed by the second increment is still live")

	now = now.Add(RetentionTTL)
	n, err = c.Get(ctx, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 0, n, "idle counter ages out")
}
