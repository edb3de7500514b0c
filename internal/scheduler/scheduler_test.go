package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	logx "pwnotify/pkg/logx"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestKickRunsJob(t *testing.T) {
	t.Parallel()
	var runs atomic.Int64
	s := New(Config{Enabled: true, Interval: time.Hour}, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	s.Kick()
	waitFor(t, func() bool { return runs.Load() == 1 })
}

func TestKickCoalesces(t *testing.T) {
	t.Parallel()
	var runs atomic.Int64
	release := make(chan struct{})
	s := New(Config{Enabled: true, Interval: time.Hour}, func(ctx context.Context) error {
		runs.Add(1)
		if runs.Load() == 1 {
			<-release
		}
		return nil
	}, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	// While the first kick is still running, further kicks collapse into at
	// most one pending trigger.
	s.Kick()
	waitFor(t, func() bool { return runs.Load() == 1 })
	for i := 0; i < 10; i++ {
		s.Kick()
	}
	close(release)

	waitFor(t, func() bool { return runs.Load() == 2 })
	time.Sleep(50 * time.Millisecond)
	if got := runs.Load(); got != 2 {
		t.Fatalf("coalescing failed: %d runs", got)
	}
}

func TestIntervalTriggersJob(t *testing.T) {
	t.Parallel()
	var runs atomic.Int64
	s := New(Config{Enabled: true, Interval: 100 * time.Millisecond}, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	waitFor(t, func() bool { return runs.Load() >= 2 })
}

func TestStopIsIdempotent(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Interval: time.Hour}, func(ctx context.Context) error { return nil }, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	s.Stop(context.Background())
	s.Stop(context.Background())
}

func TestNoJobAfterContextCancel(t *testing.T) {
	t.Parallel()
	var runs atomic.Int64
	s := New(Config{Enabled: true, Interval: time.Hour}, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cancel()
	time.Sleep(20 * time.Millisecond)

	s.Kick()
	time.Sleep(50 * time.Millisecond)
	if runs.Load() != 0 {
		t.Fatalf("job ran after cancellation: %d", runs.Load())
	}
	s.Stop(context.Background())
}

func TestApplyRestartsSchedule(t *testing.T) {
	t.Parallel()
	var runs atomic.Int64
	s := New(Config{Enabled: true, Interval: time.Hour}, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	s.Apply(Config{Enabled: true, Interval: 100 * time.Millisecond})
	waitFor(t, func() bool { return runs.Load() >= 1 })
}
