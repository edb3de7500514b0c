// Package scheduler triggers reconciliation passes on a fixed interval.
//
// Passes are single-flight: the cron chain delays a due trigger until the
// previous pass has fully completed, so passes never overlap. Kick() bypasses
// the timer for deterministic tests and operator-forced runs.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "pwnotify/pkg/logx"
)

type Config struct {
	Enabled  bool
	Interval time.Duration
	Timezone string // IANA TZ, e.g. "Europe/Berlin"
}

// Job is one reconciliation pass. It must honor ctx.
type Job func(ctx context.Context) error

type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	job Job

	c      *cron.Cron
	runCtx context.Context
	kick   chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func New(cfg Config, job Job, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, job: job, log: log, kick: make(chan struct{}, 1)}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply updates interval/timezone at runtime; the cron is restarted when
// either changed so the new trigger takes effect without a process restart.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := cfg.Interval != s.cfg.Interval ||
		strings.TrimSpace(cfg.Timezone) != strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg

	if s.stopCh == nil || !changed {
		return
	}
	s.stopCronLocked()
	s.startCronLocked()
	s.log.Info("schedule updated",
		logx.Duration("interval", cfg.Interval), logx.String("tz", cfg.Timezone))
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})
	s.runCtx = ctx
	s.startCronLocked()

	// Kick listener: manual triggers share the same single-flight run path.
	stop := s.stopCh
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-s.kick:
				s.runOnce(ctx)
			}
		}
	}()

	s.log.Info("scheduler started",
		logx.Duration("interval", s.cfg.Interval), logx.String("tz", s.location().String()))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.stopCh = nil
	s.stopCronLocked()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("scheduler stopped")
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out", logx.Err(ctx.Err()))
	}
}

// Kick requests an immediate pass. Coalesced: kicking while a kick is already
// pending is a no-op.
func (s *Service) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Service) startCronLocked() {
	loc := s.location()
	s.c = cron.New(
		cron.WithLocation(loc),
		// A due trigger waits for the running pass instead of overlapping
		// or silently skipping.
		cron.WithChain(cron.DelayIfStillRunning(cronLogger{s.log})),
	)
	spec := fmt.Sprintf("@every %s", s.cfg.Interval)
	runCtx := s.runCtx
	if _, err := s.c.AddFunc(spec, func() { s.runOnce(runCtx) }); err != nil {
		s.log.Error("invalid schedule", logx.String("spec", spec), logx.Err(err))
		return
	}
	s.c.Start()
}

func (s *Service) stopCronLocked() {
	if s.c != nil {
		<-s.c.Stop().Done()
		s.c = nil
	}
}

func (s *Service) runOnce(ctx context.Context) {
	if ctx == nil || ctx.Err() != nil {
		return
	}
	start := time.Now()
	if err := s.job(ctx); err != nil {
		s.log.Warn("pass failed", logx.Err(err), logx.Duration("took", time.Since(start)))
		return
	}
	s.log.Debug("pass complete", logx.Duration("took", time.Since(start)))
}

func (s *Service) location() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// cronLogger adapts logx to the cron.Logger interface used by the job chain.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Warn("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
