// Package app wires the daemon together: config, logging, store, directory
// client, channel senders, dispatch policy, and the scheduler, with a
// supervised lifecycle and bounded shutdown.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"pwnotify/internal/channel/chat"
	"pwnotify/internal/channel/mail"
	"pwnotify/internal/config"
	"pwnotify/internal/directory"
	"pwnotify/internal/dispatch"
	"pwnotify/internal/ledger"
	"pwnotify/internal/runtime/supervisor"
	"pwnotify/internal/scheduler"
	"pwnotify/internal/store"
	logx "pwnotify/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	kv    store.KV
	rec   *dispatch.Reconciler
	sched *scheduler.Service
}

// New loads and validates the config and constructs every component.
// Any failure here is a startup failure: the process must not begin
// reconciling half-configured.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	dirTimeout, _ := config.ParseDurationOrDefault("directory.timeout", cfg.Directory.Timeout, 15*time.Second)
	smtpTimeout, _ := config.ParseDurationOrDefault("smtp.timeout", cfg.SMTP.Timeout, 20*time.Second)
	tgTimeout, _ := config.ParseDurationOrDefault("telegram.timeout", cfg.Telegram.Timeout, 10*time.Second)
	pacing, _ := config.ParseDurationOrDefault("telegram.pacing", cfg.Telegram.Pacing, 3*time.Second)
	busyTimeout, _ := config.ParseDurationField("store.busy_timeout", cfg.Store.BusyTimeout)
	dialTimeout, _ := config.ParseDurationField("store.dial_timeout", cfg.Store.DialTimeout)
	opTimeout, _ := config.ParseDurationOrDefault("store.op_timeout", cfg.Store.OpTimeout, 10*time.Second)
	interval, _ := config.ParseDurationField("scheduler.interval", cfg.Scheduler.Interval)

	kv, err := store.Open(store.Config{
		Driver:      cfg.Store.Driver,
		Namespace:   cfg.Store.Namespace,
		Addr:        cfg.Store.Addr,
		Password:    cfg.Store.Password,
		DB:          cfg.Store.DB,
		DialTimeout: dialTimeout,
		Path:        cfg.Store.Path,
		BusyTimeout: busyTimeout,
	}, logs.Logger().With(logx.String("comp", "store")))
	if err != nil {
		_ = logs.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}

	led := ledger.NewLedger(kv)
	ctr := ledger.NewCounter(led)

	dir := directory.New(directory.Config{
		URL:            cfg.Directory.URL,
		BindDN:         cfg.Directory.BindDN,
		BindPassword:   cfg.Directory.BindPassword,
		BaseDN:         cfg.Directory.BaseDN,
		IncludedGroups: cfg.Directory.IncludedGroups,
		MaxPasswordAge: time.Duration(cfg.Directory.MaxPasswordAgeDays) * 24 * time.Hour,
		MailDomain:     cfg.Directory.MailDomain,
		Timeout:        dirTimeout,
	}, logs.Logger().With(logx.String("comp", "directory")))

	chatSender, err := chat.New(chat.Config{
		Token:    cfg.Telegram.Token,
		ChatID:   cfg.Telegram.ChatID,
		ThreadID: cfg.Telegram.ThreadID,
		Timeout:  tgTimeout,
	}, logs.Logger().With(logx.String("comp", "chat")))
	if err != nil {
		_ = kv.Close()
		_ = logs.Close()
		return nil, fmt.Errorf("telegram: %w", err)
	}

	mailSender := mail.New(mail.Config{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
		Timeout:  smtpTimeout,
	}, logs.Logger().With(logx.String("comp", "mail")))

	escTarget := chatSender
	if cfg.Telegram.EscalationChatID != 0 {
		escTarget = chatSender.WithChat(cfg.Telegram.EscalationChatID, 0)
	}

	loc := time.Local
	if tz := cfg.Scheduler.Timezone; tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}

	rec := dispatch.New(dispatch.Config{
		Threshold:          cfg.Escalation.Threshold,
		ChatPacing:         pacing,
		MaxPasswordAgeDays: cfg.Directory.MaxPasswordAgeDays,
		OpTimeout:          opTimeout,
		Location:           loc,
	}, dispatch.Deps{
		Directory: dir,
		Ledger:    led,
		Counter:   ctr,
		Mail:      mailSender,
		Chat:      chatSender,
		Escalator: &dispatch.ChatEscalator{
			Sender: escTarget,
			Log:    logs.Logger().With(logx.String("comp", "escalate")),
		},
	}, logs.Logger().With(logx.String("comp", "dispatch")))

	sched := scheduler.New(scheduler.Config{
		Enabled:  cfg.Scheduler.Enabled,
		Interval: interval,
		Timezone: cfg.Scheduler.Timezone,
	}, func(ctx context.Context) error {
		_, err := rec.Run(ctx)
		return err
	}, logs.Logger().With(logx.String("comp", "scheduler")))

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logs,
		kv:      kv,
		rec:     rec,
		sched:   sched,
	}, nil
}

// RunOnce executes a single reconciliation pass (the -once flag).
func (a *App) RunOnce(ctx context.Context) error {
	_, err := a.rec.Run(ctx)
	return err
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))

	a.cfgm.SetLogger(a.logs.Logger().With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return cfg.Validate()
	})

	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
	} else {
		a.log.Warn("scheduler disabled; daemon will idle until enabled via config")
	}

	a.sup.Go("config.watch", a.cfgm.Watch)

	// Hot reload applies the tunables (logging, schedule, chat pacing).
	// Identity-critical sections (directory/store/transport endpoints)
	// require a restart; a change there is logged and ignored.
	sub := a.cfgm.Subscribe(4)
	a.sup.Go("config.reload", func(ctx context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return nil
			case cfg, ok := <-sub:
				if !ok {
					return nil
				}
				a.applyReload(ctx, cfg)
			}
		}
	})

	a.sup.Go("watchdog", watchdogLoop)

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	a.log.Info("daemon started")
	return nil
}

func (a *App) applyReload(ctx context.Context, cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	if pacing, err := config.ParseDurationOrDefault("telegram.pacing", cfg.Telegram.Pacing, 3*time.Second); err == nil {
		a.rec.SetPacing(pacing)
	}

	interval, err := config.ParseDurationField("scheduler.interval", cfg.Scheduler.Interval)
	if err != nil || interval <= 0 {
		a.log.Warn("invalid scheduler.interval on reload; keeping previous", logx.Err(err))
		return
	}
	prevEnabled := a.sched.Enabled()
	a.sched.Apply(scheduler.Config{
		Enabled:  cfg.Scheduler.Enabled,
		Interval: interval,
		Timezone: cfg.Scheduler.Timezone,
	})
	switch {
	case prevEnabled && !cfg.Scheduler.Enabled:
		a.log.Info("scheduler disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.sched.Stop(stopCtx)
		cancel()
	case !prevEnabled && cfg.Scheduler.Enabled:
		a.log.Info("scheduler enabled via config")
		a.sched.Start(ctx)
	}
}

// watchdogLoop feeds the systemd watchdog when WatchdogSec is configured.
// Outside systemd it returns immediately.
func watchdogLoop(ctx context.Context) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return nil
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		// Never started (e.g. -once): just release resources.
		_ = a.kv.Close()
		return a.logs.Close()
	}
	a.log.Info("stopping")
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	// Cancel first so background loops (and an in-flight pass) start
	// unwinding immediately; ledger writes only ever happen after their
	// channel call confirmed, so cancellation mid-pass is safe.
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
	}

	step("scheduler", 3*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("supervisor", 3*time.Second, a.sup.Wait)
	step("store", 2*time.Second, func(context.Context) error { return a.kv.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}
