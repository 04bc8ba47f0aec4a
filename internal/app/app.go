package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"countdownbot/internal/bot"
	"countdownbot/internal/config"
	"countdownbot/internal/eventbus"
	"countdownbot/internal/notifier"
	"countdownbot/internal/notify"
	"countdownbot/internal/observability/health"
	rtsup "countdownbot/internal/runtime/supervisor"
	"countdownbot/internal/storage"
	"countdownbot/internal/task/engine"
	"countdownbot/internal/task/scheduler"
	kit "countdownbot/internal/transport"
	"countdownbot/internal/transport/telegram"
	logx "countdownbot/pkg/logx"
)

// Transport is the chat platform connection the app needs.
type Transport interface {
	kit.Adapter
	kit.CommandMenuUpdater
}

// TransportFactory builds the transport from the resolved config.
type TransportFactory func(cfg telegram.Config, log logx.Logger) (Transport, error)

type Option func(*options)

type options struct {
	transport TransportFactory
	now       func() time.Time
}

// WithTransport replaces the Telegram adapter.
func WithTransport(f TransportFactory) Option {
	return func(o *options) { o.transport = f }
}

// WithClock replaces time.Now for countdown math.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func defaultTransport(cfg telegram.Config, log logx.Logger) (Transport, error) {
	return telegram.New(cfg, log)
}

type App struct {
	cfgm *config.Manager
	cfg  *config.Resolved
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	transport Transport

	engine *engine.Service
	sched  *scheduler.Service
	notif  *notifier.Service
	core   *notify.Scheduler
	router *bot.Router
	health *health.Service

	sups *rtsup.Registry

	updates chan kit.Update
}

// New loads the config file and builds every component. Nothing runs until
// Start.
func New(cfgPath string, opts ...Option) (*App, error) {
	o := options{transport: defaultTransport, now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewManager(cfgPath, logx.NewConsole("info").With(logx.String("comp", "config")))
	loaded, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	r := loaded.Resolved

	logSvc, log := logx.New(r.Logging)
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	appLog := log.With(logx.String("comp", "app"))

	tr, err := o.transport(telegram.Config{Token: r.Token, PollTimeout: r.PollTimeout}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		logSvc.Close()
		return nil, fmt.Errorf("telegram: %w", err)
	}

	store, err := storage.Open(storage.Config{
		Driver:      r.StorageDriver,
		Path:        r.StoragePath,
		BusyTimeout: r.StorageBusyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		logSvc.Close()
		return nil, fmt.Errorf("storage: %w", err)
	}
	if store != nil {
		appLog.Info("storage enabled", logx.String("driver", r.StorageDriver), logx.String("path", r.StoragePath))
	}

	bus := eventbus.New()

	eng := engine.New(engine.Config{
		DefaultTimeout: r.TaskTimeout,
		HistorySize:    r.TaskHistorySize,
	}, log.With(logx.String("comp", "taskengine")), bus)

	sched := scheduler.New(scheduler.Config{MaxEntries: r.MaxRecipients}, eng, log.With(logx.String("comp", "scheduler")), bus)

	notif := notifier.New(notifierConfig(r), tr, log.With(logx.String("comp", "notifier")), bus, store)

	core, err := notify.New(notify.Config{
		Location:    r.Location,
		FireTimeout: r.FireTimeout,
		Format:      bot.FormatCountdown,
		Now:         o.now,
	}, r.Countdown, sched, notif, log.With(logx.String("comp", "notify")), bus)
	if err != nil {
		closeStore(store)
		logSvc.Close()
		return nil, err
	}

	handlers := bot.NewHandlers(core, bot.Options{RegisterOnJoin: r.RegisterOnJoin})
	router := bot.NewRouter(log.With(logx.String("comp", "commands")), tr, 15*time.Second)
	router.SetRegistry(handlers.Commands(), handlers.Join)

	a := &App{
		cfgm:      cfgm,
		cfg:       r,
		log:       appLog,
		logs:      logSvc,
		bus:       bus,
		store:     store,
		transport: tr,
		engine:    eng,
		sched:     sched,
		notif:     notif,
		core:      core,
		router:    router,
		sups:      rtsup.NewRegistry(),
		updates:   make(chan kit.Update, 256),
	}
	a.health = health.New(health.Config{Addr: r.HTTPAddr}, log.With(logx.String("comp", "health")), a.Status)
	return a, nil
}

func notifierConfig(r *config.Resolved) notifier.Config {
	return notifier.Config{
		RatePerSec:      r.RatePerSec,
		SendTimeout:     r.SendTimeout,
		DedupWindow:     r.DedupWindow,
		DedupMaxEntries: r.DedupMaxEntries,
		HistorySize:     r.NotifyHistory,
		Location:        r.Location,
	}
}

func closeStore(st storage.Store) {
	if st != nil {
		_ = st.Close()
	}
}

// Scheduler exposes the notification core.
func (a *App) Scheduler() *notify.Scheduler { return a.core }

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.sups.Set("app", a.sup)
	runCtx := a.sup.Context()

	// Execution before triggers: fires submitted by cron need a running engine.
	a.engine.Start(runCtx)
	a.sups.Set("task.engine", a.engine.Supervisor())
	a.sched.Start(runCtx)

	if err := a.health.Start(runCtx); err != nil {
		a.sup.Cancel()
		return fmt.Errorf("health: %w", err)
	}
	a.sups.Set("health", a.health.Supervisor())

	if err := a.transport.Start(runCtx, a.updates); err != nil {
		a.sup.Cancel()
		return fmt.Errorf("telegram: %w", err)
	}
	if sp, ok := a.transport.(interface{ Supervisor() *rtsup.Supervisor }); ok {
		a.sups.Set("telegram", sp.Supervisor())
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})
	a.sup.Go0("commands.menu", func(c context.Context) {
		if err := a.router.PublishMenu(c); err != nil && c.Err() == nil {
			a.log.Warn("command menu update failed", logx.Err(err))
		}
	})

	a.startAudit()
	a.startPrune()
	a.registerStartupRecipients(runCtx)

	a.startReload()
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	notifySystemd(a.log, daemon.SdNotifyReady)
	a.log.Info("app started",
		logx.String("timezone", a.cfg.Location.String()),
		logx.String("countdown", a.core.Remaining().String()),
		logx.Int("recipients", len(a.cfg.Recipients)),
	)
	return nil
}

// registerStartupRecipients installs timers for the configured recipients
// and optionally sends them the current countdown.
func (a *App) registerStartupRecipients(ctx context.Context) {
	for _, rcp := range a.cfg.Recipients {
		if _, err := a.core.Register(rcp); err != nil {
			a.log.Warn("startup registration failed", logx.String("recipient", rcp), logx.Err(err))
		}
	}
	if !a.cfg.AnnounceOnStart || len(a.cfg.Recipients) == 0 {
		return
	}
	recipients := append([]string(nil), a.cfg.Recipients...)
	a.sup.Go0("startup.announce", func(c context.Context) {
		for _, rcp := range recipients {
			if err := a.core.Send(c, rcp); err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("startup announce failed", logx.String("recipient", rcp), logx.Err(err))
			}
		}
	})
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	notifySystemd(a.log, daemon.SdNotifyStopping)

	a.sup.Cancel()

	// step bounds one shutdown stage so a stuck component cannot stall the rest.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max <= 0 {
			a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	// Triggers first, then execution, then delivery paths.
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("taskengine", 2*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("health", time.Second, func(c context.Context) error { a.health.Stop(c); return nil })
	step("adapter", 3*time.Second, func(c context.Context) error { return a.transport.Stop(c) })
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped", logx.String("reason", string(reason)))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
