// Package app wires the bot together and owns its lifecycle.
package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"likebot/internal/bot"
	"likebot/internal/config"
	"likebot/internal/eventbus"
	"likebot/internal/notifier"
	"likebot/internal/observability/diagnostics"
	"likebot/internal/orchestrator"
	"likebot/internal/remote/gateway"
	rtsup "likebot/internal/runtime/supervisor"
	"likebot/internal/storage"
	"likebot/internal/task/scheduler"
	kit "likebot/internal/transport"
	telegram "likebot/internal/transport/telegram/adapter"
	"likebot/internal/transport/telegram/router"
	logx "likebot/pkg/logx"
	"likebot/pkg/systemd"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter
	router  *router.Router
	bot     *bot.Bot
	orch    *orchestrator.Orchestrator
	sched   *scheduler.Service
	notif   *notifier.Service
	diag    *diagnostics.Service

	started time.Time
	updates chan kit.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: config.DurationOr(cfg.Telegram.PollTimeout, config.DefaultPollTimeout),
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// Start with the chat sink off so Apply does not warn before the target is set.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Chat.Enabled = false
	logSvc, log := logx.New(bootCfg, ad)
	logSvc.SetChatTarget(groupLogChat(cfg), cfg.Logging.Telegram.ThreadID)
	logSvc.Apply(logCfg)
	log = log.With(logx.String("comp", "app"))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	client, err := gateway.New(gateway.Options{
		BaseURL: cfg.Remote.BaseURL,
		Timeout: config.DurationOr(cfg.Remote.Timeout, config.DefaultRemoteTimeout),
		MaxRPS:  cfg.Remote.MaxRPS,
		Log:     log,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	bus := eventbus.New()
	notif := notifier.New(mapNotifierConfig(cfg), ad, log)
	outbox := bot.NewOutbox(ad, notif, log)
	orch := orchestrator.New(orchestrator.Options{
		Client:   client,
		Store:    store,
		Replier:  outbox,
		Bus:      bus,
		Log:      log,
		Settings: orchestratorSettings(cfg),
	})
	b := bot.New(orch, outbox, log)

	rt := router.New(router.Options{
		Adapter:     ad,
		Log:         log,
		Owners:      cfg.Telegram.OwnerUserIDs,
		Text:        b.HandleText,
		PrivateText: true,
	})

	sched := scheduler.New(scheduler.Config{}, log.With(logx.String("comp", "scheduler")))
	err = sched.Add("flows.expire", "1m", 30*time.Second, func(ctx context.Context) error {
		if n := orch.ExpireFlows(ctx); n > 0 {
			log.Info("expired idle setups", logx.Int("count", n))
		}
		return nil
	})
	if err == nil {
		err = sched.Add("sessions.gauge", "5m", 10*time.Second, func(context.Context) error {
			orch.RefreshSessionsGauge()
			return nil
		})
	}
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		router:  rt,
		bot:     b,
		orch:    orch,
		sched:   sched,
		notif:   notif,
		updates: make(chan kit.Update, 256),
	}
	a.diag = diagnostics.New(mapDiagnosticsConfig(cfg), a.health, log)
	return a, nil
}

// Done is closed when the app context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.started = time.Now()
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetCheck(func(_ context.Context, cfg *config.Config) error {
		if g := strings.TrimSpace(cfg.Telegram.GroupLog); g != "" {
			if _, err := strconv.ParseInt(g, 10, 64); err != nil {
				return fmt.Errorf("telegram.group_log: not a chat id: %q", g)
			}
		}
		return nil
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if a.notif.Enabled() {
		a.notif.Start(a.sup.Context())
	}
	a.orch.Start(a.sup.Context())
	a.sched.Start(a.sup.Context())
	a.diag.Start(a.sup.Context())

	a.router.SetRegistry(a.sup.Context(), a.bot.Commands(), a.bot.Callbacks())
	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.router.Run(c, a.updates)
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
				if e.IsJob() {
					_, _ = systemd.Status(fmt.Sprintf("%d job(s) running", a.orch.ActiveJobs()))
				}
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				// coalesce bursts; only the newest config matters
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, last, next)
				last = next
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		if err := systemd.Watchdog(c, func() bool { return a.sup.Err() == nil }); err != nil {
			a.log.Warn("systemd watchdog stopped", logx.Err(err))
		}
	})
	if sent, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify ready sent")
	}

	a.log.Info("app started", logx.Int("owners", len(a.cfgm.Get().Telegram.OwnerUserIDs)))
	return nil
}

// applyConfig pushes a committed config to every live-reloadable component.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RequiresRestart(prev, next); len(restart) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.SetChatTarget(groupLogChat(next), next.Logging.Telegram.ThreadID)
	a.logs.Apply(mapLogConfig(next))
	a.router.SetOwners(next.Telegram.OwnerUserIDs)
	a.orch.Apply(orchestratorSettings(next))

	wasEnabled := a.notif.Enabled()
	ncfg := mapNotifierConfig(next)
	a.notif.Apply(ncfg)
	switch {
	case wasEnabled && !ncfg.Enabled:
		a.log.Info("notifier disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.notif.Stop(stopCtx)
		cancel()
	case !wasEnabled && ncfg.Enabled:
		a.log.Info("notifier enabled via config")
		a.notif.Start(ctx)
	}

	a.diag.Reconfigure(ctx, mapDiagnosticsConfig(next))

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) health() any {
	out := map[string]any{
		"status":      "ok",
		"uptime":      time.Since(a.started).Round(time.Second).String(),
		"active_jobs": a.orch.ActiveJobs(),
		"schedules":   a.sched.Schedules(),
		"events_lost": a.bus.Dropped(),
	}
	if a.sup != nil {
		out["goroutines"] = a.sup.Counters()
		if err := a.sup.Err(); err != nil {
			out["status"] = "failing"
			out["error"] = err.Error()
		}
	}
	return out
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = systemd.Stopping()

	// unwind background loops first; running jobs see the cancel and report it
	a.sup.Cancel()

	a.step(ctx, "orchestrator", 5*time.Second, a.orch.Stop)
	a.step(ctx, "scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	a.step(ctx, "diagnostics", time.Second, func(c context.Context) error { a.diag.Stop(c); return nil })
	a.step(ctx, "adapter", 2*time.Second, a.adapter.Stop)
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	return a.logs.Close()
}

// step runs one shutdown step bounded by max and the caller's deadline.
// A step that overruns is left running and logged when it finally returns.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped, no time left", logx.String("name", name))
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
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			err := <-done
			fields := []logx.Field{logx.String("name", name), logx.Duration("took", time.Since(start))}
			if err != nil {
				fields = append(fields, logx.Err(err))
			}
			a.log.Info("stop step finished after deadline", fields...)
		}()
	}
}
