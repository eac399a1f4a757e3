// Package app wires the bot together and owns its lifecycle.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"newsbot/internal/broadcast"
	"newsbot/internal/config"
	"newsbot/internal/eventbus"
	"newsbot/internal/observability/ops"
	"newsbot/internal/onboarding"
	"newsbot/internal/registry"
	rtsup "newsbot/internal/runtime/supervisor"
	"newsbot/internal/storage"
	kit "newsbot/internal/transport"
	telegram "newsbot/internal/transport/telegram/adapter"
	"newsbot/internal/transport/telegram/router"
	logx "newsbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	prom *prometheus.Registry

	store   *registry.Store
	adapter *telegram.Adapter
	bcast   *broadcast.Service
	router  *router.Router
	ops     *ops.Service

	updates chan kit.Update
}

// New loads the config and the registry. Any error here is fatal: the bot
// never serves with a missing token or unreadable registry.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log, lerr := logx.New(mapLogConfig(cfg))
	if lerr != nil {
		log.Warn("file log sink disabled", logx.Err(lerr))
	}
	bus := eventbus.New()

	prom := prometheus.NewRegistry()
	prom.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "newsbot",
			Name:      "eventbus_dropped_total",
			Help:      "Events not delivered to a full subscriber.",
		}, func() float64 { return float64(eventbus.Dropped(bus)) }),
	)

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	backend, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open registry storage: %w", err)
	}
	store, err := registry.Open(ctx, backend, registry.Options{
		FlushInterval: cfg.FlushInterval(),
		SeedStaff:     cfg.StaffIDs,
		Log:           log,
		Bus:           bus,
		Metrics:       registry.NewMetrics(prom),
	})
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	log.Info("registry storage", logx.String("driver", sc.Driver), logx.String("path", sc.Path))

	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: cfg.PollTimeout(),
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("telegram: %w", err)
	}

	bcast := broadcast.NewService(ad, store, broadcast.Options{
		Engine:  mapEngineConfig(cfg),
		Log:     log,
		Bus:     bus,
		Metrics: broadcast.NewMetrics(prom),
	})
	onboard := onboarding.NewService(store, ad, log)
	rt := router.New(router.Config{
		Workers:   cfg.Dispatch.Workers,
		QueueSize: cfg.Dispatch.QueueSize,
		BotName:   ad.Username(),
	}, ad, bcast, onboard, store, log)

	return &App{
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		bus:     bus,
		prom:    prom,
		store:   store,
		adapter: ad,
		bcast:   bcast,
		router:  rt,
		ops:     ops.New(prom, log),
		updates: make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		_, err := mapStorageConfig(cfg)
		return err
	})

	if err := a.ops.Reconfigure(a.sup.Context(), mapOpsConfig(a.cfgm.Get())); err != nil {
		a.log.Warn("ops endpoint not started", logx.Err(err))
	}

	a.sup.Go("registry.persist", a.store.Run)
	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})
	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		a.sup.Cancel()
		return err
	}

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
				a.applyConfig(c, last, next)
				last = next
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}
	a.log.Info("app started", logx.String("bot", a.adapter.Username()))
	return nil
}

// applyConfig hot-applies logging, delivery and ops. Other sections need a restart.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	if err := a.logs.Apply(mapLogConfig(next)); err != nil {
		a.log.Warn("file log sink disabled", logx.Err(err))
	}
	a.bcast.Engine().Apply(mapEngineConfig(next))
	if err := a.ops.Reconfigure(ctx, mapOpsConfig(next)); err != nil {
		a.log.Warn("ops endpoint not reconfigured", logx.Err(err))
	}
	if changed := restartOnly(prev, next); len(changed) > 0 {
		a.log.Warn("config change requires restart", logx.String("sections", strings.Join(changed, ",")))
	}
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	// Stop intake first so no update arrives after the dispatcher is gone.
	if err := a.adapter.Stop(ctx); err != nil {
		a.log.Warn("adapter stop", logx.Err(err))
	}
	a.sup.Cancel()
	a.ops.Stop(ctx)

	// Waits for the router workers and the final registry flush.
	wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := a.sup.Wait(wctx); err != nil {
		a.log.Warn("shutdown wait", logx.Err(err), logx.Int64("active", a.sup.Counters().Active))
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("registry close", logx.Err(err))
	}

	a.log.Info("stopped")
	return a.logs.Close()
}
