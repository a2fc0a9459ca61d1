package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tickerd/internal/alarm"
	"tickerd/internal/api"
	"tickerd/internal/eventbus"
	pprofsvc "tickerd/internal/observability/pprof"
	"tickerd/internal/recurrence"
	"tickerd/internal/regen"
	"tickerd/internal/storage"
	logx "tickerd/pkg/logx"
)

// App wires the daemon together: config manager, logging, storage, the alarm
// registrar, the regeneration coordinator and the HTTP surfaces. It owns
// startup order, config hot-reload fan-out and bounded shutdown.
type App struct {
	cfgPath string

	cfgm *ConfigManager
	sup  *Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	cal   recurrence.Calendar

	alarms *alarm.Local
	regen  *regen.Service
	api    *api.Service
	pprof  *pprofsvc.Service
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	loc, err := mapCalendarLocation(cfg)
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	cal := recurrence.NewCalendar(loc)

	// Storage. Without a configured backend tickers live in memory only,
	// which is fine for tests and throwaway runs but not much else.
	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		logSvc.Close()
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			logSvc.Close()
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	} else {
		store = storage.NewMemory()
		log.Warn("no storage configured; tickers will not survive a restart")
	}

	// Alarm registrar. Firings fan out on the bus so any component (API
	// status, future notifiers) can observe them without coupling.
	acfg, err := mapAlarmConfig(cfg, loc)
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	alarms := alarm.NewLocal(acfg, log.With(logx.String("comp", "alarm")),
		func(id alarm.ID, fireAt time.Time) {
			bus.Publish(eventbus.Event{
				Type: "alarm.fired",
				Time: time.Now(),
				Data: map[string]any{"id": string(id), "fire_at": fireAt},
			})
		})

	rcfg, err := mapRegenConfig(cfg)
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	regenSvc := regen.New(rcfg, regen.Deps{
		Store:     store,
		Registrar: alarms,
		Calendar:  cal,
	}, log.With(logx.String("comp", "regen")), bus)

	apiCfg, err := mapAPIConfig(cfg)
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	apiSvc := api.New(apiCfg, api.Deps{
		Store:    store,
		Coord:    regenSvc,
		Budget:   alarms,
		Calendar: cal,
	}, log.With(logx.String("comp", "api")))

	pprofCfg, err := mapPprofConfig(cfg)
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	pprofSvc := pprofsvc.New(pprofCfg, log.With(logx.String("comp", "pprof")))

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		cal:     cal,
		alarms:  alarms,
		regen:   regenSvc,
		api:     apiSvc,
		pprof:   pprofSvc,
	}, nil
}

// Store exposes the persistence layer for one-shot commands (ICS import).
func (a *App) Store() storage.Store { return a.store }

// Coordinator exposes the regeneration service for one-shot commands.
func (a *App) Coordinator() *regen.Service { return a.regen }

// Calendar returns the zone-pinned calendar all expansion runs in.
func (a *App) Calendar() recurrence.Calendar { return a.cal }

// Logger returns the root application logger.
func (a *App) Logger() logx.Logger { return a.log }

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
	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	if a.cfgm != nil {
		a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
		a.cfgm.SetValidator(func(_ context.Context, cfg *Config) error {
			return validateConfig(cfg)
		})
	}

	if a.regen.Enabled() {
		a.regen.Start(a.sup.Context())
	}
	if a.api.Enabled() {
		a.api.Start(a.sup.Context())
	}
	if a.pprof != nil && a.pprof.Enabled() {
		a.pprof.Start(a.sup.Context())
	}

	// Optional: log events for observability/debug (components can also subscribe themselves).
	if a.bus != nil {
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
					// Keep this debug-level; alarm.fired can be frequent.
					a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				}
			}
		})
	}

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		// Track last applied config to generate a safe diff summary for logx.
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				sections, attrs := SummarizeConfigChange(lastApplied, newCfg)
				if len(sections) > 0 {
					fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
					a.log.Debug("config change summary", fields...)
				} else {
					a.log.Debug("config reload received, but no effective changes detected")
				}
				lastApplied = newCfg

				for _, s := range sections {
					switch s {
					case "storage", "calendar", "alarm":
						a.log.Warn("config changed; restart required for changes to take effect",
							logx.String("section", s))
					}
				}

				// apply logging updates
				a.logs.Apply(mapLoggingConfig(newCfg))

				// apply coordinator updates (live); Apply restarts the
				// trigger itself when the pass schedule changed
				prevRegenEnabled := a.regen.Enabled()
				rcfg, err := mapRegenConfig(newCfg)
				if err != nil {
					a.log.Warn("invalid regen config; keeping previous", logx.Err(err))
				} else {
					a.regen.Apply(rcfg)
					if prevRegenEnabled && !rcfg.Enabled {
						a.log.Info("regen disabled via config")
						stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
						a.regen.Stop(stopCtx)
						cancel()
					} else if !prevRegenEnabled && rcfg.Enabled {
						a.log.Info("regen enabled via config")
						a.regen.Start(c)
					}
				}

				// apply api updates (live)
				if acfg, err := mapAPIConfig(newCfg); err != nil {
					a.log.Warn("invalid api config; keeping previous", logx.Err(err))
				} else {
					a.api.Reconfigure(c, acfg)
				}

				// apply pprof updates (live)
				if a.pprof != nil {
					ppc, err := mapPprofConfig(newCfg)
					if err != nil {
						a.log.Warn("invalid pprof config; keeping previous", logx.Err(err))
					} else {
						a.pprof.Reconfigure(c, ppc)
					}
				}

				// Keep the final log line concise and human-friendly (details are in debug logs).
				if len(sections) > 0 {
					fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
					a.log.Info("config reloaded", fields...)
				} else {
					a.log.Info("config reloaded (no changes)")
				}
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// Close tears down a never-started App (one-shot commands like -import).
func (a *App) Close() {
	if a.alarms != nil {
		a.alarms.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.logs != nil {
		a.logs.Close()
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

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
				a.log.Warn("stop step error", logx.String("name", name), logx.String("err", err.Error()))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			// Contract: fn MUST honor stepCtx and return promptly. If it doesn't, log a leak signal.
			elapsed := time.Since(start)
			a.log.Warn(
				"stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.String("err", stepCtx.Err().Error()),
				logx.Duration("elapsed", elapsed),
			)
			// Leak logging: observe when/if the step eventually finishes.
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.String("err", err.Error()), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	// Stop surfaces first so no new mutations land mid-shutdown, then the
	// coordinator, then the registrar and storage underneath it.
	step("api", 2*time.Second, func(c context.Context) error { a.api.Stop(c); return nil })
	step("regen", 3*time.Second, func(c context.Context) error { a.regen.Stop(c); return nil })
	step("pprof", 1*time.Second, func(c context.Context) error {
		if a.pprof != nil {
			a.pprof.Stop(c)
		}
		return nil
	})
	step("alarms", 1*time.Second, func(context.Context) error { a.alarms.Close(); return nil })
	step("storage", 1*time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	// Finally, wait for supervised goroutines (config watch/reload, event log tap).
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}
