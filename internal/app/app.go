package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"aviamon/internal/eventbus"
	"aviamon/internal/history"
	"aviamon/internal/market"
	"aviamon/internal/monitor"
	"aviamon/internal/notifier"
	"aviamon/internal/source"
	"aviamon/internal/storage"
	"aviamon/internal/subs"
	kit "aviamon/internal/transport"
	telegram "aviamon/internal/transport/telegram/adapter"
	"aviamon/internal/transport/telegram/router"
	logx "aviamon/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *ConfigManager
	sup  *Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	adapter *telegram.Adapter
	store   storage.RoomStore
	hist    *history.Store
	notif   *notifier.Service
	src     source.DataSource
	router  *router.Router

	// created on Start (they need the run supervisor)
	subs *subs.Registry
	mon  *monitor.Service

	profiles map[market.RoomID]market.Profile
	updates  chan kit.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))

	pollTimeout, err := parseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// logx.New applies immediately; bootstrap with Telegram logging off,
	// set the target chat, then apply the real config so Apply() doesn't
	// warn about a missing target.
	baseLogCfg := logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    false,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
	logSvc, log := logx.New(baseLogCfg, ad)
	log = log.With(logx.String("comp", "app"))

	if gl := strings.TrimSpace(cfg.Telegram.GroupLog); gl != "" {
		if chatID, err := strconv.ParseInt(gl, 10, 64); err == nil {
			logSvc.SetTelegramTarget(chatID, cfg.Logging.Telegram.ThreadID)
		}
	}
	finalLogCfg := baseLogCfg
	finalLogCfg.Telegram.Enabled = cfg.Logging.Telegram.Enabled
	logSvc.Apply(finalLogCfg)

	bus := eventbus.New()

	var store storage.RoomStore
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	profiles, err := buildProfiles(cfg)
	if err != nil {
		return nil, err
	}

	histCap, err := mapHistoryCap(cfg)
	if err != nil {
		return nil, err
	}
	hist := history.New(histCap)

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	notif := notifier.New(ncfg, ad, log.With(logx.String("comp", "notifier")), bus)

	scfg, err := mapSourceConfig(cfg)
	if err != nil {
		return nil, err
	}
	src, err := source.Open(scfg, profiles, log.With(logx.String("comp", "source")))
	if err != nil {
		return nil, err
	}

	// The other mapped sections get parsed here too so a broken config
	// fails at boot instead of at Start.
	if _, err := mapMonitorConfig(cfg); err != nil {
		return nil, err
	}
	if _, err := mapLearningDuration(cfg); err != nil {
		return nil, err
	}

	return &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		adapter:  ad,
		store:    store,
		hist:     hist,
		notif:    notif,
		src:      src,
		router:   router.New(log.With(logx.String("comp", "router")), ad),
		profiles: profiles,
		updates:  make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error
// or Stop).
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
	cfg := a.cfgm.Get()

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *Config) error {
		if strings.TrimSpace(cfg.Telegram.Token) == "" {
			return fmt.Errorf("telegram.token is required")
		}
		if _, err := parseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
			return err
		}
		if _, err := mapMonitorConfig(cfg); err != nil {
			return err
		}
		if _, err := mapLearningDuration(cfg); err != nil {
			return err
		}
		if _, err := mapHistoryCap(cfg); err != nil {
			return err
		}
		if _, err := mapNotifierConfig(cfg); err != nil {
			return err
		}
		if _, err := mapSourceConfig(cfg); err != nil {
			return err
		}
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		_, err := buildProfiles(cfg)
		return err
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	if a.notif.Enabled() {
		a.notif.Start(a.sup.Context())
	}

	ld, err := mapLearningDuration(cfg)
	if err != nil {
		return err
	}
	a.subs = subs.New(a.sup, a.notif,
		a.log.With(logx.String("comp", "subs")),
		subs.WithLearningDuration(ld))

	if a.store != nil {
		loadCtx, cancel := context.WithTimeout(a.sup.Context(), 10*time.Second)
		if err := a.hist.Load(loadCtx, a.store); err != nil {
			a.log.Warn("history load failed; starting empty", logx.Err(err))
		}
		cancel()
	}

	mcfg, err := mapMonitorConfig(cfg)
	if err != nil {
		return err
	}
	mon, err := monitor.New(mcfg, a.src, a.hist, a.store, a.subs, a.notif, a.bus, a.profiles,
		a.log.With(logx.String("comp", "monitor")))
	if err != nil {
		return err
	}
	a.mon = mon
	if a.mon.Enabled() {
		a.mon.Start(a.sup.Context())
	}

	deps := router.Deps{Subs: a.subs, Monitor: a.mon, Profiles: a.profiles}
	a.router.SetOwners(cfg.Telegram.OwnerUserIDs)
	a.router.SetRegistry(router.Commands(deps), router.Callbacks(deps))
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	// Bus events at debug level for observability.
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
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
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
				if len(sections) == 0 {
					lastApplied = newCfg
					a.log.Debug("config reload received, but no effective changes detected")
					continue
				}
				a.applyConfig(c, lastApplied, newCfg, sections)
				lastApplied = newCfg
				fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
				a.log.Info("config reloaded", fields...)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// applyConfig pushes a validated config into the running services.
// Sections whose runtime cannot change in place get a restart warning.
func (a *App) applyConfig(ctx context.Context, prev, cfg *Config, sections []string) {
	changed := make(map[string]bool, len(sections))
	for _, s := range sections {
		changed[s] = true
	}

	if changed["storage"] {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}
	if changed["rooms"] {
		a.log.Warn("room profile overrides changed; restart required for changes to take effect")
	}
	if changed["telegram"] && prev != nil && cfg.Telegram.Token != prev.Telegram.Token {
		a.log.Warn("telegram.token changed; restart required for changes to take effect")
	}
	if changed["telegram"] {
		a.router.SetOwners(cfg.Telegram.OwnerUserIDs)
	}

	if changed["telegram"] || changed["logging"] {
		// update log target first so Apply() doesn't warn when Telegram
		// logging is enabled
		if gl := strings.TrimSpace(cfg.Telegram.GroupLog); gl != "" {
			if chatID, err := strconv.ParseInt(gl, 10, 64); err == nil {
				a.logs.SetTelegramTarget(chatID, cfg.Logging.Telegram.ThreadID)
			}
		} else {
			a.logs.SetTelegramTarget(0, 0)
		}
		a.logs.Apply(logx.Config{
			Level:   cfg.Logging.Level,
			Console: cfg.Logging.Console,
			File: logx.FileConfig{
				Enabled: cfg.Logging.File.Enabled,
				Path:    cfg.Logging.File.Path,
			},
			Telegram: logx.TelegramConfig{
				Enabled:    cfg.Logging.Telegram.Enabled,
				ThreadID:   cfg.Logging.Telegram.ThreadID,
				MinLevel:   cfg.Logging.Telegram.MinLevel,
				RatePerSec: cfg.Logging.Telegram.RatePerSec,
			},
		})
	}

	if changed["notifier"] {
		prevEnabled := a.notif.Enabled()
		ncfg, err := mapNotifierConfig(cfg)
		if err != nil {
			a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
		} else {
			a.notif.Apply(ncfg)
			if prevEnabled && !ncfg.Enabled {
				a.log.Info("notifier disabled via config")
				stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				a.notif.Stop(stopCtx)
				cancel()
			} else if !prevEnabled && ncfg.Enabled {
				a.log.Info("notifier enabled via config")
				a.notif.Start(ctx)
			}
		}
	}

	if changed["source"] {
		scfg, err := mapSourceConfig(cfg)
		if err != nil {
			a.log.Warn("invalid source config; keeping previous", logx.Err(err))
		} else if src, err := source.Open(scfg, a.profiles, a.log.With(logx.String("comp", "source"))); err != nil {
			a.log.Warn("source rebuild failed; keeping previous", logx.Err(err))
		} else {
			a.src = src
			a.mon.SetSource(src)
			a.log.Info("data source replaced", logx.String("driver", scfg.Driver))
		}
	}

	if changed["monitor"] {
		if ld, err := mapLearningDuration(cfg); err == nil {
			a.subs.SetLearningDuration(ld)
		}
		if hc, err := mapHistoryCap(cfg); err == nil && hc > 0 {
			a.hist.SetCap(hc)
		}

		prevEnabled := a.mon.Enabled()
		mcfg, err := mapMonitorConfig(cfg)
		if err != nil {
			a.log.Warn("invalid monitor config; keeping previous", logx.Err(err))
			return
		}
		if err := a.mon.Apply(mcfg); err != nil {
			a.log.Warn("monitor config apply failed; keeping previous", logx.Err(err))
			return
		}
		if prevEnabled && !mcfg.Enabled {
			a.log.Info("monitor disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.mon.Stop(stopCtx)
			cancel()
		} else if !prevEnabled && mcfg.Enabled {
			a.log.Info("monitor enabled via config")
			a.mon.Start(ctx)
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// step bounds one shutdown phase so a stuck component can't stall the
	// whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem <= 0 {
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
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)))
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	step("monitor", 2*time.Second, func(c context.Context) error {
		if a.mon != nil {
			a.mon.Stop(c)
		}
		return nil
	})
	step("subs", 1*time.Second, func(c context.Context) error {
		if a.subs != nil {
			a.subs.StopAll()
		}
		return nil
	})
	step("notifier", 1*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("storage", 1*time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}
