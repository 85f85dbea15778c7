// Package app wires the process together: config, logging, the Telegram
// adapter, the group registry, the command dispatcher, the periodic
// broadcaster and the optional audit store.
package app

import (
	"context"
	"fmt"
	"time"

	"linkbot/internal/broadcast"
	"linkbot/internal/config"
	"linkbot/internal/dispatch"
	"linkbot/internal/registry"
	"linkbot/internal/runtime/supervisor"
	"linkbot/internal/storage"
	"linkbot/internal/transport"
	"linkbot/internal/transport/telegram"
	"linkbot/pkg/logx"
)

type StopReason string

const (
	StopSIGINT     StopReason = "SIGINT"
	StopSIGTERM    StopReason = "SIGTERM"
	StopFatalError StopReason = "fatal-error"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	adapter transport.Adapter
	reg     *registry.Registry
	disp    *dispatch.Dispatcher
	bcast   *broadcast.Broadcaster
	store   storage.Store
	digest  *Digest

	updates chan transport.Update
}

func New(cfgm *config.Manager) (*App, error) {
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	pollTimeout, err := config.ParseDuration("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	reg := registry.New(cfg.Broadcast.DefaultLink, cfg.Interval())

	var store storage.Store
	if cfg.Storage.Driver != "" && cfg.Storage.Driver != "none" {
		store, err = storage.Open(storage.Config{
			Driver: cfg.Storage.Driver,
			Path:   cfg.Storage.Path,
		}, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		log.Info("audit storage enabled", logx.String("driver", cfg.Storage.Driver))
	}

	disp := dispatch.New(ad, reg, cfg.Telegram.AdminIDs, store, log.With(logx.String("comp", "dispatch")))

	bcast := broadcast.New(broadcast.Config{
		RatePerSec: cfg.Broadcast.RatePerSec,
	}, reg, ad, log.With(logx.String("comp", "broadcast")))

	var digest *Digest
	if cfg.Digest.Cron != "" {
		digest, err = NewDigest(cfg.Digest.Cron, reg, ad, cfg.Telegram.AdminIDs, log.With(logx.String("comp", "digest")))
		if err != nil {
			return nil, fmt.Errorf("digest.cron: %w", err)
		}
	}

	return &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		adapter: ad,
		reg:     reg,
		disp:    disp,
		bcast:   bcast,
		store:   store,
		digest:  digest,
		updates: make(chan transport.Update, 256),
	}, nil
}

// Done is closed when the app run context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return config.Validate(cfg)
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.sup.Go("dispatch.run", func(c context.Context) error {
		return a.disp.Run(c, a.updates)
	})
	a.sup.Go("broadcast.run", func(c context.Context) error {
		return a.bcast.Run(c)
	})

	if a.digest != nil {
		a.digest.Start()
	}

	a.sup.Go0("config.reload", func(c context.Context) { a.reloadLoop(c) })
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.String("bot", a.adapter.BotUsername()),
		logx.String("default_link", a.reg.DefaultLink()),
		logx.Duration("interval", a.reg.Interval()),
	)
	return nil
}

// reloadLoop applies hot-reloaded config: logging, admin list, default link.
// Storage and telegram settings need a restart.
func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			a.logs.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})

			a.disp.SetAdmins(cfg.Telegram.AdminIDs)
			if a.digest != nil {
				a.digest.SetAdmins(cfg.Telegram.AdminIDs)
			}

			if cfg.Broadcast.DefaultLink != last.Broadcast.DefaultLink {
				if err := a.reg.SetDefaultLink(cfg.Broadcast.DefaultLink); err != nil {
					a.log.Warn("reloaded default link rejected", logx.Err(err))
				} else {
					a.log.Info("default link updated", logx.String("link", cfg.Broadcast.DefaultLink))
				}
			}
			if cfg.Telegram.Token != last.Telegram.Token {
				a.log.Warn("telegram token changed; restart required")
			}
			if cfg.Storage != last.Storage {
				a.log.Warn("storage config changed; restart required")
			}
			last = cfg
			a.log.Info("config reloaded")
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	a.sup.Cancel()

	// Run a shutdown step with an upper bound so one component can't stall
	// the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < max {
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
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	if a.digest != nil {
		step("digest", 1*time.Second, func(c context.Context) error { return a.digest.Stop(c) })
	}
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	if a.store != nil {
		step("storage", 1*time.Second, func(context.Context) error { return a.store.Close() })
	}
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}
