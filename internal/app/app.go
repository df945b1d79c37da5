// Package app assembles the daemon: config, logging, storage, caches, the
// delivery pipeline, and the sync engine, all supervised under one context.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pullover/internal/actioncache"
	"pullover/internal/api"
	"pullover/internal/config"
	"pullover/internal/engine"
	"pullover/internal/eventbus"
	"pullover/internal/icons"
	"pullover/internal/notify"
	"pullover/internal/push"
	rtsup "pullover/internal/runtime/supervisor"
	"pullover/internal/storage"
	logx "pullover/pkg/logx"
	"pullover/pkg/sdnotify"
)

type App struct {
	cfgMgr *config.Manager
	cfg    *config.Config
	state  *config.State

	logSvc *logx.Service
	log    logx.Logger

	bus   eventbus.Bus
	store storage.Store

	actions *actioncache.Cache
	client  *api.Client

	proc   *engine.Processor
	eng    *engine.Engine
	poller *engine.Poller

	sup *rtsup.Supervisor
}

// New loads configuration and wires every component. A missing config file
// is fine (defaults apply); missing credentials are not.
func New(cfgPath string) (*App, error) {
	a := &App{}

	a.cfgMgr = config.NewManager(cfgPath)
	cfg, err := a.cfgMgr.Load()
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		cfg = &config.Config{}
		a.cfgMgr = nil // nothing to watch
	default:
		return nil, fmt.Errorf("config %s: %w", cfgPath, err)
	}
	a.cfg = cfg

	a.logSvc, a.log = logx.New(loggingConfig(cfg.Logging))
	if a.cfgMgr != nil {
		a.cfgMgr.SetLogger(a.log)
	}

	cacheDir, err := resolveCacheDir(cfg.Cache.Dir)
	if err != nil {
		return nil, err
	}

	statePath := strings.TrimSpace(cfg.StateFile)
	if statePath == "" {
		statePath = filepath.Join(cacheDir, "state.yaml")
	}
	state, err := config.LoadState(statePath)
	if err != nil {
		return nil, fmt.Errorf("credentials: %w (run pullover -register)", err)
	}
	if err := state.Validate(); err != nil {
		return nil, err
	}
	a.state = state

	if err := a.wire(cfg, cacheDir); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) wire(cfg *config.Config, cacheDir string) error {
	reqTimeout, err := config.ParseDurationOrDefault("api.request_timeout", cfg.API.RequestTimeout, 30*time.Second)
	if err != nil {
		return err
	}
	iconTimeout, err := config.ParseDurationOrDefault("api.icon_timeout", cfg.API.IconTimeout, 10*time.Second)
	if err != nil {
		return err
	}
	keepalive, err := config.ParseDurationOrDefault("stream.keepalive_timeout", cfg.Stream.KeepaliveTimeout, push.DefaultKeepaliveTimeout)
	if err != nil {
		return err
	}
	backoff, err := config.ParseDurationOrDefault("sync.reconnect_backoff", cfg.Sync.ReconnectBackoff, engine.DefaultBackoff)
	if err != nil {
		return err
	}
	actionTTL, err := config.ParseDurationOrDefault("cache.action_ttl", cfg.Cache.ActionTTL, actioncache.DefaultTTL)
	if err != nil {
		return err
	}
	dedupWindow, err := config.ParseDurationField("notify.dedup_window", cfg.Notify.DedupWindow)
	if err != nil {
		return err
	}

	a.bus = eventbus.New()
	a.actions = actioncache.New(actionTTL)

	a.client = api.NewClient(api.Config{
		Endpoint:       cfg.API.Endpoint,
		Secret:         a.state.Secret,
		DeviceID:       a.state.DeviceID,
		RequestTimeout: reqTimeout,
		IconTimeout:    iconTimeout,
	}, a.log.With(logx.String("component", "api")))

	if cfg.Storage != nil {
		busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
		if err != nil {
			return err
		}
		st, err := storage.Open(storage.Config{
			Driver:      cfg.Storage.Driver,
			Path:        cfg.Storage.Path,
			BusyTimeout: busy,
		}, a.log.With(logx.String("component", "storage")))
		if err != nil {
			return fmt.Errorf("storage: %w", err)
		}
		a.store = st
	}

	sinks, err := a.buildSinks(cfg.Notify)
	if err != nil {
		return err
	}
	notifier := notify.New(
		notify.Config{DedupWindow: dedupWindow},
		sinks, a.actions, a.store, a.bus,
		a.log.With(logx.String("component", "notify")),
	)

	iconCache := icons.New(cacheDir, a.client, a.log.With(logx.String("component", "icons")))

	retries := engine.DefaultFetchRetries
	if cfg.Sync.FetchRetries != nil {
		retries = *cfg.Sync.FetchRetries
	}
	a.proc = engine.NewProcessor(a.client, iconCache, notifier.Deliver, retries, a.bus,
		a.log.With(logx.String("component", "processor")))

	channel := push.NewChannel(push.Config{
		Addr:             cfg.Stream.Addr,
		TLS:              streamTLS(cfg.Stream),
		DeviceID:         a.state.DeviceID,
		Secret:           a.state.Secret,
		KeepaliveTimeout: keepalive,
	}, a.log.With(logx.String("component", "push")))

	a.eng = engine.New(engine.Config{Backoff: backoff}, channel, a.proc.Trigger, a.bus,
		a.log.With(logx.String("component", "engine")))

	a.poller, err = engine.NewPoller(cfg.Sync.PollSchedule, a.proc.Trigger,
		a.log.With(logx.String("component", "poller")))
	if err != nil {
		return err
	}
	return nil
}

func (a *App) buildSinks(cfg config.NotifyConfig) ([]notify.Sink, error) {
	var sinks []notify.Sink
	if cfg.Desktop {
		sinks = append(sinks, notify.NewDesktopSink(cfg.AppName, a.log))
	}
	if cfg.Telegram != nil {
		tg, err := notify.NewTelegramSink(notify.TelegramConfig{
			Token:      cfg.Telegram.Token,
			ChatID:     cfg.Telegram.ChatID,
			RatePerSec: cfg.Telegram.RatePerSec,
		}, a.log)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, tg)
	}
	if len(sinks) == 0 {
		sinks = append(sinks, notify.NewLogSink(a.log))
	}
	return sinks, nil
}

// Start launches everything under a supervisor and returns immediately.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log))

	a.sup.Go("processor", a.proc.Run)
	a.sup.Go("engine", a.eng.Run)
	a.sup.Go("poller", a.poller.Run)
	a.sup.Go("watchdog", func(ctx context.Context) error {
		return sdnotify.Watchdog(ctx, a.log)
	})
	a.sup.Go("status", a.statusLoop)

	if a.cfgMgr != nil {
		a.sup.GoRestart("config.watch", a.cfgMgr.Watch, 250*time.Millisecond, 5*time.Second)
		a.sup.Go("config.apply", a.applyLoop)
	}

	sdnotify.Ready()
	sdnotify.Status("connecting")
	a.log.Info("pullover started")
	return nil
}

// statusLoop mirrors engine events into the systemd status line.
func (a *App) statusLoop(ctx context.Context) error {
	ch, unsub := a.bus.Subscribe(16)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			switch ev.Type {
			case eventbus.EventChannelConnected:
				sdnotify.Status("connected")
			case eventbus.EventChannelDown:
				sdnotify.Status("reconnecting")
			case eventbus.EventCycleCompleted:
				if info, ok := ev.Data.(eventbus.CycleInfo); ok && info.Messages > 0 {
					sdnotify.Status(fmt.Sprintf("delivered %d message(s), watermark %d", info.Messages, info.Watermark))
				}
			}
		}
	}
}

// applyLoop hot-applies the settings that support it (logging only; the
// rest of the pipeline needs a restart and says so).
func (a *App) applyLoop(ctx context.Context) error {
	ch := a.cfgMgr.Subscribe(4)
	defer a.cfgMgr.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cfg, ok := <-ch:
			if !ok {
				return nil
			}
			a.logSvc.Apply(loggingConfig(cfg.Logging))
			a.log.Info("logging settings applied; other changes take effect on restart")
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	sdnotify.Stopping()
	var err error
	if a.sup != nil {
		err = a.sup.Stop(ctx)
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.logSvc != nil {
		_ = a.logSvc.Close()
	}
	return err
}

func loggingConfig(cfg config.LoggingConfig) logx.Config {
	console := true
	if cfg.Console != nil {
		console = *cfg.Console
	}
	return logx.Config{
		Level:   cfg.Level,
		Console: console,
		File: logx.FileConfig{
			Enabled: cfg.File.Enabled,
			Path:    cfg.File.Path,
		},
	}
}

func streamTLS(cfg config.StreamConfig) bool {
	if cfg.TLS != nil {
		return *cfg.TLS
	}
	// Default on: the production endpoint requires it. NewChannel also
	// forces TLS when no addr override is given.
	return true
}

func resolveCacheDir(dir string) (string, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return "", fmt.Errorf("cache dir: %w", err)
		}
		dir = filepath.Join(base, "pullover")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("cache dir %s: %w", dir, err)
	}
	return dir, nil
}
