package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/tasksync/internal/config"
	"github.com/tonimelisma/tasksync/internal/events"
	"github.com/tonimelisma/tasksync/internal/sync"
)

// daemon is the long-running "sync --watch" process: the scheduler, the
// optional event server, the config watcher, and the SIGHUP loop, all
// joined in one errgroup.
type daemon struct {
	cc    *CLIContext
	app   *app
	hub   *events.Hub
	sched *sync.Scheduler
	hups  <-chan struct{}
}

// errorf wraps a daemon startup failure.
func errorf(format string, args ...any) error {
	return fmt.Errorf("sync --watch: "+format, args...)
}

func runWatch(ctx context.Context, cc *CLIContext) error {
	logger := cc.Logger
	sigs := watchSignals(ctx, logger)
	ctx = sigs.ctx

	release, err := acquirePIDFile(config.PIDPath(cc.Cfg.DataDir))
	if err != nil {
		return errorf("%w", err)
	}
	defer release()

	hub := events.NewHub(logger)

	a, err := openApp(ctx, cc, hub)
	if err != nil {
		return err
	}
	defer a.Close()

	d := &daemon{
		cc:   cc,
		app:  a,
		hub:  hub,
		hups: sigs.hups,
		sched: sync.NewScheduler(sync.SchedulerConfig{
			Engine:   a.engine,
			Session:  a.session,
			Interval: cc.Cfg.SyncInterval(),
			Notifier: hub,
			Logger:   logger,
		}),
	}

	return d.run(ctx)
}

func (d *daemon) run(ctx context.Context) error {
	logger := d.cc.Logger
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return d.sched.Run(gctx) })

	if addr := d.cc.Cfg.Events.ListenAddr; addr != "" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return errorf("listening on %s: %w", addr, err)
		}

		logger.Info("event server listening", slog.String("addr", ln.Addr().String()))

		srv := events.NewServer(d.hub, logger)
		g.Go(func() error { return srv.Run(gctx, ln) })
	}

	if d.canWatchConfig() {
		g.Go(func() error {
			return config.Watch(gctx, d.cc.CfgPath, config.DefaultWatchDebounce, logger, func() {
				d.reloadConfig()
			})
		})
	}

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-d.hups:
				d.hangup(gctx)
			}
		}
	})

	d.sched.Trigger()

	logger.Info("sync daemon started",
		slog.String("profile", d.app.activeKey()),
		slog.Duration("interval", d.cc.Cfg.SyncInterval()),
		slog.Int("pid", os.Getpid()),
	)
	d.cc.Statusf("Syncing every %s. Press Ctrl-C to stop.\n", d.cc.Cfg.SyncInterval())

	err := g.Wait()

	logger.Info("sync daemon stopped")

	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

// canWatchConfig reports whether the config file's directory exists. A
// daemon started without one keeps running on defaults and SIGHUP reloads.
func (d *daemon) canWatchConfig() bool {
	if d.cc.CfgPath == "" {
		return false
	}

	if _, err := os.Stat(filepath.Dir(d.cc.CfgPath)); err != nil {
		d.cc.Logger.Debug("config directory missing, not watching",
			slog.String("path", d.cc.CfgPath))

		return false
	}

	return true
}

// reloadConfig re-reads the config file. A broken file is logged and the
// previous config stays in effect. The data directory is fixed for the
// life of the daemon.
func (d *daemon) reloadConfig() {
	logger := d.cc.Logger

	cfg, err := config.LoadOrDefault(d.cc.CfgPath)
	if err != nil {
		logger.Warn("config reload failed, keeping previous config", slog.String("error", err.Error()))
		return
	}

	prev := d.app.holder.Reload(cfg)
	d.sched.SetInterval(cfg.SyncInterval())

	logger.Info("config reloaded",
		slog.Duration("interval", cfg.SyncInterval()),
		slog.Duration("previous_interval", prev.SyncInterval()),
	)

	d.sched.Trigger()
}

// hangup handles SIGHUP from another tasksync process: it may have switched
// or reset the active profile, edited tasks, or stored new cloud settings.
// Any tick in flight for the active profile is discarded and a fresh one
// runs.
func (d *daemon) hangup(ctx context.Context) {
	logger := d.cc.Logger
	logger.Info("received SIGHUP, reloading")

	d.reloadConfig()

	if err := d.app.reloadStoredCloud(ctx); err != nil {
		logger.Warn("reloading stored cloud config", slog.String("error", err.Error()))
	}

	active, err := d.app.profiles.ActiveKey(ctx)
	if err != nil {
		logger.Warn("reading active profile", slog.String("error", err.Error()))
		return
	}

	if active != d.app.session.Active() {
		d.app.session.Activate(active)
		d.hub.SessionChanged(active)
	} else {
		d.app.session.Invalidate(active)
	}

	d.hub.TasksChanged(active)
	d.sched.Trigger()
}
