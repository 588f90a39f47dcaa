package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// daemonSignals routes the signals a "sync --watch" daemon reacts to.
// SIGINT or SIGTERM cancels ctx so the tick in flight can finish, and a
// second one exits at once. SIGHUP comes from other tasksync commands after
// they change stored state and is delivered on hups.
type daemonSignals struct {
	ctx  context.Context
	hups <-chan struct{}
}

// watchSignals starts routing until parent is done.
func watchSignals(parent context.Context, logger *slog.Logger) daemonSignals {
	ctx, cancel := context.WithCancel(parent)
	hups := make(chan struct{}, 1)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	go func() {
		defer signal.Stop(sigCh)

		stopping := false

		for {
			select {
			case <-parent.Done():
				cancel()
				return
			case sig := <-sigCh:
				if sig == syscall.SIGHUP {
					// A pending reload already covers this one.
					select {
					case hups <- struct{}{}:
					default:
					}

					continue
				}

				if stopping {
					logger.Warn("second stop signal, exiting without draining",
						slog.String("signal", sig.String()),
					)
					os.Exit(1)
				}

				logger.Info("stopping after the current tick",
					slog.String("signal", sig.String()),
				)

				stopping = true

				cancel()
			}
		}
	}()

	return daemonSignals{ctx: ctx, hups: hups}
}
