package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitClosed(t *testing.T, done <-chan struct{}, what string) {
	t.Helper()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("%s did not happen within 2 seconds", what)
	}
}

func TestWatchSignals_StopSignalCancels(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := watchSignals(parent, quietLogger())

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))
	waitClosed(t, sigs.ctx.Done(), "cancel on SIGTERM")
}

func TestWatchSignals_ParentCancelStops(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	sigs := watchSignals(parent, quietLogger())

	cancel()
	waitClosed(t, sigs.ctx.Done(), "cancel with parent")
}

func TestWatchSignals_HangupDoesNotStop(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := watchSignals(parent, quietLogger())

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGHUP))

	select {
	case <-sigs.hups:
	case <-time.After(2 * time.Second):
		t.Fatal("no reload delivered within 2 seconds of SIGHUP")
	}

	require.NoError(t, sigs.ctx.Err())
}
