package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/tonimelisma/tasksync/internal/config"
)

// pidFilePermissions: owner rw, group/other r.
const pidFilePermissions = 0o644

// errNoDaemon means no watch daemon holds the pid file.
var errNoDaemon = errors.New("no running sync daemon")

// acquirePIDFile writes the current process id to path under an exclusive
// flock. The returned func removes the file and releases the lock. A held
// lock means another "sync --watch" owns the data directory.
func acquirePIDFile(path string) (release func(), err error) {
	if path == "" {
		return nil, errors.New("pid file path is empty; cannot determine data directory")
	}

	if err := os.MkdirAll(filepath.Dir(path), dataDirPermissions); err != nil {
		return nil, fmt.Errorf("creating pid file directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, pidFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("opening pid file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()

		return nil, fmt.Errorf("another 'tasksync sync --watch' is already running (could not lock %s)", path)
	}

	if err := writePID(f); err != nil {
		f.Close()

		return nil, err
	}

	return func() {
		os.Remove(path)
		f.Close()
	}, nil
}

func writePID(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncating pid file: %w", err)
	}

	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		return fmt.Errorf("writing pid file: %w", err)
	}

	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing pid file: %w", err)
	}

	return nil
}

// readPIDFile returns the pid recorded in path.
func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading pid file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid pid in %s: %w", path, err)
	}

	return pid, nil
}

// daemonProcess finds the live daemon recorded in the pid file. A pid file
// naming a dead process is removed and reported as errNoDaemon.
func daemonProcess(pidPath string) (*os.Process, error) {
	pid, err := readPIDFile(pidPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, errNoDaemon
	}

	if err != nil {
		return nil, err
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("finding process %d: %w", pid, err)
	}

	if err := proc.Signal(syscall.Signal(0)); err != nil {
		os.Remove(pidPath)

		return nil, errNoDaemon
	}

	return proc, nil
}

// daemonRunning reports whether a live daemon owns the pid file.
func daemonRunning(pidPath string) bool {
	_, err := daemonProcess(pidPath)

	return err == nil
}

// sendSIGHUP asks the daemon to reload state and config and to sync now.
func sendSIGHUP(pidPath string) error {
	proc, err := daemonProcess(pidPath)
	if err != nil {
		return err
	}

	if err := proc.Signal(syscall.SIGHUP); err != nil {
		return fmt.Errorf("sending SIGHUP to daemon (pid %d): %w", proc.Pid, err)
	}

	return nil
}

// notifyDaemon tells a running daemon that the active profile, its data,
// or the cloud config changed. Having no daemon is normal.
func notifyDaemon(cc *CLIContext) {
	err := sendSIGHUP(config.PIDPath(cc.Cfg.DataDir))

	switch {
	case err == nil:
		cc.Logger.Debug("notified sync daemon")
	case errors.Is(err, errNoDaemon):
		cc.Logger.Debug("no sync daemon to notify")
	default:
		cc.Logger.Warn("could not notify sync daemon", slog.String("error", err.Error()))
	}
}
