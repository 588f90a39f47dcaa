package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	stdsync "sync"
	"time"

	"github.com/tonimelisma/tasksync/internal/events"
	"github.com/tonimelisma/tasksync/internal/profile"
	"github.com/tonimelisma/tasksync/internal/vault"
)

// DefaultInterval is the period between scheduled ticks.
const DefaultInterval = 10 * time.Second

// Backoff for consecutive failed scheduled ticks. Threshold: 3 consecutive
// failures before any backoff is applied.
const (
	backoffThreshold = 3
	backoffMaxCap    = 1 * time.Hour
)

// backoffSteps maps consecutive failure counts (starting at the threshold)
// to their backoff durations: 3→1m, 4→5m, 5→15m, 6+→1h.
var backoffSteps = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	backoffMaxCap,
}

// backoffDuration returns the backoff for the given number of consecutive
// failures, 0 below the threshold.
func backoffDuration(failures int) time.Duration {
	if failures < backoffThreshold {
		return 0
	}

	idx := failures - backoffThreshold
	if idx >= len(backoffSteps) {
		return backoffMaxCap
	}

	return backoffSteps[idx]
}

// fatal reports tick errors that retrying cannot fix.
func fatal(err error) bool {
	return errors.Is(err, ErrReloginRequired) || errors.Is(err, vault.ErrEncryptionUnavailable)
}

// Ticker is the engine surface the Scheduler drives. Implemented by *Engine.
type Ticker interface {
	Tick(ctx context.Context, key string) (*TickReport, error)
}

// SchedulerConfig holds the inputs of NewScheduler.
type SchedulerConfig struct {
	Engine   Ticker
	Session  *Session
	Interval time.Duration
	Notifier events.Notifier
	Logger   *slog.Logger
	Now      func() time.Time
}

// Scheduler ticks the active profile on a fixed interval and on demand.
// Ticks run one at a time on the Run goroutine.
type Scheduler struct {
	engine   Ticker
	session  *Session
	notifier events.Notifier
	logger   *slog.Logger
	nowFunc  func() time.Time

	trigger chan struct{}
	reset   chan time.Duration

	mu           stdsync.Mutex
	interval     time.Duration
	failures     int
	backoffUntil time.Time

	// parked holds profiles whose last tick failed fatally. Only an
	// out-of-band tick runs for them.
	parked map[string]error
}

// NewScheduler creates a Scheduler. Call Run to start it.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}

	if cfg.Notifier == nil {
		cfg.Notifier = events.Nop{}
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Scheduler{
		engine:   cfg.Engine,
		session:  cfg.Session,
		notifier: cfg.Notifier,
		logger:   cfg.Logger,
		nowFunc:  cfg.Now,
		interval: cfg.Interval,
		trigger:  make(chan struct{}, 1),
		reset:    make(chan time.Duration, 1),
		parked:   make(map[string]error),
	}
}

// Trigger requests an immediate tick that bypasses any failure backoff.
// Requests made while one is pending are coalesced.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// SetInterval changes the tick period from the next tick on.
func (s *Scheduler) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}

	s.mu.Lock()
	s.interval = d
	s.mu.Unlock()

	select {
	case s.reset <- d:
	default:
	}
}

// Run ticks until ctx is canceled. It always returns nil after
// cancellation; tick errors are reported through the Notifier.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	interval := s.interval
	s.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", slog.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case d := <-s.reset:
			ticker.Reset(d)
			s.logger.Info("scheduler interval changed", slog.Duration("interval", d))
		case <-s.trigger:
			s.mu.Lock()
			ticker.Reset(s.interval)
			s.mu.Unlock()

			s.RunOnce(ctx, true)
		case <-ticker.C:
			s.RunOnce(ctx, false)
		}
	}
}

// RunOnce ticks the active profile. Scheduled ticks are skipped during a
// failure backoff and for a profile parked by a fatal error; out-of-band
// ticks always run.
func (s *Scheduler) RunOnce(ctx context.Context, outOfBand bool) (*TickReport, error) {
	key := s.session.Active()
	if profile.IsLocal(key) {
		return nil, nil
	}

	if !outOfBand && s.Parked(key) {
		s.logger.Debug("tick skipped for parked profile", slog.String("profile", key))
		return nil, nil
	}

	if !outOfBand && s.inBackoff() {
		s.logger.Debug("tick skipped during backoff", slog.String("profile", key))
		return nil, nil
	}

	report, err := s.safeTick(ctx, key)

	switch {
	case err == nil:
		s.recordSuccess(key)
	case errors.Is(err, ErrStaleTick), errors.Is(err, context.Canceled):
		s.logger.Debug("tick discarded", slog.String("profile", key), slog.String("reason", err.Error()))
	case fatal(err):
		s.park(key, err)
		s.notifier.SyncError(key, err)
	default:
		s.recordFailure(key, err)
		s.notifier.SyncError(key, err)
	}

	return report, err
}

// safeTick runs one tick with panic recovery.
func (s *Scheduler) safeTick(ctx context.Context, key string) (report *TickReport, err error) {
	defer func() {
		if r := recover(); r != nil {
			report = nil
			err = fmt.Errorf("sync: panic in tick for %s: %v", key, r)
		}
	}()

	return s.engine.Tick(ctx, key)
}

func (s *Scheduler) inBackoff() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.nowFunc().Before(s.backoffUntil)
}

// Parked reports whether scheduled ticks for key are suspended until an
// out-of-band tick succeeds.
func (s *Scheduler) Parked(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.parked[key]

	return ok
}

func (s *Scheduler) park(key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.parked[key] = err

	s.logger.Error("sync suspended until the next sign-in or manual sync",
		slog.String("profile", key),
		slog.String("error", err.Error()),
	)
}

func (s *Scheduler) recordSuccess(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.parked, key)

	if s.failures > 0 {
		s.logger.Info("sync recovered", slog.Int("after_failures", s.failures))
	}

	s.failures = 0
	s.backoffUntil = time.Time{}
}

func (s *Scheduler) recordFailure(key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failures++

	wait := backoffDuration(s.failures)
	if wait > 0 {
		s.backoffUntil = s.nowFunc().Add(wait)
	}

	s.logger.Warn("sync tick failed",
		slog.String("profile", key),
		slog.Int("consecutive_failures", s.failures),
		slog.Duration("backoff", wait),
		slog.String("error", err.Error()),
	)
}

// Failures returns the number of consecutive failed ticks.
func (s *Scheduler) Failures() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.failures
}
