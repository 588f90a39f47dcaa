package sync

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/tasksync/internal/vault"
)

func TestBackoffDuration(t *testing.T) {
	tests := []struct {
		name     string
		failures int
		want     time.Duration
	}{
		{name: "zero failures", failures: 0, want: 0},
		{name: "two failures", failures: 2, want: 0},
		{name: "three failures", failures: 3, want: 1 * time.Minute},
		{name: "four failures", failures: 4, want: 5 * time.Minute},
		{name: "five failures", failures: 5, want: 15 * time.Minute},
		{name: "six failures", failures: 6, want: 1 * time.Hour},
		{name: "hundred failures capped", failures: 100, want: 1 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, backoffDuration(tt.failures))
		})
	}
}

type fakeTicker struct {
	mu    stdsync.Mutex
	keys  []string
	err   error
	panic bool
}

func (f *fakeTicker) Tick(_ context.Context, key string) (*TickReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.keys = append(f.keys, key)

	if f.panic {
		panic("boom")
	}

	if f.err != nil {
		return nil, f.err
	}

	return &TickReport{Key: key}, nil
}

func (f *fakeTicker) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.keys)
}

func newTestScheduler(t *testing.T, ticker Ticker, active string) (*Scheduler, *recordingNotifier, *testClock) {
	t.Helper()

	n := &recordingNotifier{}
	clock := &testClock{now: testEpoch}

	s := NewScheduler(SchedulerConfig{
		Engine:   ticker,
		Session:  NewSession(active),
		Interval: time.Hour,
		Notifier: n,
		Logger:   testLogger(t),
		Now:      clock.Now,
	})

	return s, n, clock
}

func TestScheduler_LocalProfileNeverTicks(t *testing.T) {
	ft := &fakeTicker{}
	s, _, _ := newTestScheduler(t, ft, "local")

	_, err := s.RunOnce(context.Background(), true)
	require.NoError(t, err)
	assert.Zero(t, ft.count())
}

func TestScheduler_FailuresBackOffScheduledTicks(t *testing.T) {
	ctx := context.Background()
	errNet := errors.New("connection reset")
	ft := &fakeTicker{err: errNet}
	s, n, clock := newTestScheduler(t, ft, testUID)

	for range 3 {
		_, err := s.RunOnce(ctx, false)
		require.ErrorIs(t, err, errNet)
	}

	assert.Equal(t, 3, s.Failures())
	assert.Len(t, n.errs, 3)

	// Inside the 1m backoff scheduled ticks are skipped.
	_, err := s.RunOnce(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 3, ft.count())

	// Out-of-band ticks bypass it.
	_, err = s.RunOnce(ctx, true)
	require.ErrorIs(t, err, errNet)
	assert.Equal(t, 4, ft.count())

	// Four failures: 5m backoff.
	clock.Advance(4 * time.Minute)

	_, err = s.RunOnce(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 4, ft.count())

	clock.Advance(2 * time.Minute)
	ft.mu.Lock()
	ft.err = nil
	ft.mu.Unlock()

	_, err = s.RunOnce(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 5, ft.count())
	assert.Zero(t, s.Failures())
}

func TestScheduler_StaleTickIsNotAFailure(t *testing.T) {
	ft := &fakeTicker{err: fmt.Errorf("wrapped: %w", ErrStaleTick)}
	s, n, _ := newTestScheduler(t, ft, testUID)

	_, err := s.RunOnce(context.Background(), false)
	require.ErrorIs(t, err, ErrStaleTick)
	assert.Zero(t, s.Failures())
	assert.Empty(t, n.errs)
}

func TestScheduler_FatalErrorParksProfile(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "relogin required", err: fmt.Errorf("%w: no refresh token stored", ErrReloginRequired)},
		{name: "encryption unavailable", err: fmt.Errorf("%w: keychain locked", vault.ErrEncryptionUnavailable)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			ft := &fakeTicker{err: tt.err}
			s, n, _ := newTestScheduler(t, ft, testUID)

			_, err := s.RunOnce(ctx, false)
			require.ErrorIs(t, err, tt.err)
			assert.True(t, s.Parked(testUID))

			_, err = s.RunOnce(ctx, false)
			require.NoError(t, err)
			assert.Equal(t, 1, ft.count(), "scheduled ticks skip a parked profile")
			assert.Len(t, n.errs, 1)
			assert.Zero(t, s.Failures())

			// A sign-in or manual sync arrives as an out-of-band tick.
			ft.mu.Lock()
			ft.err = nil
			ft.mu.Unlock()

			_, err = s.RunOnce(ctx, true)
			require.NoError(t, err)
			assert.Equal(t, 2, ft.count())
			assert.False(t, s.Parked(testUID))

			_, err = s.RunOnce(ctx, false)
			require.NoError(t, err)
			assert.Equal(t, 3, ft.count())
		})
	}
}

func TestScheduler_RecoversPanic(t *testing.T) {
	ft := &fakeTicker{panic: true}
	s, n, _ := newTestScheduler(t, ft, testUID)

	_, err := s.RunOnce(context.Background(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")
	assert.Len(t, n.errs, 1)
}

func TestScheduler_RunTriggersAndStops(t *testing.T) {
	ft := &fakeTicker{}
	s, _, _ := newTestScheduler(t, ft, testUID)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- s.Run(ctx) }()

	s.Trigger()

	require.Eventually(t, func() bool { return ft.count() == 1 }, 2*time.Second, 5*time.Millisecond)

	s.SetInterval(10 * time.Millisecond)

	require.Eventually(t, func() bool { return ft.count() >= 3 }, 2*time.Second, 5*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
