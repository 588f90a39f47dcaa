package state

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "state.db"), testLogger())
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })

	return s
}

func TestGetSet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "k", []byte(`"v1"`)))
	require.NoError(t, s.Set(ctx, "k", []byte(`"v2"`)))

	got, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `"v2"`, string(got))

	require.NoError(t, s.Delete(ctx, "k"))
	require.NoError(t, s.Delete(ctx, "k"))

	_, ok, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReopenPersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	s, err := Open(ctx, path, testLogger())
	require.NoError(t, err)
	require.NoError(t, s.SetJSON(ctx, "answer", 42))
	require.NoError(t, s.Close())

	s, err = Open(ctx, path, testLogger())
	require.NoError(t, err)
	defer s.Close()

	var v int
	ok, err := s.GetJSON(ctx, "answer", &v)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 42, v)
}

func TestMigrate_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.SetJSON(ctx, "answer", 42))

	version, err := migrate(ctx, s.db, testLogger())
	require.NoError(t, err)
	assert.EqualValues(t, 1, version)

	var v int
	ok, err := s.GetJSON(ctx, "answer", &v)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 42, v)
}

func TestUpdate_NoChangeSkipsWrite(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	err := s.Update(ctx, "k", func(_ []byte, ok bool) ([]byte, error) {
		assert.False(t, ok)
		return nil, ErrNoChange
	})
	require.NoError(t, err)

	_, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdate_ErrorAborts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.SetJSON(ctx, "k", "before"))

	boom := errors.New("boom")
	err := UpdateJSON(ctx, s, "k", func(v *string) error {
		*v = "after"
		return boom
	})
	require.ErrorIs(t, err, boom)

	var v string
	_, err = s.GetJSON(ctx, "k", &v)
	require.NoError(t, err)
	assert.Equal(t, "before", v)
}

func TestUpdateJSON_Concurrent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	const n = 20

	var wg sync.WaitGroup
	for range n {
		wg.Add(1)

		go func() {
			defer wg.Done()

			err := UpdateJSON(ctx, s, "counter", func(v *int) error {
				*v++
				return nil
			})
			assert.NoError(t, err)
		}()
	}

	wg.Wait()

	var v int
	_, err := s.GetJSON(ctx, "counter", &v)
	require.NoError(t, err)
	assert.Equal(t, n, v)
}

func TestDeviceID_StableAcrossCalls(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first, err := s.DeviceID(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, first)

	second, err := s.DeviceID(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestActiveProfileKey_DefaultsToLocal(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	key, err := s.ActiveProfileKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, LocalProfileKey, key)

	require.NoError(t, s.SetActiveProfileKey(ctx, "uid-1"))

	key, err = s.ActiveProfileKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, "uid-1", key)

	assert.Error(t, s.SetActiveProfileKey(ctx, " "))
}

func TestRefreshTokens(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, ok, err := s.RefreshToken(ctx, "uid-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetRefreshToken(ctx, "uid-1", "enc-a"))
	require.NoError(t, s.SetRefreshToken(ctx, "uid-2", "enc-b"))

	got, ok, err := s.RefreshToken(ctx, "uid-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "enc-a", got)

	require.NoError(t, s.DeleteRefreshToken(ctx, "uid-1"))
	require.NoError(t, s.DeleteRefreshToken(ctx, "uid-1"))

	_, ok, err = s.RefreshToken(ctx, "uid-1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = s.RefreshToken(ctx, "uid-2")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestKeys(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SetJSON(ctx, "b", 1))
	require.NoError(t, s.SetJSON(ctx, "a", 2))

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)
}
