// Package state is the durable key/value store behind every persisted
// setting: device id, cloud config, active profile pointer, profile
// replicas, encrypted refresh tokens, and profile summaries. Values are
// opaque JSON blobs; typed accessors live next to their owners.
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

// Fixed schema keys.
const (
	KeyDeviceID         = "deviceId"
	KeyCloudConfig      = "cloudConfig"
	KeyActiveProfile    = "activeProfileKey"
	KeyProfiles         = "profiles"
	KeyRefreshTokens    = "firebaseRefreshTokensByUid"
	KeyProfileSummaries = "profileSummariesByKey"
	KeyQuarantine       = "quarantinedProfilesByKey"
)

const (
	sqlGet = `SELECT value FROM kv WHERE key = ?`

	sqlSet = `INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
		 value = excluded.value,
		 updated_at = excluded.updated_at`

	sqlDelete = `DELETE FROM kv WHERE key = ?`

	sqlKeys = `SELECT key FROM kv ORDER BY key`
)

// Store is a SQLite-backed key/value store. Every call goes to the
// database, so a CLI invocation and a running daemon observe each other's
// writes without cache invalidation.
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time
}

// Open opens (or creates) the database at dbPath and applies migrations.
// The database uses WAL mode with synchronous=FULL; transactions take the
// write lock up front so read-modify-write cycles from separate processes
// serialize on busy_timeout instead of failing.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=busy_timeout(5000)&_pragma=journal_size_limit(67108864)"+
			"&_txlock=immediate",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("state: opening database %s: %w", dbPath, err)
	}

	db.SetMaxOpenConns(1)

	version, err := migrate(ctx, db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("state store opened",
		slog.String("db_path", dbPath),
		slog.Int64("schema_version", version),
	)

	return &Store{db: db, logger: logger, nowFunc: time.Now}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("state: closing database: %w", err)
	}

	return nil
}

// Get returns the raw value for key. The bool is false if the key is unset.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return getRow(ctx, s.db, key)
}

// Set stores value under key, replacing any previous value.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	return s.setRow(ctx, s.db, key, value)
}

// Delete removes key. Deleting an unset key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, sqlDelete, key); err != nil {
		return fmt.Errorf("state: deleting %s: %w", key, err)
	}

	return nil
}

// Keys lists every stored key in lexical order.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, sqlKeys)
	if err != nil {
		return nil, fmt.Errorf("state: listing keys: %w", err)
	}
	defer rows.Close()

	var keys []string

	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("state: scanning key: %w", err)
		}

		keys = append(keys, k)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("state: iterating keys: %w", err)
	}

	return keys, nil
}

// Update runs a read-modify-write cycle on key inside one transaction.
// fn receives the current value (nil, false when unset) and returns the
// replacement. Returning ErrNoChange skips the write and is not reported.
func (s *Store) Update(ctx context.Context, key string, fn func(cur []byte, ok bool) ([]byte, error)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("state: beginning transaction for %s: %w", key, err)
	}

	defer func() {
		// Rollback after Commit is a no-op returning ErrTxDone.
		_ = tx.Rollback()
	}()

	cur, ok, err := getRow(ctx, tx, key)
	if err != nil {
		return err
	}

	next, err := fn(cur, ok)
	if errors.Is(err, ErrNoChange) {
		return nil
	}

	if err != nil {
		return err
	}

	if err := s.setRow(ctx, tx, key, next); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("state: committing %s: %w", key, err)
	}

	return nil
}

// ErrNoChange is returned from an Update callback to skip the write.
var ErrNoChange = errors.New("state: no change")

// GetJSON decodes the value under key into v. Returns false if unset.
func (s *Store) GetJSON(ctx context.Context, key string, v any) (bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}

	if err := json.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("state: decoding %s: %w", key, err)
	}

	return true, nil
}

// SetJSON encodes v and stores it under key.
func (s *Store) SetJSON(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("state: encoding %s: %w", key, err)
	}

	return s.Set(ctx, key, raw)
}

// UpdateJSON is the typed form of Update: the current value is decoded into
// a fresh T (zero when unset), mutated by fn, and written back.
func UpdateJSON[T any](ctx context.Context, s *Store, key string, fn func(v *T) error) error {
	return s.Update(ctx, key, func(cur []byte, ok bool) ([]byte, error) {
		var v T

		if ok {
			if err := json.Unmarshal(cur, &v); err != nil {
				return nil, fmt.Errorf("state: decoding %s: %w", key, err)
			}
		}

		if err := fn(&v); err != nil {
			return nil, err
		}

		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("state: encoding %s: %w", key, err)
		}

		return raw, nil
	})
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func getRow(ctx context.Context, q querier, key string) ([]byte, bool, error) {
	var value []byte

	err := q.QueryRowContext(ctx, sqlGet, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, fmt.Errorf("state: reading %s: %w", key, err)
	}

	return value, true, nil
}

func (s *Store) setRow(ctx context.Context, q querier, key string, value []byte) error {
	if _, err := q.ExecContext(ctx, sqlSet, key, value, s.nowFunc().UnixNano()); err != nil {
		return fmt.Errorf("state: writing %s: %w", key, err)
	}

	return nil
}
