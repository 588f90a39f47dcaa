package profile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/tonimelisma/tasksync/internal/state"
)

// LoadIssue records a stored profile that failed schema validation and was
// replaced by an empty state. The raw record is quarantined before the
// first write replaces it.
type LoadIssue struct {
	Key string
	Err error
}

func (i LoadIssue) Error() string {
	return fmt.Sprintf("profile: stored profile %q is malformed: %v", i.Key, i.Err)
}

func (i LoadIssue) Unwrap() error {
	return i.Err
}

// Quarantined is a malformed profile record kept aside when an update
// replaced it.
type Quarantined struct {
	Raw   string    `json:"raw"`
	Error string    `json:"error"`
	At    time.Time `json:"at"`
}

// malformedProfile aborts an update whose stored record has not been
// quarantined yet.
type malformedProfile struct {
	raw   json.RawMessage
	issue LoadIssue
}

func (m *malformedProfile) Error() string {
	return m.issue.Error()
}

// Summary describes a signed-in profile for display.
type Summary struct {
	Key         string    `json:"key"`
	UID         string    `json:"uid"`
	Email       string    `json:"email,omitempty"`
	DisplayName string    `json:"displayName,omitempty"`
	SignedInAt  time.Time `json:"signedInAt"`
}

// Store reads and writes profile replicas in the durable store. Each
// profile is decoded and re-encoded on its own; the raw bytes of every
// other profile pass through untouched.
type Store struct {
	kv      *state.Store
	logger  *slog.Logger
	nowFunc func() time.Time

	// onIssue is called for every malformed profile found while loading.
	onIssue func(LoadIssue)
}

// NewStore creates a Store over kv.
func NewStore(kv *state.Store, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{kv: kv, logger: logger, nowFunc: time.Now}
}

// OnLoadIssue registers a callback for malformed stored profiles.
func (s *Store) OnLoadIssue(fn func(LoadIssue)) {
	s.onIssue = fn
}

// Now returns the store's clock reading, shared by mutation handlers.
func (s *Store) Now() time.Time {
	return s.nowFunc().UTC()
}

// Get returns a copy of the profile's state. Unknown keys yield Empty().
func (s *Store) Get(ctx context.Context, key string) (State, error) {
	var profiles map[string]json.RawMessage

	if _, err := s.kv.GetJSON(ctx, state.KeyProfiles, &profiles); err != nil {
		return State{}, err
	}

	return s.decode(key, profiles[key]), nil
}

// Update applies fn to the profile inside one durable-store transaction and
// returns the state that was written. An unknown key starts from Empty().
// A malformed stored record is quarantined before it is overwritten, and a
// result that fails validation is refused.
func (s *Store) Update(ctx context.Context, key string, fn func(st *State) error) (State, error) {
	out, err := s.update(ctx, key, nil, fn)

	var mal *malformedProfile
	if errors.As(err, &mal) {
		if err := s.quarantine(ctx, key, mal); err != nil {
			return State{}, err
		}

		out, err = s.update(ctx, key, mal.raw, fn)
	}

	if err != nil {
		return State{}, err
	}

	return out, nil
}

// update runs one Update transaction. A malformed record is replaced only
// when it equals kept, the bytes already quarantined.
func (s *Store) update(ctx context.Context, key string, kept json.RawMessage, fn func(st *State) error) (State, error) {
	var out State

	err := state.UpdateJSON(ctx, s.kv, state.KeyProfiles, func(profiles *map[string]json.RawMessage) error {
		if *profiles == nil {
			*profiles = make(map[string]json.RawMessage)
		}

		raw := (*profiles)[key]

		st, issue := DecodeState(key, raw)
		if issue != nil {
			if !bytes.Equal(raw, kept) {
				return &malformedProfile{raw: slices.Clone(raw), issue: *issue}
			}

			s.report(*issue)
		}

		if err := fn(&st); err != nil {
			return err
		}

		st.normalize()

		if err := st.Validate(); err != nil {
			return fmt.Errorf("profile: refusing to store invalid state for %s: %w", key, err)
		}

		next, err := json.Marshal(st)
		if err != nil {
			return fmt.Errorf("profile: encoding %s: %w", key, err)
		}

		if bytes.Equal(next, raw) {
			out = st
			return state.ErrNoChange
		}

		(*profiles)[key] = next
		out = st

		return nil
	})
	if err != nil {
		return State{}, err
	}

	return out, nil
}

// quarantine keeps a malformed profile record under KeyQuarantine. A record
// identical to the newest entry for key is not stored twice.
func (s *Store) quarantine(ctx context.Context, key string, mal *malformedProfile) error {
	err := state.UpdateJSON(ctx, s.kv, state.KeyQuarantine, func(m *map[string][]Quarantined) error {
		if *m == nil {
			*m = make(map[string][]Quarantined)
		}

		entries := (*m)[key]
		if n := len(entries); n > 0 && entries[n-1].Raw == string(mal.raw) {
			return state.ErrNoChange
		}

		(*m)[key] = append(entries, Quarantined{
			Raw:   string(mal.raw),
			Error: mal.issue.Err.Error(),
			At:    s.Now(),
		})

		return nil
	})
	if err != nil {
		return fmt.Errorf("profile: quarantining %s: %w", key, err)
	}

	s.logger.Warn("quarantined malformed stored profile",
		slog.String("profile", key),
		slog.Int("bytes", len(mal.raw)),
	)

	return nil
}

// Quarantine returns the malformed profile records kept aside, by key.
func (s *Store) Quarantine(ctx context.Context) (map[string][]Quarantined, error) {
	var out map[string][]Quarantined

	if _, err := s.kv.GetJSON(ctx, state.KeyQuarantine, &out); err != nil {
		return nil, err
	}

	if out == nil {
		out = map[string][]Quarantined{}
	}

	return out, nil
}

// Put replaces the profile's state.
func (s *Store) Put(ctx context.Context, key string, st State) error {
	if err := st.Validate(); err != nil {
		return fmt.Errorf("profile: refusing to store invalid state for %s: %w", key, err)
	}

	_, err := s.Update(ctx, key, func(cur *State) error {
		*cur = st.Clone()
		return nil
	})

	return err
}

// Reset empties the profile: tasks, order, metadata, oplog, and cursor.
func (s *Store) Reset(ctx context.Context, key string) error {
	_, err := s.Update(ctx, key, func(st *State) error {
		*st = Empty()
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("profile reset", slog.String("profile", key))

	return nil
}

// Keys lists every stored profile key, sorted.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	var profiles map[string]json.RawMessage

	if _, err := s.kv.GetJSON(ctx, state.KeyProfiles, &profiles); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(profiles))
	for k := range profiles {
		keys = append(keys, k)
	}

	slices.Sort(keys)

	return keys, nil
}

// ActiveKey returns the active profile key.
func (s *Store) ActiveKey(ctx context.Context) (string, error) {
	return s.kv.ActiveProfileKey(ctx)
}

// SetActiveKey moves the active profile pointer.
func (s *Store) SetActiveKey(ctx context.Context, key string) error {
	return s.kv.SetActiveProfileKey(ctx, key)
}

// Summaries returns the display summaries of signed-in profiles.
func (s *Store) Summaries(ctx context.Context) (map[string]Summary, error) {
	var out map[string]Summary

	if _, err := s.kv.GetJSON(ctx, state.KeyProfileSummaries, &out); err != nil {
		return nil, err
	}

	if out == nil {
		out = map[string]Summary{}
	}

	return out, nil
}

// SetSummary records the display summary for a profile.
func (s *Store) SetSummary(ctx context.Context, sum Summary) error {
	return state.UpdateJSON(ctx, s.kv, state.KeyProfileSummaries, func(m *map[string]Summary) error {
		if *m == nil {
			*m = make(map[string]Summary)
		}

		(*m)[sum.Key] = sum

		return nil
	})
}

// decode turns a stored profile into a State, replacing malformed records
// with an empty state and reporting them as a LoadIssue.
func (s *Store) decode(key string, raw json.RawMessage) State {
	st, issue := DecodeState(key, raw)
	if issue != nil {
		s.report(*issue)
	}

	return st
}

func (s *Store) report(issue LoadIssue) {
	s.logger.Warn("ignoring malformed stored profile",
		slog.String("profile", issue.Key),
		slog.String("error", issue.Err.Error()),
	)

	if s.onIssue != nil {
		s.onIssue(issue)
	}
}

// DecodeState decodes and validates one stored profile. A missing record
// decodes to Empty() without an issue.
func DecodeState(key string, raw json.RawMessage) (State, *LoadIssue) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Empty(), nil
	}

	st := Empty()
	if err := json.Unmarshal(raw, &st); err != nil {
		return Empty(), &LoadIssue{Key: key, Err: err}
	}

	st.normalize()

	if err := st.Validate(); err != nil {
		return Empty(), &LoadIssue{Key: key, Err: err}
	}

	return st, nil
}
