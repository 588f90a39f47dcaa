package sync

import (
	stdsync "sync"
	"time"
)

// Session is the process-wide sync context: which profile is active, a
// generation counter per profile used to tag tick results, and the cached
// Firebase ID tokens. It is owned by the process supervisor and passed to
// the Engine and Scheduler.
type Session struct {
	mu     stdsync.Mutex
	active string
	epochs map[string]uint64
	tokens map[string]cachedToken
}

type cachedToken struct {
	token     string
	expiresAt time.Time
}

// Ticket tags a tick with the profile and generation it was started for.
type Ticket struct {
	Key   string
	epoch uint64
}

// NewSession creates a Session with active as the active profile.
func NewSession(active string) *Session {
	return &Session{
		active: active,
		epochs: make(map[string]uint64),
		tokens: make(map[string]cachedToken),
	}
}

// Active returns the active profile key.
func (s *Session) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.active
}

// Activate makes key the active profile. Ticks in flight for the
// previously active profile become stale.
func (s *Session) Activate(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == key {
		return
	}

	s.epochs[s.active]++
	s.active = key
}

// Invalidate makes every ticket issued so far for key stale.
func (s *Session) Invalidate(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.epochs[key]++
}

// Ticket returns a tag for a tick of key started now.
func (s *Session) Ticket(key string) Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Ticket{Key: key, epoch: s.epochs[key]}
}

// Valid reports whether results computed under t may still be applied: the
// profile is still active and has not been invalidated since.
func (s *Session) Valid(t Ticket) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.active == t.Key && s.epochs[t.Key] == t.epoch
}

// Token returns the cached ID token for uid if it stays valid for longer
// than margin after now.
func (s *Session) Token(uid string, now time.Time, margin time.Duration) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.tokens[uid]
	if !ok || c.expiresAt.Sub(now) <= margin {
		return "", false
	}

	return c.token, true
}

// SetToken caches an ID token for uid. The token is never persisted.
func (s *Session) SetToken(uid, token string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens[uid] = cachedToken{token: token, expiresAt: expiresAt}
}

// ClearToken drops the cached ID token for uid.
func (s *Session) ClearToken(uid string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tokens, uid)
}
