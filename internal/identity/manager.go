package identity

import (
	"crypto/subtle"
	"log/slog"
	"net/url"
	"sync"
	"time"
)

// CallbackOutcome classifies a redirect that reached the loopback listener.
type CallbackOutcome string

// Callback outcomes. Only Accepted and ProviderError consume the pending
// request; the rest are discarded and the listener keeps waiting.
const (
	OutcomeAccepted      CallbackOutcome = "accepted"
	OutcomeProviderError CallbackOutcome = "provider-error"
	OutcomeStateMismatch CallbackOutcome = "state-mismatch"
	OutcomeNoPending     CallbackOutcome = "no-pending"
	OutcomeIrrelevant    CallbackOutcome = "irrelevant"
)

// Relevant reports whether the outcome ends the login attempt.
func (o CallbackOutcome) Relevant() bool {
	return o == OutcomeAccepted || o == OutcomeProviderError
}

// CallbackResult is what the manager concluded from one redirect.
type CallbackResult struct {
	Outcome       CallbackOutcome
	Code          string
	ProviderError string
	Request       *PendingAuthRequest
}

// Manager holds at most one pending login attempt.
type Manager struct {
	mu      sync.Mutex
	pending *PendingAuthRequest
	logger  *slog.Logger
	nowFunc func() time.Time
}

// NewManager creates a Manager with no pending request.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{logger: logger, nowFunc: time.Now}
}

// Begin starts a new attempt for redirectURI, abandoning any previous one.
func (m *Manager) Begin(redirectURI string) (*PendingAuthRequest, error) {
	req, err := NewPendingAuthRequest(redirectURI, m.nowFunc())
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending != nil {
		m.logger.Info("abandoning previous login attempt",
			slog.Time("started_at", m.pending.CreatedAt),
		)
	}

	m.pending = req

	return req, nil
}

// Pending returns the outstanding request, if any.
func (m *Manager) Pending() *PendingAuthRequest {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.pending
}

// Abandon clears the pending request.
func (m *Manager) Abandon() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pending = nil
}

// HandleCallback matches redirect query parameters against the pending
// request. A relevant callback consumes the request.
func (m *Manager) HandleCallback(q url.Values) CallbackResult {
	code, state, providerErr := q.Get("code"), q.Get("state"), q.Get("error")

	if code == "" && providerErr == "" {
		return CallbackResult{Outcome: OutcomeIrrelevant}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending == nil {
		m.logger.Warn("discarding OAuth callback", slog.String("outcome", string(OutcomeNoPending)))
		return CallbackResult{Outcome: OutcomeNoPending}
	}

	if subtle.ConstantTimeCompare([]byte(state), []byte(m.pending.State)) != 1 {
		m.logger.Warn("discarding OAuth callback", slog.String("outcome", string(OutcomeStateMismatch)))
		return CallbackResult{Outcome: OutcomeStateMismatch}
	}

	req := m.pending
	m.pending = nil

	if providerErr != "" {
		return CallbackResult{Outcome: OutcomeProviderError, ProviderError: providerErr, Request: req}
	}

	return CallbackResult{Outcome: OutcomeAccepted, Code: code, Request: req}
}
