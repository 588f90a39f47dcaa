package identity

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// randomTokenBytes is the entropy of the state and nonce parameters.
const randomTokenBytes = 16

// PendingAuthRequest is one in-flight login attempt.
type PendingAuthRequest struct {
	State       string
	Nonce       string
	Verifier    string
	RedirectURI string
	CreatedAt   time.Time
}

// Challenge returns the S256 PKCE challenge for the request's verifier.
func (p *PendingAuthRequest) Challenge() string {
	return ChallengeFor(p.Verifier)
}

// NewPendingAuthRequest generates a fresh PKCE verifier, state, and nonce.
func NewPendingAuthRequest(redirectURI string, now time.Time) (*PendingAuthRequest, error) {
	state, err := randomToken()
	if err != nil {
		return nil, fmt.Errorf("identity: generating state: %w", err)
	}

	nonce, err := randomToken()
	if err != nil {
		return nil, fmt.Errorf("identity: generating nonce: %w", err)
	}

	return &PendingAuthRequest{
		State:       state,
		Nonce:       nonce,
		Verifier:    oauth2.GenerateVerifier(),
		RedirectURI: redirectURI,
		CreatedAt:   now,
	}, nil
}

// ChallengeFor derives the S256 code challenge: base64url(sha256(verifier)),
// without padding.
func ChallengeFor(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// randomToken returns 16 random bytes, base64url-encoded without padding.
func randomToken() (string, error) {
	b := make([]byte, randomTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(b), nil
}
