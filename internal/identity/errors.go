// Package identity signs users in: the OAuth authorization-code-with-PKCE
// flow against Google, the loopback redirect listener, and the exchange of
// the resulting identity token for a Firebase session. It also refreshes
// Firebase sessions from stored refresh tokens.
package identity

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"
)

// Sentinel errors. Use errors.Is to check.
var (
	ErrBadRequest   = errors.New("identity: bad request")
	ErrUnauthorized = errors.New("identity: unauthorized")
	ErrForbidden    = errors.New("identity: forbidden")
	ErrThrottled    = errors.New("identity: throttled")
	ErrServerError  = errors.New("identity: server error")

	// ErrMissingField means a success response lacked a required field.
	ErrMissingField = errors.New("identity: response missing required field")

	// ErrTokenRejected means the refresh token is no longer accepted and
	// the user has to sign in again.
	ErrTokenRejected = errors.New("identity: refresh token rejected")
)

// maxErrorBody bounds how much of a failed response body is kept.
const maxErrorBody = 512

// HTTPError describes a non-success response from an identity endpoint.
type HTTPError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error // sentinel, for errors.Is()
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("identity: %s: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

func newHTTPError(op string, status int, body []byte) *HTTPError {
	text := strings.TrimSpace(string(body))
	sentinel := classifyStatus(status)

	if status == http.StatusBadRequest && rejectsRefreshToken(text) {
		sentinel = ErrTokenRejected
	}

	return &HTTPError{
		Op:         op,
		StatusCode: status,
		Body:       truncate(text, maxErrorBody),
		Err:        sentinel,
	}
}

// rejectsRefreshToken recognizes the securetoken error codes that mean the
// stored refresh token is permanently unusable.
func rejectsRefreshToken(body string) bool {
	for _, code := range []string{"INVALID_REFRESH_TOKEN", "TOKEN_EXPIRED", "USER_DISABLED", "USER_NOT_FOUND"} {
		if strings.Contains(body, code) {
			return true
		}
	}

	return false
}

func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}

	return s[:n] + "…"
}
