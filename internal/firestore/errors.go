// Package firestore is a thin typed mapping of tasks onto Firestore
// documents over the REST API: commit writes, structured delta queries, and
// single-document reads, all scoped to users/{uid}.
package firestore

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, firestore.ErrNotFound) to check.
var (
	ErrBadRequest   = errors.New("firestore: bad request")
	ErrUnauthorized = errors.New("firestore: unauthorized")
	ErrForbidden    = errors.New("firestore: forbidden")
	ErrNotFound     = errors.New("firestore: not found")
	ErrConflict     = errors.New("firestore: conflict")
	ErrThrottled    = errors.New("firestore: throttled")
	ErrServerError  = errors.New("firestore: server error")

	// ErrDecode marks a document that lacks required, well-typed fields.
	ErrDecode = errors.New("firestore: undecodable document")
)

// maxErrorBody bounds how much of a failed response body is kept.
const maxErrorBody = 512

// APIError wraps a sentinel error with the HTTP status and the start of
// the response body.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	return fmt.Sprintf("firestore: %s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

func truncateBody(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) <= maxErrorBody {
		return s
	}

	n := maxErrorBody
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}

	return s[:n] + "…"
}
