// Package qbit is an HTTP client for the qBittorrent WebUI API with
// cookie-session authentication, transparent re-login on session expiry,
// and error classification.
package qbit

import (
	"errors"
	"fmt"
)

// Sentinel errors for failure classification. Use errors.Is to check.
//
//   - ErrUnavailable: transport failure or non-success status on an API call.
//     The caller may retry (the poll cycle treats it as skip-this-cycle).
//   - ErrBadCredentials: the WebUI rejected the configured username/password.
//     Retrying without a config change cannot succeed.
//   - ErrAPIContract: a success response missing expected session data.
//     A logic or deployment problem, never retried silently.
var (
	ErrUnavailable    = errors.New("qbit: client unavailable")
	ErrBadCredentials = errors.New("qbit: invalid credentials")
	ErrAPIContract    = errors.New("qbit: unexpected API response")
)

// APIError wraps a sentinel error with the HTTP status code and operation
// for debugging.
type APIError struct {
	Op         string
	StatusCode int
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	return fmt.Sprintf("qbit: %s: HTTP %d", e.Op, e.StatusCode)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// IsRetriable reports whether err is a transient transport/API failure that
// the message layer may retry. Format errors and bad credentials are not
// retriable.
func IsRetriable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
