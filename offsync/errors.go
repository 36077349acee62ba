// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offsync

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by Store.Get when the key does not exist.
	ErrNotFound = errors.New("offsync: key not found")

	// ErrStorageUnavailable wraps any failure of the durable local store.
	ErrStorageUnavailable = errors.New("offsync: storage unavailable")

	// ErrNetworkFailure wraps any failure of a remote gateway request.
	ErrNetworkFailure = errors.New("offsync: network failure")

	// ErrIDMismatch is returned when a create acknowledgement carries a different id
	// than the one assigned locally and the engine runs with IDPolicyEcho.
	ErrIDMismatch = errors.New("offsync: server id does not match client id")

	// ErrInvalidEntity is returned for entities the engine cannot track (e.g. nil).
	ErrInvalidEntity = errors.New("offsync: invalid entity")
)

// StatusError is returned by HTTPGateway when the remote answers with a non-2xx status.
// It unwraps to ErrNetworkFailure.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error { return ErrNetworkFailure }

// Temporary reports whether the remote may accept the same request later: server
// errors, request timeouts and rate limiting.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == 408 || e.StatusCode == 429
}

func storageErr(op, key string, err error) error {
	return fmt.Errorf("%w: %s %q: %w", ErrStorageUnavailable, op, key, err)
}

// IsRetryable reports whether err, possibly joined from several failures, contains a
// network failure worth retrying: a transport error or a temporary HTTP status. Client
// errors such as 401 or 422 are not retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			if IsRetryable(e) {
				return true
			}
		}
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return errors.Is(err, ErrNetworkFailure)
}

// isTransportFailure reports whether err is a network failure that never reached the
// server (no HTTP status). Such failures abort the rest of a push phase.
func isTransportFailure(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return false
	}
	return errors.Is(err, ErrNetworkFailure)
}
