// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offsync

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	status := func(code int) error {
		return &StatusError{Method: "PUT", URL: "x", StatusCode: code}
	}
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transport", fmt.Errorf("%w: connection refused", ErrNetworkFailure), true},
		{"timeout", fmt.Errorf("%w: %w", ErrNetworkFailure, context.DeadlineExceeded), true},
		{"server error", status(503), true},
		{"rate limited", status(429), true},
		{"unauthorized", status(401), false},
		{"unprocessable", status(422), false},
		{"wrapped unauthorized", fmt.Errorf("push: %w", status(401)), false},
		{"storage", storageErr("set", "k", errors.New("disk full")), false},
		{"id mismatch", fmt.Errorf("%w: notes 1 acknowledged as 2", ErrIDMismatch), false},
		{"joined with one transient", errors.Join(status(422), status(502)), true},
		{"joined permanent", errors.Join(status(401), status(404)), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}
