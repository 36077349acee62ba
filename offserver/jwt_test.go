// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offserver

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mobiletoly/go-offsync/internal/auth"
)

func TestJWTAuth_GenerateAndValidate(t *testing.T) {
	j := NewJWTAuth("test-secret", quietLogger())

	token, err := j.GenerateToken("user-1", "device-1", time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := j.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "device-1", claims.DeviceID)
	require.NotNil(t, claims.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, time.Second)
}

func TestJWTAuth_RejectsBadTokens(t *testing.T) {
	j := NewJWTAuth("test-secret", quietLogger())

	// Wrong secret
	other, err := NewJWTAuth("other-secret", quietLogger()).GenerateToken("user-1", "", time.Hour)
	require.NoError(t, err)
	_, err = j.ValidateToken(other)
	assert.Error(t, err)

	// Expired
	expired, err := j.GenerateToken("user-1", "", -time.Minute)
	require.NoError(t, err)
	_, err = j.ValidateToken(expired)
	assert.Error(t, err)

	// Missing subject
	noSub, err := j.GenerateToken("", "device", time.Hour)
	require.NoError(t, err)
	_, err = j.ValidateToken(noSub)
	assert.Error(t, err)

	// Unexpected signing method
	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "user-1", Issuer: "go-offsync"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = j.ValidateToken(unsigned)
	assert.Error(t, err)
}

func TestJWTAuth_Middleware(t *testing.T) {
	j := NewJWTAuth("test-secret", quietLogger())
	var gotOwner string
	h := j.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotOwner, _ = auth.GetOwner(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "Bearer not-a-jwt", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)
		})
	}

	token, err := j.GenerateToken("user-42", "", time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "user-42", gotOwner)
}
