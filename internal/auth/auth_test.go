package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestSignVerify(t *testing.T) {
	tokens := NewTokens("secret", time.Hour)

	tok, err := tokens.Sign("alice")
	require.NoError(t, err)

	id, err := tokens.Verify(tok)
	require.NoError(t, err)
	require.Equal(t, "alice", id)
}

func TestVerify_Rejects(t *testing.T) {
	tokens := NewTokens("secret", time.Hour)
	tok, err := tokens.Sign("alice")
	require.NoError(t, err)

	other := NewTokens("other-secret", time.Hour)
	_, err = other.Verify(tok)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = tokens.Verify("garbage")
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = tokens.Verify(tok + "x")
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = tokens.Sign("")
	require.ErrorIs(t, err, ErrInvalidToken)

	// Unsigned tokens are never accepted.
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = tokens.Verify(none)
	require.ErrorIs(t, err, ErrInvalidToken)

	// Neither are tokens without an expiry.
	forever, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "alice"}).
		SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = tokens.Verify(forever)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_Expired(t *testing.T) {
	tokens := NewTokens("secret", time.Minute)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tokens.now = func() time.Time { return base }

	tok, err := tokens.Sign("alice")
	require.NoError(t, err)

	tokens.now = func() time.Time { return base.Add(2 * time.Minute) }
	_, err = tokens.Verify(tok)
	require.ErrorIs(t, err, ErrExpiredToken)
}

func TestAuthenticate(t *testing.T) {
	tokens := NewTokens("secret", time.Hour)
	tok, err := tokens.Sign("bob")
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Authorization", "Bearer "+tok)
	id, err := tokens.Authenticate(r)
	require.NoError(t, err)
	require.Equal(t, "bob", id)

	r = httptest.NewRequest(http.MethodGet, "/ws?token="+tok, nil)
	id, err = tokens.Authenticate(r)
	require.NoError(t, err)
	require.Equal(t, "bob", id)

	r = httptest.NewRequest(http.MethodGet, "/ws", nil)
	_, err = tokens.Authenticate(r)
	require.ErrorIs(t, err, ErrMissingToken)

	r = httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Authorization", "Basic abc")
	_, err = tokens.Authenticate(r)
	require.ErrorIs(t, err, ErrInvalidToken)
}
