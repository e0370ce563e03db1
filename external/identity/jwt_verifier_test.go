package identity

import (
	"context"
	"testing"
	"time"

	"github.com/foxseedlab/circles/internal/apperr"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testSecret = "identity-test-secret"

func sign(t *testing.T, method jwt.SigningMethod, key any, claims jwt.RegisteredClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func validClaims(sub string) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Subject:   sub,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
}

func TestVerify(t *testing.T) {
	v := NewJWTVerifier(testSecret)
	tok := sign(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims("u1"))

	for _, bearer := range []string{tok, "Bearer " + tok, "bearer  " + tok} {
		uid, err := v.Verify(context.Background(), bearer)
		require.NoError(t, err)
		require.Equal(t, "u1", uid)
	}
}

func TestVerify_Rejects(t *testing.T) {
	v := NewJWTVerifier(testSecret)

	expired := validClaims("u1")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	noExpiry := validClaims("u1")
	noExpiry.ExpiresAt = nil

	cases := map[string]string{
		"empty":        "",
		"bearer only":  "Bearer ",
		"garbage":      "not-a-token",
		"wrong secret": sign(t, jwt.SigningMethodHS256, []byte("other"), validClaims("u1")),
		"wrong alg":    sign(t, jwt.SigningMethodHS512, []byte(testSecret), validClaims("u1")),
		"expired":      sign(t, jwt.SigningMethodHS256, []byte(testSecret), expired),
		"no expiry":    sign(t, jwt.SigningMethodHS256, []byte(testSecret), noExpiry),
		"no subject":   sign(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims("")),
	}
	for name, bearer := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), bearer)
			require.ErrorIs(t, err, apperr.ErrUnauthenticated)
		})
	}
}
