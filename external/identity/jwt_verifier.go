package identity

import (
	"context"
	"strings"

	"github.com/foxseedlab/circles/internal/apperr"
	"github.com/golang-jwt/jwt/v5"
)

// JWTVerifier accepts HS256 tokens signed with a shared secret and takes
// the caller's user id from the subject claim.
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()),
	}
}

// Verify accepts either a raw token or an "Authorization: Bearer" value.
func (v *JWTVerifier) Verify(_ context.Context, bearer string) (string, error) {
	raw := strings.TrimSpace(bearer)
	if len(raw) > 7 && strings.EqualFold(raw[:7], "bearer ") {
		raw = strings.TrimSpace(raw[7:])
	}
	if raw == "" {
		return "", apperr.Unauthenticated("missing credentials")
	}

	claims := &jwt.RegisteredClaims{}
	token, err := v.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return "", apperr.Unauthenticated("invalid credentials")
	}
	if claims.Subject == "" {
		return "", apperr.Unauthenticated("credentials carry no subject")
	}
	return claims.Subject, nil
}
