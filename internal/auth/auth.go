// Package auth verifies the bearer tokens issued by the portal's
// authentication service and exposes the resulting identity to handlers.
package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Identity is the authenticated (user, organization) pair every
// storage and hub operation is scoped by.
type Identity struct {
	UserID      string
	OrgID       string
	DisplayName string
}

// Claims mirrors the token payload produced by the portal's auth controller.
// UserID travels in the registered "sub" claim.
type Claims struct {
	OrgID       string `json:"orgId"`
	DisplayName string `json:"name"`
	jwt.RegisteredClaims
}

// Sign issues an HS256 token for ident valid for ttl.
// The portal issues production tokens; this exists for tests and tooling.
func Sign(secret []byte, ident Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		OrgID:       ident.OrgID,
		DisplayName: ident.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   ident.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// Verify parses tokenString, checks its signature and expiry and returns the
// identity it carries. Tokens signed with anything but HMAC are rejected.
func Verify(secret []byte, tokenString string) (Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return secret, nil
	})
	if err != nil {
		return Identity{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	if claims.Subject == "" || claims.OrgID == "" {
		return Identity{}, ErrInvalidToken
	}

	return Identity{
		UserID:      claims.Subject,
		OrgID:       claims.OrgID,
		DisplayName: claims.DisplayName,
	}, nil
}

type key struct{}

var identityKey key

// NewContext returns a context carrying ident.
func NewContext(ctx context.Context, ident Identity) context.Context {
	return context.WithValue(ctx, identityKey, ident)
}

// FromContext extracts the identity stored by the auth middleware.
func FromContext(ctx context.Context) (Identity, bool) {
	ident, ok := ctx.Value(identityKey).(Identity)
	return ident, ok
}
