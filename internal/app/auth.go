package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// wsAuthorizer resolves the user identity behind a connection token.
type wsAuthorizer interface {
	Authenticate(ctx context.Context, token string) (string, error)
}

// jwtAuthorizer validates HS256 bearer tokens minted by the account
// front end. The subject claim is the user identity.
type jwtAuthorizer struct {
	secret []byte
	clock  func() time.Time
}

func newJWTAuthorizer(secret string) *jwtAuthorizer {
	return &jwtAuthorizer{secret: []byte(secret), clock: time.Now}
}

func (a *jwtAuthorizer) Authenticate(_ context.Context, token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(
		strings.TrimSpace(token),
		&jwt.RegisteredClaims{},
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return a.secret, nil
		},
		jwt.WithTimeFunc(a.clock),
		jwt.WithValidMethods([]string{"HS256"}),
	)
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || strings.TrimSpace(claims.Subject) == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return claims.Subject, nil
}
