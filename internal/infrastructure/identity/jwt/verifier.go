// Package jwt verifies HS256 bearer tokens issued by a trusted party.
package jwt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kirillkom/docdesk/internal/core/domain"
)

type Verifier struct {
	secret   []byte
	issuer   string
	audience string
	leeway   time.Duration
	now      func() time.Time
}

type Options struct {
	Issuer   string
	Audience string
	Leeway   time.Duration
}

func NewVerifier(secret string, opts Options) (*Verifier, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("jwt secret must be at least 32 bytes")
	}
	return &Verifier{
		secret:   []byte(secret),
		issuer:   opts.Issuer,
		audience: opts.Audience,
		leeway:   opts.Leeway,
		now:      time.Now,
	}, nil
}

// Verify returns the token subject as the owner id.
func (v *Verifier) Verify(_ context.Context, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", domain.WrapError(domain.ErrUnauthenticated, "verify token", errors.New("missing token"))
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(v.audience))
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, parserOpts...)
	if err != nil {
		return "", domain.WrapError(domain.ErrUnauthenticated, "verify token", err)
	}
	if claims.ExpiresAt == nil {
		return "", domain.WrapError(domain.ErrUnauthenticated, "verify token", errors.New("missing expiry"))
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", domain.WrapError(domain.ErrUnauthenticated, "verify token", errors.New("missing subject"))
	}
	return claims.Subject, nil
}

// Issue signs a token for subject. It backs local tooling and tests.
func (v *Verifier) Issue(subject string, ttl time.Duration) (string, error) {
	now := v.now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    v.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if v.audience != "" {
		claims.Audience = jwt.ClaimStrings{v.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
