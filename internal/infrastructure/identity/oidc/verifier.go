// Package oidc verifies ID tokens from an OpenID Connect provider.
package oidc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/kirillkom/docdesk/internal/core/domain"
)

// idToken is satisfied by *oidc.IDToken and by test fakes.
type idToken interface {
	Claims(v any) error
}

type tokenVerifier interface {
	Verify(ctx context.Context, raw string) (idToken, error)
}

type providerVerifier struct {
	verifier *oidc.IDTokenVerifier
}

func (p providerVerifier) Verify(ctx context.Context, raw string) (idToken, error) {
	return p.verifier.Verify(ctx, raw)
}

type Verifier struct {
	verifier     tokenVerifier
	subjectClaim string
}

// NewVerifier discovers the provider at issuer. subjectClaim picks the claim
// used as owner id and defaults to "sub".
func NewVerifier(ctx context.Context, issuer, clientID, subjectClaim string) (*Verifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("discover oidc provider: %w", err)
	}
	return newVerifier(providerVerifier{verifier: provider.Verifier(&oidc.Config{ClientID: clientID})}, subjectClaim), nil
}

func newVerifier(verifier tokenVerifier, subjectClaim string) *Verifier {
	if subjectClaim == "" {
		subjectClaim = "sub"
	}
	return &Verifier{verifier: verifier, subjectClaim: subjectClaim}
}

func (v *Verifier) Verify(ctx context.Context, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", domain.WrapError(domain.ErrUnauthenticated, "verify id token", errors.New("missing token"))
	}
	token, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return "", domain.WrapError(domain.ErrUnauthenticated, "verify id token", err)
	}

	var claims map[string]any
	if err := token.Claims(&claims); err != nil {
		return "", domain.WrapError(domain.ErrUnauthenticated, "verify id token", err)
	}
	subject, _ := claims[v.subjectClaim].(string)
	if strings.TrimSpace(subject) == "" {
		return "", domain.WrapError(domain.ErrUnauthenticated, "verify id token", fmt.Errorf("claim %q is empty", v.subjectClaim))
	}
	return subject, nil
}
