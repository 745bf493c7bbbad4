package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/kirillkom/docdesk/internal/core/domain"
)

type tokenFake struct {
	claims map[string]any
}

func (t tokenFake) Claims(v any) error {
	raw, err := json.Marshal(t.claims)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

type verifierFake struct {
	token idToken
	err   error
}

func (f verifierFake) Verify(context.Context, string) (idToken, error) {
	return f.token, f.err
}

func TestVerifyUsesConfiguredClaim(t *testing.T) {
	v := newVerifier(verifierFake{token: tokenFake{claims: map[string]any{"sub": "abc", "email": "a@example.com"}}}, "email")

	owner, err := v.Verify(context.Background(), "raw")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if owner != "a@example.com" {
		t.Fatalf("owner = %q", owner)
	}
}

func TestVerifyFailures(t *testing.T) {
	cases := map[string]*Verifier{
		"rejected":      newVerifier(verifierFake{err: errors.New("expired")}, ""),
		"missing claim": newVerifier(verifierFake{token: tokenFake{claims: map[string]any{"email": "a@example.com"}}}, ""),
	}
	for name, v := range cases {
		if _, err := v.Verify(context.Background(), "raw"); !domain.IsKind(err, domain.ErrUnauthenticated) {
			t.Fatalf("%s: Verify() error = %v, want unauthenticated", name, err)
		}
	}

	v := newVerifier(verifierFake{}, "")
	if _, err := v.Verify(context.Background(), " "); !domain.IsKind(err, domain.ErrUnauthenticated) {
		t.Fatalf("empty token: Verify() error = %v", err)
	}
}
