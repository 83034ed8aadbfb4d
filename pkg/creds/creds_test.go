package creds

import (
	"context"
	"testing"

	"github.com/opsvox/opsvox/pkg/core"
)

type rotatingProvider struct {
	tokens    []string
	idx       int
	refreshes int
	fail      bool
}

func (p *rotatingProvider) Token(ctx context.Context) (string, error) {
	return p.tokens[p.idx], nil
}

func (p *rotatingProvider) Refresh(ctx context.Context) error {
	p.refreshes++
	if p.fail {
		return core.NewAuthenticationError("refresh rejected")
	}
	if p.idx < len(p.tokens)-1 {
		p.idx++
	}
	return nil
}

func TestStatic_EmptyTokenIsError(t *testing.T) {
	if _, err := (Static{}).Token(context.Background()); err == nil {
		t.Fatal("expected error for empty static credential")
	}
	tok, err := (Static{Value: "abc"}).Token(context.Background())
	if err != nil || tok != "abc" {
		t.Fatalf("Token() = %q, %v", tok, err)
	}
}

func TestEnv_ReadsOnEveryCall(t *testing.T) {
	t.Setenv("OPSVOX_TEST_TOKEN", "first")
	p := Env{Key: "OPSVOX_TEST_TOKEN"}
	if tok, _ := p.Token(context.Background()); tok != "first" {
		t.Fatalf("tok=%q", tok)
	}
	t.Setenv("OPSVOX_TEST_TOKEN", "second")
	if tok, _ := p.Token(context.Background()); tok != "second" {
		t.Fatalf("tok=%q, want rotated value", tok)
	}
}

func TestAuthorizer_RetryRefreshesOnce(t *testing.T) {
	p := &rotatingProvider{tokens: []string{"stale", "fresh"}}
	a := &Authorizer{Provider: p}

	tok, err := a.Token(context.Background())
	if err != nil || tok != "stale" {
		t.Fatalf("Token() = %q, %v", tok, err)
	}

	tok, err = a.Retry(context.Background())
	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if tok != "fresh" {
		t.Fatalf("Retry() token = %q, want fresh", tok)
	}
	if p.refreshes != 1 {
		t.Fatalf("refreshes = %d, want 1", p.refreshes)
	}
}

func TestAuthorizer_RetryPropagatesRefreshFailure(t *testing.T) {
	p := &rotatingProvider{tokens: []string{"stale"}, fail: true}
	a := &Authorizer{Provider: p}
	if _, err := a.Retry(context.Background()); err == nil {
		t.Fatal("expected refresh failure to propagate")
	}
}
