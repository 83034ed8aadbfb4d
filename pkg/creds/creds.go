// Package creds defines the credential provider contract consumed by both
// channels and command dispatch. The provider itself (token storage, session
// machinery) is an external collaborator; this package only models handing
// out a bearer credential and a single refresh on authorization failure.
package creds

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/opsvox/opsvox/pkg/core"
)

// Provider supplies a bearer credential string on demand and an asynchronous
// refresh operation.
type Provider interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) error
}

// Static returns a fixed token. Refresh is a no-op; a Static credential that
// stops working stays broken.
type Static struct {
	Value string
}

func (s Static) Token(ctx context.Context) (string, error) {
	if strings.TrimSpace(s.Value) == "" {
		return "", core.NewAuthenticationError("no credential configured")
	}
	return s.Value, nil
}

func (s Static) Refresh(ctx context.Context) error { return nil }

// Env reads the token from an environment variable on every call, so an
// out-of-band rotation (another process rewriting the env file and
// re-execing) is picked up by Refresh+Token.
type Env struct {
	Key string
}

func (e Env) Token(ctx context.Context) (string, error) {
	v := strings.TrimSpace(os.Getenv(e.Key))
	if v == "" {
		return "", core.NewAuthenticationError("environment credential " + e.Key + " is empty")
	}
	return v, nil
}

func (e Env) Refresh(ctx context.Context) error { return nil }

// Authorizer wraps a Provider with refresh-once semantics: on an
// authorization failure the caller invokes Retry exactly once before giving
// up. The single-flight guard means concurrent 401s trigger one refresh.
type Authorizer struct {
	Provider Provider

	mu         sync.Mutex
	refreshing bool
}

// Token returns the current credential.
func (a *Authorizer) Token(ctx context.Context) (string, error) {
	if a == nil || a.Provider == nil {
		return "", core.NewAuthenticationError("no credential provider configured")
	}
	return a.Provider.Token(ctx)
}

// Retry refreshes the credential and returns the new token. Call it exactly
// once after an authorization failure; if it fails, propagate the error as a
// visible failure.
func (a *Authorizer) Retry(ctx context.Context) (string, error) {
	if a == nil || a.Provider == nil {
		return "", core.NewAuthenticationError("no credential provider configured")
	}
	a.mu.Lock()
	if a.refreshing {
		a.mu.Unlock()
		// Another caller is already refreshing; just re-read the token.
		return a.Provider.Token(ctx)
	}
	a.refreshing = true
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.refreshing = false
		a.mu.Unlock()
	}()

	if err := a.Provider.Refresh(ctx); err != nil {
		return "", err
	}
	return a.Provider.Token(ctx)
}
