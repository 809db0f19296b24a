// ABOUTME: Bearer-token sources for the conversation-store client.
// ABOUTME: The caching source reads JWT expiry so tokens refresh ahead of time.

package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSource supplies a bearer token for outgoing requests.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource returns the same token forever. Useful for tests and
// long-lived service tokens.
type StaticTokenSource struct {
	token string
}

// NewStaticTokenSource creates a source for a fixed token.
func NewStaticTokenSource(token string) *StaticTokenSource {
	return &StaticTokenSource{token: token}
}

// Token implements TokenSource.
func (s *StaticTokenSource) Token(context.Context) (string, error) {
	return s.token, nil
}

// FetchFunc acquires a fresh token.
type FetchFunc func(ctx context.Context) (string, error)

// refreshMargin refreshes tokens this long before their exp claim so a
// request never departs with a token about to expire in flight.
const refreshMargin = 30 * time.Second

// fallbackTokenLifetime caches tokens without a readable exp claim.
const fallbackTokenLifetime = 5 * time.Minute

// CachingTokenSource wraps a FetchFunc and caches the token until shortly
// before its JWT expiry.
type CachingTokenSource struct {
	fetch FetchFunc
	now   func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewCachingTokenSource creates a caching source around fetch.
func NewCachingTokenSource(fetch FetchFunc) *CachingTokenSource {
	return &CachingTokenSource{fetch: fetch, now: time.Now}
}

// Token returns the cached token, fetching a new one when the cached token
// is missing or inside the refresh margin.
func (s *CachingTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && s.now().Add(refreshMargin).Before(s.expires) {
		return s.token, nil
	}

	token, err := s.fetch(ctx)
	if err != nil {
		return "", fmt.Errorf("fetching token: %w", err)
	}

	s.token = token
	s.expires = s.expiryOf(token)
	return token, nil
}

// expiryOf reads the exp claim without verifying the signature; the token
// is opaque credential material here, not something we trust claims from.
func (s *CachingTokenSource) expiryOf(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return s.now().Add(fallbackTokenLifetime)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return s.now().Add(fallbackTokenLifetime)
	}
	return exp.Time
}
