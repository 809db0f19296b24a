// ABOUTME: Tests for bearer-token sources.
// ABOUTME: Validates expiry-aware caching and refresh-ahead behavior.

package api

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, expiresAt time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": expiresAt.Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func TestStaticTokenSource(t *testing.T) {
	src := NewStaticTokenSource("abc")
	token, err := src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", token)
}

func TestCachingTokenSource_CachesUntilNearExpiry(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	fetched := 0
	src := NewCachingTokenSource(func(ctx context.Context) (string, error) {
		fetched++
		return signedToken(t, now.Add(time.Hour)), nil
	})
	src.now = func() time.Time { return now }

	first, err := src.Token(context.Background())
	require.NoError(t, err)
	second, err := src.Token(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, fetched, "second call should hit the cache")
}

func TestCachingTokenSource_RefreshesInsideMargin(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	fetched := 0
	src := NewCachingTokenSource(func(ctx context.Context) (string, error) {
		fetched++
		return signedToken(t, now.Add(time.Hour)), nil
	})
	src.now = func() time.Time { return now }

	_, err := src.Token(context.Background())
	require.NoError(t, err)

	// 20 seconds before expiry is inside the refresh margin.
	now = now.Add(time.Hour - 20*time.Second)
	_, err = src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, fetched)
}

func TestCachingTokenSource_OpaqueTokenUsesFallbackLifetime(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	fetched := 0
	src := NewCachingTokenSource(func(ctx context.Context) (string, error) {
		fetched++
		return "not-a-jwt", nil
	})
	src.now = func() time.Time { return now }

	_, err := src.Token(context.Background())
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, fetched, "opaque token should be cached for the fallback lifetime")

	now = now.Add(4 * time.Minute)
	_, err = src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, fetched)
}

func TestCachingTokenSource_FetchError(t *testing.T) {
	boom := errors.New("identity provider down")
	src := NewCachingTokenSource(func(ctx context.Context) (string, error) {
		return "", boom
	})

	_, err := src.Token(context.Background())
	assert.ErrorIs(t, err, boom)
}
