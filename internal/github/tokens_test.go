package github

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/rohankatakam/osspulse/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTokenRotatorEmpty(t *testing.T) {
	_, err := NewTokenRotator(nil)
	assert.True(t, stderrors.Is(err, errors.ErrNoCredentialsConfigured))

	_, err = NewTokenRotator([]string{"", "  "})
	assert.True(t, stderrors.Is(err, errors.ErrNoCredentialsConfigured))
}

func TestTokenRotatorRoundRobin(t *testing.T) {
	r, err := NewTokenRotator([]string{"a", " b ", "", "c"})
	require.NoError(t, err)
	assert.Equal(t, 3, r.Len())

	var got []string
	for i := 0; i < 7; i++ {
		got = append(got, r.Next())
	}
	assert.Equal(t, []string{"a", "b", "c", "a", "b", "c", "a"}, got)
}

func TestTokenRotatorDoRotatesOnAuthFailure(t *testing.T) {
	r, err := NewTokenRotator([]string{"bad", "good"})
	require.NoError(t, err)

	var seen []string
	err = r.Do(context.Background(), func(ctx context.Context, token string) error {
		seen = append(seen, token)
		if token == "bad" {
			return &StatusError{StatusCode: http.StatusForbidden}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"bad", "good"}, seen)
}

func TestTokenRotatorDoExhausted(t *testing.T) {
	r, err := NewTokenRotator([]string{"a", "b", "c"})
	require.NoError(t, err)

	calls := 0
	err = r.Do(context.Background(), func(ctx context.Context, token string) error {
		calls++
		return &StatusError{StatusCode: http.StatusUnauthorized}
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, stderrors.Is(err, errors.ErrRateLimitExhausted))
}

func TestTokenRotatorDoPassesOtherErrors(t *testing.T) {
	r, err := NewTokenRotator([]string{"a", "b"})
	require.NoError(t, err)

	calls := 0
	boom := fmt.Errorf("boom")
	err = r.Do(context.Background(), func(ctx context.Context, token string) error {
		calls++
		return boom
	})
	assert.Equal(t, boom, err)
	assert.Equal(t, 1, calls)
}

func TestTokenRotatorConcurrentNext(t *testing.T) {
	r, err := NewTokenRotator([]string{"a", "b"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	counts := map[string]int{}
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok := r.Next()
			mu.Lock()
			counts[tok]++
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counts["a"])
	assert.Equal(t, 50, counts["b"])
}

func TestIsAuthFailure(t *testing.T) {
	assert.True(t, IsAuthFailure(&StatusError{StatusCode: 401}))
	assert.True(t, IsAuthFailure(fmt.Errorf("wrapped: %w", &StatusError{StatusCode: 403})))
	assert.False(t, IsAuthFailure(&StatusError{StatusCode: 500}))
	assert.False(t, IsAuthFailure(fmt.Errorf("plain")))
}
