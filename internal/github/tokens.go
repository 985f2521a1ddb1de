package github

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/google/go-github/v57/github"
	"github.com/rohankatakam/osspulse/internal/errors"
)

// TokenRotator hands out API credentials in round-robin order. One
// instance is injected into every client that talks to GitHub and is safe
// for concurrent use.
type TokenRotator struct {
	mu     sync.Mutex
	tokens []string
	next   int
}

// NewTokenRotator fails fast with ErrNoCredentialsConfigured when no
// non-blank token is given.
func NewTokenRotator(tokens []string) (*TokenRotator, error) {
	var clean []string
	for _, t := range tokens {
		if t = strings.TrimSpace(t); t != "" {
			clean = append(clean, t)
		}
	}
	if len(clean) == 0 {
		return nil, errors.ErrNoCredentialsConfigured
	}
	return &TokenRotator{tokens: clean}, nil
}

// Next returns the next credential, wrapping after the last.
func (r *TokenRotator) Next() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.tokens[r.next]
	r.next = (r.next + 1) % len(r.tokens)
	return t
}

// Len returns the pool size.
func (r *TokenRotator) Len() int {
	return len(r.tokens)
}

// Do runs fn with successive credentials while it keeps failing with an
// authorization error. Once every credential has been refused for this
// call it returns an error matching ErrRateLimitExhausted.
func (r *TokenRotator) Do(ctx context.Context, fn func(ctx context.Context, token string) error) error {
	var lastErr error
	for attempt := 0; attempt < r.Len(); attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(ctx, r.Next())
		if err == nil {
			return nil
		}
		if !IsAuthFailure(err) {
			return err
		}
		lastErr = err
	}
	return errors.Wrap(lastErr, errors.ErrorTypeRateLimit, errors.SeverityHigh,
		fmt.Sprintf("all %d credentials refused", r.Len()))
}

// StatusError is a non-2xx HTTP response from GitHub.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("github returned %d", e.StatusCode)
	}
	return fmt.Sprintf("github returned %d: %s", e.StatusCode, e.Body)
}

// IsAuthFailure reports a 401 or 403 anywhere in the chain, whether it came
// from our own HTTP calls or from go-github.
func IsAuthFailure(err error) bool {
	code := statusCode(err)
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}

func statusCode(err error) int {
	var se *StatusError
	if stderrors.As(err, &se) {
		return se.StatusCode
	}
	var rle *github.RateLimitError
	if stderrors.As(err, &rle) && rle.Response != nil {
		return rle.Response.StatusCode
	}
	var arle *github.AbuseRateLimitError
	if stderrors.As(err, &arle) && arle.Response != nil {
		return arle.Response.StatusCode
	}
	var er *github.ErrorResponse
	if stderrors.As(err, &er) && er.Response != nil {
		return er.Response.StatusCode
	}
	return 0
}
