package github

import (
	"context"
	"math/rand"
	"time"

	"github.com/rohankatakam/osspulse/internal/errors"
	"github.com/sirupsen/logrus"
)

// RateLimitInfo is the quota state reported with a page. Known is false
// when the response carried no rate limit headers.
type RateLimitInfo struct {
	Known     bool
	Remaining int
	Reset     time.Time
}

// Page is one cursor page of results.
type Page[T any] struct {
	Items      []T
	NextCursor string
	HasMore    bool
	RateLimit  RateLimitInfo
}

// PageFunc fetches the page after cursor ("" for the first page).
type PageFunc[T any] func(ctx context.Context, cursor string) (Page[T], error)

// FetchResult is everything accumulated by a paged fetch.
type FetchResult[T any] struct {
	Items    []T
	Pages    int
	APICalls int
}

// PagedFetcher drives a PageFunc until the source reports no further page.
//
// Transient network errors retry the same cursor after a 1-3s random
// pause, forever unless MaxRetries caps consecutive attempts. Any other
// error ends the fetch and the accumulated items are returned with it.
// When a page reports zero remaining quota the fetcher sleeps until the
// reset instant before asking for the next cursor.
type PagedFetcher[T any] struct {
	Fetch PageFunc[T]

	// Snapshot, when set, receives the full accumulated set after every
	// page. Failures are logged and do not stop the fetch.
	Snapshot func(items []T, apiCalls int) error

	MaxRetries int
	Logger     logrus.FieldLogger

	Sleep  func(ctx context.Context, d time.Duration) error
	Now    func() time.Time
	Jitter func() time.Duration
}

// NewPagedFetcher returns a fetcher with real clock, sleeper and jitter.
func NewPagedFetcher[T any](fetch PageFunc[T], logger logrus.FieldLogger) *PagedFetcher[T] {
	return &PagedFetcher[T]{
		Fetch:  fetch,
		Logger: logger,
		Sleep:  SleepContext,
		Now:    time.Now,
		Jitter: RandomBackoff,
	}
}

// Run fetches every page.
func (f *PagedFetcher[T]) Run(ctx context.Context) (FetchResult[T], error) {
	var result FetchResult[T]
	cursor := ""
	failures := 0
	log := f.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	for {
		page, err := f.Fetch(ctx, cursor)
		result.APICalls++
		if err != nil {
			if !errors.IsTransient(err) {
				return result, err
			}
			failures++
			if f.MaxRetries > 0 && failures > f.MaxRetries {
				return result, errors.SourceUnavailable(err, "retries exhausted")
			}
			wait := f.Jitter()
			log.WithError(err).WithFields(logrus.Fields{
				"attempt": failures,
				"wait":    wait,
			}).Warn("page fetch failed, retrying")
			if err := f.Sleep(ctx, wait); err != nil {
				return result, err
			}
			continue
		}
		failures = 0

		result.Items = append(result.Items, page.Items...)
		result.Pages++

		if f.Snapshot != nil {
			if err := f.Snapshot(result.Items, result.APICalls); err != nil {
				log.WithError(err).Warn("failed to write partial snapshot")
			}
		}

		if page.RateLimit.Known && page.RateLimit.Remaining == 0 {
			wait := page.RateLimit.Reset.Sub(f.Now())
			if wait < 0 {
				wait = 0
			}
			log.WithField("wait", wait).Info("rate limit reached, sleeping until reset")
			if err := f.Sleep(ctx, wait); err != nil {
				return result, err
			}
		}

		if !page.HasMore {
			return result, nil
		}
		cursor = page.NextCursor
	}
}

// RandomBackoff returns a uniformly random pause between 1 and 3 seconds.
func RandomBackoff() time.Duration {
	return time.Second + time.Duration(rand.Int63n(int64(2*time.Second)+1))
}

// SleepContext sleeps for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
