package nvd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff"
)

var (
	// ErrNotFound is returned for HTTP 404, e.g. an unknown single-record id. Never retried.
	ErrNotFound = errors.New("nvd: not found")
	// ErrMalformedResponse is returned when a response body is not the expected JSON shape
	ErrMalformedResponse = errors.New("nvd: malformed response")
	// ErrRetriesExhausted wraps the last transient failure once the retry budget is spent
	ErrRetriesExhausted = errors.New("nvd: retries exhausted")
)

// StatusError is a non-2xx HTTP response
type StatusError struct {
	StatusCode int
	URL        string
	Message    string // NVD reports the reason in a "message" response header
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("nvd: HTTP %d from %s: %s", e.StatusCode, e.URL, e.Message)
	}
	return fmt.Sprintf("nvd: HTTP %d from %s", e.StatusCode, e.URL)
}

// Is makes a 404 StatusError match ErrNotFound
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Outcome is the retry classification of a request result
type Outcome int

const (
	// OutcomeSuccess means the request produced a usable page
	OutcomeSuccess Outcome = iota
	// OutcomeRetry means the failure is transient and the same request may be repeated
	OutcomeRetry
	// OutcomeFatal means repeating the request cannot help
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetry:
		return "retry"
	case OutcomeFatal:
		return "fatal"
	}
	return "unknown"
}

// Classify maps a request error to an Outcome. Network errors and non-404 HTTP
// statuses are transient; not-found and malformed bodies are fatal.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrMalformedResponse):
		return OutcomeFatal
	}
	return OutcomeRetry
}

// RetryPolicy retries transient failures at a fixed interval, at most MaxRetries times
type RetryPolicy struct {
	MaxRetries uint64
	Interval   time.Duration
}

// BackOff builds the backoff schedule of the policy bound to ctx
func (p RetryPolicy) BackOff(ctx context.Context) backoff.BackOff {
	// WithMaxRetries treats 0 as unlimited.
	if p.MaxRetries == 0 {
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Interval), p.MaxRetries)
	return backoff.WithContext(b, ctx)
}

// RetryNotify is called before each retry with the failure, the 1-based retry number and the wait
type RetryNotify func(err error, retry uint64, wait time.Duration)

// Do runs op until it succeeds, fails fatally or the retry budget is spent.
// A spent budget returns an error matching both ErrRetriesExhausted and the last failure.
func (p RetryPolicy) Do(ctx context.Context, op func() error, notify RetryNotify) error {
	var retries uint64

	err := backoff.RetryNotify(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || Classify(err) == OutcomeFatal {
			return backoff.Permanent(err)
		}
		return err
	}, p.BackOff(ctx), func(err error, wait time.Duration) {
		retries++
		if notify != nil {
			notify(err, retries, wait)
		}
	})

	if err != nil && ctx.Err() == nil && Classify(err) == OutcomeRetry {
		return fmt.Errorf("%w after %d retries: %w", ErrRetriesExhausted, retries, err)
	}
	return err
}
