// Package retry wraps idempotent operations with exponential backoff.
// Validation errors are never retried; resending a malformed request
// cannot succeed.
package retry

import (
	"context"
	"time"

	"github.com/mnemo-mcp/mnemo/internal/validate"
)

const (
	defaultAttempts = 3
	defaultBase     = 100 * time.Millisecond
)

type Options struct {
	Attempts int
	Base     time.Duration
}

func DefaultOptions() Options {
	return Options{Attempts: defaultAttempts, Base: defaultBase}
}

// Do runs fn until it succeeds, attempts are exhausted, or the context is
// canceled. The delay doubles after each failure.
func Do(ctx context.Context, opts Options, fn func() error) error {
	if opts.Attempts < 1 {
		opts.Attempts = defaultAttempts
	}
	if opts.Base <= 0 {
		opts.Base = defaultBase
	}

	delay := opts.Base
	var err error
	for attempt := 0; attempt < opts.Attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		err = fn()
		if err == nil {
			return nil
		}
		if validate.IsValidation(err) {
			return err
		}
	}
	return err
}
