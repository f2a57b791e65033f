// Package retry holds the bounded retry policy applied to external model calls.
package retry

import (
	"context"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds how often and how patiently a call is retried.
// The zero value performs exactly one attempt.
type Policy struct {
	Name        string        // used in retry log lines
	MaxAttempts int           // total attempts including the first
	BaseDelay   time.Duration // wait before the second attempt
	MaxDelay    time.Duration // cap on any single wait
	Jitter      float64       // randomization factor in [0, 1]
}

// Default is three attempts with exponential backoff from 500ms.
func Default(name string) Policy {
	return Policy{
		Name:        name,
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Jitter:      0.2,
	}
}

// Attempts returns the effective number of attempts.
func (p Policy) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Permanent marks an error as not worth retrying; Do returns it unwrapped.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op until it succeeds, returns a Permanent error, the attempts are
// exhausted, or ctx is done. It returns the last error of op, or ctx.Err()
// when the context ended the loop.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context, attempt int) error) error {
	attempt := 0
	operation := func() error {
		attempt++
		return op(ctx, attempt)
	}

	notify := func(err error, wait time.Duration) {
		log.Printf("⚠️  %s attempt %d/%d failed: %v (retrying in %v)", p.Name, attempt, p.Attempts(), err, wait)
	}

	return backoff.RetryNotify(operation, p.backOff(ctx), notify)
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.BaseDelay
	exp.RandomizationFactor = clamp(p.Jitter, 0, 1)
	exp.Multiplier = 2
	exp.MaxInterval = p.MaxDelay
	if exp.MaxInterval <= 0 {
		exp.MaxInterval = backoff.DefaultMaxInterval
	}
	exp.MaxElapsedTime = 0 // bounded by attempts, not wall time
	exp.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(p.Attempts()-1)), ctx)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
