// Package retry runs store and transport calls with bounded exponential backoff.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jason-s-yu/draftsync/internal/apperr"
	"github.com/sirupsen/logrus"
)

// Policy bounds a retry loop.
type Policy struct {
	Attempts   uint
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

// DefaultPolicy is five attempts starting at 100ms, doubling up to 2s with 50% jitter.
var DefaultPolicy = Policy{
	Attempts:   5,
	Initial:    100 * time.Millisecond,
	Max:        2 * time.Second,
	Multiplier: 2,
	Jitter:     0.5,
}

func (p Policy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.Initial > 0 {
		b.InitialInterval = p.Initial
	}
	if p.Max > 0 {
		b.MaxInterval = p.Max
	}
	if p.Multiplier > 0 {
		b.Multiplier = p.Multiplier
	}
	if p.Jitter >= 0 {
		b.RandomizationFactor = p.Jitter
	}
	return b
}

// Do runs op until it succeeds, returns a non-retryable error, or runs out of attempts. Errors that
// apperr does not consider retryable are returned at once. Exhausted retries are reported as a
// terminal transient error wrapping the last failure.
func Do(ctx context.Context, log logrus.FieldLogger, p Policy, op func(ctx context.Context) error) error {
	_, err := Value(ctx, log, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Value is Do for operations that return a result.
func Value[T any](ctx context.Context, log logrus.FieldLogger, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	attempts := p.Attempts
	if attempts == 0 {
		attempts = DefaultPolicy.Attempts
	}

	var tries uint
	res, err := backoff.Retry(ctx, func() (T, error) {
		tries++
		v, err := op(ctx)
		if err != nil && !apperr.Retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(attempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			if log != nil {
				log.WithFields(logrus.Fields{"attempt": tries, "next": next}).WithError(err).Debug("retrying")
			}
		}),
	)
	if err == nil {
		return res, nil
	}
	if apperr.Retryable(err) && tries >= attempts {
		return res, apperr.Terminal(apperr.Wrap(apperr.CodeTransient, "retries exhausted", err))
	}
	return res, err
}
