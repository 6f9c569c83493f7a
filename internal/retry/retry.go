// Package retry runs operations with exponential backoff, choosing the policy
// by the class of the error each attempt returns.
package retry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/spherical-ai/catalog-engine/internal/config"
	"github.com/spherical-ai/catalog-engine/internal/domain"
)

// Class groups errors by how they should be retried.
type Class string

const (
	ClassTransport Class = "transport"
	ClassRateLimit Class = "rate_limit"
	ClassPermanent Class = "permanent"
)

// Policy bounds retries for one error class.
type Policy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Policies maps each retryable class to its policy. A class without a policy
// is not retried.
type Policies map[Class]Policy

// FromConfig builds policies from configuration.
func FromConfig(cfg config.RetryConfig) Policies {
	return Policies{
		ClassTransport: Policy(cfg.Transport),
		ClassRateLimit: Policy(cfg.RateLimit),
	}
}

// Notify is called before each wait with the failed attempt's error.
type Notify func(err error, class Class, attempt int, wait time.Duration)

// Classify maps an error to its retry class.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassPermanent
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ClassPermanent
	}
	t, ok := domain.TypeOf(err)
	switch {
	case !ok:
		return ClassTransport
	case t == domain.ErrorTypeRateLimit:
		return ClassRateLimit
	case t.Transient():
		return ClassTransport
	default:
		return ClassPermanent
	}
}

// StatusClass maps an HTTP status from the rendering proxy to a retry class.
func StatusClass(code int) Class {
	switch {
	case code == http.StatusTooManyRequests:
		return ClassRateLimit
	case code == http.StatusUnauthorized, code == http.StatusNotFound, code == http.StatusGone:
		return ClassPermanent
	default:
		return ClassTransport
	}
}

// Do runs op until it succeeds, returns a permanent error, exhausts the
// policy of its error class, or ctx is done. The last error is returned.
func Do(ctx context.Context, policies Policies, op func(ctx context.Context) error, notify Notify) error {
	attempts := make(map[Class]int)
	schedules := make(map[Class]*backoff.ExponentialBackOff)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}

		class := Classify(err)
		policy, ok := policies[class]
		if !ok || class == ClassPermanent {
			return err
		}

		attempts[class]++
		if attempts[class] > policy.MaxRetries {
			return err
		}

		sched, ok := schedules[class]
		if !ok {
			sched = newSchedule(policy)
			schedules[class] = sched
		}
		wait := sched.NextBackOff()
		if wait == backoff.Stop {
			return err
		}

		if notify != nil {
			notify(err, class, attempts[class], wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func newSchedule(p Policy) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
