package verify

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/victornm/codeduel/internal/domain"
	"github.com/victornm/codeduel/internal/telemetry"
)

const (
	defaultMaxAttempts = 3
	defaultTimeout     = 10 * time.Second
)

type RetryingConfig struct {
	Verifier Verifier
	// MaxAttempts bounds the number of calls, including the first one.
	MaxAttempts int
	// Timeout bounds each call.
	Timeout         time.Duration
	InitialInterval time.Duration
}

// Retrying calls a Verifier with bounded exponential backoff. A verifier that keeps failing
// yields "incorrect" so that the battle can still be resolved.
type Retrying struct {
	v           Verifier
	maxAttempts int
	timeout     time.Duration
	initial     time.Duration
}

func NewRetrying(c RetryingConfig) *Retrying {
	r := &Retrying{
		v:           c.Verifier,
		maxAttempts: c.MaxAttempts,
		timeout:     c.Timeout,
		initial:     c.InitialInterval,
	}

	if r.maxAttempts <= 0 {
		r.maxAttempts = defaultMaxAttempts
	}
	if r.timeout <= 0 {
		r.timeout = defaultTimeout
	}
	if r.initial <= 0 {
		r.initial = 200 * time.Millisecond
	}

	return r
}

// Check returns the verdict for a solution. It never fails.
func (r *Retrying) Check(ctx context.Context, code, language string, tests []domain.TestCase) bool {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initial
	b.MaxElapsedTime = 0

	var passed bool
	op := func() error {
		ctx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		ok, err := r.v.Verify(ctx, code, language, tests)
		if err != nil {
			return err
		}
		passed = ok
		return nil
	}

	notify := func(err error, d time.Duration) {
		slog.WarnContext(ctx, "verify: attempt failed, retrying",
			"error", err,
			"backoff", d,
		)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.maxAttempts-1)), ctx)
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		slog.ErrorContext(ctx, "verify: giving up, treating solution as incorrect", "error", err)
		telemetry.Verifications.WithLabelValues("failed").Inc()
		return false
	}

	if passed {
		telemetry.Verifications.WithLabelValues("correct").Inc()
	} else {
		telemetry.Verifications.WithLabelValues("incorrect").Inc()
	}

	return passed
}
