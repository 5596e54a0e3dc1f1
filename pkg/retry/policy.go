// Package retry runs operations with exponential backoff and jitter.
// One Policy type serves page fetches and oracle calls alike.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/piratf/kampus-crawler/pkg/config"
	"github.com/piratf/kampus-crawler/pkg/utils"
)

// Policy describes how often and how patiently an operation is retried.
type Policy struct {
	MaxRetries   int           // Retries after the first attempt
	InitialDelay time.Duration // Delay before the first retry
	MaxDelay     time.Duration // Cap for the doubled delay
	Jitter       float64       // Fraction of the delay added or removed at random, 0.1 = +/-10%

	// Sleep waits for d or until ctx is done. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// FromConfig builds a policy from the fetch retry settings.
func FromConfig(cfg config.RetryConfig) Policy {
	return Policy{
		MaxRetries:   cfg.MaxRetries,
		InitialDelay: cfg.InitialRetryDelay,
		MaxDelay:     cfg.MaxRetryDelay,
		Jitter:       0.1,
	}
}

// FromOracleConfig builds a policy from the oracle retry settings.
func FromOracleConfig(cfg config.OracleConfig) Policy {
	return Policy{
		MaxRetries:   cfg.MaxRetries,
		InitialDelay: cfg.InitialRetryDelay,
		MaxDelay:     cfg.MaxRetryDelay,
		Jitter:       0.1,
	}
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. Do returns the wrapped error as is.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Delay returns the backoff before retry number attempt (1-based), without jitter:
// initial * 2^(attempt-1), capped by MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	backoff := float64(p.InitialDelay) * math.Pow(2, float64(attempt-1))
	delay := time.Duration(backoff)
	if p.MaxDelay > 0 && (delay <= 0 || delay > p.MaxDelay) {
		delay = p.MaxDelay
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

func (p Policy) jittered(delay time.Duration) time.Duration {
	if delay <= 0 || p.Jitter <= 0 {
		return delay
	}
	span := int64(float64(delay) * p.Jitter * 2)
	if span <= 0 {
		return delay
	}
	final := delay + time.Duration(rand.Int63n(span)) - time.Duration(float64(delay)*p.Jitter)
	if final < 0 {
		final = 0
	}
	return final
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do calls op until it succeeds, returns a Permanent error, or MaxRetries
// retries are spent. Context errors are returned directly and never retried.
// Exhausted retries return utils.ErrRetryFailed wrapping the last error.
func (p Policy) Do(ctx context.Context, log *logrus.Entry, op func(ctx context.Context, attempt int) error) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	maxRetries := p.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("context cancelled (%v) during retry backoff after error: %w", err, lastErr)
			}
			return fmt.Errorf("context cancelled before first attempt: %w", err)
		}

		if attempt > 0 {
			delay := p.jittered(p.Delay(attempt))
			if log != nil {
				log.WithFields(logrus.Fields{"attempt": attempt, "max_retries": maxRetries, "delay": delay}).
					Warnf("Retrying after error: %v", lastErr)
			}
			if err := sleep(ctx, delay); err != nil {
				return fmt.Errorf("context cancelled (%v) during retry delay after error: %w", err, lastErr)
			}
		}

		err := op(ctx, attempt)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			if ctx.Err() != nil {
				return err
			}
			// A per-attempt timeout inside op is retryable; the caller's context is still live.
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		lastErr = err
	}

	if log != nil {
		log.Errorf("All %d attempts failed. Last error: %v", maxRetries+1, lastErr)
	}
	return fmt.Errorf("%w: %w", utils.ErrRetryFailed, lastErr)
}
