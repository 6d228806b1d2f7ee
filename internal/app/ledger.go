package app

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"trivia-board-service/internal/domain"
)

// RetryPolicy bounds exponential backoff for idempotent backend calls.
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy is used when no policy is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      5,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

func (p RetryPolicy) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, p.MaxRetries), ctx)
}

// retry runs op until it succeeds, fails permanently, or the policy is exhausted.
// Only transient errors are retried.
func (p RetryPolicy) retry(ctx context.Context, name string, op func() error) error {
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if !domain.IsTransient(err) {
			return backoff.Permanent(err)
		}
		log.Warn().Err(err).Str("op", name).Int("attempt", attempt).Msg("transient failure, retrying")
		return err
	}, p.newBackOff(ctx))
}

// RetryingLedger retries transient ledger failures. Retrying is safe because every delta
// carries an idempotency key.
type RetryingLedger struct {
	next   Ledger
	policy RetryPolicy
}

func NewRetryingLedger(next Ledger, policy RetryPolicy) *RetryingLedger {
	return &RetryingLedger{next: next, policy: policy}
}

func (l *RetryingLedger) ApplyScoreDelta(ctx context.Context, delta domain.ScoreDelta) (domain.ScoreResult, error) {
	var result domain.ScoreResult
	err := l.policy.retry(ctx, "apply_score_delta", func() error {
		r, err := l.next.ApplyScoreDelta(ctx, delta)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return domain.ScoreResult{}, err
	}
	return result, nil
}
