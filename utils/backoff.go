package utils

import (
	"context"

	"github.com/cenkalti/backoff/v4"

	"github.com/poanetwork/tokenbridge-relayer/config"
)

// NewBackOff builds an exponential backoff bound to ctx.
// With maxAttempts > 0 the operation runs at most maxAttempts times, otherwise it is retried until ctx is done.
func NewBackOff(ctx context.Context, cfg *config.BackoffConfig, maxAttempts uint) backoff.BackOffContext {
	var b backoff.BackOff = backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(cfg.InitialInterval),
		backoff.WithMaxInterval(cfg.MaxInterval),
		backoff.WithMultiplier(cfg.Multiplier),
		backoff.WithRandomizationFactor(cfg.RandomizationFactor),
		backoff.WithMaxElapsedTime(0),
	)
	if maxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(maxAttempts-1))
	}
	return backoff.WithContext(b, ctx)
}
