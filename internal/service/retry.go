package service

import (
	"context"
	"time"

	"github.com/eapache/go-resiliency/retrier"

	"github.com/geoquiz-ledger/internal/config"
	"github.com/geoquiz-ledger/internal/domain"
)

// remoteClassifier retries transient remote failures only
type remoteClassifier struct{}

func (remoteClassifier) Classify(err error) retrier.Action {
	if err == nil {
		return retrier.Succeed
	}
	if domain.IsRetryable(err) {
		return retrier.Retry
	}
	return retrier.Fail
}

// newRetrier builds the bounded exponential backoff policy for remote writes.
// Attempts counts the first try.
func newRetrier(cfg config.RetryConfig) *retrier.Retrier {
	retries := cfg.Attempts - 1
	if retries < 0 {
		retries = 0
	}
	r := retrier.New(retrier.ExponentialBackoff(retries, cfg.InitialBackoff), remoteClassifier{})
	r.SetJitter(0.2)
	return r
}

// withRetry runs op under the policy, bounding each attempt by timeout
func withRetry(ctx context.Context, r *retrier.Retrier, timeout time.Duration, op func(ctx context.Context) error) error {
	return r.RunCtx(ctx, func(ctx context.Context) error {
		if timeout <= 0 {
			return op(ctx)
		}
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return op(attemptCtx)
	})
}
