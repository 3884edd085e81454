package objfs

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/3leaps/bucketfs/pkg/provider"
)

// RetryPolicy bounds the retries of transient store failures.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Values below 1 mean a single attempt.
	MaxAttempts int

	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy returns 4 attempts with 100ms..2s exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     4,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

func (r RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if r.InitialInterval > 0 {
		b.InitialInterval = r.InitialInterval
	}
	if r.MaxInterval > 0 {
		b.MaxInterval = r.MaxInterval
	}
	b.MaxElapsedTime = 0

	retries := r.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// retrier runs store calls under a RetryPolicy.
type retrier struct {
	policy  RetryPolicy
	timeout time.Duration
	logger  *zap.Logger
}

// callCtx applies the per-call timeout.
func (r retrier) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout > 0 {
		return context.WithTimeout(ctx, r.timeout)
	}
	return ctx, func() {}
}

// do runs fn until it succeeds, fails with an error transient rejects, or
// the attempts are used up.
func (r retrier) do(ctx context.Context, op string, transient func(error) bool, fn func(ctx context.Context) error) error {
	attempt := 0
	operation := func() error {
		attempt++
		callCtx, cancel := r.callCtx(ctx)
		defer cancel()
		err := fn(callCtx)
		if err != nil && (ctx.Err() != nil || !transient(err)) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		r.logger.Debug("retrying store call",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	}
	return backoff.RetryNotify(operation, r.policy.backOff(ctx), notify)
}

// retryValue is do for calls that return a value, retrying on
// provider.IsRetryable errors.
func retryValue[T any](ctx context.Context, r retrier, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := r.do(ctx, op, provider.IsRetryable, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err == nil {
			out = v
		}
		return err
	})
	return out, err
}

// retryCall is retryValue for calls without a result.
func retryCall(ctx context.Context, r retrier, op string, fn func(ctx context.Context) error) error {
	return r.do(ctx, op, provider.IsRetryable, fn)
}
