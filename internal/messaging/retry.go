package messaging

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// PermanentError marks a handler failure that redelivery cannot fix, such as a malformed payload.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so consumers stop retrying it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// RetryPolicy bounds how long a consumer keeps re-running a failing handler.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		MaxElapsed:      time.Minute,
	}
}

// Retry runs handler until it succeeds, returns a PermanentError, ctx is
// cancelled, or the policy's MaxElapsed passes. It returns the last error.
func Retry(ctx context.Context, policy RetryPolicy, payload []byte, handler func(ctx context.Context, payload []byte) error) error {
	b := backoff.NewExponentialBackOff()
	if policy.InitialInterval > 0 {
		b.InitialInterval = policy.InitialInterval
	}
	if policy.MaxInterval > 0 {
		b.MaxInterval = policy.MaxInterval
	}

	op := func() (struct{}, error) {
		err := handler(ctx, payload)
		var perm *PermanentError
		if errors.As(err, &perm) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}
	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(policy.MaxElapsed),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.WarnContext(ctx, "Message handler failed, retrying", "err", err, "next", next)
		}),
	)
	return err
}
