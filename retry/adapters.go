package retry

import "context"

// OnError adapts a call whose "busy, try again" condition is signalled
// through error codes. A nil error is success. An error for which stop
// returns true is terminal and propagates immediately; every other error is
// retried, carried along for diagnostics.
func OnError[T any](fn func(ctx context.Context) (T, error), stop func(error) bool) AttemptFunc[T] {
	return func(ctx context.Context) Outcome[T] {
		value, err := fn(ctx)
		if err == nil {
			return Success(value)
		}
		if stop(err) {
			return Terminal[T](err)
		}
		return Retryable[T](err)
	}
}

// OnBool adapts a call that signals "busy, try again" by resolving the
// sentinel value. Any other resolved value is success. Errors from such
// calls are assumed unrecoverable and are terminal immediately, never
// retried.
func OnBool(fn func(ctx context.Context) (bool, error), sentinel bool) AttemptFunc[bool] {
	return func(ctx context.Context) Outcome[bool] {
		value, err := fn(ctx)
		if err != nil {
			return Terminal[bool](err)
		}
		if value == sentinel {
			return Retryable[bool](nil)
		}
		return Success(value)
	}
}
