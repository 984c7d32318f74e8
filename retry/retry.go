// Package retry turns a single fallible operation into a policy-governed
// retrying operation. Each attempt yields exactly one Outcome (success,
// retryable failure, or terminal failure); the engine owns all backoff and
// jitter so that callers never duplicate sleep logic per failure convention.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// ErrBudgetExhausted is wrapped by the error returned when an operation is
// still failing retryably after the configured number of attempts.
var ErrBudgetExhausted = errors.New("retry budget exhausted")

// Settings controls how often and how quickly an operation is retried.
type Settings struct {
	// Count is the number of retries after the initial attempt.
	// -1 retries without bound.
	Count int
	// Delay is the base sleep between attempts.
	Delay time.Duration
	// Jitter is the ceiling of the random extra sleep added to Delay.
	Jitter time.Duration
}

// DefaultSettings returns the retry policy used when the caller does not
// configure one: unbounded retries, 50ms base delay, up to 30ms jitter.
func DefaultSettings() Settings {
	return Settings{
		Count:  -1,
		Delay:  50 * time.Millisecond,
		Jitter: 30 * time.Millisecond,
	}
}

// Validate checks the policy invariants.
func (s Settings) Validate() error {
	if s.Count < -1 {
		return fmt.Errorf("retry count must be >= -1, got %d", s.Count)
	}
	if s.Delay < 0 {
		return fmt.Errorf("retry delay must be >= 0, got %s", s.Delay)
	}
	if s.Jitter < 0 {
		return fmt.Errorf("retry jitter must be >= 0, got %s", s.Jitter)
	}
	return nil
}

type outcomeKind uint8

const (
	outcomeSuccess outcomeKind = iota
	outcomeRetryable
	outcomeTerminal
)

// Outcome is the classification of a single attempt. Exactly one of the
// three constructors applies per attempt.
type Outcome[T any] struct {
	kind  outcomeKind
	value T
	err   error
}

// Success carries the attempt's result value.
func Success[T any](value T) Outcome[T] {
	return Outcome[T]{kind: outcomeSuccess, value: value}
}

// Retryable marks the attempt as worth repeating. cause may be nil; when
// present it is reported if the retry budget is later exhausted.
func Retryable[T any](cause error) Outcome[T] {
	return Outcome[T]{kind: outcomeRetryable, err: cause}
}

// Terminal stops the loop immediately and propagates cause to the caller.
func Terminal[T any](cause error) Outcome[T] {
	return Outcome[T]{kind: outcomeTerminal, err: cause}
}

// AttemptFunc performs one attempt and classifies its outcome.
type AttemptFunc[T any] func(ctx context.Context) Outcome[T]

// Until invokes attempt until it succeeds, fails terminally, or the retry
// budget runs out. Between retryable attempts it sleeps Delay plus jitter
// on a timer, so a waiting operation never occupies a worker goroutine
// beyond its own. Context cancellation aborts the wait with ctx.Err().
func Until[T any](ctx context.Context, attempt AttemptFunc[T], settings Settings) (T, error) {
	var zero T
	if err := settings.Validate(); err != nil {
		return zero, err
	}

	for tries := 1; ; tries++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		outcome := attempt(ctx)
		switch outcome.kind {
		case outcomeSuccess:
			return outcome.value, nil
		case outcomeTerminal:
			return zero, outcome.err
		}

		if settings.Count >= 0 && tries >= settings.Count+1 {
			if outcome.err != nil {
				return zero, fmt.Errorf("%w after %d attempts: %w", ErrBudgetExhausted, tries, outcome.err)
			}
			return zero, fmt.Errorf("%w after %d attempts", ErrBudgetExhausted, tries)
		}

		if err := sleep(ctx, JitteredDelay(settings.Delay, settings.Jitter)); err != nil {
			return zero, err
		}
	}
}

// JitteredDelay returns base plus a uniformly random duration in
// [1, ceiling]. A ceiling <= 0 adds nothing. Every call draws
// independently, so concurrent retriers desynchronize instead of hammering
// a contended resource in lockstep.
func JitteredDelay(base, ceiling time.Duration) time.Duration {
	if ceiling <= 0 {
		return base
	}
	return base + rand.N(ceiling) + 1
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
