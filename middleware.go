package xhub

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// Middleware composes processing concerns around a Listener.
type Middleware func(next Listener) Listener

// RetryConfig controls retry behavior for listener middleware.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first execution.
	MaxAttempts int
	// Backoff computes the base wait before the next attempt (e.g., exponential backoff).
	Backoff func(attempt int) time.Duration
	// RetryIf, when provided, returns true if the error should be retried.
	// If nil, all errors are retried (bounded by MaxAttempts).
	RetryIf func(err error) bool
	// Jitter adds up to [0, Jitter] random delay to the base backoff.
	Jitter time.Duration
}

// RetryMiddleware re-runs a failing listener before the raise moves to the next one.
// Listeners of a raise run one after another on the raiser's goroutine (or the
// connection's read loop for delivered envelopes), so every backoff holds up the
// remaining listeners and the next inbound envelope of that connection. Only the final
// error is reported as a listener failure.
func RetryMiddleware(cfg RetryConfig) Middleware {
	attempts := max(cfg.MaxAttempts, 1)
	retryable := cfg.RetryIf
	if retryable == nil {
		retryable = func(error) bool { return true }
	}
	return func(next Listener) Listener {
		return func(ctx context.Context, data Payload, destination string) error {
			err := next(ctx, data, destination)
			for attempt := 1; err != nil && attempt < attempts; attempt++ {
				// a cancelled raise or a permanent error ends the listener's turn
				if ctx.Err() != nil || !retryable(err) {
					return err
				}
				if !cfg.sleep(ctx, attempt) {
					return err
				}
				err = next(ctx, data, destination)
			}
			return err
		}
	}
}

// sleep waits the backoff for attempt; false when ctx ends first.
func (cfg RetryConfig) sleep(ctx context.Context, attempt int) bool {
	if cfg.Backoff == nil {
		return true
	}
	wait := cfg.Backoff(attempt)
	if cfg.Jitter > 0 {
		wait += time.Duration(rand.Int63n(int64(cfg.Jitter)))
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// TimeoutMiddleware bounds how long one listener may hold up a raise. On expiry the raise
// moves on with context.DeadlineExceeded as that listener's failure; the listener itself
// keeps running detached with a cancelled context. Put it inside RetryMiddleware to bound
// each attempt.
func TimeoutMiddleware(d time.Duration) Middleware {
	if d <= 0 {
		return func(next Listener) Listener { return next }
	}
	return func(next Listener) Listener {
		return func(ctx context.Context, data Payload, destination string) error {
			tctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			errCh := make(chan error, 1)
			go func() {
				defer func() {
					if r := recover(); r != nil {
						errCh <- &panicError{value: r}
					}
				}()
				errCh <- next(tctx, data, destination)
			}()

			select {
			case <-tctx.Done():
				return tctx.Err()
			case err := <-errCh:
				return err
			}
		}
	}
}

// RecoveryMiddleware turns a listener panic into an error wrapping ErrListenerPanic.
// Raise applies it to every listener, so a panic never skips the listeners after it.
func RecoveryMiddleware() Middleware {
	return func(next Listener) Listener {
		return func(ctx context.Context, data Payload, destination string) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = &panicError{value: r}
				}
			}()
			return next(ctx, data, destination)
		}
	}
}

type panicError struct{ value any }

func (e *panicError) Error() string { return fmt.Sprintf("%v: %v", ErrListenerPanic, e.value) }
func (e *panicError) Unwrap() error { return ErrListenerPanic }

// Chain composes middlewares around a listener in order.
func Chain(l Listener, mws ...Middleware) Listener {
	if len(mws) == 0 {
		return l
	}
	wrapped := l
	// Apply in reverse so that first middleware wraps last.
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] == nil {
			continue
		}
		wrapped = mws[i](wrapped)
	}
	return wrapped
}
