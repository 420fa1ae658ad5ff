package fault

import (
	"context"
	"time"

	retry "github.com/avast/retry-go/v4"
	"go.uber.org/zap"
)

// Strategy is what the router does with a classified error.
type Strategy string

const (
	StrategyRetry    Strategy = "retry"
	StrategyFallback Strategy = "fallback"
	StrategyDegrade  Strategy = "degrade"
	StrategyFailFast Strategy = "fail-fast"
)

// StrategyFor maps an error kind to its recovery strategy.
func StrategyFor(kind Kind) Strategy {
	switch kind {
	case KindNetwork, KindTimeout, KindRateLimit:
		return StrategyRetry
	case KindRepository:
		return StrategyFallback
	case KindCache, KindUnknown:
		return StrategyDegrade
	default:
		// VALIDATION, AUTHENTICATION, CONFIGURATION
		return StrategyFailFast
	}
}

// RetryPolicy shapes the exponential backoff of the retry strategy.
type RetryPolicy struct {
	Attempts  uint
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// RouterOptions configures a Router.
type RouterOptions struct {
	Retry           RetryPolicy
	BreakerCooldown time.Duration
}

var DefaultRouterOpts = RouterOptions{
	Retry: RetryPolicy{
		Attempts:  3,
		BaseDelay: time.Second,
		MaxDelay:  10 * time.Second,
	},
	BreakerCooldown: 5 * time.Minute,
}

// Router classifies errors and applies the recovery strategy of the resulting
// kind: retry with exponential backoff for transient failures, fallback for
// repository misses, graceful degradation for cache trouble, fail-fast for
// everything the caller must see. A per-operation circuit breaker suppresses
// retries during a cooldown after an operation ultimately failed.
type Router struct {
	opts    RouterOptions
	breaker *Breaker
	logger  *zap.Logger
}

// NewRouter creates a Router.
func NewRouter(opts RouterOptions, logger *zap.Logger) *Router {
	if opts.Retry.Attempts == 0 {
		opts.Retry = DefaultRouterOpts.Retry
	}
	if opts.BreakerCooldown == 0 {
		opts.BreakerCooldown = DefaultRouterOpts.BreakerCooldown
	}
	return &Router{
		opts:    opts,
		breaker: NewBreaker(opts.BreakerCooldown),
		logger:  logger,
	}
}

// Breaker exposes the router's circuit breaker, mainly for diagnostics and
// explicit resets.
func (r *Router) Breaker() *Breaker {
	return r.breaker
}

// Do runs fn under the router's recovery policy for the named operation.
//
// On success the result is returned with a nil error. On failure the error is
// classified; fail-fast kinds surface immediately with a zero value, retryable
// kinds are retried with exponential backoff (unless the operation's circuit
// is open), and all other kinds go straight to the fallback. Whenever the
// fallback is served, its value is returned together with the classified error
// so the caller can still shape the response by kind. A nil fallback yields
// the zero value.
func Do[T any](ctx context.Context, r *Router, operation string, fn func(context.Context) (T, error), fallback func(ferr *Error) T) (T, *Error) {
	var zero T

	result, err := fn(ctx)
	if err == nil {
		r.breaker.OnSuccess(operation)
		return result, nil
	}

	ferr := Classify(err)
	zapFields := []zap.Field{zap.String("operation", operation), zap.String("kind", string(ferr.Kind)), zap.Error(ferr)}

	switch StrategyFor(ferr.Kind) {
	case StrategyFailFast:
		return zero, ferr

	case StrategyRetry:
		if r.breaker.IsOpen(operation) {
			r.logger.Warn("Circuit open, skipping retries", zapFields...)
			return serveFallback(zero, fallback, ferr), ferr
		}
		result, retryErr := retryCall(ctx, r, operation, fn)
		if retryErr == nil {
			r.breaker.OnSuccess(operation)
			return result, nil
		}
		ferr = Classify(retryErr)
		r.breaker.Open(operation)
		r.logger.Warn("Retries exhausted, opening circuit and serving fallback", zapFields...)
		return serveFallback(zero, fallback, ferr), ferr

	default: // StrategyFallback, StrategyDegrade
		r.logger.Warn("Serving fallback", zapFields...)
		return serveFallback(zero, fallback, ferr), ferr
	}
}

func retryCall[T any](ctx context.Context, r *Router, operation string, fn func(context.Context) (T, error)) (T, error) {
	policy := r.opts.Retry
	return retry.DoWithData(
		func() (T, error) {
			return fn(ctx)
		},
		retry.Context(ctx),
		// The initial call already failed, these are the follow-up attempts.
		retry.Attempts(policy.Attempts),
		retry.Delay(policy.BaseDelay),
		retry.MaxDelay(policy.MaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			kind := Classify(err).Kind
			return StrategyFor(kind) == StrategyRetry
		}),
		retry.OnRetry(func(n uint, err error) {
			r.logger.Debug("Retrying operation",
				zap.String("operation", operation),
				zap.Uint("attempt", n+1),
				zap.Error(err))
		}),
	)
}

func serveFallback[T any](zero T, fallback func(ferr *Error) T, ferr *Error) T {
	if fallback == nil {
		return zero
	}
	return fallback(ferr)
}
