package similarity

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/aimi/goalgraph/internal/errors"
	"github.com/aimi/goalgraph/internal/metrics"
)

// Options tunes the guard around a provider.
type Options struct {
	// Timeout bounds each attempt.
	Timeout time.Duration

	// Rate and Burst configure a token bucket shared by all callers.
	Rate  float64
	Burst int

	// MaxFailures consecutive failures open the breaker for Cooldown.
	MaxFailures uint32
	Cooldown    time.Duration

	// Retries is the total attempt count per call.
	Retries uint

	// InitialBackoff is the first retry delay; it doubles per attempt.
	InitialBackoff time.Duration

	Logger *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 20 * time.Second
	}
	if o.Rate <= 0 {
		o.Rate = 5
	}
	if o.Burst <= 0 {
		o.Burst = 1
	}
	if o.MaxFailures == 0 {
		o.MaxFailures = 5
	}
	if o.Cooldown <= 0 {
		o.Cooldown = 30 * time.Second
	}
	if o.Retries == 0 {
		o.Retries = 3
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 250 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// guard runs provider calls through a rate limiter, a circuit breaker, a
// per-attempt timeout and bounded exponential retries.
type guard struct {
	kind    string
	opts    Options
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

func newGuard(kind string, opts Options) *guard {
	opts = opts.withDefaults()
	logger := opts.Logger
	metrics.SetBreakerState(kind, 0)
	return &guard{
		kind: kind,
		opts: opts,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    kind,
			Timeout: opts.Cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= opts.MaxFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("provider breaker state changed",
					zap.String("provider", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
				metrics.SetBreakerState(name, breakerGauge(to))
			},
		}),
		limiter: rate.NewLimiter(rate.Limit(opts.Rate), opts.Burst),
	}
}

func breakerGauge(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// call runs fn under the guard. Every failure surfaces as PROVIDER_UNAVAILABLE.
func call[T any](ctx context.Context, g *guard, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	op := func() (T, error) {
		if err := g.limiter.Wait(ctx); err != nil {
			return zero, backoff.Permanent(err)
		}
		started := time.Now()
		res, err := g.breaker.Execute(func() (interface{}, error) {
			attemptCtx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
			defer cancel()
			v, err := fn(attemptCtx)
			return v, err
		})
		if err != nil {
			if stderrors.Is(err, gobreaker.ErrOpenState) || stderrors.Is(err, gobreaker.ErrTooManyRequests) {
				metrics.ObserveProviderCall(g.kind, "breaker_open", started)
				return zero, backoff.Permanent(err)
			}
			metrics.ObserveProviderCall(g.kind, "error", started)
			if IsPermanent(err) || ctx.Err() != nil {
				return zero, backoff.Permanent(err)
			}
			g.opts.Logger.Debug("provider attempt failed", zap.String("provider", g.kind), zap.Error(err))
			return zero, err
		}
		metrics.ObserveProviderCall(g.kind, "ok", started)
		return res.(T), nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = g.opts.InitialBackoff
	bo.MaxInterval = 4 * g.opts.InitialBackoff * time.Duration(g.opts.Retries)

	res, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(g.opts.Retries),
	)
	if err != nil {
		g.opts.Logger.Warn("provider call failed", zap.String("provider", g.kind), zap.Error(err))
		return zero, errors.NewProviderUnavailable(g.kind, err)
	}
	return res, nil
}

// ResilientEmbedder guards an Embedder.
type ResilientEmbedder struct {
	next  Embedder
	guard *guard
}

// NewResilientEmbedder wraps next with rate limiting, a circuit breaker,
// timeouts and retries.
func NewResilientEmbedder(next Embedder, opts Options) *ResilientEmbedder {
	return &ResilientEmbedder{next: next, guard: newGuard("embed", opts)}
}

// Model implements Embedder.
func (r *ResilientEmbedder) Model() string { return r.next.Model() }

// Embed implements Embedder.
func (r *ResilientEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return call(ctx, r.guard, func(ctx context.Context) ([]float32, error) {
		return r.next.Embed(ctx, text)
	})
}

// ResilientSummarizer guards a Summarizer.
type ResilientSummarizer struct {
	next  Summarizer
	guard *guard
}

// NewResilientSummarizer wraps next like NewResilientEmbedder.
func NewResilientSummarizer(next Summarizer, opts Options) *ResilientSummarizer {
	return &ResilientSummarizer{next: next, guard: newGuard("summarize", opts)}
}

// Summarize implements Summarizer.
func (r *ResilientSummarizer) Summarize(ctx context.Context, primary, duplicate string) (string, error) {
	return call(ctx, r.guard, func(ctx context.Context) (string, error) {
		return r.next.Summarize(ctx, primary, duplicate)
	})
}
