package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy configures retry behavior with exponential backoff.
type RetryPolicy struct {
	MaxRetries        int     // retry attempts, not counting the initial call
	BaseDelay         float64 // initial delay in seconds
	MaxDelay          float64 // maximum delay between retries
	BackoffMultiplier float64
	Jitter            bool
	OnRetry           func(err error, attempt int, delay time.Duration)
}

// DefaultRetryPolicy returns the default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        2,
		BaseDelay:         1.0,
		MaxDelay:          60.0,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

// Delay calculates the delay for attempt n (0-indexed).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	delay := math.Min(p.BaseDelay*math.Pow(p.BackoffMultiplier, float64(attempt)), p.MaxDelay)
	if p.Jitter {
		// +/- 50%
		delay = delay * (0.5 + rand.Float64())
	}
	return time.Duration(delay * float64(time.Second))
}

// Retry executes fn with the configured retry policy.
// Only retryable errors are retried.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	result, err := fn(ctx)
	if err == nil {
		return result, nil
	}

	for attempt := 0; attempt < policy.MaxRetries; attempt++ {
		if !IsRetryable(err) {
			return zero, err
		}

		delay := policy.Delay(attempt)
		if rl, ok := err.(*RateLimitError); ok && rl.RetryAfter != nil {
			retryDelay := time.Duration(*rl.RetryAfter * float64(time.Second))
			if retryDelay > time.Duration(policy.MaxDelay*float64(time.Second)) {
				// Retry-After exceeds max delay; give up now.
				return zero, err
			}
			delay = retryDelay
		}

		if policy.OnRetry != nil {
			policy.OnRetry(err, attempt+1, delay)
		}

		select {
		case <-ctx.Done():
			return zero, &AbortError{SDKError: SDKError{Message: "request cancelled during retry", Cause: ctx.Err()}}
		case <-time.After(delay):
		}

		result, err = fn(ctx)
		if err == nil {
			return result, nil
		}
	}

	return zero, err
}

// RetryMiddleware retries blocking calls according to policy.
func RetryMiddleware(policy RetryPolicy) Middleware {
	return func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error) {
		return Retry(ctx, policy, func(ctx context.Context) (*Response, error) {
			return next(ctx, req)
		})
	}
}

// LoggingMiddleware logs each call with its latency and token usage.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	return func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		if err != nil {
			logger.Warn("model call failed",
				"provider", req.Provider,
				"model", req.Model,
				"messages", len(req.Messages),
				"elapsed", time.Since(start).Round(time.Millisecond),
				"error", err,
			)
			return nil, err
		}
		logger.Debug("model call complete",
			"provider", resp.Provider,
			"model", resp.Model,
			"tool_calls", len(resp.ToolCalls),
			"finish_reason", resp.FinishReason,
			"input_tokens", resp.Usage.InputTokens,
			"output_tokens", resp.Usage.OutputTokens,
			"elapsed", time.Since(start).Round(time.Millisecond),
		)
		return resp, nil
	}
}

// StreamLoggingMiddleware logs each streaming call when its stream ends.
func StreamLoggingMiddleware(logger *slog.Logger) StreamMiddleware {
	return func(ctx context.Context, req Request, next func(context.Context, Request) (<-chan StreamEvent, error)) (<-chan StreamEvent, error) {
		start := time.Now()
		in, err := next(ctx, req)
		if err != nil {
			logger.Warn("model stream failed",
				"provider", req.Provider,
				"model", req.Model,
				"error", err,
			)
			return nil, err
		}

		out := make(chan StreamEvent)
		go func() {
			defer close(out)
			var deltas int
			for ev := range in {
				switch ev.Type {
				case TextDelta:
					deltas++
				case StreamError:
					logger.Warn("model stream error",
						"provider", req.Provider,
						"model", req.Model,
						"elapsed", time.Since(start).Round(time.Millisecond),
						"error", ev.Error,
					)
				case StreamFinish:
					logger.Debug("model stream complete",
						"provider", req.Provider,
						"model", req.Model,
						"deltas", deltas,
						"finish_reason", ev.FinishReason,
						"elapsed", time.Since(start).Round(time.Millisecond),
					)
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					for range in {
					}
					return
				}
			}
		}()
		return out, nil
	}
}

// TimeoutMiddleware bounds each attempt of a blocking call. A deadline hit
// by the attempt surfaces as a RequestTimeoutError, which is retryable when
// a RetryMiddleware sits outside it.
func TimeoutMiddleware(d time.Duration) Middleware {
	return func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error) {
		if d <= 0 {
			return next(ctx, req)
		}
		attemptCtx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		resp, err := next(attemptCtx, req)
		if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return nil, &RequestTimeoutError{SDKError: SDKError{
				Message: fmt.Sprintf("model call exceeded %s", d),
				Cause:   err,
			}}
		}
		return resp, err
	}
}
