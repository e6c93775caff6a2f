package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"
)

// RetryConfig tunes the retrying wrapper around a [Provider].
type RetryConfig struct {
	// MaxRetries is the number of attempts after the first failure. Default: 2.
	MaxRetries int

	// InitialBackoff is the delay before the first retry; subsequent retries
	// double it. Default: 500ms.
	InitialBackoff time.Duration

	// Timeout bounds each individual attempt. Zero means no per-attempt bound
	// beyond the caller's context.
	Timeout time.Duration
}

// Retrying wraps a [Provider] with exponential-backoff retries and a
// per-attempt timeout. Parse errors ([ParseError]) are not retried here:
// retrying a deterministic decode failure is the caller's decision, typically
// made with a different prompt.
type Retrying struct {
	inner Provider
	cfg   RetryConfig
}

// WithRetry wraps provider with retry behaviour. Zero-value config fields are
// replaced with defaults.
func WithRetry(provider Provider, cfg RetryConfig) *Retrying {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	return &Retrying{inner: provider, cfg: cfg}
}

// Complete implements [Provider]. Each attempt gets its own timeout; between
// attempts the backoff doubles. Context cancellation aborts immediately.
func (r *Retrying) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(float64(r.cfg.InitialBackoff) * math.Pow(2, float64(attempt-1)))
			slog.Debug("llm retry",
				"model", r.inner.ModelID(), "attempt", attempt, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if r.cfg.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		}
		resp, err := r.inner.Complete(attemptCtx, req)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return resp, nil
		}
		lastErr = err

		// The caller's deadline or cancellation is final.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var pe *ParseError
		if errors.As(err, &pe) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("llm: all %d attempts failed: %w", r.cfg.MaxRetries+1, lastErr)
}

// ModelID implements [Provider].
func (r *Retrying) ModelID() string { return r.inner.ModelID() }
