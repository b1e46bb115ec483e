package embedder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/charmbracelet/log"

	"github.com/oceanbase/powermem-recall/pkg/errs"
)

const (
	// DefaultAttemptTimeout bounds a single call to the embedding service.
	DefaultAttemptTimeout = 30 * time.Second

	// DefaultMaxRetries is the number of retries after the first attempt.
	DefaultMaxRetries = 3
)

// RetryConfig contains configuration for RetryProvider.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	// Zero uses DefaultMaxRetries; a negative value disables retries.
	MaxRetries int

	// AttemptTimeout bounds each individual call. Zero uses DefaultAttemptTimeout.
	AttemptTimeout time.Duration

	// InitialInterval is the first backoff delay (default 500ms).
	InitialInterval time.Duration

	// MaxInterval caps the backoff delay (default 10s).
	MaxInterval time.Duration

	// Logger receives retry diagnostics. Nil uses the default logger.
	Logger *log.Logger
}

// RetryProvider wraps a Provider with exponential backoff and a per-attempt
// timeout. Every failure it returns wraps errs.ErrEmbeddingService.
type RetryProvider struct {
	Provider

	maxRetries      uint64
	attemptTimeout  time.Duration
	initialInterval time.Duration
	maxInterval     time.Duration
	logger          *log.Logger
}

var _ Provider = (*RetryProvider)(nil)

// NewRetryProvider wraps p with the retry policy described by cfg.
func NewRetryProvider(p Provider, cfg *RetryConfig) *RetryProvider {
	if cfg == nil {
		cfg = &RetryConfig{}
	}

	r := &RetryProvider{
		Provider:        p,
		attemptTimeout:  cfg.AttemptTimeout,
		initialInterval: cfg.InitialInterval,
		maxInterval:     cfg.MaxInterval,
		logger:          cfg.Logger,
	}

	switch {
	case cfg.MaxRetries < 0:
		r.maxRetries = 0
	case cfg.MaxRetries == 0:
		r.maxRetries = DefaultMaxRetries
	default:
		r.maxRetries = uint64(cfg.MaxRetries)
	}
	if r.attemptTimeout <= 0 {
		r.attemptTimeout = DefaultAttemptTimeout
	}
	if r.initialInterval <= 0 {
		r.initialInterval = 500 * time.Millisecond
	}
	if r.maxInterval <= 0 {
		r.maxInterval = 10 * time.Second
	}
	if r.logger == nil {
		r.logger = log.Default()
	}
	r.logger = r.logger.WithPrefix("embedder")

	return r
}

// Embed embeds text, retrying transient failures.
func (r *RetryProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	vec, err := retry(ctx, r, func(attemptCtx context.Context) ([]float64, error) {
		v, err := r.Provider.Embed(attemptCtx, text)
		if err == nil && len(v) == 0 {
			err = errors.New("empty embedding returned")
		}
		return v, err
	})
	if err != nil {
		return nil, fmt.Errorf("Embed: %w", err)
	}
	return vec, nil
}

// EmbedBatch embeds texts, retrying the whole batch on transient failures.
func (r *RetryProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	vecs, err := retry(ctx, r, func(attemptCtx context.Context) ([][]float64, error) {
		v, err := r.Provider.EmbedBatch(attemptCtx, texts)
		if err == nil && len(v) != len(texts) {
			err = fmt.Errorf("got %d embeddings for %d texts", len(v), len(texts))
		}
		return v, err
	})
	if err != nil {
		return nil, fmt.Errorf("EmbedBatch: %w", err)
	}
	return vecs, nil
}

func (r *RetryProvider) newBackOff(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initialInterval
	b.MaxInterval = r.maxInterval
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, r.maxRetries), ctx)
}

// retry runs call until it succeeds, fails permanently or the retry budget
// is spent. A result is only returned from a successful attempt, so a timed
// out attempt never leaks partial output.
func retry[T any](ctx context.Context, r *RetryProvider, call func(context.Context) (T, error)) (T, error) {
	var result T
	attempt := 0

	operation := func() error {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, r.attemptTimeout)
		defer cancel()

		v, err := call(attemptCtx)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			if !IsRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		result = v
		return nil
	}

	notify := func(err error, wait time.Duration) {
		r.logger.Debug("embedding attempt failed", "attempt", attempt, "retry_in", wait, "err", err)
	}

	if err := backoff.RetryNotify(operation, r.newBackOff(ctx), notify); err != nil {
		var zero T
		return zero, fmt.Errorf("%w: after %d attempt(s): %w", errs.ErrEmbeddingService, attempt, err)
	}
	return result, nil
}
