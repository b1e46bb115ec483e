package embedder_test

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/powermem-recall/pkg/embedder"
	"github.com/oceanbase/powermem-recall/pkg/errs"
)

// scriptedProvider fails the first `failures` calls with err, then succeeds.
type scriptedProvider struct {
	calls    atomic.Int32
	failures int32
	err      error
	block    bool
}

func (p *scriptedProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	n := p.calls.Add(1)
	if p.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if n <= p.failures {
		return nil, p.err
	}
	return []float64{float64(len(text)), 1}, nil
}

func (p *scriptedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, 0, len(texts))
	for _, text := range texts {
		v, err := p.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (p *scriptedProvider) Dimensions() int { return 2 }
func (p *scriptedProvider) Close() error    { return nil }

func fastRetry(p embedder.Provider, maxRetries int) *embedder.RetryProvider {
	return embedder.NewRetryProvider(p, &embedder.RetryConfig{
		MaxRetries:      maxRetries,
		AttemptTimeout:  time.Second,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	})
}

func TestRetryProvider_RecoversFromTransientFailures(t *testing.T) {
	p := &scriptedProvider{failures: 2, err: errors.New("connection reset")}

	vec, err := fastRetry(p, 3).Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 1}, vec)
	assert.Equal(t, int32(3), p.calls.Load())
}

func TestRetryProvider_ExhaustsRetries(t *testing.T) {
	p := &scriptedProvider{failures: 100, err: &embedder.StatusError{Provider: "fake", StatusCode: http.StatusServiceUnavailable}}

	_, err := fastRetry(p, 2).Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrEmbeddingService)
	assert.Equal(t, int32(3), p.calls.Load())
}

func TestRetryProvider_PermanentFailureIsNotRetried(t *testing.T) {
	p := &scriptedProvider{failures: 100, err: &embedder.StatusError{Provider: "fake", StatusCode: http.StatusUnauthorized}}

	_, err := fastRetry(p, 5).Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrEmbeddingService)

	var statusErr *embedder.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	assert.Equal(t, int32(1), p.calls.Load())
}

func TestRetryProvider_AttemptTimeout(t *testing.T) {
	p := &scriptedProvider{block: true}
	r := embedder.NewRetryProvider(p, &embedder.RetryConfig{
		MaxRetries:      1,
		AttemptTimeout:  20 * time.Millisecond,
		InitialInterval: time.Millisecond,
	})

	vec, err := r.Embed(context.Background(), "hello")
	assert.Nil(t, vec)
	assert.ErrorIs(t, err, errs.ErrEmbeddingService)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(2), p.calls.Load())
}

func TestRetryProvider_ParentCancellationStops(t *testing.T) {
	p := &scriptedProvider{failures: 100, err: errors.New("flaky")}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fastRetry(p, 10).Embed(ctx, "hello")
	assert.ErrorIs(t, err, errs.ErrEmbeddingService)
	assert.LessOrEqual(t, p.calls.Load(), int32(1))
}

func TestRetryProvider_EmbedBatch(t *testing.T) {
	p := &scriptedProvider{failures: 1, err: errors.New("flaky")}

	vecs, err := fastRetry(p, 2).EmbedBatch(context.Background(), []string{"a", "bb"})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 1}, {2, 1}}, vecs)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, embedder.IsRetryable(nil))
	assert.False(t, embedder.IsRetryable(context.Canceled))
	assert.True(t, embedder.IsRetryable(context.DeadlineExceeded))
	assert.True(t, embedder.IsRetryable(&embedder.StatusError{StatusCode: http.StatusTooManyRequests}))
	assert.True(t, embedder.IsRetryable(&embedder.StatusError{StatusCode: http.StatusBadGateway}))
	assert.False(t, embedder.IsRetryable(&embedder.StatusError{StatusCode: http.StatusBadRequest}))
}
