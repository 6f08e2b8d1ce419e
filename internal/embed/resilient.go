package embed

import (
	"context"
	"time"

	cerrors "github.com/codectx/codectx/internal/errors"
)

// ResilientEmbedder wraps a provider with retries and a circuit breaker.
// Transient failures are retried with exponential backoff; validation errors
// and ErrCircuitOpen are surfaced immediately. Once the breaker trips, calls
// fail fast with ErrCircuitOpen until the reset window admits a probe.
type ResilientEmbedder struct {
	inner   Embedder
	breaker *cerrors.CircuitBreaker
	retry   cerrors.RetryConfig
	timeout time.Duration
}

// ResilientOption configures a ResilientEmbedder.
type ResilientOption func(*ResilientEmbedder)

// WithRetryConfig overrides the retry policy.
func WithRetryConfig(cfg cerrors.RetryConfig) ResilientOption {
	return func(r *ResilientEmbedder) {
		r.retry = cfg
	}
}

// WithBreaker injects a shared circuit breaker. The default is a private
// breaker with 5 failures / 30s reset.
func WithBreaker(cb *cerrors.CircuitBreaker) ResilientOption {
	return func(r *ResilientEmbedder) {
		r.breaker = cb
	}
}

// WithCallTimeout bounds each underlying call (default: 10s).
func WithCallTimeout(d time.Duration) ResilientOption {
	return func(r *ResilientEmbedder) {
		r.timeout = d
	}
}

// NewResilientEmbedder wraps inner with retry and circuit breaker protection.
func NewResilientEmbedder(inner Embedder, opts ...ResilientOption) *ResilientEmbedder {
	r := &ResilientEmbedder{
		inner:   inner,
		breaker: cerrors.NewCircuitBreaker("embedding"),
		retry:   cerrors.DefaultRetryConfig(),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Breaker exposes the circuit breaker so the retriever can inspect state.
func (r *ResilientEmbedder) Breaker() *cerrors.CircuitBreaker {
	return r.breaker
}

func (r *ResilientEmbedder) call(ctx context.Context, fn func(context.Context) error) error {
	// The breaker sits outside the retry loop: a retried call that keeps
	// failing pushes the failure count up once per attempt, and once open,
	// the retry helper stops immediately on ErrCircuitOpen.
	return cerrors.Retry(ctx, r.retry, func() error {
		return r.breaker.Execute(func() error {
			callCtx, cancel := context.WithTimeout(ctx, r.timeout)
			defer cancel()
			return fn(callCtx)
		})
	})
}

// Embed generates the embedding for a single text with resilience.
func (r *ResilientEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	err := r.call(ctx, func(callCtx context.Context) error {
		var innerErr error
		vec, innerErr = r.inner.Embed(callCtx, text)
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	return vec, nil
}

// EmbedBatch generates embeddings for multiple texts with resilience.
func (r *ResilientEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var vecs [][]float32
	err := r.call(ctx, func(callCtx context.Context) error {
		var innerErr error
		vecs, innerErr = r.inner.EmbedBatch(callCtx, texts)
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	return vecs, nil
}

// Dimensions returns the embedding dimension (passthrough).
func (r *ResilientEmbedder) Dimensions() int {
	return r.inner.Dimensions()
}

// ModelName returns the model identifier (passthrough).
func (r *ResilientEmbedder) ModelName() string {
	return r.inner.ModelName()
}

// Available checks readiness; an open breaker reports unavailable.
func (r *ResilientEmbedder) Available(ctx context.Context) bool {
	if r.breaker.State() == cerrors.StateOpen {
		return false
	}
	return r.inner.Available(ctx)
}

// Close closes the inner embedder.
func (r *ResilientEmbedder) Close() error {
	return r.inner.Close()
}

var _ Embedder = (*ResilientEmbedder)(nil)
