package provider

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RetryConfig controls the retry decorator
type RetryConfig struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Logger          *zerolog.Logger
}

// DefaultRetryConfig returns the retry settings used by the CLI
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
	}
}

type retryingProvider struct {
	inner  Provider
	config RetryConfig
	logger zerolog.Logger
}

// WithRetry wraps a provider so that failed round-trips are retried with
// exponential backoff. Only failures before the first stream event are
// retried; once the stream has begun the caller has already moved on to
// receiving and may have shown partial output.
func WithRetry(inner Provider, config RetryConfig) Provider {
	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}
	return &retryingProvider{inner: inner, config: config, logger: logger}
}

func (r *retryingProvider) Name() string {
	return r.inner.Name()
}

func (r *retryingProvider) Stream(ctx context.Context, req *Request, handler StreamHandler) (*Response, error) {
	begun := false
	wrapped := StreamHandler{
		OnBegin: func() {
			if !begun {
				begun = true
				handler.begin()
			}
		},
		OnChunk: func(chunk string) {
			// providers always begin before the first chunk, but a chunk
			// alone still means the stream is under way
			begun = true
			handler.chunk(chunk)
		},
	}

	var resp *Response
	operation := func() error {
		out, err := r.inner.Stream(ctx, req, wrapped)
		if err == nil {
			resp = out
			return nil
		}
		if begun || ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.config.InitialInterval
	b.MaxInterval = r.config.MaxInterval
	b.RandomizationFactor = 0.5
	b.Reset()

	notify := func(err error, wait time.Duration) {
		r.logger.Warn().
			Str("provider", r.inner.Name()).
			Dur("wait", wait).
			Err(err).
			Msg("Model request failed, retrying")
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, r.config.MaxRetries), ctx)
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return nil, err
	}
	return resp, nil
}
