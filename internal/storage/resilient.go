package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/basekick-labs/insight/internal/circuitbreaker"
)

// ResilientConfig holds configuration for the resilient backend
type ResilientConfig struct {
	// Circuit breaker settings
	MaxFailures         int
	Cooldown            time.Duration
	HalfOpenMaxRequests int

	// Retry settings
	MaxRetries    int
	RetryDelay    time.Duration
	RetryMaxDelay time.Duration
}

// DefaultResilientConfig returns default resilient backend configuration
func DefaultResilientConfig() *ResilientConfig {
	return &ResilientConfig{
		MaxFailures:         5,
		Cooldown:            30 * time.Second,
		HalfOpenMaxRequests: 3,
		MaxRetries:          3,
		RetryDelay:          100 * time.Millisecond,
		RetryMaxDelay:       5 * time.Second,
	}
}

// ResilientBackend wraps a remote backend with retries and a circuit
// breaker. A missing object is an answer, not a failure: it is neither
// retried nor counted against the breaker.
type ResilientBackend struct {
	backend Backend
	breaker *circuitbreaker.Breaker
	logger  zerolog.Logger

	maxRetries    int
	retryDelay    time.Duration
	retryMaxDelay time.Duration
}

// NewResilientBackend wraps backend. A nil cfg uses DefaultResilientConfig.
func NewResilientBackend(backend Backend, cfg *ResilientConfig, logger zerolog.Logger) *ResilientBackend {
	if cfg == nil {
		cfg = DefaultResilientConfig()
	}
	return &ResilientBackend{
		backend: backend,
		breaker: circuitbreaker.New(circuitbreaker.Config{
			Name:                "storage-" + backend.Type(),
			MaxFailures:         cfg.MaxFailures,
			Cooldown:            cfg.Cooldown,
			HalfOpenMaxRequests: cfg.HalfOpenMaxRequests,
			IsFailure:           isBackendFailure,
		}, logger),
		logger:        logger.With().Str("component", "resilient-storage").Logger(),
		maxRetries:    max(cfg.MaxRetries, 0),
		retryDelay:    cfg.RetryDelay,
		retryMaxDelay: cfg.RetryMaxDelay,
	}
}

func isBackendFailure(err error) bool {
	return err != nil &&
		!errors.Is(err, ErrNotFound) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

// do runs fn through the breaker, retrying failures with exponential
// backoff until maxRetries is used up, the circuit opens or ctx ends.
func (r *ResilientBackend) do(ctx context.Context, op, path string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		err := r.breaker.Do(fn)
		if err == nil {
			return nil
		}
		if errors.Is(err, circuitbreaker.ErrOpen) {
			r.logger.Warn().Str("op", op).Str("path", path).Msg("Storage call rejected, circuit breaker open")
			return fmt.Errorf("storage %s %s: %w", op, path, err)
		}
		if !isBackendFailure(err) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		lastErr = err
		if attempt == r.maxRetries {
			break
		}

		delay := min(r.retryDelay*time.Duration(1<<uint(attempt)), r.retryMaxDelay)
		r.logger.Warn().
			Err(err).
			Str("op", op).
			Str("path", path).
			Int("attempt", attempt+1).
			Int("max_retries", r.maxRetries).
			Dur("retry_delay", delay).
			Msg("Storage call failed, retrying")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("storage %s failed after %d retries: %w", op, r.maxRetries, lastErr)
}

func (r *ResilientBackend) Write(ctx context.Context, path string, data []byte) error {
	return r.do(ctx, "write", path, func() error {
		return r.backend.Write(ctx, path, data)
	})
}

func (r *ResilientBackend) Read(ctx context.Context, path string) ([]byte, error) {
	var data []byte
	err := r.do(ctx, "read", path, func() error {
		var err error
		data, err = r.backend.Read(ctx, path)
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (r *ResilientBackend) List(ctx context.Context, prefix string) ([]string, error) {
	var paths []string
	err := r.do(ctx, "list", prefix, func() error {
		var err error
		paths, err = r.backend.List(ctx, prefix)
		return err
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}

func (r *ResilientBackend) Delete(ctx context.Context, path string) error {
	return r.do(ctx, "delete", path, func() error {
		return r.backend.Delete(ctx, path)
	})
}

func (r *ResilientBackend) Close() error { return r.backend.Close() }

// Type reports the wrapped backend's type.
func (r *ResilientBackend) Type() string { return r.backend.Type() }

// BreakerStats reports the state of the storage circuit breaker.
func (r *ResilientBackend) BreakerStats() circuitbreaker.Stats {
	return r.breaker.Stats()
}
