package dispatch

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/unifiedai/airelay/pkg/logger"
	"github.com/unifiedai/airelay/pkg/provider"
)

// RetryConfig bounds the retry loop around a single provider invocation.
// It is an explicit struct rather than package constants so callers can
// override it per call and tests can pin it down.
type RetryConfig struct {
	MaxRetries    int           // retries after the first attempt; 2 means up to 3 tries
	InitialDelay  time.Duration // delay before the first retry
	BackoffFactor float64       // multiplier applied per retry
}

// DefaultRetryConfig mirrors the stock policy: up to 3 total tries with
// exponential backoff at 1s, 2s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    2,
		InitialDelay:  time.Second,
		BackoffFactor: 2,
	}
}

func (c RetryConfig) delay(attempt int) time.Duration {
	factor := c.BackoffFactor
	if factor <= 0 {
		factor = 2
	}
	return time.Duration(float64(c.InitialDelay) * math.Pow(factor, float64(attempt)))
}

// sleepFunc suspends for d or until ctx is done. Tests inject a fake to make
// backoff timing deterministic.
type sleepFunc func(ctx context.Context, d time.Duration) error

func defaultSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// invokeWithRetry runs one logical provider invocation, retrying transient
// failures with exponential backoff. Fatal and capability errors short-circuit
// immediately regardless of remaining budget; unknown errors are not retried.
func (s *Service) invokeWithRetry(ctx context.Context, baseLog *logger.Logger, p provider.Provider, kind serviceKind, params provider.CallParams, cfg RetryConfig) (any, error) {
	log := baseLog.WithComponent("retry")

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		raw, err := invokeProvider(ctx, p, kind, params)
		if err == nil {
			return raw, nil
		}

		cerr := ClassifyError(err)
		switch cerr.Kind {
		case ErrorKindFatal, ErrorKindCapability:
			log.Debug("non-retryable provider error", "provider", p.Name(), "kind", cerr.Kind.String(), "error", cerr.Message)
			return nil, cerr
		case ErrorKindRetryable:
			if attempt < cfg.MaxRetries {
				delay := cfg.delay(attempt)
				log.Warn("transient provider error, backing off",
					"provider", p.Name(), "attempt", attempt+1, "delay", delay, "error", cerr.Message)
				if sleepErr := s.sleep(ctx, delay); sleepErr != nil {
					return nil, sleepErr
				}
				continue
			}
			log.Error("retries exhausted", "provider", p.Name(), "attempts", attempt+1, "error", cerr.Message)
			return nil, cerr
		default:
			return nil, cerr
		}
	}

	// Unreachable given the loop invariant; reaching it means a logic bug.
	return nil, errors.New("retry loop exited without a result")
}

// invokeProvider dispatches to the provider method matching the service kind.
func invokeProvider(ctx context.Context, p provider.Provider, kind serviceKind, params provider.CallParams) (any, error) {
	switch kind {
	case kindGenerateText:
		return p.GenerateText(ctx, params)
	case kindStreamText:
		return p.StreamText(ctx, params)
	case kindGenerateObject:
		return p.GenerateObject(ctx, params)
	case kindStreamObject:
		return p.StreamObject(ctx, params)
	default:
		return nil, errors.New("unsupported service kind")
	}
}
