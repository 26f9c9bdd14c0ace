package engine

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/raulshma/etlez-sub001/internal/models"
)

// backoffDelay returns the base wait before retry attempt k (zero-based):
// InitialDelay * Multiplier^k, capped at MaxDelay.
func backoffDelay(cfg models.RetryConfig, attempt int) time.Duration {
	delay := cfg.InitialDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	multiplier := cfg.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	scaled := float64(delay) * math.Pow(multiplier, float64(attempt))
	result := time.Duration(scaled)
	if cfg.MaxDelay > 0 && result > cfg.MaxDelay {
		result = cfg.MaxDelay
	}
	return result
}

// retryWait widens the base delay by uniform jitter in [0, InitialDelay)
// when jitter is enabled. MaxDelay bounds the final wait, jitter included.
func retryWait(cfg models.RetryConfig, attempt int) time.Duration {
	wait := backoffDelay(cfg, attempt)
	if cfg.Jitter && cfg.InitialDelay > 0 {
		wait += time.Duration(rand.Int63n(int64(cfg.InitialDelay)))
	}
	if cfg.MaxDelay > 0 && wait > cfg.MaxDelay {
		wait = cfg.MaxDelay
	}
	return wait
}

// isRetryable classifies an error as transient. Configuration errors are
// never retried; typed TransientErrors always are; anything else is matched
// against the configured retryable substrings.
func isRetryable(cfg models.RetryConfig, err error) bool {
	if err == nil {
		return false
	}
	if models.IsConfiguration(err) {
		return false
	}
	if models.IsTransient(err) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, fragment := range cfg.RetryableErrors {
		if strings.Contains(msg, strings.ToLower(fragment)) {
			return true
		}
	}
	return false
}

// sleepContext waits for d, returning early with the context error when the
// execution is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
