package rowindexer

import (
	"math"
	"math/rand"
	"time"
)

// RetryPolicy bounds how many times, and how long between attempts, a
// row-indexer phase retries a retryable tracking-store conflict or
// target failure. Mirrors the orchestrator's exponential-backoff-with-
// jitter shape, generalized from stage retries to phase retries.
type RetryPolicy struct {
	MaxAttempts int

	MinBackoff time.Duration // default 1s
	MaxBackoff time.Duration // default 30s
	JitterFrac float64       // default 0.20
}

// shouldRetry reports whether another attempt is permitted given the
// number of attempts already made and whether err is itself retryable.
func shouldRetry(r RetryPolicy, attempts int, retryable bool) bool {
	if r.MaxAttempts <= 0 || attempts >= r.MaxAttempts {
		return false
	}
	return retryable
}

// computeBackoff returns the delay before the next attempt, exponential
// in attempts with a jitter band of +/- JitterFrac around the
// unjittered value.
func computeBackoff(r RetryPolicy, attempts int) time.Duration {
	minB := r.MinBackoff
	maxB := r.MaxBackoff
	j := r.JitterFrac
	if minB <= 0 {
		minB = 1 * time.Second
	}
	if maxB <= 0 {
		maxB = 30 * time.Second
	}
	if j <= 0 {
		j = 0.20
	}
	if attempts < 1 {
		attempts = 1
	}
	d := time.Duration(float64(minB) * math.Pow(2, float64(attempts-1)))
	if d > maxB {
		d = maxB
	}
	delta := float64(d) * j
	low := float64(d) - delta
	high := float64(d) + delta
	if low < 0 {
		low = 0
	}
	return time.Duration(low + rand.Float64()*(high-low))
}
