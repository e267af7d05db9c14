package domain

import (
	"math"
	"time"
)

// RetryStrategy computes the pre-replay delay for api-retry jobs. It is a
// pure function of (strategy, retryCount). Delays are carried in
// milliseconds to match the payload wire format.
type RetryStrategy struct {
	ExponentialBackoff bool    `json:"exponentialBackoff"`
	BaseDelayMs        int64   `json:"baseDelayMs"`
	MaxDelayMs         int64   `json:"maxDelayMs"`
	Multiplier         float64 `json:"backoffMultiplier"`
}

// Delay returns base × multiplier^retryCount capped at MaxDelayMs when
// exponential backoff is on, and the flat base delay otherwise.
func (s RetryStrategy) Delay(retryCount int) time.Duration {
	if !s.ExponentialBackoff {
		return time.Duration(s.BaseDelayMs) * time.Millisecond
	}
	ms := float64(s.BaseDelayMs) * math.Pow(s.Multiplier, float64(retryCount))
	if s.MaxDelayMs > 0 && ms > float64(s.MaxDelayMs) {
		ms = float64(s.MaxDelayMs)
	}
	return time.Duration(ms) * time.Millisecond
}
