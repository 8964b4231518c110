package llm

import (
	"math"
	"math/rand"
	"time"
)

// retryPolicy is the exponential-backoff-with-jitter schedule applied to
// transient mapping-call failures.
type retryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

func defaultRetryPolicy(maxAttempts int) retryPolicy {
	return retryPolicy{
		MaxAttempts:  maxAttempts,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

func (p retryPolicy) delay(attempt int) time.Duration {
	d := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter {
		jitter := d * 0.1
		d += (rand.Float64()*2 - 1) * jitter
	}
	return time.Duration(d)
}
