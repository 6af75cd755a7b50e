package client

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff is an exponential reconnect delay with jitter.
type Backoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// JitterFactor is the largest fraction of the delay added or removed at random.
	JitterFactor float64
}

func DefaultBackoff() Backoff {
	return Backoff{
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
		JitterFactor: 0.2,
	}
}

// Delay returns the wait before reconnect attempt n (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	delay := float64(b.InitialDelay) * math.Pow(b.Multiplier, float64(attempt))
	if delay > float64(b.MaxDelay) {
		delay = float64(b.MaxDelay)
	}
	if b.JitterFactor > 0 {
		delay += delay * b.JitterFactor * (2*rand.Float64() - 1)
	}
	if delay < float64(b.InitialDelay) {
		delay = float64(b.InitialDelay)
	}
	return time.Duration(delay)
}
