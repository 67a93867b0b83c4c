package engine

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// RetryPolicy decides how many extra attempts a fetch task gets and how
// long it waits between them.
type RetryPolicy struct {
	// Budget is the number of additional Running entries after the first
	// attempt fails.
	Budget int

	// BaseDelay is the backoff before the first retry; zero disables backoff.
	BaseDelay time.Duration

	// MaxDelay caps the backoff.
	MaxDelay time.Duration
}

// DefaultRetryPolicy returns a budget of two retries with jittered backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Budget:    2,
		BaseDelay: 250 * time.Millisecond,
		MaxDelay:  5 * time.Second,
	}
}

// Backoff returns the wait before retry number retry (1-based).
func (p RetryPolicy) Backoff(retry int) time.Duration {
	if p.BaseDelay <= 0 || retry < 1 {
		return 0
	}
	delay := float64(p.BaseDelay) * math.Pow(2, float64(retry-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(half)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
