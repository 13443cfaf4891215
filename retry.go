package firebasil

import (
	"math/rand"
	"time"
)

// Retryer decides how a Listener waits between resubscription attempts.
type Retryer interface {
	// NextDelay returns the delay before the next attempt. attempt is
	// 0-based. The second result says whether to keep retrying at all.
	NextDelay(attempt int, lastErr error) (time.Duration, bool)

	// Reset clears any retry state, called once a subscription syncs.
	Reset()
}

// ExponentialBackoffRetryer grows the delay by Multiplier per attempt, caps
// it at MaxDelay, and optionally randomizes it to spread reconnection load.
type ExponentialBackoffRetryer struct {
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the delay.
	MaxDelay time.Duration

	// Multiplier is the growth factor per attempt.
	Multiplier float64

	// MaxRetries bounds the number of attempts; 0 retries forever.
	MaxRetries int

	// Jitter randomizes each delay within JitterFactor of its value.
	Jitter bool

	// JitterFactor is the maximum jitter as a fraction of the delay.
	JitterFactor float64
}

// NewExponentialBackoffRetryer returns a retryer with the defaults used by
// Listen: 500ms doubling up to a minute, retrying forever, with 25% jitter.
func NewExponentialBackoffRetryer() *ExponentialBackoffRetryer {
	return &ExponentialBackoffRetryer{
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     time.Minute,
		Multiplier:   2.0,
		MaxRetries:   0,
		Jitter:       true,
		JitterFactor: 0.25,
	}
}

// NextDelay implements Retryer.
func (r *ExponentialBackoffRetryer) NextDelay(attempt int, lastErr error) (time.Duration, bool) {
	if r.MaxRetries > 0 && attempt >= r.MaxRetries {
		return 0, false
	}

	delay := r.InitialDelay
	for i := 0; i < attempt && delay < r.MaxDelay; i++ {
		delay = time.Duration(float64(delay) * r.Multiplier)
	}
	if delay > r.MaxDelay {
		delay = r.MaxDelay
	}

	if r.Jitter && r.JitterFactor > 0 {
		//nolint:gosec // math/rand is fine for jitter, not security-critical
		delay += time.Duration((2*rand.Float64() - 1) * r.JitterFactor * float64(delay))
		if delay < 0 {
			delay = r.InitialDelay
		}
	}

	return delay, true
}

// Reset implements Retryer.
func (r *ExponentialBackoffRetryer) Reset() {
	// No state to reset.
}
