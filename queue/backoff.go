package queue

import "time"

// Retry backoff defaults: 2s, 4s, 8s, ... capped at 60s.
const (
	DefaultBackoffBase   = 2 * time.Second
	DefaultBackoffFactor = 2.0
	DefaultBackoffMax    = 60 * time.Second
)

// Delay computes the exponential retry delay for the given attempt count:
// min(base * factor^(attempts-1), max). Attempts below 1 are coerced to 1,
// so Delay(1) == base.
func Delay(attempts int, base time.Duration, factor float64, max time.Duration) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := float64(base)
	for i := 1; i < attempts; i++ {
		d *= factor
		if d >= float64(max) {
			return max
		}
	}
	if d > float64(max) {
		return max
	}
	return time.Duration(d)
}

// DefaultDelay computes the retry delay with the package defaults.
func DefaultDelay(attempts int) time.Duration {
	return Delay(attempts, DefaultBackoffBase, DefaultBackoffFactor, DefaultBackoffMax)
}
