package writer

import (
	"math"
	"math/rand"
	"time"
)

// backoffDelay returns the delay before retry attempt n (1-based),
// exponential with +/-15% jitter to avoid thundering herds against a
// rate-limited backend.
func (w *Writer) backoffDelay(attempt int) time.Duration {
	delay := float64(w.conf.RetryInitial) * math.Pow(w.conf.RetryMultiplier, float64(attempt-1))

	if delay > float64(w.conf.RetryMax) {
		delay = float64(w.conf.RetryMax)
	}

	jitter := rand.Float64() * 0.3 * delay
	delay = delay + jitter - (0.15 * delay)

	return time.Duration(delay)
}
