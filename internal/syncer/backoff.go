package syncer

import (
	"math/rand"
	"time"
)

// backoffDelay returns the wait before retry attempt n (1-based): exponential
// growth from base, capped, with full jitter so a fleet of terminals coming
// back online does not hammer the backend in lockstep.
func backoffDelay(attempt int, base, maxDelay time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxDelay {
			d = maxDelay
			break
		}
	}
	if d > maxDelay {
		d = maxDelay
	}
	return time.Duration(rand.Int63n(int64(d))) + time.Millisecond
}
