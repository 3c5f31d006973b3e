package realtime

import "time"

// backoffPolicy computes reconnection delays: base doubled per attempt,
// capped at max, with a hard ceiling on attempt count.
type backoffPolicy struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

// Delay returns the wait before attempt n (0-based): min(base·2^n, max).
func (p backoffPolicy) Delay(attempt int) time.Duration {
	d := p.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.Max {
			return p.Max
		}
	}
	if d > p.Max {
		return p.Max
	}
	return d
}

// Exhausted reports whether no further attempt may be scheduled.
func (p backoffPolicy) Exhausted(attempt int) bool {
	return attempt >= p.MaxAttempts
}
