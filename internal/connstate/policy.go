package connstate

import "time"

// RetryPolicy bounds automatic reconnection.
type RetryPolicy struct {
	MaxRetries int
	// Backoff holds the delay before each retry. The last entry repeats, so a
	// single entry gives a fixed interval and an empty schedule retries at once.
	Backoff []time.Duration
}

// Delay returns the wait before the given retry (1-based).
func (p RetryPolicy) Delay(retry int) time.Duration {
	if len(p.Backoff) == 0 || retry < 1 {
		return 0
	}
	if retry > len(p.Backoff) {
		retry = len(p.Backoff)
	}
	return p.Backoff[retry-1]
}
