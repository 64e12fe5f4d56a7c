// Package retry computes the per-attempt delay the Consumer Loop waits
// before invoking the Attempt Executor on a retry-stream entry: a linear
// fail_count * base schedule rather than exponential backoff.
package retry

import "time"

// Delay returns how long the Consumer Loop must wait before invoking the
// Executor on a retry-stream entry with the given fail_count, using base
// as the configured retry interval. A fail_count of 0 (should not occur on
// the retry stream, but handled defensively) yields no delay.
func Delay(failCount int, base time.Duration) time.Duration {
	if failCount <= 0 {
		return 0
	}
	return time.Duration(failCount) * base
}
