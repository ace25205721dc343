package realtime

import "time"

// BackoffDelay returns the wait before reconnect attempt n (1-based):
// base * min(n, capMultiplier).
func BackoffDelay(base time.Duration, attempt, capMultiplier int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if capMultiplier < 1 {
		capMultiplier = 1
	}
	return base * time.Duration(min(attempt, capMultiplier))
}
