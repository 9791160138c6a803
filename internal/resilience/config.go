package resilience

import (
	"time"
)

// FromRetrySettings converts the provider's retry count and backoff base into
// a RetryConfig. retries is the number of retries after the first attempt.
func FromRetrySettings(retries int, backoffMs int) RetryConfig {
	cfg := DefaultRetryConfig()
	if retries >= 0 {
		cfg.MaxAttempts = retries + 1
	}
	if backoffMs > 0 {
		cfg.InitialBackoff = time.Duration(backoffMs) * time.Millisecond
	}
	return cfg
}
