package reliability

import "time"

// IsRetryableHTTPStatus reports whether a vendor HTTP status is worth one more attempt.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 408, 425, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsRetryableRealtimeMessageType classifies error codes carried by realtime socket events.
func IsRetryableRealtimeMessageType(code string) bool {
	switch code {
	case "rate_limit_exceeded", "rate_limited", "server_error", "resource_exhausted", "queue_overflow", "timeout":
		return true
	default:
		return false
	}
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
