package reliability

import "time"

// IsRetryableHTTPStatus classifies transient upstream statuses. 429 is
// deliberately absent: the backend encodes member/tenant rate limits in it
// and callers must surface those verbatim instead of hammering the limiter.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsRetryableRealtimeErrorCode classifies provider control-channel error
// codes that a fresh session may recover from. Session and credential
// errors are terminal: ephemeral secrets are single-use.
func IsRetryableRealtimeErrorCode(code string) bool {
	switch code {
	case "server_error", "internal_error", "service_unavailable":
		return true
	default:
		return false
	}
}

// ExponentialBackoff computes a deterministic capped backoff duration for
// the given zero-based attempt.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	if cap > 0 && d > cap {
		return cap
	}
	return d
}
