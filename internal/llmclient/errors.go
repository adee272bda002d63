// internal/llmclient/errors.go
package llmclient

import (
	"fmt"
	"net/http"
)

// GatewayError reports a transport failure or a non-success response from
// the model endpoint. StatusCode is zero when no response was received.
type GatewayError struct {
	StatusCode int
	Body       string
	Attempts   int
	Err        error

	// permanent marks failures no retry can fix, such as an undecodable body.
	permanent bool
}

func (e *GatewayError) Error() string {
	attempts := ""
	if e.Attempts > 1 {
		attempts = fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.StatusCode == 0 {
		return fmt.Sprintf("model gateway transport error%s: %v", attempts, e.Err)
	}
	return fmt.Sprintf("model gateway error%s: status %d, body: %s", attempts, e.StatusCode, e.Body)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Transient reports whether a retry could plausibly succeed.
func (e *GatewayError) Transient() bool {
	if e.permanent {
		return false
	}
	if e.StatusCode == 0 {
		return true
	}
	return isTransientStatus(e.StatusCode)
}

func isTransientStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
