package llm

import (
	"errors"
	"fmt"
	"net/http"
)

// Error taxonomy for backend round trips. Per-line parse failures inside a
// stream are swallowed; everything else surfaces through the session channel
// as a Failed or Notice event and never terminates the process.
var (
	// ErrStreamIncomplete indicates the stream ended without ever producing
	// a terminal completed event. Fragments may already have been delivered;
	// the partial reply is discarded, never committed.
	ErrStreamIncomplete = errors.New("stream ended without completion")

	// ErrNetwork indicates a transport-level failure.
	ErrNetwork = errors.New("network error")

	// ErrAuthentication indicates the vendor rejected our credentials.
	ErrAuthentication = errors.New("authentication error")
)

// APIError is a non-2xx vendor response carrying the vendor's own message.
type APIError struct {
	Provider string
	Status   int
	Message  string
	Code     string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s API error: status %d", e.Provider, e.Status)
	}
	return fmt.Sprintf("%s API error: status %d: %s", e.Provider, e.Status, e.Message)
}

// Unwrap maps authentication statuses onto ErrAuthentication so callers can
// classify with errors.Is.
func (e *APIError) Unwrap() error {
	if e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden {
		return ErrAuthentication
	}
	return nil
}

// IsTransientError reports whether a retry might succeed.
func IsTransientError(err error) bool {
	if errors.Is(err, ErrNetwork) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusTooManyRequests || apiErr.Status >= 500
	}
	return false
}
