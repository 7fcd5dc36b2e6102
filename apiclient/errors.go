package apiclient

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/jrsteele09/go-auth-client/internal/errors"
)

var (
	ErrSessionExpired  = errors.ErrSessionExpired
	ErrRefreshRejected = errors.ErrRefreshRejected
)

// APIError is a non-2xx answer from the backend.
type APIError struct {
	Status  int
	Message string
	Err     error // kind, e.g. ErrRefreshRejected; may be nil
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v (%d): %s", e.Err, e.Status, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// BackendMessage extracts the human readable message from an error body,
// preferring "message" over "detail". fallback is used when neither is present.
func BackendMessage(body []byte, fallback string) string {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return fallback
	}
	for _, key := range []string{"message", "detail"} {
		raw, ok := payload[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if s != "" {
				return s
			}
			continue
		}
		// Validation errors carry a structured detail.
		if text := strings.TrimSpace(string(raw)); text != "" && text != "null" {
			return text
		}
	}
	return fallback
}

// statusNotice is the title and description shown for a failed request.
func statusNotice(status int, message string) (string, string) {
	switch status {
	case http.StatusForbidden:
		return "Access Denied", message
	case http.StatusNotFound:
		return "Not Found", message
	case http.StatusUnprocessableEntity:
		return "Validation Error", message
	case http.StatusInternalServerError:
		return "Server Error", "An internal server error occurred. Please try again later."
	default:
		return fmt.Sprintf("Error %d", status), message
	}
}
