package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrInvalidJSON is returned when a 2xx response expected to be JSON is not.
var ErrInvalidJSON = errors.New("response body is not valid JSON")

// BusinessError is a well-formed error answer from the server. It is
// deterministic and never retried.
type BusinessError struct {
	Method   string
	Endpoint string
	Status   int
	Message  string
}

func (e *BusinessError) Error() string {
	if e == nil {
		return "request rejected"
	}
	return fmt.Sprintf("%s %s rejected with status %d: %s", e.Method, e.Endpoint, e.Status, e.Message)
}

// StatusError is a transport-level HTTP failure (gateway errors, throttling,
// 5xx without an error body). It is retried.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e == nil {
		return "unexpected status"
	}
	if e.Body == "" {
		return fmt.Sprintf("status %d", e.Status)
	}
	return fmt.Sprintf("status %d: %s", e.Status, e.Body)
}

// TransportError reports a request that still failed after its final attempt.
type TransportError struct {
	Method   string
	Endpoint string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	if e == nil {
		return "request failed"
	}
	return fmt.Sprintf("%s %s failed after %d attempt(s): %v", e.Method, e.Endpoint, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsBusiness reports whether err carries a server-provided business error.
func IsBusiness(err error) bool {
	var business *BusinessError
	return errors.As(err, &business)
}

// Message returns the most user-presentable text for err.
func Message(err error) string {
	var business *BusinessError
	if errors.As(err, &business) {
		return business.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

func classifyStatus(method, endpoint string, status int, body []byte) error {
	message, wellFormed := parseErrorBody(body)
	switch status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return &StatusError{Status: status, Body: snippet(body)}
	}
	if wellFormed {
		return &BusinessError{Method: method, Endpoint: endpoint, Status: status, Message: message}
	}
	if status >= 500 {
		return &StatusError{Status: status, Body: snippet(body)}
	}
	text := strings.TrimSpace(snippet(body))
	if text == "" {
		text = http.StatusText(status)
	}
	return &BusinessError{Method: method, Endpoint: endpoint, Status: status, Message: text}
}

// parseErrorBody recognizes {"error": "..."}, {"message": "..."} and
// {"error": {"message": "..."}}.
func parseErrorBody(body []byte) (string, bool) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", false
	}
	if raw, ok := payload["error"]; ok {
		var text string
		if err := json.Unmarshal(raw, &text); err == nil && text != "" {
			return text, true
		}
		var nested struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(raw, &nested); err == nil && nested.Message != "" {
			return nested.Message, true
		}
	}
	if raw, ok := payload["message"]; ok {
		var text string
		if err := json.Unmarshal(raw, &text); err == nil && text != "" {
			return text, true
		}
	}
	return "", false
}

func snippet(body []byte) string {
	const limit = 256
	if len(body) > limit {
		body = body[:limit]
	}
	return strings.TrimSpace(string(body))
}
