package gateway

import (
	"fmt"
	"net/http"
)

// AuthError indicates the gateway rejected a login attempt. Detail carries
// the server's response body when one was sent.
type AuthError struct {
	Detail string
}

func (e *AuthError) Error() string {
	if e.Detail == "" {
		return "login rejected"
	}
	return "login rejected: " + e.Detail
}

// HTTPError is a non-2xx response from the gateway. Body carries the
// response text when one was readable.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	detail := e.Body
	if detail == "" {
		detail = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, detail)
}

// TransportError wraps network-level failures: connection refused, an
// aborted request, or an unreadable response body.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
