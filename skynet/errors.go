package skynet

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrClientClosed is returned by every call made after Close.
var ErrClientClosed = errors.New("skynet: client closed")

var errMissingSkylink = errors.New("response has no skylink")

// InputError reports a File that cannot be uploaded. No request is sent.
type InputError struct {
	Field string
	Err   error
}

func (e *InputError) Error() string {
	return fmt.Sprintf("skynet: invalid file %s: %v", e.Field, e.Err)
}

func (e *InputError) Unwrap() error {
	return e.Err
}

// TransportError reports a request that never produced a readable response:
// connection failures, cancellation, or a body that broke mid-read.
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("skynet: %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// APIError is a response with a non-2xx status code.
type APIError struct {
	StatusCode int
	Status     string
	Body       []byte
	// RetryAfter holds the raw Retry-After header, if the portal sent one.
	RetryAfter string
}

func (e *APIError) Error() string {
	status := e.Status
	if status == "" {
		status = fmt.Sprintf("%d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	if len(e.Body) == 0 {
		return fmt.Sprintf("skynet: portal returned %s", status)
	}
	return fmt.Sprintf("skynet: portal returned %s: %s", status, truncate(e.Body, 256))
}

// ParseError reports a 2xx response whose body could not be decoded.
type ParseError struct {
	Body []byte
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("skynet: error decoding response: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
