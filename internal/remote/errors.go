package remote

import (
	"errors"
	"fmt"
)

// ErrorKind classifies transport failures
type ErrorKind string

const (
	KindNetwork       ErrorKind = "network"
	KindUnauthorized  ErrorKind = "unauthorized"
	KindNotFound      ErrorKind = "not_found"
	KindQuotaExceeded ErrorKind = "quota_exceeded"
	KindServer        ErrorKind = "server"
	KindProtocol      ErrorKind = "protocol"
)

// TransportError represents a failed remote store operation.
// It carries the HTTP status code when there is one.
type TransportError struct {
	Op         string    // e.g. "GetMetadata", "PutBody"
	Kind       ErrorKind // failure class
	StatusCode int       // HTTP status code (0 if not an HTTP error)
	Message    string    // Human-readable error message
	Body       string    // Optional: response body for debugging
	Err        error     // Optional: underlying error
}

// Error implements the error interface
func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s failed with status %d: %s", e.Op, e.StatusCode, e.Message)
	}
	if e.Err != nil && e.Message == "" {
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s failed: %s", e.Op, e.Message)
}

// Unwrap returns the underlying error for error wrapping
func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsNotFound returns true if the remote has no such file
func (e *TransportError) IsNotFound() bool {
	return e.Kind == KindNotFound
}

// IsUnauthorized returns true if the remote rejected the credentials
func (e *TransportError) IsUnauthorized() bool {
	return e.Kind == KindUnauthorized
}

// IsQuotaExceeded returns true if the remote is out of space
func (e *TransportError) IsQuotaExceeded() bool {
	return e.Kind == KindQuotaExceeded
}

// IsRetryable returns true if repeating the same request later may succeed
// without user action
func (e *TransportError) IsRetryable() bool {
	return e.Kind == KindNetwork || e.Kind == KindServer
}

// NewTransportError creates a new TransportError
func NewTransportError(op string, kind ErrorKind, message string) *TransportError {
	return &TransportError{
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WithStatus adds the HTTP status code
func (e *TransportError) WithStatus(code int) *TransportError {
	e.StatusCode = code
	return e
}

// WithBody adds the response body to the error for debugging
func (e *TransportError) WithBody(body string) *TransportError {
	e.Body = body
	return e
}

// WithError wraps an underlying error
func (e *TransportError) WithError(err error) *TransportError {
	e.Err = err
	return e
}

// NotFound builds the error every store returns for a missing file
func NotFound(op, fileID string) *TransportError {
	return NewTransportError(op, KindNotFound, fmt.Sprintf("no remote file %q", fileID))
}

// AsTransportError extracts a TransportError from err
func AsTransportError(err error) (*TransportError, bool) {
	var te *TransportError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// IsNotFound reports whether err means the remote file does not exist
func IsNotFound(err error) bool {
	te, ok := AsTransportError(err)
	return ok && te.IsNotFound()
}

// IsUnauthorized reports whether err is an authentication failure
func IsUnauthorized(err error) bool {
	te, ok := AsTransportError(err)
	return ok && te.IsUnauthorized()
}

// IsQuotaExceeded reports whether err means the remote is full
func IsQuotaExceeded(err error) bool {
	te, ok := AsTransportError(err)
	return ok && te.IsQuotaExceeded()
}
