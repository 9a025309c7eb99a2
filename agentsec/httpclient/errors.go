package httpclient

import (
	"fmt"
	"time"
)

// ErrorKind mirrors agentsec.ErrorKind without importing the root
// package, avoiding an import cycle (agentsec imports httpclient, not
// the reverse). Callers read the kind, status and message through
// KindErrorFrom and build their own typed error from them.
type ErrorKind string

const (
	KindValidation     ErrorKind = "validation"
	KindAuthentication ErrorKind = "authentication"
	KindAPI            ErrorKind = "api"
)

// kindError is the internal error shape produced by response-status
// mapping; Kind, StatusCode and Message are exported via accessors so
// callers outside the package can build their own typed error from it.
type kindError struct {
	kind       ErrorKind
	statusCode int
	message    string
	retryAfter time.Duration
}

func (e *kindError) Error() string {
	return fmt.Sprintf("%s (status %d): %s", e.kind, e.statusCode, e.message)
}

// Kind reports the error-kind category.
func (e *kindError) Kind() ErrorKind { return e.kind }

// StatusCode reports the originating HTTP status, or 0 for transport
// failures that never received a response.
func (e *kindError) StatusCode() int { return e.statusCode }

// Message reports the extracted human-readable error message.
func (e *kindError) Message() string { return e.message }

// NewValidationError builds a client-side validation failure (bad
// method, malformed URL, unencodable body, ...).
func NewValidationError(message string) error {
	return &kindError{kind: KindValidation, message: message}
}

// KindErrorFrom extracts (kind, statusCode, message, ok) from err if
// it originated from this package's response-status mapping.
func KindErrorFrom(err error) (kind ErrorKind, statusCode int, message string, ok bool) {
	ke, isKind := err.(*kindError)
	if !isKind {
		return "", 0, "", false
	}
	return ke.kind, ke.statusCode, ke.message, true
}

// mapToKindError ensures the error returned by Do always carries kind
// information: transport-level failures (no response at all) are
// wrapped as API errors, already-kinded failures pass through.
func mapToKindError(err error, resp *Response) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*kindError); ok {
		return err
	}
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	return &kindError{kind: KindAPI, statusCode: status, message: err.Error()}
}
