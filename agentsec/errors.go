package agentsec

import "fmt"

// ErrorKind is the closed set of failure categories a caller of this
// package must be able to distinguish, per the error handling design.
type ErrorKind string

const (
	// KindValidation covers bad inputs: invalid URL, method, payload
	// shape, empty messages, non-base64 body. Never retried.
	KindValidation ErrorKind = "validation"
	// KindAuthentication covers HTTP 401 from the inspection service.
	// Never retried.
	KindAuthentication ErrorKind = "authentication"
	// KindAPI covers other 4xx/5xx, network failures and timeouts.
	// Retried according to the active retry policy.
	KindAPI ErrorKind = "api"
	// KindSecurityPolicy covers inspection returning block under
	// on_enforce, or inspection failing with fail_open=false.
	KindSecurityPolicy ErrorKind = "security_policy"
	// KindResponseParse covers malformed responses from the
	// management-plane façade.
	KindResponseParse ErrorKind = "response_parse"
)

// Error is the structured failure type surfaced by this module. It
// always carries a Kind; Retryable and HTTPStatus are best-effort
// metadata used by the retry policy and logging.
type Error struct {
	Kind       ErrorKind
	Message    string
	HTTPStatus int
	Retryable  bool
	Provider   string
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Cause }

// NewError builds an Error of the given kind.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WithCause attaches the triggering error and returns the receiver.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus attaches the originating HTTP status and returns the
// receiver.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error retryable and returns the receiver.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider attaches the provider name (openai, bedrock, ...) and
// returns the receiver.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// IsRetryable reports whether err is an *Error marked retryable.
func IsRetryable(err error) bool {
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Retryable
	}
	return false
}

// KindOf extracts the ErrorKind from err, or "" if err is not an
// *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Kind
	}
	return ""
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// SecurityPolicyError is raised when enforcement interrupts a call: a
// block decision under on_enforce, or a failed inspection under
// fail_open=false. It always carries the Decision that triggered it.
type SecurityPolicyError struct {
	Err      *Error
	Decision Decision
}

// NewSecurityPolicyError builds a SecurityPolicyError carrying the
// triggering Decision.
func NewSecurityPolicyError(message string, decision Decision) *SecurityPolicyError {
	return &SecurityPolicyError{
		Err:      &Error{Kind: KindSecurityPolicy, Message: message, Retryable: false},
		Decision: decision,
	}
}

func (e *SecurityPolicyError) Unwrap() error { return e.Err }

func (e *SecurityPolicyError) Error() string { return e.Err.Error() }
