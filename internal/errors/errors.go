package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorType classifies a failure for status mapping and the failure ledger.
type ErrorType int

const (
	ErrorTypeConfig ErrorType = iota
	// unparseable timestamp, missing CSV header, empty dataset
	ErrorTypeMalformedInput
	ErrorTypeDatabase
	// transient fault reaching an upstream service
	ErrorTypeNetwork
	ErrorTypeFileSystem
	// upstream service or external tool failed for good
	ErrorTypeSourceUnavailable
	// every rotating credential was refused
	ErrorTypeRateLimit
	ErrorTypeNoCredentials
	// project, month or family absent from the store
	ErrorTypeNotFound
	// some pipeline stages failed, others succeeded
	ErrorTypePartialPipeline
	ErrorTypeInternal
)

// Severity decides whether a command aborts.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	// SeverityCritical errors stop the run
	SeverityCritical
)

// Sentinels comparable with errors.Is. Matching is by type, so any
// *Error of the same type satisfies errors.Is against these.
var (
	ErrNoCredentialsConfigured = &Error{Type: ErrorTypeNoCredentials, Severity: SeverityCritical, Message: "no credentials configured"}
	ErrRateLimitExhausted      = &Error{Type: ErrorTypeRateLimit, Severity: SeverityHigh, Message: "rate limit exhausted on every credential"}
	ErrNotFound                = &Error{Type: ErrorTypeNotFound, Severity: SeverityLow, Message: "not found"}
)

// Error carries a category and severity alongside the message. API
// handlers map Type to a status code and show Message to the caller.
type Error struct {
	Type     ErrorType
	Severity Severity
	Message  string
	Cause    error
	Context  map[string]interface{}
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return e.Message + ": " + e.Cause.Error()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithContext attaches a detail for logs and the failure ledger. It never
// changes the message.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// ContextOf merges the context of every *Error in the chain, outermost
// values winning. It returns nil when there is none.
func ContextOf(err error) map[string]interface{} {
	var out map[string]interface{}
	for err != nil {
		if e, ok := err.(*Error); ok {
			for k, v := range e.Context {
				if out == nil {
					out = make(map[string]interface{})
				}
				if _, seen := out[k]; !seen {
					out[k] = v
				}
			}
		}
		err = stderrors.Unwrap(err)
	}
	return out
}

// Is matches any *Error of the same type.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e.Type == t.Type
}

// String returns the wire name of the error type.
func (t ErrorType) String() string {
	switch t {
	case ErrorTypeConfig:
		return "config"
	case ErrorTypeMalformedInput:
		return "malformed_input"
	case ErrorTypeDatabase:
		return "database"
	case ErrorTypeNetwork, ErrorTypeSourceUnavailable:
		return "source_unavailable"
	case ErrorTypeFileSystem:
		return "filesystem"
	case ErrorTypeRateLimit:
		return "rate_limit_exhausted"
	case ErrorTypeNoCredentials:
		return "no_credentials"
	case ErrorTypeNotFound:
		return "not_found"
	case ErrorTypePartialPipeline:
		return "partial_pipeline_failure"
	case ErrorTypeInternal:
		return "internal"
	}
	return "unknown"
}

func New(errType ErrorType, severity Severity, message string) *Error {
	return &Error{Type: errType, Severity: severity, Message: message}
}

func Newf(errType ErrorType, severity Severity, format string, args ...interface{}) *Error {
	return New(errType, severity, fmt.Sprintf(format, args...))
}

// Wrap returns nil when err is nil.
func Wrap(err error, errType ErrorType, severity Severity, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Type: errType, Severity: severity, Message: message, Cause: err}
}

func Wrapf(err error, errType ErrorType, severity Severity, format string, args ...interface{}) *Error {
	return Wrap(err, errType, severity, fmt.Sprintf(format, args...))
}

func ConfigErrorf(format string, args ...interface{}) *Error {
	return New(ErrorTypeConfig, SeverityCritical, fmt.Sprintf(format, args...))
}

// MalformedInputf creates a malformed input error with formatting
func MalformedInputf(format string, args ...interface{}) *Error {
	return New(ErrorTypeMalformedInput, SeverityLow, fmt.Sprintf(format, args...))
}

// NotFoundf creates a not-found error whose message is user facing
func NotFoundf(format string, args ...interface{}) *Error {
	return New(ErrorTypeNotFound, SeverityLow, fmt.Sprintf(format, args...))
}

// DatabaseError wraps a store error
func DatabaseError(err error, message string) *Error {
	return Wrap(err, ErrorTypeDatabase, SeverityCritical, message)
}

// DatabaseErrorf wraps a store error with formatting
func DatabaseErrorf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, ErrorTypeDatabase, SeverityCritical, fmt.Sprintf(format, args...))
}

// NetworkError wraps a transient network error
func NetworkError(err error, message string) *Error {
	return Wrap(err, ErrorTypeNetwork, SeverityHigh, message)
}

func FileSystemErrorf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, ErrorTypeFileSystem, SeverityHigh, fmt.Sprintf(format, args...))
}

// SourceUnavailable wraps a non-transient upstream failure
func SourceUnavailable(err error, message string) *Error {
	return Wrap(err, ErrorTypeSourceUnavailable, SeverityMedium, message)
}

// SourceUnavailablef creates an upstream failure with formatting
func SourceUnavailablef(format string, args ...interface{}) *Error {
	return New(ErrorTypeSourceUnavailable, SeverityMedium, fmt.Sprintf(format, args...))
}

func InternalErrorf(format string, args ...interface{}) *Error {
	return New(ErrorTypeInternal, SeverityCritical, fmt.Sprintf(format, args...))
}

// IsFatal reports whether err carries critical severity.
func IsFatal(err error) bool {
	var e *Error
	return stderrors.As(err, &e) && e.Severity == SeverityCritical
}

// IsTransient reports whether err is a network fault worth retrying.
func IsTransient(err error) bool {
	return GetType(err) == ErrorTypeNetwork
}

// GetType returns the type of the first *Error in the chain
func GetType(err error) ErrorType {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeInternal
}
