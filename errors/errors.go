// Package errors provides standardized error handling for libraria.
// It classifies errors by how callers should treat them (invalid input,
// missing entity, missing identity, upstream failure, transport misuse,
// fatal) and offers helpers for consistent wrapping across the system.
package errors

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of errors for handling purposes.
type ErrorClass int

const (
	// ErrorInvalid represents errors due to invalid or malformed input.
	ErrorInvalid ErrorClass = iota
	// ErrorNotFound represents references to entities that do not exist.
	ErrorNotFound
	// ErrorUnauthenticated represents operations that require an identity
	// the caller did not supply or could not prove.
	ErrorUnauthenticated
	// ErrorUpstream represents data-access or dependency failures that are
	// not the caller's fault.
	ErrorUpstream
	// ErrorTransport represents operations sent over a transport that does
	// not support them.
	ErrorTransport
	// ErrorFatal represents unrecoverable errors that should stop the process.
	ErrorFatal
)

// String returns the string representation of ErrorClass.
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorInvalid:
		return "invalid"
	case ErrorNotFound:
		return "not_found"
	case ErrorUnauthenticated:
		return "unauthenticated"
	case ErrorUpstream:
		return "upstream"
	case ErrorTransport:
		return "transport"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions.
var (
	// Lifecycle errors
	ErrAlreadyStarted = errors.New("server already started")
	ErrNotStarted     = errors.New("server not started")
	ErrShuttingDown   = errors.New("server is shutting down")

	// Authentication errors
	ErrInvalidCredential = errors.New("invalid credential")
	ErrTokenExpired      = errors.New("token expired")
	ErrNotAuthenticated  = errors.New("not authenticated")
	ErrWrongCredentials  = errors.New("wrong credentials")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")

	// Schema errors
	ErrSchemaCompilation = errors.New("schema compilation failed")

	// Transport errors
	ErrUnsupportedOperation = errors.New("operation not supported on this transport")
	ErrConnectionClosed     = errors.New("connection closed")
)

// ClassifiedError wraps an error with its classification.
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface.
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error.
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// classOf extracts the class of an error. The second return reports whether
// the error carried an explicit classification.
func classOf(err error) (ErrorClass, bool) {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class, true
	}
	return ErrorUpstream, false
}

// IsInvalid reports whether an error is due to invalid input.
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := classOf(err); ok {
		return class == ErrorInvalid
	}
	return errors.Is(err, ErrInvalidConfig) || errors.Is(err, ErrMissingConfig)
}

// IsNotFound reports whether an error refers to a missing entity.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	class, ok := classOf(err)
	return ok && class == ErrorNotFound
}

// IsUnauthenticated reports whether an error is a missing or unprovable identity.
func IsUnauthenticated(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := classOf(err); ok {
		return class == ErrorUnauthenticated
	}
	return errors.Is(err, ErrInvalidCredential) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrNotAuthenticated)
}

// IsUpstream reports whether an error is a dependency failure.
// Unclassified errors default to upstream so they surface rather than
// silently degrade.
func IsUpstream(err error) bool {
	if err == nil {
		return false
	}
	class, _ := classOf(err)
	return class == ErrorUpstream
}

// IsTransport reports whether an error is a transport protocol violation.
func IsTransport(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := classOf(err); ok {
		return class == ErrorTransport
	}
	return errors.Is(err, ErrUnsupportedOperation)
}

// IsFatal reports whether an error should stop the process.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := classOf(err); ok {
		return class == ErrorFatal
	}
	return errors.Is(err, ErrSchemaCompilation)
}

// Classify returns the error class for an error.
func Classify(err error) ErrorClass {
	if class, ok := classOf(err); ok {
		return class
	}
	switch {
	case IsInvalid(err):
		return ErrorInvalid
	case IsUnauthenticated(err):
		return ErrorUnauthenticated
	case IsTransport(err):
		return ErrorTransport
	case IsFatal(err):
		return ErrorFatal
	default:
		return ErrorUpstream
	}
}

// newClassified creates a new classified error.
// Internal helper - use the Wrap* constructors instead.
func newClassified(class ErrorClass, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func wrapClass(class ErrorClass, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(class, wrappedErr, component, method, wrappedErr.Error())
}

// WrapInvalid wraps an error as invalid input with context.
func WrapInvalid(err error, component, method, action string) error {
	return wrapClass(ErrorInvalid, err, component, method, action)
}

// WrapNotFound wraps an error as a missing entity with context.
func WrapNotFound(err error, component, method, action string) error {
	return wrapClass(ErrorNotFound, err, component, method, action)
}

// WrapUnauthenticated wraps an error as a failed identity proof with context.
func WrapUnauthenticated(err error, component, method, action string) error {
	return wrapClass(ErrorUnauthenticated, err, component, method, action)
}

// WrapUpstream wraps an error as an upstream dependency failure with context.
func WrapUpstream(err error, component, method, action string) error {
	return wrapClass(ErrorUpstream, err, component, method, action)
}

// WrapTransport wraps an error as a transport protocol violation with context.
func WrapTransport(err error, component, method, action string) error {
	return wrapClass(ErrorTransport, err, component, method, action)
}

// WrapFatal wraps an error as fatal with context.
func WrapFatal(err error, component, method, action string) error {
	return wrapClass(ErrorFatal, err, component, method, action)
}

// Is reports whether any error in err's chain matches target.
// Re-exported so callers don't need both this package and stdlib errors.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// New returns an error that formats as the given text.
func New(text string) error {
	return errors.New(text)
}
