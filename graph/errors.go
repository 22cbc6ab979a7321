package graph

import (
	"github.com/libraria/libraria/store"
)

// Machine-readable error codes surfaced in the GraphQL extensions map.
const (
	codeBadUserInput    = "BAD_USER_INPUT"
	codeNotFound        = "NOT_FOUND"
	codeUnauthenticated = "UNAUTHENTICATED"
	codeUpstream        = "UPSTREAM_ERROR"
)

// requestError is the uniform caller-facing error for resolver failures:
// a human message, a machine-readable code and optionally the offending
// input echoed back. The original cause is retained for server-side
// diagnostics but never serialized to the caller.
type requestError struct {
	message     string
	code        string
	invalidArgs any
	cause       error
}

// Error implements the error interface.
func (e *requestError) Error() string {
	return e.message
}

// Unwrap returns the internal cause, for logging only.
func (e *requestError) Unwrap() error {
	return e.cause
}

// Extensions marks the error for the GraphQL errors array.
func (e *requestError) Extensions() map[string]any {
	ext := map[string]any{"code": e.code}
	if e.invalidArgs != nil {
		ext["invalidArgs"] = e.invalidArgs
	}
	return ext
}

func errUnauthenticated() *requestError {
	return &requestError{
		message: "you must be logged in",
		code:    codeUnauthenticated,
	}
}

func errWrongCredentials() *requestError {
	return &requestError{
		message: "wrong credentials",
		code:    codeBadUserInput,
	}
}

func errBadInput(message string, invalidArgs any, cause error) *requestError {
	return &requestError{
		message:     message,
		code:        codeBadUserInput,
		invalidArgs: invalidArgs,
		cause:       cause,
	}
}

func errNotFound(message string, invalidArgs any) *requestError {
	return &requestError{
		message:     message,
		code:        codeNotFound,
		invalidArgs: invalidArgs,
	}
}

// storeError maps a data-access failure onto the caller-facing taxonomy.
// Validation and uniqueness failures echo the offending input; anything
// unclassified surfaces as a generic upstream error so driver internals
// never leak.
func storeError(err error, message string, invalidArgs any) *requestError {
	kind, ok := store.KindOf(err)
	if !ok {
		kind = store.KindUnavailable
	}

	switch kind {
	case store.KindValidation, store.KindDuplicate:
		return errBadInput(message, invalidArgs, err)
	case store.KindNotFound:
		return &requestError{
			message:     message,
			code:        codeNotFound,
			invalidArgs: invalidArgs,
			cause:       err,
		}
	default:
		return &requestError{
			message:     "data access failed",
			code:        codeUpstream,
			invalidArgs: invalidArgs,
			cause:       err,
		}
	}
}
