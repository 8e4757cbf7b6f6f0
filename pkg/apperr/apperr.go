// Package apperr defines the two error kinds surfaced to the user.
//
// Validation errors reject an action because a required field, selection or
// pending rectangle is missing; the session state is unchanged. IO errors
// come from file, decoder or network boundaries and also leave the state
// unchanged. Neither kind is fatal.
//
// Usage:
//
//	if label == "" {
//		return apperr.Validation("commit box", "label is required")
//	}
//	if err := os.WriteFile(path, data, 0o644); err != nil {
//		return apperr.IO("save dataset", err)
//	}
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error.
type Kind int

const (
	// KindValidation marks a rejected user action.
	KindValidation Kind = iota + 1
	// KindIO marks a failed read, write or decode.
	KindIO
)

// String returns the lowercase kind name used in API responses.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindIO:
		return "io"
	default:
		return "unknown"
	}
}

// Error carries the kind, the operation that failed and an optional cause.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

// Validation returns a validation error for op.
func Validation(op, message string) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: message}
}

// Validationf is Validation with a format string.
func Validationf(op, format string, args ...any) *Error {
	return Validation(op, fmt.Sprintf(format, args...))
}

// IO wraps cause as an IO error for op.
func IO(op string, cause error) *Error {
	return &Error{Kind: KindIO, Op: op, Cause: cause}
}

// Error returns "[op] message: cause", omitting empty parts.
func (e *Error) Error() string {
	base := fmt.Sprintf("[%s]", e.Op)
	if e.Message != "" {
		base += " " + e.Message
	}
	if e.Cause != nil {
		if e.Message != "" {
			base += ":"
		}
		base += " " + e.Cause.Error()
	}
	return base
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// KindOf reports the kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool {
	return KindOf(err) == KindValidation
}

// IsIO reports whether err is an IO error.
func IsIO(err error) bool {
	return KindOf(err) == KindIO
}
