// Package domainerrors provides code-classified errors for the engine.
//
// Services return these so transport layers can translate them to HTTP
// statuses without inspecting message strings. Stores return sentinel errors
// (pkg/platform/sentinel); services wrap them here with the right code.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies an error for callers.
type Code string

const (
	// CodeInvalidInput: the caller supplied a bad parameter and can correct it.
	CodeInvalidInput Code = "invalid_input"
	// CodeNotFound: the referenced entity does not exist.
	CodeNotFound Code = "not_found"
	// CodeConflict: a concurrent mutation won; retry with fresh state.
	CodeConflict Code = "conflict"
	// CodeUnauthorized: missing or invalid credentials.
	CodeUnauthorized Code = "unauthorized"
	// CodeForbidden: authenticated but not permitted (access layer denial).
	CodeForbidden Code = "forbidden"
	// CodeModelNotTrained: prediction requested before any successful training run.
	CodeModelNotTrained Code = "model_not_trained"
	// CodeImmutabilityViolation: an append-only store was asked to mutate an
	// entry. This indicates a programming defect and must never be silently
	// caught.
	CodeImmutabilityViolation Code = "immutability_violation"
	// CodeIntegrityMismatch: stored evidence no longer matches its content hash.
	CodeIntegrityMismatch Code = "integrity_mismatch"
	// CodeInternal: unexpected failure; details stay out of responses.
	CodeInternal Code = "internal_error"
)

// Error is a code-classified domain error.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a domain error with the given code and message.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf creates a domain error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a code and message while preserving the cause.
func Wrap(err error, code Code, message string) error {
	return &Error{Code: code, Message: message, Err: err}
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf extracts the code from err, defaulting to CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// Detail extracts the user-facing message from err. Internal errors return a
// generic message so infrastructure details never leak into responses.
func Detail(err error) string {
	var de *Error
	if errors.As(err, &de) && de.Code != CodeInternal {
		return de.Message
	}
	return "internal server error"
}

// HTTPStatus maps a code to its HTTP response status.
func HTTPStatus(code Code) int {
	switch code {
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeModelNotTrained, CodeIntegrityMismatch:
		return http.StatusConflict
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
