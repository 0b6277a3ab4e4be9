// Package apperr defines the error taxonomy shared by the stores, the checkout
// orchestrator and the HTTP layer. Callers classify errors with errors.As on
// *Error and never by message text.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for retry and transport mapping.
type Kind string

const (
	// KindValidation is malformed or missing input. Never retried.
	KindValidation Kind = "validation"
	// KindBusiness is a business-rule rejection (empty cart, insufficient stock). Never retried.
	KindBusiness Kind = "business"
	// KindNotFound means the addressed record does not exist or is not visible to the caller.
	KindNotFound Kind = "not_found"
	// KindConflict is a non-retryable conflict such as a payment reference reused on another order.
	KindConflict Kind = "conflict"
	// KindTransient is an infrastructure failure expected to succeed on retry.
	KindTransient Kind = "transient"
	// KindUnauthorized means no trusted user identity was supplied.
	KindUnauthorized Kind = "unauthorized"
	// KindInternal is anything unclassified.
	KindInternal Kind = "internal"
)

// FieldError is one field-level validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is the typed error carried across package boundaries.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details []FieldError
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error of the given kind.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Newf is New with a formatted message.
func Newf(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and code to an underlying error.
func Wrap(kind Kind, code string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: err.Error(), Err: err}
}

// Validation builds a validation error with field details.
func Validation(message string, details ...FieldError) *Error {
	return &Error{Kind: KindValidation, Code: "validation_failed", Message: message, Details: details}
}

// Transient marks err as retryable infrastructure failure.
func Transient(code string, err error) *Error {
	return Wrap(KindTransient, code, err)
}

// KindOf reports the kind of err, KindInternal when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// IsTransient is the retry classifier used with internal/retry.
func IsTransient(err error) bool {
	return IsKind(err, KindTransient)
}
