// Package apperr defines the error taxonomy surfaced by the ledger engine.
// Every rejected operation carries a Kind and a human-readable message.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a rejected operation.
type Kind string

const (
	KindNotFound             Kind = "not_found"
	KindInsufficientFunds    Kind = "insufficient_funds"
	KindInsufficientQuantity Kind = "insufficient_quantity"
	KindAlreadyProcessed     Kind = "already_processed"
	KindInvalidConfiguration Kind = "invalid_configuration"
	KindValidation           Kind = "validation"
	KindInternal             Kind = "internal"
)

// Error is a classified error. Two errors match under errors.Is when their
// kinds are equal, so callers can compare against the sentinels below.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrNotFound             = &Error{Kind: KindNotFound, Message: "not found"}
	ErrInsufficientFunds    = &Error{Kind: KindInsufficientFunds, Message: "insufficient funds"}
	ErrInsufficientQuantity = &Error{Kind: KindInsufficientQuantity, Message: "insufficient quantity"}
	ErrAlreadyProcessed     = &Error{Kind: KindAlreadyProcessed, Message: "already processed"}
	ErrInvalidConfiguration = &Error{Kind: KindInvalidConfiguration, Message: "invalid configuration"}
	ErrValidation           = &Error{Kind: KindValidation, Message: "validation failed"}
)

// New returns an *Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

func InsufficientFunds(format string, args ...any) *Error {
	return New(KindInsufficientFunds, format, args...)
}

func AlreadyProcessed(format string, args ...any) *Error {
	return New(KindAlreadyProcessed, format, args...)
}

func InvalidConfiguration(format string, args ...any) *Error {
	return New(KindInvalidConfiguration, format, args...)
}

func Validation(format string, args ...any) *Error {
	return New(KindValidation, format, args...)
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
