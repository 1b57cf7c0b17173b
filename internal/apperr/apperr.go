// Package apperr defines the error taxonomy shared by the order and promo
// services.
//
// Every domain error carries a Kind, which decides the HTTP status, and a
// stable Code, which survives a round trip over the wire so that a client can
// rebuild the exact domain error returned by a remote service.
package apperr

import (
	"fmt"
	"sync"

	"github.com/go-faster/errors"
)

// Kind classifies an error for transport mapping.
type Kind uint8

const (
	KindInternal Kind = iota
	KindNotFound
	KindConflict
	KindUnauthorized
	KindInvalidState
	KindIntegration
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindUnauthorized:
		return "unauthorized"
	case KindInvalidState:
		return "invalid_state"
	case KindIntegration:
		return "integration_failure"
	case KindValidation:
		return "validation"
	default:
		return "internal"
	}
}

// FieldError describes a single violated request field.
type FieldError struct {
	Field   string
	Message string
}

// Error is a classified domain error.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Fields  []FieldError

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// Is reports whether target is an *Error with the same code, so a copy
// rebuilt from a remote response matches the local sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

var (
	registryMu sync.RWMutex
	registry   = map[string]*Error{}
)

// New creates a sentinel error and registers its code for Lookup.
func New(kind Kind, code, message string) *Error {
	e := &Error{Kind: kind, Code: code, Message: message}

	registryMu.Lock()
	registry[code] = e
	registryMu.Unlock()

	return e
}

// Lookup returns the registered sentinel for code.
func Lookup(code string) (*Error, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	e, ok := registry[code]
	return e, ok
}

// Integration wraps a remote call failure. The cause is kept for logs and
// errors.Is checks but never rendered to clients.
func Integration(op string, err error) *Error {
	return &Error{
		Kind:    KindIntegration,
		Code:    "INTEGRATION_FAILURE",
		Message: op + " unavailable",
		cause:   err,
	}
}

// Validation builds an aggregated validation error.
func Validation(fields []FieldError) *Error {
	return &Error{
		Kind:    KindValidation,
		Code:    "VALIDATION_FAILED",
		Message: "request validation failed",
		Fields:  fields,
	}
}

// WithMessage returns a copy of e that reports message instead of the
// sentinel's default text.
func (e *Error) WithMessage(message string) *Error {
	cp := *e
	cp.Message = message
	return &cp
}

// As extracts the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}
