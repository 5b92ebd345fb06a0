// Package memerr provides the unified error taxonomy for the memory engine.
package memerr

import (
	"errors"
	"fmt"
)

// Kind is the semantic category of a failure, per the error handling design.
type Kind string

const (
	NotFound         Kind = "NOT_FOUND"
	Validation       Kind = "VALIDATION"
	Io               Kind = "IO"
	ModelUnavailable Kind = "MODEL_UNAVAILABLE"
	Timeout          Kind = "TIMEOUT"
	Corruption       Kind = "CORRUPTION"
	Internal         Kind = "INTERNAL"
)

// Error is a typed, wrappable error carrying a Kind for policy decisions
// upstream (degrade vs. surface, which JSON-RPC code to use).
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports Kind-equality so errors.Is checks against a sentinel built with
// the same Kind succeed regardless of message or wrapped cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// KindOf extracts the Kind of err, defaulting to Internal for plain errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// JSONRPCCode maps a Kind to the JSON-RPC 2.0 error code the rpcserver
// surfaces for it. Idempotent operations never surface NotFound; uncaught
// failures collapse to Internal per the propagation policy.
func JSONRPCCode(k Kind) int {
	switch k {
	case Validation:
		return -32602
	case NotFound:
		return -32601
	default:
		return -32603
	}
}

// Sentinels for errors.Is comparisons where no wrapped cause is needed.
var (
	ErrNotFound         = New(NotFound, "not found")
	ErrValidation       = New(Validation, "invalid request")
	ErrModelUnavailable = New(ModelUnavailable, "model unavailable")
)
