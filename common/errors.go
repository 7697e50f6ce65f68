package common

import (
	"errors"
	"fmt"
)

// ErrorKind classifies domain errors returned by the bridge components.
// Every kind maps to a distinct RPC error code so callers can react
// programmatically, while Reason is surfaced to users verbatim.
type ErrorKind string

const (
	// KindValidation malformed input, rejected before touching state
	KindValidation ErrorKind = "validation"
	// KindOrdering stale epoch or nonce, existing state untouched
	KindOrdering ErrorKind = "ordering"
	// KindProof proof verification failure, reason recorded for audit
	KindProof ErrorKind = "proof"
	// KindNotFound unknown network, commit or exit reference
	KindNotFound ErrorKind = "not_found"
	// KindTimeout the verifier exceeded its budget
	KindTimeout ErrorKind = "timeout"
	// KindConflict two concurrent submissions raced on the same epoch or nonce
	KindConflict ErrorKind = "conflict"
)

// BridgeError is the error type shared by all bridge components.
type BridgeError struct {
	Kind   ErrorKind
	Reason string
}

func (e *BridgeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func newError(kind ErrorKind, format string, args ...interface{}) *BridgeError {
	return &BridgeError{
		Kind:   kind,
		Reason: fmt.Sprintf(format, args...),
	}
}

// NewValidationError builds a BridgeError of kind validation.
func NewValidationError(format string, args ...interface{}) *BridgeError {
	return newError(KindValidation, format, args...)
}

// NewOrderingError builds a BridgeError of kind ordering.
func NewOrderingError(format string, args ...interface{}) *BridgeError {
	return newError(KindOrdering, format, args...)
}

// NewProofError builds a BridgeError of kind proof.
func NewProofError(format string, args ...interface{}) *BridgeError {
	return newError(KindProof, format, args...)
}

// NewNotFoundError builds a BridgeError of kind not_found.
func NewNotFoundError(format string, args ...interface{}) *BridgeError {
	return newError(KindNotFound, format, args...)
}

// NewTimeoutError builds a BridgeError of kind timeout.
func NewTimeoutError(format string, args ...interface{}) *BridgeError {
	return newError(KindTimeout, format, args...)
}

// NewConflictError builds a BridgeError of kind conflict.
func NewConflictError(format string, args ...interface{}) *BridgeError {
	return newError(KindConflict, format, args...)
}

// KindOf returns the kind of err, or an empty kind when err is not a BridgeError.
func KindOf(err error) ErrorKind {
	var be *BridgeError
	if errors.As(err, &be) {
		return be.Kind
	}
	return ErrorKind("")
}

// IsKind reports whether err is a BridgeError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// ReasonOf returns the user facing reason of err. Non BridgeError errors
// return their plain Error() string.
func ReasonOf(err error) string {
	var be *BridgeError
	if errors.As(err, &be) {
		return be.Reason
	}
	return err.Error()
}
