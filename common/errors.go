package common

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure by the handling policy it requires.
type ErrorKind int

const (
	// KindAuth - credential missing, invalid or expired. Close the
	// socket / answer 401.
	KindAuth ErrorKind = iota + 1
	// KindAuthorisation - authenticated user lacks access to the
	// requested document. Reject the join / answer 403.
	KindAuthorisation
	// KindProtocol - malformed event or payload. Answer the offending
	// peer, never propagate.
	KindProtocol
	// KindTransientInfra - pub/sub, broker or store briefly unavailable.
	// Bounded retry, degrade gracefully.
	KindTransientInfra
	// KindReconciliation - OT transform or apply failure. Log, dead-letter
	// the input, continue consuming.
	KindReconciliation
	// KindPersistence - database or object-store write failure. Retry,
	// keep dirty state, never drop reconciled content.
	KindPersistence
	// KindFatal - missing configuration or unrecoverable corruption.
	// Exit non-zero so the supervisor restarts the process.
	KindFatal
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindAuthorisation:
		return "authorisation"
	case KindProtocol:
		return "protocol"
	case KindTransientInfra:
		return "transient"
	case KindReconciliation:
		return "reconciliation"
	case KindPersistence:
		return "persistence"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is a kinded error. Processing code branches on the kind instead
// of string matching; the wrapped cause is preserved for logs.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// NewAuthError builds a KindAuth error.
func NewAuthError(msg string, cause error) *Error {
	return &Error{Kind: KindAuth, Msg: msg, Err: cause}
}

// NewAuthorisationError builds a KindAuthorisation error.
func NewAuthorisationError(msg string, cause error) *Error {
	return &Error{Kind: KindAuthorisation, Msg: msg, Err: cause}
}

// NewProtocolError builds a KindProtocol error.
func NewProtocolError(msg string, cause error) *Error {
	return &Error{Kind: KindProtocol, Msg: msg, Err: cause}
}

// NewTransientError builds a KindTransientInfra error.
func NewTransientError(msg string, cause error) *Error {
	return &Error{Kind: KindTransientInfra, Msg: msg, Err: cause}
}

// NewReconciliationError builds a KindReconciliation error.
func NewReconciliationError(msg string, cause error) *Error {
	return &Error{Kind: KindReconciliation, Msg: msg, Err: cause}
}

// NewPersistenceError builds a KindPersistence error.
func NewPersistenceError(msg string, cause error) *Error {
	return &Error{Kind: KindPersistence, Msg: msg, Err: cause}
}

// NewFatalError builds a KindFatal error.
func NewFatalError(msg string, cause error) *Error {
	return &Error{Kind: KindFatal, Msg: msg, Err: cause}
}

// HasKind reports whether err or anything it wraps is a kinded error of
// the given kind.
func HasKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// IsAuthError reports a KindAuth failure.
func IsAuthError(err error) bool { return HasKind(err, KindAuth) }

// IsAuthorisationError reports a KindAuthorisation failure.
func IsAuthorisationError(err error) bool { return HasKind(err, KindAuthorisation) }

// IsProtocolError reports a KindProtocol failure.
func IsProtocolError(err error) bool { return HasKind(err, KindProtocol) }

// IsFatalError reports a KindFatal failure.
func IsFatalError(err error) bool { return HasKind(err, KindFatal) }
