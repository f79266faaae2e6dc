// Package domainerr defines the tagged error kinds surfaced by the escrow core.
// Every error returned by the ledger, order and escrow packages carries exactly
// one Kind, which survives wrapping and is translated to a transport status by
// the request layer.
package domainerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a domain failure.
type Kind int

const (
	// KindUnknown marks errors that did not originate in the domain (bugs, unclassified infra failures).
	KindUnknown Kind = iota
	KindNotFound
	KindForbidden
	KindInvalidOperation
	KindListingUnavailable
	KindInsufficientFunds
	KindInvalidStateTransition
	KindConflict
	// KindTransient means the store was unavailable; the call made no mutation and is safe to retry.
	KindTransient
)

var kindCodes = map[Kind]string{
	KindUnknown:                "INTERNAL",
	KindNotFound:               "NOT_FOUND",
	KindForbidden:              "FORBIDDEN",
	KindInvalidOperation:       "INVALID_OPERATION",
	KindListingUnavailable:     "LISTING_UNAVAILABLE",
	KindInsufficientFunds:      "INSUFFICIENT_FUNDS",
	KindInvalidStateTransition: "INVALID_STATE_TRANSITION",
	KindConflict:               "CONFLICT",
	KindTransient:              "TRANSIENT",
}

// String returns the stable machine-readable code for the kind.
func (k Kind) String() string {
	if code, ok := kindCodes[k]; ok {
		return code
	}
	return fmt.Sprintf("KIND(%d)", int(k))
}

// Error is a domain failure tagged with a Kind.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return e.Message + ": " + e.Err.Error()
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports a match against a sentinel of the same kind. A sentinel is an
// *Error with no message, so errors.Is(err, ErrNotFound) matches any NotFound.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Message == "" && t.Err == nil {
		return t.Kind == e.Kind
	}
	return t == e
}

// Sentinels for errors.Is checks.
var (
	ErrNotFound               = &Error{Kind: KindNotFound}
	ErrForbidden              = &Error{Kind: KindForbidden}
	ErrInvalidOperation       = &Error{Kind: KindInvalidOperation}
	ErrListingUnavailable     = &Error{Kind: KindListingUnavailable}
	ErrInsufficientFunds      = &Error{Kind: KindInsufficientFunds}
	ErrInvalidStateTransition = &Error{Kind: KindInvalidStateTransition}
	ErrConflict               = &Error{Kind: KindConflict}
	ErrTransient              = &Error{Kind: KindTransient}
)

// New builds a tagged error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds a tagged error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap tags an underlying error with a kind.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}

// IsTransient reports whether err may be retried with the same references.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

// HTTPStatus maps a kind to the status code used by the request layer.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindInvalidOperation:
		return http.StatusUnprocessableEntity
	case KindListingUnavailable, KindInvalidStateTransition, KindConflict:
		return http.StatusConflict
	case KindInsufficientFunds:
		return http.StatusPaymentRequired
	case KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
