package models

import (
	"context"
	"errors"
	"net"
)

// ErrorKind is the machine-readable category of an Error.
type ErrorKind string

const (
	// KindValidation is a missing or malformed input caught before any
	// network call.
	KindValidation ErrorKind = "validation"
	// KindUnauthenticated is an operation attempted without a session.
	KindUnauthenticated ErrorKind = "unauthenticated"
	// KindNotFound is a gateway "no such row/session" rejection.
	KindNotFound ErrorKind = "not_found"
	// KindForbidden is a gateway permission rejection.
	KindForbidden ErrorKind = "forbidden"
	// KindRejected covers other gateway rejections: bad credentials,
	// duplicate accounts, malformed requests, rate limits.
	KindRejected ErrorKind = "rejected"
	// KindTransport is a network failure or an unavailable gateway.
	KindTransport ErrorKind = "transport"
	// KindUnknown is anything that could not be classified.
	KindUnknown ErrorKind = "unknown"
)

// TransportMessage is the generic display text for network failures.
const TransportMessage = "Network error. Check your connection and try again."

// Error is the tagged error surfaced to the presentation layer. Callers
// branch on Kind and show Message.
type Error struct {
	// Kind is the error category.
	Kind ErrorKind
	// Message is the human-readable display string.
	Message string
	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind so errors.Is(err, ErrNotSignedIn)
// style checks work on sentinel values.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// NewValidationError returns a validation error with the given display text.
func NewValidationError(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

// ErrNotSignedIn is returned by operations that require a session.
var ErrNotSignedIn = &Error{Kind: KindUnauthenticated, Message: "You must be signed in."}

// KindOf returns the kind of err, KindUnknown for foreign errors and ""
// for nil.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// GatewayError is implemented by gateway adapter errors that know their
// own category and display text.
type GatewayError interface {
	error
	ErrorKind() ErrorKind
	DisplayMessage() string
}

// Normalize converts any error returned by a gateway call into an *Error.
// fallback is the display text used when the cause cannot be classified.
func Normalize(err error, fallback string) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	var gw GatewayError
	if errors.As(err, &gw) {
		msg := gw.DisplayMessage()
		if msg == "" {
			msg = fallback
		}
		return &Error{Kind: gw.ErrorKind(), Message: msg, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Error{Kind: KindTransport, Message: TransportMessage, Err: err}
	}
	return &Error{Kind: KindUnknown, Message: fallback, Err: err}
}
