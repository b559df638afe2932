// Package apperr is the error taxonomy shared by the gateway, the
// coordinator, the broker and the REST layer. Every failure that crosses a
// component boundary carries a Kind, which decides whether it is returned to
// the caller, retried, or surfaced as a connectivity problem.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind uint8

const (
	KindUnknown Kind = iota
	// KindValidation is a malformed payload, rejected before any mutation.
	KindValidation
	// KindForbidden is a permission failure.
	KindForbidden
	// KindNotFound is an operation on a missing or purged entity.
	KindNotFound
	// KindConflict is a lost race: capacity reached, request already resolved.
	KindConflict
	// KindTransientIO is a storage or network failure worth retrying.
	KindTransientIO
	// KindDisconnected means the transport is gone.
	KindDisconnected
	// KindUnauthenticated is a rejected identity token.
	KindUnauthenticated
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation_error"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindTransientIO:
		return "transient_io"
	case KindDisconnected:
		return "disconnected"
	case KindUnauthenticated:
		return "unauthenticated"
	default:
		return "internal"
	}
}

// ParseKind is the inverse of Kind.String, used by clients decoding error
// frames.
func ParseKind(code string) Kind {
	for k := KindValidation; k <= KindUnauthenticated; k++ {
		if k.String() == code {
			return k
		}
	}
	return KindUnknown
}

// Error is a classified failure. Op names the operation ("coordinator.send"),
// Msg is safe to show to the originating caller.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.message(), e.Err)
	case e.Op != "":
		return e.Op + ": " + e.message()
	case e.Err != nil:
		return e.message() + ": " + e.Err.Error()
	default:
		return e.message()
	}
}

func (e *Error) message() string {
	if e.Msg != "" {
		return e.Msg
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by kind, so errors.Is(err, apperr.ErrConflict) holds
// for any conflict regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrValidation      = &Error{Kind: KindValidation}
	ErrForbidden       = &Error{Kind: KindForbidden}
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrConflict        = &Error{Kind: KindConflict}
	ErrTransientIO     = &Error{Kind: KindTransientIO}
	ErrDisconnected    = &Error{Kind: KindDisconnected}
	ErrUnauthenticated = &Error{Kind: KindUnauthenticated}
)

func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, op string, err error, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

func Validation(op, format string, args ...any) *Error {
	return New(KindValidation, op, format, args...)
}

func Forbidden(op, format string, args ...any) *Error {
	return New(KindForbidden, op, format, args...)
}

func NotFound(op, format string, args ...any) *Error {
	return New(KindNotFound, op, format, args...)
}

func Conflict(op, format string, args ...any) *Error {
	return New(KindConflict, op, format, args...)
}

func TransientIO(op string, err error) *Error {
	return Wrap(KindTransientIO, op, err, "storage unavailable")
}

// KindOf reports the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Message returns the caller-safe message for err. Unclassified errors never
// leak their text.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.message()
	}
	return "internal error"
}

// Code returns the wire code for err.
func Code(err error) string {
	return KindOf(err).String()
}

// HTTPStatus maps err onto a response status.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindTransientIO, KindDisconnected:
		return http.StatusServiceUnavailable
	case KindUnauthenticated:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
