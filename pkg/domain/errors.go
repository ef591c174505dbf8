package domain

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind classifies a domain error.
type ErrorKind string

const (
	KindNotFound             ErrorKind = "not_found"
	KindAlreadyDeleted       ErrorKind = "already_deleted"
	KindConflict             ErrorKind = "conflict"
	KindInvalidInput         ErrorKind = "invalid_input"
	KindUnauthorized         ErrorKind = "unauthorized"
	KindInvalidToken         ErrorKind = "invalid_token"
	KindInvalidCredentials   ErrorKind = "invalid_credentials"
	KindInsufficientQuantity ErrorKind = "insufficient_quantity"
	KindNotImplemented       ErrorKind = "not_implemented"
	KindInternal             ErrorKind = "internal"
)

// Status returns the HTTP status class for the kind.
func (k ErrorKind) Status() int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindAlreadyDeleted, KindInvalidInput, KindInvalidCredentials, KindInsufficientQuantity:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindUnauthorized, KindInvalidToken:
		return http.StatusUnauthorized
	case KindNotImplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// Error is the structured error every workflow returns.
// Issues names the offending fields.
type Error struct {
	Kind    ErrorKind
	Message string
	Issues  []string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches sentinels by kind. A sentinel is an Error with no message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Message == "" {
		return t.Kind == e.Kind
	}
	return t == e
}

// Status returns the HTTP status class.
func (e *Error) Status() int { return e.Kind.Status() }

var (
	ErrNotFound             = &Error{Kind: KindNotFound}
	ErrAlreadyDeleted       = &Error{Kind: KindAlreadyDeleted}
	ErrConflict             = &Error{Kind: KindConflict}
	ErrInvalidInput         = &Error{Kind: KindInvalidInput}
	ErrUnauthorized         = &Error{Kind: KindUnauthorized}
	ErrInvalidToken         = &Error{Kind: KindInvalidToken}
	ErrInvalidCredentials   = &Error{Kind: KindInvalidCredentials}
	ErrInsufficientQuantity = &Error{Kind: KindInsufficientQuantity}
	ErrInternal             = &Error{Kind: KindInternal}
)

// NotFound reports a missing entity. Issues default to the lowercased entity.
func NotFound(entity string, issues ...string) *Error {
	if len(issues) == 0 {
		issues = []string{strings.ToLower(entity)}
	}
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("`%s` not found", entity), Issues: issues}
}

func AlreadyDeleted() *Error {
	return &Error{Kind: KindAlreadyDeleted, Message: "Cannot soft-delete this object", Issues: []string{"isDeleted"}}
}

func Conflict(message string, issues ...string) *Error {
	return &Error{Kind: KindConflict, Message: message, Issues: issues}
}

// UserAlreadyExists lists the unique fields that collided.
func UserAlreadyExists(fields ...string) *Error {
	return Conflict("User with that email or username already exists.", fields...)
}

func InvalidInput(message string, issues ...string) *Error {
	return &Error{Kind: KindInvalidInput, Message: message, Issues: issues}
}

func Unauthorized(message string, issues ...string) *Error {
	return &Error{Kind: KindUnauthorized, Message: message, Issues: issues}
}

func InvalidToken() *Error {
	return &Error{Kind: KindInvalidToken, Message: "Token is invalid", Issues: []string{"token"}}
}

func InvalidCredentials(message string, issues ...string) *Error {
	return &Error{Kind: KindInvalidCredentials, Message: message, Issues: issues}
}

func InsufficientQuantity(message string, issues ...string) *Error {
	return &Error{Kind: KindInsufficientQuantity, Message: message, Issues: issues}
}

func NotImplemented(message string) *Error {
	return &Error{Kind: KindNotImplemented, Message: message}
}

// Internal wraps an unexpected failure.
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Message: "Internal server error", cause: err}
}

// AsError converts any error into a structured one; unknown errors become Internal.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return Internal(err)
}
