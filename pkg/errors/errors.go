// Package errors carries the storefront's typed errors. Every error that
// reaches an HTTP response has a Code, and the Code alone decides the status
// and how much of the error a shopper gets to see.
package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"

	CodeInsufficientStock Code = "INSUFFICIENT_STOCK"
	CodeInvalidQuantity   Code = "INVALID_QUANTITY"
	CodeEmptyCart         Code = "EMPTY_CART"
	// CodePartialCheckout is written next to the order it describes, never
	// instead of it.
	CodePartialCheckout Code = "PARTIAL_CHECKOUT"
)

// Metadata is how a Code surfaces over HTTP. PublicMessage is the fallback
// text; EchoMessage lets the error's own message through instead, and
// DetailsAllowed does the same for its details.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	EchoMessage    bool
	DetailsAllowed bool
}

const (
	echo = 1 << iota
	details
	retry
)

func meta(status int, public string, flags int) Metadata {
	return Metadata{
		HTTPStatus:     status,
		PublicMessage:  public,
		EchoMessage:    flags&echo != 0,
		DetailsAllowed: flags&details != 0,
		Retryable:      flags&retry != 0,
	}
}

var catalog = map[Code]Metadata{
	CodeValidation:    meta(http.StatusBadRequest, "validation failed", echo|details),
	CodeUnauthorized:  meta(http.StatusUnauthorized, "authentication required", echo),
	CodeForbidden:     meta(http.StatusForbidden, "access denied", echo),
	CodeNotFound:      meta(http.StatusNotFound, "resource not found", echo),
	CodeConflict:      meta(http.StatusConflict, "conflict detected", echo),
	CodeStateConflict: meta(http.StatusUnprocessableEntity, "state transition disallowed", echo|details),
	CodeIdempotency:   meta(http.StatusConflict, "idempotency key reused", echo|details),
	CodeRateLimit:     meta(http.StatusTooManyRequests, "rate limit exceeded", echo),
	CodeInternal:      meta(http.StatusInternalServerError, "internal server error", retry),
	CodeDependency:    meta(http.StatusServiceUnavailable, "dependency unavailable", details|retry),

	CodeInsufficientStock: meta(http.StatusConflict, "insufficient stock", echo|details),
	CodeInvalidQuantity:   meta(http.StatusBadRequest, "invalid quantity", echo|details),
	CodeEmptyCart:         meta(http.StatusUnprocessableEntity, "cart is empty", echo),
	CodePartialCheckout:   meta(http.StatusAccepted, "order recorded with missing lines", echo|details),
}

// MetadataFor treats unknown codes as internal errors.
func MetadataFor(code Code) Metadata {
	if m, ok := catalog[code]; ok {
		return m
	}
	return catalog[CodeInternal]
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

// Wrap keeps err reachable through errors.Is and errors.As.
func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	default:
		return fmt.Sprintf("%s: %s", e.code, e.message)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// As returns the outermost typed error in err's chain.
func As(err error) *Error {
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// IsCode reports whether the outermost typed error in err's chain has code.
func IsCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.code == code
}
