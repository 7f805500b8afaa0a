// Package apperr defines the error taxonomy shared by services and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds. Match with errors.Is.
var (
	ErrValidation    = errors.New("validation error")
	ErrNotFound      = errors.New("not found")
	ErrAuthorization = errors.New("not authorized")
	ErrStock         = errors.New("insufficient stock")
	ErrSignature     = errors.New("signature verification failed")
	ErrConflict      = errors.New("conflict")
	ErrGateway       = errors.New("payment gateway error")
	ErrCarrier       = errors.New("shipping carrier error")
)

// Error carries a kind, a message and an optional cause.
type Error struct {
	Kind    error
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func newError(kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func Validation(format string, args ...any) error {
	return newError(ErrValidation, nil, format, args...)
}

func NotFound(format string, args ...any) error {
	return newError(ErrNotFound, nil, format, args...)
}

func Authorization(format string, args ...any) error {
	return newError(ErrAuthorization, nil, format, args...)
}

func Signature(format string, args ...any) error {
	return newError(ErrSignature, nil, format, args...)
}

// Conflict wraps cause (e.g. an illegal transition) as a conflict.
func Conflict(cause error, format string, args ...any) error {
	return newError(ErrConflict, cause, format, args...)
}

// Gateway wraps a failed payment gateway call.
func Gateway(cause error, format string, args ...any) error {
	return newError(ErrGateway, cause, format, args...)
}

// Carrier wraps a failed shipping carrier call.
func Carrier(cause error, format string, args ...any) error {
	return newError(ErrCarrier, cause, format, args...)
}

// StockError reports a product that cannot cover the requested quantity.
type StockError struct {
	ProductID int64
	SKU       string
	Available int
	Requested int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d (%s): available=%d, requested=%d",
		e.ProductID, e.SKU, e.Available, e.Requested)
}

func (e *StockError) Is(target error) bool {
	return target == ErrStock
}

// HTTPStatus maps an error to the response status code.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation), errors.Is(err, ErrSignature):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAuthorization):
		return http.StatusForbidden
	case errors.Is(err, ErrStock), errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrGateway), errors.Is(err, ErrCarrier):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
