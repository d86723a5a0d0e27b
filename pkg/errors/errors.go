package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard sentinel errors for common cases.
var (
	ErrNotFound        = errors.New("resource not found")
	ErrAlreadyExists   = errors.New("resource already exists")
	ErrInvalidInput    = errors.New("invalid input")
	ErrConflict        = errors.New("conflict")
	ErrInternal        = errors.New("internal error")
	ErrServiceUnavail  = errors.New("service unavailable")
	ErrVersionConflict = errors.New("version conflict")
)

// Saga and order domain sentinels. Step executors and the orchestrator use
// errors.Is against these to decide between compensation, rejection, and
// idempotent discard.
var (
	ErrCannotCancel       = errors.New("order cannot be cancelled")
	ErrAmountMismatch     = errors.New("order amount mismatch")
	ErrSagaCompleted      = errors.New("saga already completed")
	ErrSagaCompensated    = errors.New("saga already compensated")
	ErrSagaStateMismatch  = errors.New("saga state mismatch")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrRouteNotFound      = errors.New("route not found")
	ErrDriverNotAvailable = errors.New("no last-mile driver available")
	ErrExternalTimeout    = errors.New("external service timeout")
)

// AppError represents a structured application error with HTTP status mapping.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a 404 error.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s with id %s not found", resource, id),
		Status:  http.StatusNotFound,
		Err:     ErrNotFound,
	}
}

// AlreadyExists creates a 409 error.
func AlreadyExists(resource, field, value string) *AppError {
	return &AppError{
		Code:    "ALREADY_EXISTS",
		Message: fmt.Sprintf("%s with %s %q already exists", resource, field, value),
		Status:  http.StatusConflict,
		Err:     ErrAlreadyExists,
	}
}

// InvalidInput creates a 400 error.
func InvalidInput(message string) *AppError {
	return &AppError{
		Code:    "INVALID_INPUT",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     ErrInvalidInput,
	}
}

// Conflict creates a 409 error.
func Conflict(message string) *AppError {
	return &AppError{
		Code:    "CONFLICT",
		Message: message,
		Status:  http.StatusConflict,
		Err:     ErrConflict,
	}
}

// Internal creates a 500 error.
func Internal(err error) *AppError {
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: "an internal error occurred",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// ServiceUnavailable creates a 503 error.
func ServiceUnavailable(message string) *AppError {
	return &AppError{
		Code:    "SERVICE_UNAVAILABLE",
		Message: message,
		Status:  http.StatusServiceUnavailable,
		Err:     ErrServiceUnavail,
	}
}

// VersionConflict creates a 409 error for an optimistic-concurrency write
// rejected because the stored version no longer matches the version read.
func VersionConflict(resource, id string) *AppError {
	return &AppError{
		Code:    "VERSION_CONFLICT",
		Message: fmt.Sprintf("%s %s was modified concurrently", resource, id),
		Status:  http.StatusConflict,
		Err:     ErrVersionConflict,
	}
}

// CannotCancel creates a 409 error for a cancel request arriving after the
// physical pickup process has started.
func CannotCancel(orderID, status string) *AppError {
	return &AppError{
		Code:    "ORDER_CANNOT_BE_CANCELLED",
		Message: fmt.Sprintf("order %s in status %s can no longer be cancelled", orderID, status),
		Status:  http.StatusConflict,
		Err:     ErrCannotCancel,
	}
}

// AmountMismatch creates a 422 error for a payment verification amount that
// does not equal the order's derived total.
func AmountMismatch(expected, actual int64) *AppError {
	return &AppError{
		Code:    "ORDER_AMOUNT_MISMATCH",
		Message: fmt.Sprintf("payment amount %d does not match order total %d", actual, expected),
		Status:  http.StatusUnprocessableEntity,
		Err:     ErrAmountMismatch,
	}
}

// SagaAlreadyCompleted guards against re-processing a trigger for a saga that
// already reached a successful terminal state.
func SagaAlreadyCompleted(sagaID string) *AppError {
	return &AppError{
		Code:    "SAGA_ALREADY_COMPLETED",
		Message: fmt.Sprintf("saga %s is already completed", sagaID),
		Status:  http.StatusConflict,
		Err:     ErrSagaCompleted,
	}
}

// SagaAlreadyCompensated guards against re-processing a trigger for a saga
// that already finished compensation.
func SagaAlreadyCompensated(sagaID string) *AppError {
	return &AppError{
		Code:    "SAGA_ALREADY_COMPENSATED",
		Message: fmt.Sprintf("saga %s is already compensated", sagaID),
		Status:  http.StatusConflict,
		Err:     ErrSagaCompensated,
	}
}

// SagaStateMismatch signals a trigger that does not match the saga's current
// step; the caller should discard it as a duplicate or out-of-order delivery.
func SagaStateMismatch(sagaID, expected, got string) *AppError {
	return &AppError{
		Code:    "SAGA_STATE_MISMATCH",
		Message: fmt.Sprintf("saga %s expects step %s, got trigger for %s", sagaID, expected, got),
		Status:  http.StatusConflict,
		Err:     ErrSagaStateMismatch,
	}
}

// InsufficientStock creates a 422 error for a stock reservation rejected by
// the inventory service.
func InsufficientStock(message string) *AppError {
	return &AppError{
		Code:    "INSUFFICIENT_STOCK",
		Message: message,
		Status:  http.StatusUnprocessableEntity,
		Err:     ErrInsufficientStock,
	}
}

// RouteNotFound creates a 422 error for a route calculation that found no
// path between the origin hub and the destination.
func RouteNotFound(message string) *AppError {
	return &AppError{
		Code:    "ROUTE_NOT_FOUND",
		Message: message,
		Status:  http.StatusUnprocessableEntity,
		Err:     ErrRouteNotFound,
	}
}

// DriverNotAvailable creates a 422 error for a last-mile delivery creation
// rejected because no carrier capacity exists.
func DriverNotAvailable(message string) *AppError {
	return &AppError{
		Code:    "LAST_MILE_DRIVER_NOT_AVAILABLE",
		Message: message,
		Status:  http.StatusUnprocessableEntity,
		Err:     ErrDriverNotAvailable,
	}
}

// ExternalTimeout creates a 504 error for a remote call that exceeded its
// per-call timeout.
func ExternalTimeout(service string) *AppError {
	return &AppError{
		Code:    "EXTERNAL_SERVICE_TIMEOUT",
		Message: fmt.Sprintf("%s did not respond within the allowed time", service),
		Status:  http.StatusGatewayTimeout,
		Err:     ErrExternalTimeout,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	return fmt.Errorf("%s: %w", message, err)
}

// HTTPStatus returns the HTTP status code for the given error.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, ErrConflict), errors.Is(err, ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrServiceUnavail):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrExternalTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
