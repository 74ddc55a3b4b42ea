package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Status  int         `json:"status"`
	Details interface{} `json:"details,omitempty"`
	Err     error       `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrInvalidCredentials = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid credentials")
	ErrInactiveAccount    = New("ACCOUNT_INACTIVE", http.StatusForbidden, "account is inactive")
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrPreconditionFailed = New("PRECONDITION_FAILED", http.StatusPreconditionFailed, "precondition failed")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// Registration engine error taxonomy. Details payloads are documented on
// each sentinel; the engine attaches them via WithDetails.
var (
	// ErrScheduleNotFound details: {"schedule_ids": [...]} listing each
	// unresolved id in the batch.
	ErrScheduleNotFound = New("SCHEDULE_NOT_FOUND", http.StatusNotFound, "schedule not found in catalog")
	// ErrDuplicateEnrollment details: {"schedule_ids": [...]} or
	// {"course_code": "..."} when two sections of one course are mixed.
	ErrDuplicateEnrollment = New("DUPLICATE_ENROLLMENT", http.StatusConflict, "already enrolled in schedule")
	// ErrCreditCapExceeded details: {"cap": n, "requested": n, "overflow": n}.
	ErrCreditCapExceeded = New("CREDIT_CAP_EXCEEDED", http.StatusUnprocessableEntity, "credit cap exceeded")
	// ErrScheduleConflict details: {"schedule_ids": [a, b]} naming the
	// colliding pair.
	ErrScheduleConflict       = New("SCHEDULE_CONFLICT", http.StatusConflict, "schedule time conflict")
	ErrSeatCapacityExceeded   = New("SEAT_CAPACITY_EXCEEDED", http.StatusConflict, "schedule seat capacity exceeded")
	ErrNotEnrolled            = New("NOT_ENROLLED", http.StatusNotFound, "not enrolled in schedule")
	ErrWithdrawalWindowClosed = New("WITHDRAWAL_WINDOW_CLOSED", http.StatusUnprocessableEntity, "withdrawal window has closed")
	ErrRegistrationClosed     = New("REGISTRATION_WINDOW_CLOSED", http.StatusUnprocessableEntity, "registration window is not open")
	ErrAlreadyGraded          = New("ALREADY_GRADED", http.StatusConflict, "enrollment already graded")

	// Transient errors: callers may retry the identical batch.
	ErrConcurrencyConflict = New("CONCURRENCY_CONFLICT", http.StatusConflict, "concurrent registration conflict, retry")
	ErrStorageUnavailable  = New("STORAGE_UNAVAILABLE", http.StatusServiceUnavailable, "storage unavailable, retry")
)

// IsTransient reports whether the error is safe to retry with the same batch.
func IsTransient(err error) bool {
	e := FromError(err)
	return e.Code == ErrConcurrencyConflict.Code || e.Code == ErrStorageUnavailable.Code
}

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// WithDetails returns a copy of the error carrying a structured payload.
func WithDetails(err *Error, details interface{}) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	clone.Details = details
	return &clone
}
