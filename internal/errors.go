package internal

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorType string

const (
	ErrorTypeValidation   ErrorType = "VALIDATION_ERROR"
	ErrorTypeNotFound     ErrorType = "NOT_FOUND"
	ErrorTypeUnauthorized ErrorType = "UNAUTHORIZED"
	ErrorTypeForbidden    ErrorType = "FORBIDDEN"
	ErrorTypeConflict     ErrorType = "CONFLICT"
	ErrorTypeInternal     ErrorType = "INTERNAL_ERROR"
	ErrorTypeExternal     ErrorType = "EXTERNAL_ERROR"
	ErrorTypeSecurity     ErrorType = "SECURITY_ERROR"
)

type ErrorCode string

const (
	ErrCodeValidationFailed  ErrorCode = "VALIDATION_FAILED"
	ErrCodeInvalidPeriod     ErrorCode = "INVALID_PERIOD"
	ErrCodeInvalidDueDate    ErrorCode = "INVALID_DUE_DATE"
	ErrCodeInvalidAmount     ErrorCode = "INVALID_AMOUNT"
	ErrCodeInvalidFinePolicy ErrorCode = "INVALID_FINE_POLICY"
	ErrCodeInvalidReason     ErrorCode = "INVALID_REASON"

	ErrCodeRecordNotFound  ErrorCode = "RECORD_NOT_FOUND"
	ErrCodeWaiverNotFound  ErrorCode = "WAIVER_NOT_FOUND"
	ErrCodeStudentNotFound ErrorCode = "STUDENT_NOT_FOUND"

	ErrCodeInvalidToken ErrorCode = "INVALID_TOKEN"
	ErrCodeTokenExpired ErrorCode = "TOKEN_EXPIRED"
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"

	ErrCodeRecordAlreadyCaptured   ErrorCode = "RECORD_ALREADY_CAPTURED"
	ErrCodeInvalidStatusTransition ErrorCode = "INVALID_STATUS_TRANSITION"
	ErrCodeOrderMismatch           ErrorCode = "ORDER_MISMATCH"
	ErrCodeOrderSuperseded         ErrorCode = "ORDER_SUPERSEDED"
	ErrCodeRecordNotDeletable      ErrorCode = "RECORD_NOT_DELETABLE"
	ErrCodeNoFineToWaive           ErrorCode = "NO_FINE_TO_WAIVE"
	ErrCodeWaiverAlreadyPending    ErrorCode = "WAIVER_ALREADY_PENDING"
	ErrCodeRequestAlreadyResolved  ErrorCode = "REQUEST_ALREADY_RESOLVED"
	ErrCodeEarlierPeriodUnpaid     ErrorCode = "EARLIER_PERIOD_UNPAID"
	ErrCodeConcurrentModification  ErrorCode = "CONCURRENT_MODIFICATION"

	ErrCodeGatewayUnavailable   ErrorCode = "GATEWAY_UNAVAILABLE"
	ErrCodeDirectoryUnavailable ErrorCode = "DIRECTORY_UNAVAILABLE"

	ErrCodeSignatureInvalid ErrorCode = "SIGNATURE_INVALID"
	ErrCodeInternal         ErrorCode = "INTERNAL_ERROR"
)

type AppError struct {
	Type       ErrorType   `json:"type"`
	Code       ErrorCode   `json:"code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
	StatusCode int         `json:"-"`
	Cause      error       `json:"-"`
}

func (e *AppError) Error() string {
	if e.Details != nil {
		if validationErrors, ok := e.Details.(ValidationErrors); ok && len(validationErrors.Errors) > 0 {
			return validationErrors.Errors[0].Message
		}
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches any AppError carrying the same code, so sentinels stay usable
// after WithCause or WithDetails.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause returns a copy of e wrapping cause.
func (e *AppError) WithCause(cause error) *AppError {
	cp := *e
	cp.Cause = cause
	return &cp
}

// WithDetails returns a copy of e carrying details.
func (e *AppError) WithDetails(details interface{}) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// WithMessage returns a copy of e with a different message.
func (e *AppError) WithMessage(message string) *AppError {
	cp := *e
	cp.Message = message
	return &cp
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

// statusByType is the HTTP status each error type answers with.
var statusByType = map[ErrorType]int{
	ErrorTypeValidation:   http.StatusBadRequest,
	ErrorTypeNotFound:     http.StatusNotFound,
	ErrorTypeUnauthorized: http.StatusUnauthorized,
	ErrorTypeForbidden:    http.StatusForbidden,
	ErrorTypeConflict:     http.StatusConflict,
	ErrorTypeInternal:     http.StatusInternalServerError,
	ErrorTypeExternal:     http.StatusServiceUnavailable,
	ErrorTypeSecurity:     http.StatusBadRequest,
}

func newAppError(t ErrorType, code ErrorCode, message string) *AppError {
	return &AppError{Type: t, Code: code, Message: message, StatusCode: statusByType[t]}
}

func NewValidationError(message string, code ErrorCode) *AppError {
	return newAppError(ErrorTypeValidation, code, message)
}

// NewInternalError hides cause from the response body; it surfaces only
// through Error and Unwrap.
func NewInternalError(message string, cause error) *AppError {
	e := newAppError(ErrorTypeInternal, ErrCodeInternal, message)
	e.Cause = cause
	return e
}

var (
	ErrInvalidPeriod  = newAppError(ErrorTypeValidation, ErrCodeInvalidPeriod, "billing period must be formatted as YYYY-MM")
	ErrInvalidDueDate = newAppError(ErrorTypeValidation, ErrCodeInvalidDueDate, "due date must be formatted as YYYY-MM-DD")
	ErrInvalidAmount  = newAppError(ErrorTypeValidation, ErrCodeInvalidAmount, "amount must be greater than zero")
	ErrInvalidReason  = newAppError(ErrorTypeValidation, ErrCodeInvalidReason, "reason must be between 3 and 500 characters")

	ErrRecordNotFound  = newAppError(ErrorTypeNotFound, ErrCodeRecordNotFound, "fee record not found")
	ErrWaiverNotFound  = newAppError(ErrorTypeNotFound, ErrCodeWaiverNotFound, "waiver request not found")
	ErrStudentNotFound = newAppError(ErrorTypeNotFound, ErrCodeStudentNotFound, "student not found")

	ErrInvalidToken = newAppError(ErrorTypeUnauthorized, ErrCodeInvalidToken, "Invalid token")
	ErrTokenExpired = newAppError(ErrorTypeUnauthorized, ErrCodeTokenExpired, "Token has expired")
	ErrForbidden    = newAppError(ErrorTypeForbidden, ErrCodeForbidden, "caller lacks the capability for this operation")

	ErrRecordAlreadyCaptured   = newAppError(ErrorTypeConflict, ErrCodeRecordAlreadyCaptured, "fee record is already paid")
	ErrInvalidStatusTransition = newAppError(ErrorTypeConflict, ErrCodeInvalidStatusTransition, "fee record status does not allow this operation")
	ErrOrderMismatch           = newAppError(ErrorTypeConflict, ErrCodeOrderMismatch, "order does not match the record's open order")
	ErrOrderSuperseded         = newAppError(ErrorTypeConflict, ErrCodeOrderSuperseded, "a newer payment attempt replaced this order")
	ErrRecordNotDeletable      = newAppError(ErrorTypeConflict, ErrCodeRecordNotDeletable, "only unpaid pending records can be deleted")
	ErrNoFineToWaive           = newAppError(ErrorTypeConflict, ErrCodeNoFineToWaive, "fee record has no fine to waive")
	ErrWaiverAlreadyPending    = newAppError(ErrorTypeConflict, ErrCodeWaiverAlreadyPending, "a waiver request is already open for this record")
	ErrRequestAlreadyResolved  = newAppError(ErrorTypeConflict, ErrCodeRequestAlreadyResolved, "waiver request is already resolved")
	ErrEarlierPeriodUnpaid     = newAppError(ErrorTypeConflict, ErrCodeEarlierPeriodUnpaid, "an earlier billing period is still unpaid")
	ErrConcurrentModification  = newAppError(ErrorTypeConflict, ErrCodeConcurrentModification, "fee record was modified concurrently, retry")

	ErrGatewayUnavailable   = newAppError(ErrorTypeExternal, ErrCodeGatewayUnavailable, "payment gateway unavailable, retry later")
	ErrDirectoryUnavailable = newAppError(ErrorTypeExternal, ErrCodeDirectoryUnavailable, "student directory unavailable")

	ErrSignatureInvalid = newAppError(ErrorTypeSecurity, ErrCodeSignatureInvalid, "payment signature verification failed")
)

func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

type Response struct {
	Error *AppError `json:"error"`
}

func (e *AppError) ToHTTPResponse() (int, interface{}) {
	return e.StatusCode, Response{Error: e}
}
