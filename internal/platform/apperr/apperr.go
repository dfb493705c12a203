package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ===== Error model (books/borrowings/payments で共通) =====

type Code string

const (
	CodeInvalidArgument         Code = "INVALID_ARGUMENT"
	CodeInvalidDate             Code = "INVALID_DATE"
	CodeNotFound                Code = "NOT_FOUND"
	CodeOutOfStock              Code = "OUT_OF_STOCK"
	CodePaymentPending          Code = "PAYMENT_PENDING"
	CodeAlreadyReturned         Code = "ALREADY_RETURNED"
	CodePaymentAlreadyProcessed Code = "PAYMENT_ALREADY_PROCESSED"
	CodePaymentNotCompleted     Code = "PAYMENT_NOT_COMPLETED"
	CodeProviderUnavailable     Code = "PROVIDER_UNAVAILABLE"
	CodeStorageConflict         Code = "STORAGE_CONFLICT"
	CodeUnauthorized            Code = "UNAUTHORIZED"
	CodeForbidden               Code = "FORBIDDEN"
	CodeInternal                Code = "INTERNAL"
)

type APIError struct {
	Code    Code
	Message string
	Err     error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

func ErrInvalid(msg string) *APIError  { return &APIError{Code: CodeInvalidArgument, Message: msg} }
func ErrNotFound(msg string) *APIError { return &APIError{Code: CodeNotFound, Message: msg} }
func ErrInternal(msg string) *APIError { return &APIError{Code: CodeInternal, Message: msg} }

func ErrInvalidDate(msg string) *APIError { return &APIError{Code: CodeInvalidDate, Message: msg} }

func ErrOutOfStock() *APIError {
	return &APIError{Code: CodeOutOfStock, Message: "there are no books left in inventory"}
}

func ErrPaymentPending() *APIError {
	return &APIError{Code: CodePaymentPending, Message: "you have pending payments, settle them before borrowing new books"}
}

func ErrAlreadyReturned() *APIError {
	return &APIError{Code: CodeAlreadyReturned, Message: "this borrowing has already been returned"}
}

func ErrPaymentAlreadyProcessed() *APIError {
	return &APIError{Code: CodePaymentAlreadyProcessed, Message: "payment already processed"}
}

func ErrPaymentNotCompleted() *APIError {
	return &APIError{Code: CodePaymentNotCompleted, Message: "payment not completed yet"}
}

// ErrProviderUnavailable wraps a failed checkout provider call. The caller may retry.
func ErrProviderUnavailable(err error) *APIError {
	return &APIError{Code: CodeProviderUnavailable, Message: "checkout provider unavailable", Err: err}
}

// ErrStorageConflict wraps a lost-update race reported by the database. The caller may retry.
func ErrStorageConflict(err error) *APIError {
	return &APIError{Code: CodeStorageConflict, Message: "concurrent update, retry the request", Err: err}
}

// CodeOf returns the code carried by err, or CodeInternal for plain errors.
func CodeOf(err error) Code {
	var api *APIError
	if errors.As(err, &api) {
		return api.Code
	}
	return CodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	var api *APIError
	return errors.As(err, &api) && api.Code == code
}

// Retryable reports whether the failure is transient.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case CodeProviderUnavailable, CodeStorageConflict:
		return true
	}
	return false
}

func ToHTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeInvalidArgument, CodeInvalidDate, CodePaymentNotCompleted:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeOutOfStock, CodePaymentPending, CodeAlreadyReturned,
		CodePaymentAlreadyProcessed, CodeStorageConflict:
		return http.StatusConflict
	case CodeProviderUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ---------- response body ----------

type ErrorDTO struct {
	Error struct {
		Code    Code   `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func Body(code Code, msg string) ErrorDTO {
	var e ErrorDTO
	e.Error.Code = code
	e.Error.Message = msg
	return e
}

// FromErr never leaks the message of a non-API error to the client.
func FromErr(err error) ErrorDTO {
	var api *APIError
	if errors.As(err, &api) {
		return Body(api.Code, api.Message)
	}
	return Body(CodeInternal, "internal server error")
}

// Abort writes err as the JSON error body with its mapped status.
func Abort(c *gin.Context, err error) {
	c.AbortWithStatusJSON(ToHTTPStatus(err), FromErr(err))
}
