package types

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
// The prefix of the code decides the HTTP status returned to API callers.
type ErrorCode string

const (
	// Validation (400)
	ErrCodeValidationMissingField ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidBody  ErrorCode = "validation_invalid_body"
	ErrCodeValidationInvalidDate  ErrorCode = "validation_invalid_date"
	ErrCodeValidationCutoffDay    ErrorCode = "validation_cutoff_day_out_of_range"
	ErrCodeValidationInvoice      ErrorCode = "validation_invalid_invoice"
	ErrCodeValidationBatchSize    ErrorCode = "validation_batch_size_exceeded"

	// Multi-status (207)
	ErrCodeBulkPartialFailure ErrorCode = "bulk_partial_failure"

	// Not Found (404)
	ErrCodeNotFoundContainer ErrorCode = "not_found_container"
	ErrCodeNotFoundClient    ErrorCode = "not_found_client"
	ErrCodeNotFoundInvoice   ErrorCode = "not_found_invoice"
	ErrCodeNotFoundRoute     ErrorCode = "not_found_route"

	// Conflict (409)
	ErrCodeConflictInvoiceExists ErrorCode = "conflict_invoice_exists"
	ErrCodeConflictRunInProgress ErrorCode = "conflict_billing_run_in_progress"

	// Billing faults (422)
	ErrCodeBillingInvalidCharge ErrorCode = "billing_invalid_charge"

	// Internal/Upstream (500/502)
	ErrCodeInternalDB          ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected  ErrorCode = "internal_unexpected_error"
	ErrCodeInternalArchive     ErrorCode = "internal_archive_error"
	ErrCodeUpstreamStripe      ErrorCode = "upstream_stripe_unavailable"
	ErrCodeUpstreamQueue       ErrorCode = "upstream_queue_unavailable"
	ErrCodeUpstreamUnavailable ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited ErrorCode = "upstream_rate_limited"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Returns 500 for unrecognized error codes.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest
	case c == ErrCodeBulkPartialFailure:
		return http.StatusMultiStatus
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict
	case strings.HasPrefix(s, "billing_"):
		return http.StatusUnprocessableEntity
	case c == ErrCodeUpstreamRateLimited:
		return http.StatusServiceUnavailable
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// AppError is the standard application error type used throughout the service.
// Domain and handler errors are expressed as AppError so they format
// consistently and map onto HTTP statuses.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy of the error with the provided details merged in.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError carrying structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}
