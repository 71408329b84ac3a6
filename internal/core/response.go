package core

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"stowage/internal/types"
)

// maxRequestBodySize caps request bodies. A full invoice batch fits well
// below it.
const maxRequestBodySize = 4 << 20

// APIResponse is the envelope of every successful response.
type APIResponse struct {
	Data any `json:"data"`
}

// APIErrorResponse is the envelope of every error response.
type APIErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail is the structured error returned to clients.
type ErrorDetail struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id"`
}

// JSON writes data with status. A marshalling failure becomes a 500 error
// envelope.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(APIErrorResponse{
			Error: ErrorDetail{
				Code:      string(types.ErrCodeInternalUnexpected),
				Message:   "failed to marshal response",
				RequestID: types.GetRequestID(r.Context()),
			},
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// Data writes data inside the success envelope.
func Data(w http.ResponseWriter, r *http.Request, status int, data any) {
	JSON(w, r, status, APIResponse{Data: data})
}

// Error writes err as an error envelope. An *types.AppError anywhere in the
// chain supplies the code, message and status. Any other error becomes a
// generic 500 so internal messages never reach clients.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	requestID := types.GetRequestID(r.Context())

	var appErr *types.AppError
	if errors.As(err, &appErr) {
		JSON(w, r, appErr.HTTPStatus(), APIErrorResponse{
			Error: ErrorDetail{
				Code:      string(appErr.Code),
				Message:   appErr.Message,
				Details:   appErr.Details,
				RequestID: requestID,
			},
		})
		return
	}

	JSON(w, r, http.StatusInternalServerError, APIErrorResponse{
		Error: ErrorDetail{
			Code:      string(types.ErrCodeInternalUnexpected),
			Message:   "an unexpected error occurred",
			RequestID: requestID,
		},
	})
}

// DecodeJSON reads exactly one JSON value from the body into dst. Unknown
// fields, oversize bodies and trailing data are rejected with
// validation_invalid_body.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return mapDecodeError(err)
	}
	if dec.More() {
		return types.NewAppError(types.ErrCodeValidationInvalidBody,
			"request body must contain a single JSON object", nil)
	}
	return nil
}

// DecodeOptionalJSON is DecodeJSON for endpoints whose body may be omitted.
// An absent or whitespace-only body leaves dst untouched and returns nil,
// whatever the request's Content-Length says.
func DecodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	if err := DecodeJSON(w, r, dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func mapDecodeError(err error) *types.AppError {
	var maxBytesErr *http.MaxBytesError
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError

	switch {
	case errors.As(err, &maxBytesErr):
		return types.NewAppError(types.ErrCodeValidationInvalidBody, "request body is too large", err)
	case errors.As(err, &syntaxErr):
		return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidBody,
			"malformed JSON in request body", err, map[string]any{"offset": syntaxErr.Offset})
	case errors.As(err, &typeErr):
		return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidBody,
			"invalid value for field", err,
			map[string]any{"field": typeErr.Field, "expected": typeErr.Type.String()})
	case strings.HasPrefix(err.Error(), "json: unknown field"):
		return types.NewAppError(types.ErrCodeValidationInvalidBody,
			"unknown field in request body: "+strings.TrimPrefix(err.Error(), "json: unknown field "), err)
	case errors.Is(err, io.EOF):
		return types.NewAppError(types.ErrCodeValidationInvalidBody, "request body must not be empty", err)
	default:
		return types.NewAppError(types.ErrCodeValidationInvalidBody, "invalid JSON in request body", err)
	}
}
