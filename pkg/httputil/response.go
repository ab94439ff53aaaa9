package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	apperrors "github.com/utafrali/catalogsearch/pkg/errors"
	"github.com/utafrali/catalogsearch/pkg/logger"
	"github.com/utafrali/catalogsearch/pkg/validator"
)

// RetryAfterSeconds is advertised on 503 responses.
const RetryAfterSeconds = 5

// Response is the standard JSON response envelope.
type Response struct {
	Data  any            `json:"data,omitempty"`
	Error *ErrorResponse `json:"error,omitempty"`
}

// ErrorResponse represents an error in the standard response format.
type ErrorResponse struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

// WriteJSON writes v with the given status. Encoding errors are dropped
// since the header is already sent.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// genericMessages stand in for error text that is not shown to clients.
var genericMessages = map[string]string{
	"NOT_FOUND":           "resource not found",
	"SERVICE_UNAVAILABLE": "service temporarily unavailable",
	"CONFIGURATION_ERROR": "the service is misconfigured",
	"INTERNAL_ERROR":      "an internal error occurred",
}

// Describe maps err to its HTTP status and response body.
func Describe(err error) (int, ErrorResponse) {
	var valErr *validator.ValidationError
	if errors.As(err, &valErr) {
		return http.StatusBadRequest, ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "request validation failed",
			Fields:  valErr.Fields(),
		}
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Status, ErrorResponse{Code: appErr.Code, Message: appErr.Message}
	}

	k := apperrors.Classify(err)
	msg := genericMessages[k.Code]
	if k.Public {
		msg = err.Error()
	}
	return k.Status, ErrorResponse{Code: k.Code, Message: msg}
}

// WriteError writes the error envelope for err. Server errors are logged
// through the request-scoped logger when the RequestLogging middleware is
// mounted, or fallback otherwise.
func WriteError(w http.ResponseWriter, r *http.Request, err error, fallback *slog.Logger) {
	status, body := Describe(err)
	body.RequestID = logger.CorrelationIDFromContext(r.Context())

	if status >= http.StatusInternalServerError {
		l := logger.FromContext(r.Context())
		if l == slog.Default() && fallback != nil {
			l = fallback
		}
		l.ErrorContext(r.Context(), "request failed",
			slog.Int("status", status),
			slog.String("code", body.Code),
			slog.String("error", err.Error()),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", strconv.Itoa(RetryAfterSeconds))
	}
	WriteJSON(w, status, Response{Error: &body})
}

// WriteValidationError writes a 400 for a decoding or validation failure.
// Errors other than validator.ValidationError are reported as INVALID_INPUT
// with their text.
func WriteValidationError(w http.ResponseWriter, err error) {
	status, body := Describe(err)
	if status != http.StatusBadRequest {
		status = http.StatusBadRequest
		body = ErrorResponse{Code: "INVALID_INPUT", Message: err.Error()}
	}
	WriteJSON(w, status, Response{Error: &body})
}

// ParseID parses a positive integer path parameter. If invalid, it writes a
// 400 with code INVALID_PARAMETER and returns false.
func ParseID(w http.ResponseWriter, param string) (int64, bool) {
	id, err := strconv.ParseInt(param, 10, 64)
	if err != nil || id <= 0 {
		WriteJSON(w, http.StatusBadRequest, Response{
			Error: &ErrorResponse{
				Code:    "INVALID_PARAMETER",
				Message: "invalid id: " + param,
			},
		})
		return 0, false
	}
	return id, true
}
