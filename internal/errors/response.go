// Error responses written by the realtime REST APIs of Shipper.

package errors

import (
	"net/http"
	"strings"
)

// Standard for Error reponses to the client.
type ErrorResponse struct {
	Status  int         `json:"status"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// Error is required by the error interface.
func (e ErrorResponse) Error() string {
	return e.Message
}

// Replicates the New method of default errors package.
func New(err string) error {
	return ErrorResponse{Status: http.StatusInternalServerError, Message: err}
}

// Helper building a response with status, msg falls back to the default text of the status.
func response(status int, msg, fallback string) ErrorResponse {
	if msg == "" {
		msg = fallback
	}
	return ErrorResponse{Status: status, Message: msg}
}

// InternalServerError represents a failure on our side (HTTP 500), e.g. Redis going away mid request.
func InternalServerError(msg string) ErrorResponse {
	return response(http.StatusInternalServerError, msg, "We encountered an error while processing your request.")
}

// NotFound represents an unknown route or a disabled API (HTTP 404).
func NotFound(msg string) ErrorResponse {
	return response(http.StatusNotFound, msg, "The requested resource was not found.")
}

// Unauthorized represents a missing or invalid access token (HTTP 401).
func Unauthorized(msg string) ErrorResponse {
	return response(http.StatusUnauthorized, msg, "You are not authenticated to perform the requested action.")
}

// BadRequest represents a malformed body or path parameter (HTTP 400).
func BadRequest(msg string) ErrorResponse {
	return response(http.StatusBadRequest, msg, "Your request is in a bad format.")
}

// Standard for Validation-error responses to the client.
type validationError struct {
	Param   string `json:"param"`   // Parameter or Field
	Message string `json:"message"` // Issue in Field
}

// Captures multiple validation issues and sends it as a response in one go.
type ValidationErrorResponse struct {
	Response []validationError `json:"errors"`
}

// Scans through set of validation errors found by govalidator and
// wraps them into one 400 response.
func GenerateValidationErrorResponse(errs []error) ErrorResponse {
	// govalidator reports errors as Param: Message, messages may contain ":" themselves
	resp := make([]validationError, 0, len(errs))
	for _, err := range errs {
		param, msg, found := strings.Cut(err.Error(), ":")
		if !found {
			param, msg = "", param
		}
		resp = append(resp, validationError{
			Param:   param,
			Message: strings.TrimSpace(msg),
		})
	}
	return ErrorResponse{
		Status:  http.StatusBadRequest,
		Message: "Data validation error",
		Details: ValidationErrorResponse{Response: resp},
	}
}
