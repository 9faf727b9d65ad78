package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

// APIError represents an application error that is rendered to the client
type APIError struct {
	Status   int               `json:"-"`     // HTTP status code
	Message  string            `json:"error"` // Error message
	Fields   map[string]string `json:"fields,omitempty"`
	Internal error             `json:"-"` // Original error
}

// Error returns the error message
func (e *APIError) Error() string {
	if e.Internal != nil {
		return e.Message + ": " + e.Internal.Error()
	}
	return e.Message
}

// Unwrap returns the original error
func (e *APIError) Unwrap() error {
	return e.Internal
}

// WithMessage returns a copy of the APIError with a custom message
func (e *APIError) WithMessage(msg string) *APIError {
	return &APIError{
		Status:   e.Status,
		Message:  msg,
		Fields:   e.Fields,
		Internal: e.Internal,
	}
}

func New(status int, message string, err error) *APIError {
	return &APIError{
		Status:   status,
		Message:  message,
		Internal: err,
	}
}

func BadRequest(message string, err error) *APIError {
	return New(http.StatusBadRequest, message, err)
}

func Unauthorized(message string, err error) *APIError {
	return New(http.StatusUnauthorized, message, err)
}

func Forbidden(message string, err error) *APIError {
	return New(http.StatusForbidden, message, err)
}

func NotFound(message string, err error) *APIError {
	return New(http.StatusNotFound, message, err)
}

func Conflict(message string, err error) *APIError {
	return New(http.StatusConflict, message, err)
}

func UnprocessableEntity(message string, err error) *APIError {
	return New(http.StatusUnprocessableEntity, message, err)
}

func ServiceUnavailable(message string, err error) *APIError {
	return New(http.StatusServiceUnavailable, message, err)
}

func Internal(err error) *APIError {
	return New(http.StatusInternalServerError, "Internal server error", err)
}

// Validation reports invalid submitted data against a single form field.
func Validation(field string, err error) *APIError {
	return &APIError{
		Status:   http.StatusUnprocessableEntity,
		Message:  "Validation failed",
		Fields:   map[string]string{field: err.Error()},
		Internal: err,
	}
}

// NewValidationError converts request binding errors into a field keyed APIError.
func NewValidationError(err error) *APIError {
	apiErr := &APIError{
		Status:   http.StatusUnprocessableEntity,
		Message:  "Validation failed",
		Internal: err,
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		apiErr.Fields = map[string]string{"body": err.Error()}
		return apiErr
	}

	apiErr.Fields = make(map[string]string, len(verrs))
	for _, fe := range verrs {
		apiErr.Fields[strings.ToLower(fe.Field())] = describe(fe)
	}
	return apiErr
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required"
	case "min":
		return fmt.Sprintf("Must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("Must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("Must be one of: %s", fe.Param())
	case "email":
		return "Must be a valid email address"
	}
	return fmt.Sprintf("Failed on %s", fe.Tag())
}
