package letters

import (
	"fmt"
	"net/http"

	"lettertool/internal/models"
)

// ServiceError represents errors from the letter service with HTTP context
type ServiceError struct {
	Code       string
	Message    string
	StatusCode int
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Error constructors for common service errors

func NewLetterNotFoundError(id string) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeLetterNotFound,
		Message:    fmt.Sprintf("letter '%s' not found", id),
		StatusCode: http.StatusNotFound,
	}
}

func NewUnknownCountryError(country string) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeUnknownCountry,
		Message:    fmt.Sprintf("country site '%s' does not exist", country),
		StatusCode: http.StatusNotFound,
	}
}

func NewInvalidRequestError(message string, err error) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeInvalidRequest,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Err:        err,
	}
}

func NewValidationError(message string, err error) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeValidation,
		Message:    message,
		StatusCode: http.StatusUnprocessableEntity,
		Err:        err,
	}
}

func NewInternalError(message string, err error) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeInternalError,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}
