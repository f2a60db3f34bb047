package app

import (
	"fmt"
	"net/http"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// validationError rejects the whole call; details maps field names to
// human-readable violation messages for form-level display.
func validationError(details map[string][]string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Validation failed", details)
}

// unauthorizedError covers both a missing session and a caller who is not
// the resource owner; no internal detail leaks either way.
func unauthorizedError() *DomainError {
	return domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
}

func notFoundError(resource string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", resource+" not found", nil)
}
