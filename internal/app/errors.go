package app

import (
	"fmt"
	"net/http"
)

// DomainError is an error with a ready-made HTTP answer. Details, when set,
// is sent back as the "details" member.
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

func validationError(message string, details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, details)
}

var errAuthRequired = domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required", nil)
