package app

import (
	"errors"
	"fmt"
	"net/http"

	"revertd/api/internal/auth"
	"revertd/api/internal/gitrepo"
	"revertd/api/internal/revert"
	"revertd/api/internal/session"
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

func validationError(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
}

// mapError translates service and collaborator failures into HTTP
// responses. Abort outcomes never reach here; they are ordinary results.
func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken), errors.Is(err, auth.ErrMissingToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound, "CONFIRMATION_NOT_FOUND", "Confirmation not found or expired", nil
	case errors.Is(err, gitrepo.ErrInvalidPage):
		return http.StatusUnprocessableEntity, "INVALID_PAGE", "Invalid page name", nil
	case errors.Is(err, revert.ErrPageNotFound):
		return http.StatusNotFound, "PAGE_NOT_FOUND", "Page not found", nil
	case errors.Is(err, revert.ErrEditConflict):
		return http.StatusConflict, "EDIT_CONFLICT", "The page changed before the revert was saved", nil
	case errors.Is(err, revert.ErrPermissionDenied):
		return http.StatusForbidden, "PERMISSION_DENIED", "The platform refused the edit", nil
	case errors.Is(err, revert.ErrEditRejected):
		return http.StatusBadGateway, "EDIT_REJECTED", "The platform did not save the edit", nil
	case errors.Is(err, revert.ErrNetwork):
		return http.StatusBadGateway, "NETWORK_ERROR", "The platform could not be reached", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
