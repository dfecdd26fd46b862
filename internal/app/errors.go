package app

import (
	"errors"
	"net/http"

	"specsync/api/internal/apperr"
	"specsync/api/internal/auth"
)

const codeNotConfigured = "NOT_CONFIGURED"

func notConfigured(message string) *apperr.Error {
	return &apperr.Error{Kind: apperr.KindInternal, Code: codeNotConfigured, Message: message}
}

func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindAccessDenied:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindInvalidResolution:
		return http.StatusConflict
	case apperr.KindRateLimited:
		return http.StatusTooManyRequests
	case apperr.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// mapError converts an error from the service into the HTTP status and the
// code/message pair of the error body. Errors without a kind are 500s and
// their text is not exposed.
func mapError(err error) (status int, code, message string, details any) {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		if appErr.Code == codeNotConfigured {
			return http.StatusNotImplemented, appErr.Code, appErr.Message, nil
		}
		if appErr.Kind == apperr.KindInternal {
			return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
		}
		return statusForKind(appErr.Kind), appErr.Code, appErr.Message, appErr.Details
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
