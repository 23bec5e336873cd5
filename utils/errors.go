package utils

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/upb/tenantguard/services"
)

var exposeCauses atomic.Bool

// ExposeErrorCauses controls whether internal error causes are included in
// 500 responses. Enabled in development only.
func ExposeErrorCauses(enabled bool) {
	exposeCauses.Store(enabled)
}

// StatusForError maps a domain error to its HTTP status
func StatusForError(err error) int {
	switch services.GetErrorType(err) {
	case services.ErrorTypeNotFound:
		return http.StatusNotFound
	case services.ErrorTypeValidation:
		return http.StatusBadRequest
	case services.ErrorTypeUnauthorized:
		return http.StatusUnauthorized
	case services.ErrorTypeForbidden:
		return http.StatusForbidden
	case services.ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case services.ErrorTypeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// WriteServiceError writes the {error, message, code, details} body for err and
// returns the status used. Errors outside the taxonomy become INTERNAL_ERROR.
func WriteServiceError(w http.ResponseWriter, err error) (int, error) {
	status := StatusForError(err)
	code := string(services.GetErrorCode(err))

	if status == http.StatusInternalServerError {
		var details map[string]interface{}
		if exposeCauses.Load() {
			details = map[string]interface{}{"cause": causeOf(err)}
		}
		return status, WriteCodedError(w, status, string(services.CodeInternal), "An internal error occurred", details)
	}
	return status, WriteCodedError(w, status, code, services.GetErrorMessage(err), services.GetErrorDetails(err))
}

func causeOf(err error) string {
	var domainErr *services.DomainError
	if errors.As(err, &domainErr) && domainErr.Err != nil {
		return domainErr.Err.Error()
	}
	return err.Error()
}
