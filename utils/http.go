package utils

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
)

// ErrorResponse represents a structured error response
type ErrorResponse struct {
	Error      string                 `json:"error"`
	Message    string                 `json:"message,omitempty"`
	Code       string                 `json:"code,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Limit      *int                   `json:"limit,omitempty"`
	WindowMs   *int64                 `json:"windowMs,omitempty"`
	RetryAfter *int                   `json:"retryAfter,omitempty"`
}

// SuccessResponse represents a generic success response
type SuccessResponse struct {
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// PageResponse wraps a paginated listing
type PageResponse struct {
	Data       interface{} `json:"data"`
	Total      int         `json:"total"`
	Page       int         `json:"page"`
	PageSize   int         `json:"pageSize"`
	TotalPages int         `json:"totalPages"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return nil
	}

	return json.NewEncoder(w).Encode(data)
}

// WriteOK writes a 200 OK response with optional data
func WriteOK(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, SuccessResponse{Data: data})
}

// WriteCreated writes a 201 Created response with optional data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, SuccessResponse{Data: data})
}

// WriteMultiStatus writes a 207 response used for per-item batch outcomes
func WriteMultiStatus(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusMultiStatus, SuccessResponse{Data: data})
}

// WritePage writes a 200 OK paginated response
func WritePage(w http.ResponseWriter, data interface{}, total, page, pageSize int) error {
	totalPages := 0
	if pageSize > 0 {
		totalPages = (total + pageSize - 1) / pageSize
	}
	return WriteJSON(w, http.StatusOK, PageResponse{
		Data:       data,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	})
}

// WriteNoContent writes a 204 No Content response
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// WriteCodedError writes an error body carrying a taxonomy code
func WriteCodedError(w http.ResponseWriter, status int, code, message string, details map[string]interface{}) error {
	return WriteJSON(w, status, ErrorResponse{
		Error:   errorTypeForStatus(status),
		Message: message,
		Code:    code,
		Details: details,
	})
}

// WriteBadRequest writes a 400 Bad Request response with error details
func WriteBadRequest(w http.ResponseWriter, message string, details map[string]interface{}) error {
	return WriteJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:   "bad_request",
		Message: message,
		Code:    "VALIDATION_ERROR",
		Details: details,
	})
}

// WriteNotFound writes a 404 Not Found response
func WriteNotFound(w http.ResponseWriter, code, message string) error {
	if message == "" {
		message = "Resource not found"
	}
	if code == "" {
		code = "NOT_FOUND"
	}
	return WriteJSON(w, http.StatusNotFound, ErrorResponse{
		Error:   "not_found",
		Message: message,
		Code:    code,
	})
}

// WriteTooManyRequests writes a 429 Too Many Requests response with the window metadata
func WriteTooManyRequests(w http.ResponseWriter, message string, limit int, windowMs int64, retryAfter int) error {
	if message == "" {
		message = "Rate limit exceeded"
	}
	return WriteJSON(w, http.StatusTooManyRequests, ErrorResponse{
		Error:      "rate_limit_exceeded",
		Message:    message,
		Code:       "RATE_LIMIT_EXCEEDED",
		Limit:      &limit,
		WindowMs:   &windowMs,
		RetryAfter: &retryAfter,
	})
}

func errorTypeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusTooManyRequests:
		return "rate_limit_exceeded"
	default:
		return "internal_error"
	}
}

// ClientIP returns the caller address. chi's RealIP middleware rewrites
// RemoteAddr from X-Forwarded-For / X-Real-IP before this runs.
func ClientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	if addr == "" {
		return "unknown"
	}
	return addr
}
