package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeUnauthorized ErrorType = "unauthorized"
	ErrorTypeForbidden    ErrorType = "forbidden"
	ErrorTypeRateLimit    ErrorType = "rate_limit"
	ErrorTypeConflict     ErrorType = "conflict"
	ErrorTypeInternal     ErrorType = "internal"
)

// Code is the stable, client-facing error identifier carried in error bodies
type Code string

const (
	CodeMissingToken        Code = "MISSING_TOKEN"
	CodeInvalidToken        Code = "INVALID_TOKEN"
	CodeTokenExpired        Code = "TOKEN_EXPIRED"
	CodeTenantMismatch      Code = "TENANT_MISMATCH"
	CodeTenantNotFound      Code = "TENANT_NOT_FOUND"
	CodeTenantInactive      Code = "TENANT_INACTIVE"
	CodeRateLimitExceeded   Code = "RATE_LIMIT_EXCEEDED"
	CodePermissionDenied    Code = "PERMISSION_DENIED"
	CodeAlreadyAssigned     Code = "ALREADY_ASSIGNED"
	CodeNameConflict        Code = "NAME_CONFLICT"
	CodeSystemRoleProtected Code = "SYSTEM_ROLE_PROTECTED"
	CodeRoleInUse           Code = "ROLE_IN_USE"
	CodeValidation          Code = "VALIDATION_ERROR"
	CodeNotFound            Code = "NOT_FOUND"
	CodeInvalidCredentials  Code = "INVALID_CREDENTIALS"
	CodeDuplicateSlug       Code = "DUPLICATE_SLUG"
	CodeDuplicateEmail      Code = "DUPLICATE_EMAIL"
	CodeInternal            Code = "INTERNAL_ERROR"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Code    Code
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is. Errors carrying a code match on code, otherwise on type.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	if e.Code != "" && t.Code != "" {
		return e.Code == t.Code
	}
	return e.Type == t.Type
}

// WithDetail returns a copy of the error with the detail added.
// Sentinels stay untouched so concurrent requests never share details.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	c := e.clone()
	c.Details[key] = value
	return c
}

// Wrap returns a copy of the error with err as its cause
func (e *DomainError) Wrap(err error) *DomainError {
	c := e.clone()
	c.Err = err
	return c
}

// WithMessage returns a copy of the error with a more specific message
func (e *DomainError) WithMessage(message string) *DomainError {
	c := e.clone()
	c.Message = message
	return c
}

func (e *DomainError) clone() *DomainError {
	details := make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	return &DomainError{
		Type:    e.Type,
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: details,
	}
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// NewCodedError creates a domain error carrying a client-facing code
func NewCodedError(errType ErrorType, code Code, message string) *DomainError {
	e := NewDomainError(errType, message, nil)
	e.Code = code
	return e
}

// Domain error variables

var (
	// Authentication
	ErrMissingToken       = NewCodedError(ErrorTypeUnauthorized, CodeMissingToken, "authentication token required")
	ErrInvalidToken       = NewCodedError(ErrorTypeUnauthorized, CodeInvalidToken, "invalid authentication token")
	ErrTokenExpired       = NewCodedError(ErrorTypeUnauthorized, CodeTokenExpired, "authentication token expired")
	ErrInvalidCredentials = NewCodedError(ErrorTypeUnauthorized, CodeInvalidCredentials, "invalid email or password")

	// Tenant isolation
	ErrTenantMismatch = NewCodedError(ErrorTypeForbidden, CodeTenantMismatch, "token is not valid for the requested tenant")
	ErrTenantNotFound = NewCodedError(ErrorTypeNotFound, CodeTenantNotFound, "tenant not found")
	ErrTenantInactive = NewCodedError(ErrorTypeForbidden, CodeTenantInactive, "tenant is inactive")

	// Rate limiting
	ErrRateLimitExceeded = NewCodedError(ErrorTypeRateLimit, CodeRateLimitExceeded, "rate limit exceeded")

	// Authorization
	ErrPermissionDenied = NewCodedError(ErrorTypeForbidden, CodePermissionDenied, "insufficient permissions")

	// RBAC mutation guards
	ErrAlreadyAssigned     = NewCodedError(ErrorTypeConflict, CodeAlreadyAssigned, "role already assigned to user")
	ErrNameConflict        = NewCodedError(ErrorTypeConflict, CodeNameConflict, "role name already exists")
	ErrSystemRoleProtected = NewCodedError(ErrorTypeForbidden, CodeSystemRoleProtected, "system roles cannot be modified")
	ErrRoleInUse           = NewCodedError(ErrorTypeConflict, CodeRoleInUse, "role has active assignments")

	// Not Found Errors
	ErrNotFound           = NewCodedError(ErrorTypeNotFound, CodeNotFound, "resource not found")
	ErrUserNotFound       = NewCodedError(ErrorTypeNotFound, CodeNotFound, "user not found")
	ErrRoleNotFound       = NewCodedError(ErrorTypeNotFound, CodeNotFound, "role not found")
	ErrPermissionNotFound = NewCodedError(ErrorTypeNotFound, CodeNotFound, "permission not found")
	ErrAssignmentNotFound = NewCodedError(ErrorTypeNotFound, CodeNotFound, "role assignment not found")
	ErrAuditLogNotFound   = NewCodedError(ErrorTypeNotFound, CodeNotFound, "audit log not found")

	// Validation Errors
	ErrInvalidInput = NewCodedError(ErrorTypeValidation, CodeValidation, "invalid input")
	ErrInvalidSlug  = NewCodedError(ErrorTypeValidation, CodeValidation, "invalid slug format")
	ErrInvalidEmail = NewCodedError(ErrorTypeValidation, CodeValidation, "invalid email format")

	// Conflict Errors
	ErrDuplicateSlug  = NewCodedError(ErrorTypeConflict, CodeDuplicateSlug, "slug already exists")
	ErrDuplicateEmail = NewCodedError(ErrorTypeConflict, CodeDuplicateEmail, "email already exists")

	// Internal Errors
	ErrInternal           = NewCodedError(ErrorTypeInternal, CodeInternal, "internal server error")
	ErrDatabaseError      = NewCodedError(ErrorTypeInternal, CodeInternal, "database error")
	ErrTransactionFailed  = NewCodedError(ErrorTypeInternal, CodeInternal, "transaction failed")
	ErrSigningUnavailable = NewCodedError(ErrorTypeInternal, CodeInternal, "token signing key not configured")
)

// Error type checking helper functions

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return GetErrorType(err) == ErrorTypeNotFound
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return GetErrorType(err) == ErrorTypeValidation
}

// IsUnauthorizedError checks if an error is an unauthorized error
func IsUnauthorizedError(err error) bool {
	return GetErrorType(err) == ErrorTypeUnauthorized
}

// IsForbiddenError checks if an error is a forbidden error
func IsForbiddenError(err error) bool {
	return GetErrorType(err) == ErrorTypeForbidden
}

// IsRateLimitError checks if an error is a rate limit error
func IsRateLimitError(err error) bool {
	return GetErrorType(err) == ErrorTypeRateLimit
}

// IsConflictError checks if an error is a conflict error
func IsConflictError(err error) bool {
	return GetErrorType(err) == ErrorTypeConflict
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	return GetErrorType(err) == ErrorTypeInternal
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorCode returns the client-facing code of a domain error.
// Errors outside the taxonomy report INTERNAL_ERROR.
func GetErrorCode(err error) Code {
	var domainErr *DomainError
	if errors.As(err, &domainErr) && domainErr.Code != "" {
		return domainErr.Code
	}
	return CodeInternal
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// GetErrorMessage returns the message of a domain error, or the raw error string
func GetErrorMessage(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Message
	}
	return err.Error()
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	e := NewDomainError(ErrorTypeInternal, message, err)
	e.Code = CodeInternal
	return e
}
