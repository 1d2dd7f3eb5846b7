package errors

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// Caller errors
	ErrorTypeValidation     ErrorType = "VALIDATION"
	ErrorTypeNotFound       ErrorType = "NOT_FOUND"
	ErrorTypeConflict       ErrorType = "CONFLICT"
	ErrorTypeUnauthorized   ErrorType = "UNAUTHORIZED"
	ErrorTypeInvalidQuery   ErrorType = "INVALID_QUERY"
	ErrorTypeUnsafeMutation ErrorType = "UNSAFE_MUTATION"

	// Engine errors
	ErrorTypeInternal       ErrorType = "INTERNAL"
	ErrorTypeTimeout        ErrorType = "TIMEOUT"
	ErrorTypeUnavailable    ErrorType = "UNAVAILABLE"
	ErrorTypeRetryExhausted ErrorType = "RETRY_EXHAUSTED"

	// Store errors
	ErrorTypeDatabase ErrorType = "DATABASE"
	ErrorTypeExternal ErrorType = "EXTERNAL"
)

// AppError is the error type returned across layer boundaries.
type AppError struct {
	Type       ErrorType              `json:"type"`
	Message    string                 `json:"message"`
	Code       string                 `json:"code,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	StackTrace string                 `json:"-"`
	HTTPStatus int                    `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// WithDetails adds error details
func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

// WithCause wraps an underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

func captureStackTrace() string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	var b strings.Builder
	for {
		frame, more := frames.Next()
		fmt.Fprintf(&b, "%s:%d %s\n", frame.File, frame.Line, frame.Function)
		if !more {
			break
		}
	}
	return b.String()
}

func newError(t ErrorType, status int, message string) *AppError {
	return &AppError{
		Type:       t,
		Message:    message,
		HTTPStatus: status,
		StackTrace: captureStackTrace(),
	}
}

// NewValidationError creates a validation error
func NewValidationError(message string) *AppError {
	return newError(ErrorTypeValidation, http.StatusBadRequest, message)
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string) *AppError {
	return newError(ErrorTypeNotFound, http.StatusNotFound, fmt.Sprintf("%s not found", resource))
}

// NewConflictError creates a conflict error
func NewConflictError(message string) *AppError {
	return newError(ErrorTypeConflict, http.StatusConflict, message)
}

// NewUnauthorizedError creates an unauthorized error
func NewUnauthorizedError(message string) *AppError {
	if message == "" {
		message = "unauthorized"
	}
	return newError(ErrorTypeUnauthorized, http.StatusUnauthorized, message)
}

// NewInvalidQueryError reports a statement that failed keyword validation.
func NewInvalidQueryError(reason string) *AppError {
	return newError(ErrorTypeInvalidQuery, http.StatusBadRequest, reason).WithCode("invalid_query")
}

// NewUnsafeMutationError reports a refused destructive statement. The message
// is meant to be shown to the user as-is.
func NewUnsafeMutationError(keyword string) *AppError {
	msg := fmt.Sprintf("statements containing %s are not allowed; destructive changes are refused", strings.ToUpper(keyword))
	return newError(ErrorTypeUnsafeMutation, http.StatusUnprocessableEntity, msg).
		WithCode("unsafe_mutation").
		WithDetails(map[string]interface{}{"keyword": strings.ToUpper(keyword)})
}

// NewInternalError creates an internal error
func NewInternalError(message string) *AppError {
	return newError(ErrorTypeInternal, http.StatusInternalServerError, message)
}

// NewTimeoutError creates a timeout error
func NewTimeoutError(operation string) *AppError {
	return newError(ErrorTypeTimeout, http.StatusRequestTimeout, fmt.Sprintf("operation '%s' timed out", operation))
}

// NewUnavailableError creates a service unavailable error
func NewUnavailableError(service string) *AppError {
	return newError(ErrorTypeUnavailable, http.StatusServiceUnavailable, fmt.Sprintf("service '%s' is unavailable", service))
}

// NewStoreUnavailableError wraps a failed graph store call.
func NewStoreUnavailableError(err error) *AppError {
	return NewUnavailableError("graph store").WithCause(err).WithCode("store_unavailable")
}

// NewRetryExhaustedError reports a bounded retry loop that gave up.
func NewRetryExhaustedError(operation string, attempts int) *AppError {
	return newError(ErrorTypeRetryExhausted, http.StatusGatewayTimeout,
		fmt.Sprintf("%s did not complete after %d attempts", operation, attempts))
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, err error) *AppError {
	return newError(ErrorTypeDatabase, http.StatusInternalServerError,
		fmt.Sprintf("database operation '%s' failed", operation)).WithCause(err)
}

// NewExternalError creates an external service error
func NewExternalError(service string, err error) *AppError {
	return newError(ErrorTypeExternal, http.StatusBadGateway,
		fmt.Sprintf("external service '%s' error", service)).WithCause(err)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// GetAppError extracts AppError from an error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Type == errType
}

func IsNotFound(err error) bool       { return IsType(err, ErrorTypeNotFound) }
func IsValidation(err error) bool     { return IsType(err, ErrorTypeValidation) }
func IsUnauthorized(err error) bool   { return IsType(err, ErrorTypeUnauthorized) }
func IsConflict(err error) bool       { return IsType(err, ErrorTypeConflict) }
func IsInvalidQuery(err error) bool   { return IsType(err, ErrorTypeInvalidQuery) }
func IsUnsafeMutation(err error) bool { return IsType(err, ErrorTypeUnsafeMutation) }
func IsUnavailable(err error) bool    { return IsType(err, ErrorTypeUnavailable) }

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	if appErr := GetAppError(err); appErr != nil {
		appErr.Message = fmt.Sprintf("%s: %s", message, appErr.Message)
		return appErr
	}

	return NewInternalError(message).WithCause(err)
}

// Wrapf wraps an error with formatted message
func Wrapf(err error, format string, args ...interface{}) error {
	return Wrap(err, fmt.Sprintf(format, args...))
}
