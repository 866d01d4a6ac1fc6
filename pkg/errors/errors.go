// Package errors provides a structured error system for tiercache with error codes, categories, and context.
package errors

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for tiercache operations.
type ErrorCode string

// Error code constants organized by category.
const (
	// Configuration Errors
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeMissingConfig    ErrorCode = "MISSING_CONFIG"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrCodeConfigLoad       ErrorCode = "CONFIG_LOAD"

	// Backend Errors
	ErrCodeBackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"
	ErrCodeBackendTimeout     ErrorCode = "BACKEND_TIMEOUT"
	ErrCodeKeyNotFound        ErrorCode = "KEY_NOT_FOUND"
	ErrCodeStorageWrite       ErrorCode = "STORAGE_WRITE"
	ErrCodeStorageRead        ErrorCode = "STORAGE_READ"
	ErrCodeCapabilityGap      ErrorCode = "CAPABILITY_UNSUPPORTED"

	// Serialization Errors
	ErrCodeSerialization   ErrorCode = "SERIALIZATION_FAILED"
	ErrCodeDeserialization ErrorCode = "DESERIALIZATION_FAILED"

	// Resource Errors
	ErrCodeCacheFull         ErrorCode = "CACHE_FULL"
	ErrCodeResourceExhausted ErrorCode = "RESOURCE_EXHAUSTED"
	ErrCodeRateLimited       ErrorCode = "RATE_LIMITED"

	// Operation Errors
	ErrCodeOperationTimeout  ErrorCode = "OPERATION_TIMEOUT"
	ErrCodeOperationCanceled ErrorCode = "OPERATION_CANCELED"
	ErrCodeOperationFailed   ErrorCode = "OPERATION_FAILED"
	ErrCodeWriteVerification ErrorCode = "WRITE_VERIFICATION"

	// Protection Errors
	ErrCodeCircuitOpen        ErrorCode = "CIRCUIT_OPEN"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"

	// State Errors
	ErrCodeAlreadyStarted   ErrorCode = "ALREADY_STARTED"
	ErrCodeNotInitialized   ErrorCode = "NOT_INITIALIZED"
	ErrCodeComponentStopped ErrorCode = "COMPONENT_STOPPED"

	// Internal System Errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrCodeUnknownError  ErrorCode = "UNKNOWN_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryBackend       ErrorCategory = "backend"
	CategorySerialization ErrorCategory = "serialization"
	CategoryResource      ErrorCategory = "resource"
	CategoryOperation     ErrorCategory = "operation"
	CategoryProtection    ErrorCategory = "protection"
	CategoryState         ErrorCategory = "state"
	CategoryInternal      ErrorCategory = "internal"
)

// CacheError represents a structured error with context and metadata.
type CacheError struct {
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"` // Not serialized to avoid circular refs
	Timestamp time.Time         `json:"timestamp"`

	Component string `json:"component,omitempty"`
	Operation string `json:"operation,omitempty"`

	Retryable  bool `json:"retryable"`
	HTTPStatus int  `json:"http_status,omitempty"`
}

// Error implements the error interface.
func (e *CacheError) Error() string {
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *CacheError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error (for errors.Is compatibility).
func (e *CacheError) Is(target error) bool {
	if cacheErr, ok := target.(*CacheError); ok {
		return e.Code == cacheErr.Code
	}
	return false
}

// String returns a detailed string representation for logging.
func (e *CacheError) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Code=%s", e.Code))
	parts = append(parts, fmt.Sprintf("Category=%s", e.Category))
	parts = append(parts, fmt.Sprintf("Message=%q", e.Message))

	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}
	if len(e.Details) > 0 {
		details, _ := json.Marshal(e.Details)
		parts = append(parts, fmt.Sprintf("Details=%s", details))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}

	return fmt.Sprintf("CacheError{%s}", strings.Join(parts, ", "))
}

// NewError creates a new tiercache error with default values.
func NewError(code ErrorCode, message string) *CacheError {
	return &CacheError{
		Code:       code,
		Category:   GetCategory(code),
		Message:    message,
		Timestamp:  time.Now(),
		Details:    make(map[string]interface{}),
		Context:    make(map[string]string),
		Retryable:  IsRetryableByDefault(code),
		HTTPStatus: GetDefaultHTTPStatus(code),
	}
}

// WrapError wraps an existing error with a tiercache error code.
func WrapError(code ErrorCode, message string, cause error) *CacheError {
	err := NewError(code, message)
	err.Cause = cause
	return err
}

// WithComponent attaches the originating component name.
func (e *CacheError) WithComponent(component string) *CacheError {
	e.Component = component
	return e
}

// WithOperation attaches the operation being performed.
func (e *CacheError) WithOperation(operation string) *CacheError {
	e.Operation = operation
	return e
}

// WithContext attaches a key/value pair of contextual information.
func (e *CacheError) WithContext(key, value string) *CacheError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithDetail attaches a structured detail value.
func (e *CacheError) WithDetail(key string, value interface{}) *CacheError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "INVALID_CONFIG") || strings.HasPrefix(codeStr, "MISSING_CONFIG") ||
		strings.HasPrefix(codeStr, "CONFIG_"):
		return CategoryConfiguration
	case strings.HasPrefix(codeStr, "BACKEND_") || strings.HasPrefix(codeStr, "STORAGE_") ||
		strings.HasPrefix(codeStr, "KEY_") || strings.HasPrefix(codeStr, "CAPABILITY_"):
		return CategoryBackend
	case strings.HasPrefix(codeStr, "SERIALIZATION_") || strings.HasPrefix(codeStr, "DESERIALIZATION_"):
		return CategorySerialization
	case strings.HasPrefix(codeStr, "CACHE_") || strings.HasPrefix(codeStr, "RESOURCE_") ||
		strings.HasPrefix(codeStr, "RATE_"):
		return CategoryResource
	case strings.HasPrefix(codeStr, "OPERATION_") || strings.HasPrefix(codeStr, "WRITE_"):
		return CategoryOperation
	case strings.HasPrefix(codeStr, "CIRCUIT_") || strings.HasPrefix(codeStr, "SERVICE_"):
		return CategoryProtection
	case strings.HasPrefix(codeStr, "ALREADY_") || strings.HasPrefix(codeStr, "NOT_INITIALIZED") ||
		strings.HasPrefix(codeStr, "COMPONENT_"):
		return CategoryState
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault determines if an error is retryable by default.
func IsRetryableByDefault(code ErrorCode) bool {
	retryableCodes := map[ErrorCode]bool{
		ErrCodeBackendUnavailable: true,
		ErrCodeBackendTimeout:     true,
		ErrCodeOperationTimeout:   true,
		ErrCodeResourceExhausted:  true,
		ErrCodeWriteVerification:  true,
		ErrCodeInternalError:      true,
	}
	return retryableCodes[code]
}

// GetDefaultHTTPStatus returns the default HTTP status for an error code.
func GetDefaultHTTPStatus(code ErrorCode) int {
	statusMap := map[ErrorCode]int{
		ErrCodeInvalidConfig:      400,
		ErrCodeConfigValidation:   400,
		ErrCodeKeyNotFound:        404,
		ErrCodeCapabilityGap:      405,
		ErrCodeAlreadyStarted:     409,
		ErrCodeRateLimited:        429,
		ErrCodeInternalError:      500,
		ErrCodeUnknownError:       500,
		ErrCodeCircuitOpen:        503,
		ErrCodeServiceUnavailable: 503,
		ErrCodeBackendUnavailable: 503,
		ErrCodeOperationTimeout:   504,
		ErrCodeBackendTimeout:     504,
	}
	if status, ok := statusMap[code]; ok {
		return status
	}
	return 500
}

// Convenience constructors for the common cases.

// NewBackendUnavailable reports a failed call against the active store backend.
func NewBackendUnavailable(backend string, cause error) *CacheError {
	return WrapError(ErrCodeBackendUnavailable, fmt.Sprintf("backend %s unavailable", backend), cause).
		WithComponent("store").
		WithContext("backend", backend)
}

// NewCircuitOpen reports a call rejected by an open circuit breaker.
func NewCircuitOpen(origin string) *CacheError {
	return NewError(ErrCodeCircuitOpen, fmt.Sprintf("circuit open for origin %s", origin)).
		WithComponent("circuit").
		WithContext("origin", origin)
}

// NewOperationTimeout reports an operation that exceeded its deadline.
func NewOperationTimeout(operation string, timeout time.Duration) *CacheError {
	return NewError(ErrCodeOperationTimeout, fmt.Sprintf("%s timed out after %v", operation, timeout)).
		WithOperation(operation)
}

// NewCapabilityGap reports an operation the active backend does not support.
func NewCapabilityGap(backend, operation string) *CacheError {
	return NewError(ErrCodeCapabilityGap, fmt.Sprintf("backend %s does not support %s", backend, operation)).
		WithComponent("store").
		WithOperation(operation).
		WithContext("backend", backend)
}

// IsCode reports whether err carries the given tiercache error code.
func IsCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	for {
		if cacheErr, ok := err.(*CacheError); ok {
			if cacheErr.Code == code {
				return true
			}
		}
		type unwrapper interface{ Unwrap() error }
		u, ok := err.(unwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
		if err == nil {
			return false
		}
	}
}

// IsRetryable reports whether err is marked retryable.
func IsRetryable(err error) bool {
	if cacheErr, ok := err.(*CacheError); ok {
		return cacheErr.Retryable
	}
	return false
}
