package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for input validation. These are detected before any
// storage query is issued.
var (
	ErrInvalidWindowSize = errors.New("invalid window size")
	ErrInvalidEpiWeek    = errors.New("invalid epidemiological week")
	ErrNotFound          = errors.New("not found")
)

// Error codes surfaced in API error responses.
const (
	ErrCodeInvalidWindowSize = "INVALID_WINDOW_SIZE"
	ErrCodeInvalidEpiWeek    = "INVALID_EPI_WEEK"
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeAggregationQuery  = "AGGREGATION_QUERY_ERROR"
	ErrCodeDatabase          = "DATABASE_ERROR"
	ErrCodeRateLimit         = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternalServer    = "INTERNAL_SERVER_ERROR"
)

// APIError is the standardized error response body.
type APIError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewAPIError creates a new APIError with timestamp
func NewAPIError(code, message, details, requestID string) *APIError {
	return &APIError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}

// ValidationError represents input validation errors
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// AggregationQueryError wraps a storage collaborator failure. The
// engine never retries; retry policy belongs to the storage layer.
type AggregationQueryError struct {
	Op  string
	Err error
}

// Error implements the error interface
func (e *AggregationQueryError) Error() string {
	return fmt.Sprintf("aggregation query %s failed: %v", e.Op, e.Err)
}

// Unwrap exposes the underlying storage error.
func (e *AggregationQueryError) Unwrap() error {
	return e.Err
}
