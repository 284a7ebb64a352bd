package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents internal error codes for sync operations
type ErrorCode string

const (
	ErrCodeOK ErrorCode = "OK"

	// Caller errors
	ErrCodeInvalidArgument   ErrorCode = "INVALID_ARGUMENT"
	ErrCodeInvalidKind       ErrorCode = "INVALID_KIND"
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrCodeScopeViolation    ErrorCode = "SCOPE_VIOLATION"
	ErrCodeMutationError     ErrorCode = "MUTATION_ERROR"
	ErrCodeUnknownMutator    ErrorCode = "UNKNOWN_MUTATOR"
	ErrCodeDuplicateMutation ErrorCode = "DUPLICATE_MUTATION"
	ErrCodeOutOfOrder        ErrorCode = "OUT_OF_ORDER"
	ErrCodeUnauthenticated   ErrorCode = "UNAUTHENTICATED"

	// Concurrency errors
	ErrCodeVersionConflict ErrorCode = "VERSION_CONFLICT"
	ErrCodeConflict        ErrorCode = "CONFLICT"

	// Server errors
	ErrCodeInternal    ErrorCode = "INTERNAL_ERROR"
	ErrCodeUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeRateLimited ErrorCode = "RATE_LIMITED"
)

// SyncError represents a structured error with code and context
type SyncError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *SyncError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *SyncError) Unwrap() error {
	return e.Cause
}

// Is matches any SyncError carrying the same code, so sentinel
// comparisons like errors.Is(err, ErrVersionConflict) work on wrapped values.
func (e *SyncError) Is(target error) bool {
	t, ok := target.(*SyncError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// HTTPStatus maps internal error codes to HTTP status codes
func (e *SyncError) HTTPStatus() int {
	switch e.Code {
	case ErrCodeOK:
		return http.StatusOK
	case ErrCodeInvalidArgument, ErrCodeInvalidKind, ErrCodeUnknownMutator, ErrCodeOutOfOrder:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeUnauthenticated:
		return http.StatusUnauthorized
	case ErrCodeScopeViolation:
		return http.StatusForbidden
	case ErrCodeVersionConflict, ErrCodeConflict, ErrCodeDuplicateMutation:
		return http.StatusConflict
	case ErrCodeMutationError:
		return http.StatusUnprocessableEntity
	case ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the server may retry the failed operation on its own.
func (e *SyncError) Retryable() bool {
	return e.Code == ErrCodeVersionConflict || e.Code == ErrCodeUnavailable
}

// NewSyncError creates a new SyncError
func NewSyncError(code ErrorCode, message string, cause error) *SyncError {
	return &SyncError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *SyncError) WithDetail(key string, value interface{}) *SyncError {
	e.Details[key] = value
	return e
}

// Sentinels for errors.Is comparisons.
var (
	ErrNotFound          = &SyncError{Code: ErrCodeNotFound, Message: "not found"}
	ErrVersionConflict   = &SyncError{Code: ErrCodeVersionConflict, Message: "version conflict"}
	ErrConflict          = &SyncError{Code: ErrCodeConflict, Message: "conflict"}
	ErrInvalidKind       = &SyncError{Code: ErrCodeInvalidKind, Message: "invalid kind"}
	ErrScopeViolation    = &SyncError{Code: ErrCodeScopeViolation, Message: "scope violation"}
	ErrMutation          = &SyncError{Code: ErrCodeMutationError, Message: "mutation error"}
	ErrUnknownMutator    = &SyncError{Code: ErrCodeUnknownMutator, Message: "unknown mutator"}
	ErrDuplicateMutation = &SyncError{Code: ErrCodeDuplicateMutation, Message: "duplicate mutation"}
	ErrInvalidArgument   = &SyncError{Code: ErrCodeInvalidArgument, Message: "invalid argument"}
)

// Convenience constructors for common errors

func InvalidArgument(message string, cause error) *SyncError {
	return NewSyncError(ErrCodeInvalidArgument, message, cause)
}

func InvalidKind(kind string) *SyncError {
	return NewSyncError(ErrCodeInvalidKind, fmt.Sprintf("invalid entity kind %q", kind), nil).
		WithDetail("kind", kind)
}

func NotFound(key string) *SyncError {
	return NewSyncError(ErrCodeNotFound, fmt.Sprintf("record not found: %s", key), nil).
		WithDetail("key", key)
}

func VersionConflict(key string, expected, actual int64) *SyncError {
	return NewSyncError(ErrCodeVersionConflict,
		fmt.Sprintf("version conflict on %s: expected %d, stored %d", key, expected, actual), nil).
		WithDetail("key", key).
		WithDetail("expected_version", expected).
		WithDetail("actual_version", actual)
}

func Conflict(key string, attempts int, cause error) *SyncError {
	return NewSyncError(ErrCodeConflict,
		fmt.Sprintf("conflict on %s after %d attempts", key, attempts), cause).
		WithDetail("key", key).
		WithDetail("attempts", attempts)
}

func MutationFailed(mutator, reason string) *SyncError {
	return NewSyncError(ErrCodeMutationError, reason, nil).
		WithDetail("mutator", mutator)
}

func UnknownMutator(name string) *SyncError {
	return NewSyncError(ErrCodeUnknownMutator, fmt.Sprintf("unknown mutator %q", name), nil).
		WithDetail("mutator", name)
}

func DuplicateMutation(clientGroupID string, mutationID int64) *SyncError {
	return NewSyncError(ErrCodeDuplicateMutation,
		fmt.Sprintf("mutation %d already processed for client group %s", mutationID, clientGroupID), nil).
		WithDetail("client_group_id", clientGroupID).
		WithDetail("client_mutation_id", mutationID)
}

func OutOfOrder(clientGroupID string, expected, got int64) *SyncError {
	return NewSyncError(ErrCodeOutOfOrder,
		fmt.Sprintf("mutation %d out of order for client group %s: expected %d", got, clientGroupID, expected), nil).
		WithDetail("client_group_id", clientGroupID).
		WithDetail("expected", expected).
		WithDetail("got", got)
}

func ScopeViolation(key, spaceID string) *SyncError {
	return NewSyncError(ErrCodeScopeViolation,
		fmt.Sprintf("record %s is outside the bound scope of space %s", key, spaceID), nil).
		WithDetail("key", key).
		WithDetail("space_id", spaceID)
}

func Unauthenticated(message string) *SyncError {
	return NewSyncError(ErrCodeUnauthenticated, message, nil)
}

func InternalError(message string, cause error) *SyncError {
	return NewSyncError(ErrCodeInternal, message, cause)
}

func Unavailable(message string, cause error) *SyncError {
	return NewSyncError(ErrCodeUnavailable, message, cause)
}

// IsSyncError checks if an error is (or wraps) a SyncError
func IsSyncError(err error) bool {
	var se *SyncError
	return stderrors.As(err, &se)
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var se *SyncError
	if stderrors.As(err, &se) {
		return se.Code
	}
	return ErrCodeInternal
}

// HTTPStatus returns the HTTP status for any error, defaulting to 500.
func HTTPStatus(err error) int {
	var se *SyncError
	if stderrors.As(err, &se) {
		return se.HTTPStatus()
	}
	return http.StatusInternalServerError
}
