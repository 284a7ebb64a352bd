package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"go.uber.org/zap"
)

// ErrorResponse represents the standard error response format.
type ErrorResponse struct {
	Status    string                 `json:"status"`
	ErrorCode ErrorCode              `json:"error_code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// Handler provides error handling functionality.
type Handler struct {
	logger *zap.Logger
}

// NewHandler creates a new error handler.
func NewHandler(logger *zap.Logger) *Handler {
	return &Handler{
		logger: logger,
	}
}

// HandleError processes an error and writes an appropriate HTTP response.
func (h *Handler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := r.Header.Get("X-Request-ID")

	var se *SyncError
	if !stderrors.As(err, &se) {
		h.logger.Error("unhandled error",
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestID),
			zap.Error(err))
		h.WriteErrorResponse(w, http.StatusInternalServerError, ErrCodeInternal, "internal server error", requestID)
		return
	}

	if se.Code == ErrCodeScopeViolation {
		h.logger.Warn("scope violation rejected",
			zap.Bool("security", true),
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestID),
			zap.Any("details", se.Details))
	}

	h.writeResponse(w, se.HTTPStatus(), ErrorResponse{
		Status:    "error",
		ErrorCode: se.Code,
		Message:   se.Error(),
		Details:   se.Details,
		RequestID: requestID,
	})
}

// WriteErrorResponse writes a formatted error response to the HTTP response writer.
func (h *Handler) WriteErrorResponse(w http.ResponseWriter, statusCode int, errorCode ErrorCode, message string, requestID string) {
	h.writeResponse(w, statusCode, ErrorResponse{
		Status:    "error",
		ErrorCode: errorCode,
		Message:   message,
		RequestID: requestID,
	})
}

// WriteValidationError writes a validation error response.
func (h *Handler) WriteValidationError(w http.ResponseWriter, message string, requestID string) {
	h.WriteErrorResponse(w, http.StatusBadRequest, ErrCodeInvalidArgument, message, requestID)
}

// WriteRateLimitedError writes a rate limit exceeded response.
func (h *Handler) WriteRateLimitedError(w http.ResponseWriter, requestID string) {
	h.WriteErrorResponse(w, http.StatusTooManyRequests, ErrCodeRateLimited, "rate limit exceeded", requestID)
}

func (h *Handler) writeResponse(w http.ResponseWriter, statusCode int, resp ErrorResponse) {
	h.logger.Warn("HTTP error response",
		zap.Int("status_code", statusCode),
		zap.String("error_code", string(resp.ErrorCode)),
		zap.String("message", resp.Message),
		zap.String("request_id", resp.RequestID),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("failed to encode error response", zap.Error(err))
	}
}

// FromResponse rebuilds a SyncError from a decoded error envelope. Used by
// HTTP clients so callers can keep matching on error codes.
func FromResponse(statusCode int, resp ErrorResponse) *SyncError {
	code := resp.ErrorCode
	if code == "" {
		switch {
		case statusCode == http.StatusTooManyRequests:
			code = ErrCodeRateLimited
		case statusCode >= 500:
			code = ErrCodeUnavailable
		default:
			code = ErrCodeInvalidArgument
		}
	}
	se := NewSyncError(code, resp.Message, nil)
	for k, v := range resp.Details {
		se.Details[k] = v
	}
	return se
}
