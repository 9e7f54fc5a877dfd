package errors

import (
	"fmt"
	"net/http"
)

// NewValidationError creates a validation error with field context
func NewValidationError(field, value, message string) *AppError {
	return New(ErrCodeValidationFailed, message).
		WithContext("field", field).
		WithContext("value", value).
		WithUserMessage(fmt.Sprintf("Invalid %s: %s", field, message))
}

// NewInvalidInputError is returned for malformed API or registry input.
func NewInvalidInputError(field, message string) *AppError {
	return New(ErrCodeInvalidInput, message).
		WithContext("field", field).
		WithUserMessage(fmt.Sprintf("Invalid %s: %s", field, message))
}

// NewConfigError creates a configuration error
func NewConfigError(key, message string) *AppError {
	return New(ErrCodeInvalidConfig, message).
		WithContext("config_key", key).
		WithUserMessage("Configuration error")
}

// NewAlreadyRunningError is returned when a session id already has a live handle.
func NewAlreadyRunningError(sessionID string) *AppError {
	return New(ErrCodeAlreadyRunning, "session already running").
		WithContext("session", sessionID).
		WithUserMessage(fmt.Sprintf("Session %s already exists", sessionID))
}

// NewSessionNotFoundError is returned for operations on an id with no live handle.
func NewSessionNotFoundError(sessionID string) *AppError {
	return New(ErrCodeSessionNotFound, "session not found").
		WithContext("session", sessionID).
		WithUserMessage(fmt.Sprintf("Session %s not found", sessionID))
}

// NewPersistenceError wraps a failed read or write of durable state.
func NewPersistenceError(operation, target string, err error) *AppError {
	return Wrap(err, ErrCodePersistence, fmt.Sprintf("%s failed", operation)).
		WithContext("operation", operation).
		WithContext("target", target).
		WithUserMessage("Storage operation failed")
}

// NewDatabaseError creates a database error with operation context
func NewDatabaseError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeDatabase, fmt.Sprintf("database %s failed", operation)).
		WithContext("operation", operation).
		WithUserMessage("Database operation failed")
}

// NewDeliveryError describes a failed webhook POST. A zero statusCode means
// the request never produced a response.
func NewDeliveryError(url string, statusCode int, err error) *AppError {
	msg := "webhook delivery failed"
	if statusCode != 0 {
		msg = fmt.Sprintf("webhook returned status %d", statusCode)
	}
	return Wrap(err, ErrCodeDelivery, msg).
		WithContext("url", url).
		WithContext("status_code", statusCode)
}

// NewProtocolError creates an error for calls into the protocol gateway.
// Server-side and throttling failures are marked retryable.
func NewProtocolError(operation string, statusCode int, err error) *AppError {
	appErr := Wrap(err, ErrCodeProtocol, fmt.Sprintf("protocol %s failed", operation)).
		WithContext("operation", operation).
		WithContext("status_code", statusCode)
	appErr.Retryable = statusCode >= 500 || statusCode == http.StatusTooManyRequests || statusCode == http.StatusRequestTimeout
	return appErr
}

// NewTimeoutError creates a timeout error with context
func NewTimeoutError(operation string, duration string) *AppError {
	return New(ErrCodeTimeout, fmt.Sprintf("%s timed out after %s", operation, duration)).
		WithContext("operation", operation).
		WithContext("timeout", duration).
		WithUserMessage("Operation timed out, please try again")
}

// NewNotFoundError creates a not found error with resource context
func NewNotFoundError(resource, identifier string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource)).
		WithContext("resource", resource).
		WithContext("identifier", identifier).
		WithUserMessage(fmt.Sprintf("%s not found", resource))
}

// NewMediaError creates a media processing error
func NewMediaError(operation, mediaType string, err error) *AppError {
	return Wrap(err, ErrCodeMediaDownload, fmt.Sprintf("media %s failed", operation)).
		WithContext("operation", operation).
		WithContext("media_type", mediaType).
		WithUserMessage("Media processing failed")
}

// HTTPStatusCode maps error codes to appropriate HTTP status codes
func HTTPStatusCode(err error) int {
	switch GetCode(err) {
	case ErrCodeValidationFailed, ErrCodeInvalidInput, ErrCodeInvalidConfig:
		return http.StatusBadRequest
	case ErrCodeNotFound, ErrCodeSessionNotFound:
		return http.StatusNotFound
	case ErrCodeAlreadyRunning:
		return http.StatusConflict
	case ErrCodeTimeout:
		return http.StatusRequestTimeout
	case ErrCodeProtocol, ErrCodeMediaDownload, ErrCodeDelivery:
		if IsRetryable(err) {
			return http.StatusBadGateway
		}
		return http.StatusInternalServerError
	case ErrCodeDatabase, ErrCodePersistence:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HTTPErrorResponse is the JSON body written for failed API calls.
type HTTPErrorResponse struct {
	Error struct {
		Code    ErrorCode   `json:"code"`
		Message string      `json:"message"`
		Context interface{} `json:"context,omitempty"`
	} `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// ToHTTPResponse converts an error to a standardized HTTP response
func ToHTTPResponse(err error, requestID string) HTTPErrorResponse {
	response := HTTPErrorResponse{
		RequestID: requestID,
	}

	appErr, ok := As(err)
	if !ok {
		response.Error.Code = ErrCodeInternalError
		response.Error.Message = GetUserMessage(err)
		return response
	}

	response.Error.Code = appErr.Code
	response.Error.Message = GetUserMessage(err)
	if len(appErr.Context) > 0 {
		publicContext := make(map[string]interface{})
		for k, v := range appErr.Context {
			if k != "password" && k != "token" && k != "secret" {
				publicContext[k] = v
			}
		}
		if len(publicContext) > 0 {
			response.Error.Context = publicContext
		}
	}
	return response
}
