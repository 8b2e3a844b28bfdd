package apperrors

import "errors"

// =============================================================================
// Error Codes
// =============================================================================

type ErrorCode string

const (
	ErrorCodeInternalError   ErrorCode = "INTERNAL_ERROR"
	ErrorCodeValidationError ErrorCode = "VALIDATION_ERROR"
	ErrorCodeNotFound        ErrorCode = "NOT_FOUND"
	ErrorCodeUnauthorized    ErrorCode = "UNAUTHORIZED"
	ErrorCodeForbidden       ErrorCode = "FORBIDDEN"
	ErrorCodeConflict        ErrorCode = "CONFLICT"
	ErrorCodeRateLimited     ErrorCode = "RATE_LIMITED"

	// Playback-run error kinds. The orchestrator branches on these.
	ErrorCodeTransient             ErrorCode = "TRANSIENT"
	ErrorCodeAuthExpired           ErrorCode = "AUTH_EXPIRED"
	ErrorCodeDeviceNotFound        ErrorCode = "DEVICE_NOT_FOUND"
	ErrorCodeDeviceNotDiscoverable ErrorCode = "DEVICE_NOT_DISCOVERABLE"
	ErrorCodeDeviceNotCloudVisible ErrorCode = "DEVICE_NOT_CLOUD_VISIBLE"
	ErrorCodePlaybackNotConfirmed  ErrorCode = "PLAYBACK_NOT_CONFIRMED"
	ErrorCodeUnsupported           ErrorCode = "UNSUPPORTED"
	ErrorCodePermanentRejected     ErrorCode = "PERMANENT_REJECTED"
	ErrorCodeMisconfigured         ErrorCode = "MISCONFIGURED"
	ErrorCodeFallbackExhausted     ErrorCode = "FALLBACK_EXHAUSTED"
	ErrorCodeCryptoFailure         ErrorCode = "CRYPTO_FAILURE"

	ErrorCodeAuthPairingInvalid ErrorCode = "AUTH_PAIRING_INVALID"
	ErrorCodeAuthTokenExpired   ErrorCode = "AUTH_TOKEN_EXPIRED"
	ErrorCodeAuthTokenInvalid   ErrorCode = "AUTH_TOKEN_INVALID"
	ErrorCodeAlarmNotFound      ErrorCode = "ALARM_NOT_FOUND"
	ErrorCodeRunNotFound        ErrorCode = "RUN_NOT_FOUND"
	ErrorCodeInvalidSchedule    ErrorCode = "INVALID_SCHEDULE"
	ErrorCodeSpotifyNotLinked   ErrorCode = "SPOTIFY_NOT_LINKED"
)

// =============================================================================
// Error Types (response envelope)
// =============================================================================

// ErrorType categorizes errors in the HTTP error envelope.
type ErrorType string

const (
	// ErrorTypeInvalidRequest indicates invalid parameters, missing required fields, etc.
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
	// ErrorTypeAPIError indicates an internal API error.
	ErrorTypeAPIError ErrorType = "api_error"
	// ErrorTypeAuthError indicates authentication or authorization failure.
	ErrorTypeAuthError ErrorType = "authentication_error"
)

// ErrorBody is the serialized error payload.
// Format: {"type": "invalid_request_error", "code": "NOT_FOUND", "message": "..."}
type ErrorBody struct {
	Type    ErrorType `json:"type"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
}

// AppError is the base error type used across services and HTTP responses.
type AppError struct {
	Code       ErrorCode
	Message    string
	StatusCode int
	Details    map[string]any
	Err        error // wrapped cause, may be nil
}

func (err *AppError) Error() string {
	if err.Err != nil {
		return err.Message + ": " + err.Err.Error()
	}
	return err.Message
}

func (err *AppError) Unwrap() error {
	return err.Err
}

// ErrorBody returns the error in envelope format.
func (err *AppError) ErrorBody() ErrorBody {
	errType := ErrorTypeAPIError
	switch {
	case err.StatusCode == 401 || err.StatusCode == 403:
		errType = ErrorTypeAuthError
	case err.StatusCode >= 400 && err.StatusCode < 500:
		errType = ErrorTypeInvalidRequest
	}

	return ErrorBody{
		Type:    errType,
		Code:    string(err.Code),
		Message: err.Message,
	}
}

func NewAppError(code ErrorCode, message string, statusCode int, details map[string]any) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Details:    details,
	}
}

// Wrap builds an AppError around a cause while keeping the cause reachable
// through errors.Is/As.
func Wrap(code ErrorCode, message string, statusCode int, cause error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Err:        cause,
	}
}

func NewValidationError(message string, details map[string]any) *AppError {
	return NewAppError(ErrorCodeValidationError, message, 400, details)
}

func NewUnauthorizedError(message string, code ...ErrorCode) *AppError {
	errCode := ErrorCodeUnauthorized
	if len(code) > 0 {
		errCode = code[0]
	}
	return NewAppError(errCode, message, 401, nil)
}

func NewForbiddenError(message string) *AppError {
	return NewAppError(ErrorCodeForbidden, message, 403, nil)
}

func NewNotFoundError(message string, details map[string]any) *AppError {
	return NewAppError(ErrorCodeNotFound, message, 404, details)
}

func NewNotFoundResource(resource, id string) *AppError {
	message := resource + " not found"
	details := map[string]any{
		"resource": resource,
	}
	if id != "" {
		message = resource + " not found: " + id
		details["id"] = id
	}
	return NewAppError(ErrorCodeNotFound, message, 404, details)
}

func NewConflictError(message string, details map[string]any) *AppError {
	return NewAppError(ErrorCodeConflict, message, 409, details)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrorCodeInternalError, message, 500, nil)
}

// Run-path constructors. Status codes matter only when these reach the HTTP
// surface (e.g. an ad-hoc play request).

func NewTransient(message string, cause error) *AppError {
	return Wrap(ErrorCodeTransient, message, 502, cause)
}

func NewAuthExpired(message string, cause error) *AppError {
	return Wrap(ErrorCodeAuthExpired, message, 401, cause)
}

func NewDeviceNotFound(message string) *AppError {
	return NewAppError(ErrorCodeDeviceNotFound, message, 404, nil)
}

func NewUnsupported(message string, cause error) *AppError {
	return Wrap(ErrorCodeUnsupported, message, 502, cause)
}

func NewPermanentRejected(message string, cause error) *AppError {
	return Wrap(ErrorCodePermanentRejected, message, 502, cause)
}

func NewMisconfigured(message string) *AppError {
	return NewAppError(ErrorCodeMisconfigured, message, 500, nil)
}

func NewCryptoFailure(message string, cause error) *AppError {
	return Wrap(ErrorCodeCryptoFailure, message, 500, cause)
}

func NewFallbackExhausted(reason string, cause error) *AppError {
	err := Wrap(ErrorCodeFallbackExhausted, "all wake paths failed: "+reason, 502, cause)
	err.Details = map[string]any{"reason": reason}
	return err
}

func NewAlarmNotFound(id string) *AppError {
	return NewAppError(ErrorCodeAlarmNotFound, "Alarm not found: "+id, 404, map[string]any{"alarm_id": id})
}

func NewRunNotFound(id string) *AppError {
	return NewAppError(ErrorCodeRunNotFound, "Run not found: "+id, 404, map[string]any{"run_id": id})
}

func NewInvalidSchedule(message string) *AppError {
	return NewAppError(ErrorCodeInvalidSchedule, message, 400, nil)
}

// CodeOf extracts the ErrorCode from an error chain; empty when none is found.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// HasCode reports whether any error in the chain carries the given code.
func HasCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// EnsureAppError converts an arbitrary error into an AppError.
func EnsureAppError(err error) *AppError {
	if err == nil {
		return NewInternalError("Unknown error")
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return NewInternalError("Internal server error")
}
