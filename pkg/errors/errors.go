package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents application-specific error codes
type ErrorCode string

const (
	// Validation errors
	ErrCodeValidation   ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"

	// Authentication errors
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"

	// Not found errors
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeCallNotFound ErrorCode = "CALL_NOT_FOUND"
	ErrCodeRoomNotFound ErrorCode = "ROOM_NOT_FOUND"

	// Call lifecycle errors
	ErrCodeMediaAccess        ErrorCode = "MEDIA_ACCESS_FAILED"
	ErrCodeCallBusy           ErrorCode = "CALL_BUSY"
	ErrCodeInvalidState       ErrorCode = "INVALID_STATE"
	ErrCodeNegotiation        ErrorCode = "NEGOTIATION_FAILED"
	ErrCodeScreenShare        ErrorCode = "SCREEN_SHARE_UNAVAILABLE"
	ErrCodeCallCancelled      ErrorCode = "CALL_CANCELLED"
	ErrCodeAlreadyInRoom      ErrorCode = "ALREADY_IN_ROOM"
	ErrCodeRoomFull           ErrorCode = "ROOM_FULL"
	ErrCodeSignalingTransport ErrorCode = "SIGNALING_ERROR"

	// Internal errors
	ErrCodeInternal       ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabase       ErrorCode = "DATABASE_ERROR"
	ErrCodeServiceUnavail ErrorCode = "SERVICE_UNAVAILABLE"
)

// AppError is a structured application error. Message is always safe to show
// to an end user; Err keeps the underlying cause for logs.
type AppError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	StatusCode int       `json:"-"`
	Details    any       `json:"details,omitempty"`
	Err        error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError with status 500
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

// NewWithStatus creates a new AppError with a specific HTTP status code
func NewWithStatus(code ErrorCode, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap wraps err with an AppError (status 500)
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

// WrapWithStatus wraps err with an AppError and a specific status code
func WrapWithStatus(code ErrorCode, message string, statusCode int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Err:        err,
	}
}

// WithDetails attaches debugging details
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

func ValidationError(message string) *AppError {
	return NewWithStatus(ErrCodeValidation, message, http.StatusBadRequest)
}

func UnauthorizedError(message string) *AppError {
	return NewWithStatus(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func NotFoundError(resource string) *AppError {
	return NewWithStatus(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func CallNotFoundError() *AppError {
	return NewWithStatus(ErrCodeCallNotFound, "Call not found", http.StatusNotFound)
}

func RoomNotFoundError() *AppError {
	return NewWithStatus(ErrCodeRoomNotFound, "Room not found", http.StatusNotFound)
}

// MediaAccessError is returned when camera/microphone/screen capture is denied or unavailable
func MediaAccessError(err error) *AppError {
	return WrapWithStatus(ErrCodeMediaAccess, "Media access failed", http.StatusFailedDependency, err)
}

func BusyError() *AppError {
	return NewWithStatus(ErrCodeCallBusy, "Already in a call", http.StatusConflict)
}

func InvalidStateError(message string) *AppError {
	return NewWithStatus(ErrCodeInvalidState, message, http.StatusConflict)
}

func NegotiationError(err error) *AppError {
	return Wrap(ErrCodeNegotiation, "Call connection failed", err)
}

func ScreenShareError(err error) *AppError {
	return WrapWithStatus(ErrCodeScreenShare, "Screen sharing unavailable", http.StatusFailedDependency, err)
}

func CancelledError() *AppError {
	return NewWithStatus(ErrCodeCallCancelled, "Call cancelled", http.StatusConflict)
}

func AlreadyInRoomError() *AppError {
	return NewWithStatus(ErrCodeAlreadyInRoom, "Already in a room", http.StatusConflict)
}

func RoomFullError() *AppError {
	return NewWithStatus(ErrCodeRoomFull, "Room is full", http.StatusConflict)
}

func SignalingError(err error) *AppError {
	return WrapWithStatus(ErrCodeSignalingTransport, "Signaling unavailable", http.StatusServiceUnavailable, err)
}

func InternalError(message string) *AppError {
	return NewWithStatus(ErrCodeInternal, message, http.StatusInternalServerError)
}

func DatabaseError(err error) *AppError {
	return WrapWithStatus(ErrCodeDatabase, "Database error", http.StatusInternalServerError, err)
}

func ServiceUnavailableError(message string) *AppError {
	return NewWithStatus(ErrCodeServiceUnavail, message, http.StatusServiceUnavailable)
}

// IsAppError checks if err is, or wraps, an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// HasCode reports whether err is, or wraps, an AppError with the given code
func HasCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// GetAppError extracts the AppError from err, wrapping anything else as an internal error
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return Wrap(ErrCodeInternal, "Internal error", err)
}
