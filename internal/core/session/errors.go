package session

import (
	"errors"
	"time"
)

var (
	// Connection errors

	ErrConnectFailed     = errors.New("connect failed")
	ErrNotConnected      = errors.New("session is not connected")
	ErrAlreadyConnected  = errors.New("session is already connected")
	ErrSessionClosed     = errors.New("session is closed")
	ErrConnectionClosed  = errors.New("connection closed by peer")
	ErrReadTimeout       = errors.New("read timeout inside frame")
	ErrWriteFailed       = errors.New("write failed")
	ErrTransportNotFound = errors.New("transport not supported")

	// Frame and payload errors

	ErrFrameTooLarge  = errors.New("frame too large")
	ErrInvalidPayload = errors.New("invalid payload")
	ErrEncodeFailed   = errors.New("payload encoding failed")

	// Configuration errors

	ErrInvalidConfig = errors.New("invalid session configuration")
)

// ErrorCode is a numeric classification used to decide whether a session can
// continue after an error.
type ErrorCode int

const (
	ErrorCodeUnknown ErrorCode = 0

	// Connection error codes (1000-1999)

	ErrorCodeConnectFailed     ErrorCode = 1001
	ErrorCodeNotConnected      ErrorCode = 1002
	ErrorCodeAlreadyConnected  ErrorCode = 1003
	ErrorCodeSessionClosed     ErrorCode = 1004
	ErrorCodeConnectionClosed  ErrorCode = 1005
	ErrorCodeReadTimeout       ErrorCode = 1006
	ErrorCodeWriteFailed       ErrorCode = 1007
	ErrorCodeTransportNotFound ErrorCode = 1008

	// Frame error codes (3000-3999)

	ErrorCodeFrameTooLarge  ErrorCode = 3001
	ErrorCodeInvalidPayload ErrorCode = 3002
	ErrorCodeEncodeFailed   ErrorCode = 3003

	// Configuration error codes (9000-9999)

	ErrorCodeInvalidConfig ErrorCode = 9001
)

var errorCodeMap = map[error]ErrorCode{
	ErrConnectFailed:     ErrorCodeConnectFailed,
	ErrNotConnected:      ErrorCodeNotConnected,
	ErrAlreadyConnected:  ErrorCodeAlreadyConnected,
	ErrSessionClosed:     ErrorCodeSessionClosed,
	ErrConnectionClosed:  ErrorCodeConnectionClosed,
	ErrReadTimeout:       ErrorCodeReadTimeout,
	ErrWriteFailed:       ErrorCodeWriteFailed,
	ErrTransportNotFound: ErrorCodeTransportNotFound,
	ErrFrameTooLarge:     ErrorCodeFrameTooLarge,
	ErrInvalidPayload:    ErrorCodeInvalidPayload,
	ErrEncodeFailed:      ErrorCodeEncodeFailed,
	ErrInvalidConfig:     ErrorCodeInvalidConfig,
}

// Error represents a session error with additional context
type Error struct {
	Code      ErrorCode
	Message   string
	Cause     error
	Timestamp int64
}

// NewError creates a new session error
func NewError(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Cause:     cause,
		Timestamp: time.Now().Unix(),
	}
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches the sentinel that shares this error's code, so
// errors.Is(err, ErrConnectFailed) works without wrapping the sentinel.
func (e *Error) Is(target error) bool {
	code, ok := errorCodeMap[target]
	return ok && code == e.Code
}

// IsFatal reports whether the session must be closed and reopened.
func (e *Error) IsFatal() bool {
	switch e.Code {
	case ErrorCodeConnectionClosed,
		ErrorCodeReadTimeout,
		ErrorCodeWriteFailed,
		ErrorCodeFrameTooLarge,
		ErrorCodeInvalidPayload:
		return true
	default:
		return false
	}
}

// GetErrorCode returns the error code for a given error
func GetErrorCode(err error) ErrorCode {
	if code, exists := errorCodeMap[err]; exists {
		return code
	}

	var sessionErr *Error
	if errors.As(err, &sessionErr) {
		return sessionErr.Code
	}

	return ErrorCodeUnknown
}
