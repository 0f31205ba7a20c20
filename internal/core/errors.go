package core

import "errors"

// Error codes for domain errors.
const (
	ErrCodeBadRequest      = "bad_request"
	ErrCodeUnauthorized    = "unauthorized"
	ErrCodeNotRegistered   = "not_registered"
	ErrCodeForbidden       = "forbidden"
	ErrCodeTooLarge        = "too_large"
	ErrCodeRateLimited     = "rate_limited"
	ErrCodePersistFailed   = "persist_failed"
	ErrCodeMessageNotFound = "message_not_found"
	ErrCodeStoreError      = "store_error"
)

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrForbidden       = errors.New("not allowed to delete this message")
	ErrBadRequest      = errors.New("bad request")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}
