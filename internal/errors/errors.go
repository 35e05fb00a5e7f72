// Package errors provides error code definitions shared across the NoteCove core.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a unique error code surfaced to clients and logs.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrDuplicate  ErrorCode = "DUPLICATE"
	ErrPermission ErrorCode = "PERMISSION_DENIED"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Database errors
	ErrDatabase   ErrorCode = "DATABASE_ERROR"
	ErrConstraint ErrorCode = "CONSTRAINT_VIOLATION"

	// Note errors
	ErrNoteNotFound  ErrorCode = "NOTE_NOT_FOUND"
	ErrNoteInvalid   ErrorCode = "NOTE_INVALID"
	ErrNoteDuplicate ErrorCode = "NOTE_DUPLICATE"

	// Folder errors
	ErrFolderNotFound ErrorCode = "FOLDER_NOT_FOUND"
	ErrFolderInvalid  ErrorCode = "FOLDER_INVALID"

	// Attachment errors
	ErrFileNotFound    ErrorCode = "FILE_NOT_FOUND"
	ErrFileInvalid     ErrorCode = "FILE_INVALID"
	ErrFileUnsupported ErrorCode = "FILE_UNSUPPORTED"

	// Sync errors
	ErrSyncNotConfigured   ErrorCode = "SYNC_NOT_CONFIGURED"
	ErrSyncFailed          ErrorCode = "SYNC_FAILED"
	ErrSyncConflict        ErrorCode = "SYNC_CONFLICT"
	ErrSyncAuthFailed      ErrorCode = "SYNC_AUTH_FAILED"
	ErrSyncQuotaExceeded   ErrorCode = "SYNC_QUOTA_EXCEEDED"
	ErrSyncTimeout         ErrorCode = "SYNC_TIMEOUT"
	ErrSyncNetwork         ErrorCode = "SYNC_NETWORK_ERROR"
	ErrSyncServer          ErrorCode = "SYNC_SERVER_ERROR"
	ErrSyncNotFound        ErrorCode = "SYNC_REMOTE_NOT_FOUND"
	ErrSyncInvalidResponse ErrorCode = "SYNC_INVALID_RESPONSE"
	ErrSyncMalformedOp     ErrorCode = "SYNC_MALFORMED_OPERATION"
	ErrSyncUnsupportedOp   ErrorCode = "SYNC_UNSUPPORTED_OPERATION"

	// Crypto errors
	ErrCryptoFailed ErrorCode = "CRYPTO_FAILED"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if an error (anywhere in its chain) carries a specific code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// GetCode returns the error code carried by err, or ErrInternal when none is.
func GetCode(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}
