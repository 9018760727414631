// Package errortypes provides the typed errors shared by the store, search
// and service layers.
package errortypes

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrorType represents the category of an error.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeStore      ErrorType = "store"
	ErrorTypeFormat     ErrorType = "format"
	ErrorTypeExternal   ErrorType = "external"
	ErrorTypeConfig     ErrorType = "config"
)

// AppError carries a category, a human readable message and the cause.
type AppError struct {
	Err     error
	Type    ErrorType
	Message string
	Fields  map[string]any
}

func (e *AppError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Err.Error()
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithField attaches a key/value pair that is emitted by LogError.
func (e *AppError) WithField(key string, value any) *AppError {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	e.Fields[key] = value
	return e
}

func newAppError(errType ErrorType, err error, message string) *AppError {
	if err == nil {
		err = errors.New(string(errType))
	}
	return &AppError{Err: err, Type: errType, Message: message}
}

// ValidationError reports missing or malformed input. Operations failing
// with it have no side effects.
func ValidationError(err error, message string) *AppError {
	return newAppError(ErrorTypeValidation, err, message)
}

// NotFoundError reports an unknown chat or message.
func NotFoundError(err error, message string) *AppError {
	return newAppError(ErrorTypeNotFound, err, message)
}

// StoreError reports a storage failure. The enclosing transaction has been
// rolled back.
func StoreError(err error, message string) *AppError {
	return newAppError(ErrorTypeStore, err, message)
}

// FormatError reports a stored value that cannot be decoded.
func FormatError(err error, message string) *AppError {
	return newAppError(ErrorTypeFormat, err, message)
}

// ExternalError reports a failure of the language model backend.
func ExternalError(err error, message string) *AppError {
	return newAppError(ErrorTypeExternal, err, message)
}

// ConfigError reports invalid configuration.
func ConfigError(err error, message string) *AppError {
	return newAppError(ErrorTypeConfig, err, message)
}

// TypeOf returns the category of the outermost AppError in err's chain, or
// the empty string.
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ""
}

func IsValidationError(err error) bool { return TypeOf(err) == ErrorTypeValidation }

func IsNotFoundError(err error) bool { return TypeOf(err) == ErrorTypeNotFound }

func IsStoreError(err error) bool { return TypeOf(err) == ErrorTypeStore }

func IsFormatError(err error) bool { return TypeOf(err) == ErrorTypeFormat }

func IsExternalError(err error) bool { return TypeOf(err) == ErrorTypeExternal }

func IsConfigError(err error) bool { return TypeOf(err) == ErrorTypeConfig }

// LogError logs err with its type and fields. A nil logger means slog.Default.
func LogError(logger *slog.Logger, err error) {
	if logger == nil {
		logger = slog.Default()
	}

	var appErr *AppError
	if !errors.As(err, &appErr) {
		logger.Error(err.Error(), "error", err)
		return
	}

	args := []any{
		"type", string(appErr.Type),
		"error", appErr.Err.Error(),
	}
	for k, v := range appErr.Fields {
		args = append(args, k, v)
	}
	msg := appErr.Message
	if msg == "" {
		msg = appErr.Err.Error()
	}
	logger.Error(msg, args...)
}
