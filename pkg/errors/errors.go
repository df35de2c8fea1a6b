package errors

import (
	"errors"
)

type Code string

const (
	CodeUnknownRole              Code = "unknown_role"
	CodeUnknownResource          Code = "unknown_resource"
	CodeMalformedPermissionValue Code = "malformed_permission_value"
	CodeTransportFailure         Code = "transport_failure"
	CodePermissionDenied         Code = "permission_denied"
	CodeUnauthenticated          Code = "unauthenticated"
	CodeInvalidInput             Code = "invalid_input"
)

const (
	CodeUnknown            Code = "unknown"
	CodeStorageUnavailable Code = "storage_unavailable"
	CodeInvalidConfig      Code = "invalid_config"
)

var (
	ErrMissingStorage   = errors.New("consoleauth: durable storage is required")
	ErrMissingTransport = errors.New("consoleauth: login transport is required")
)

type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	if e.Message != "" {
		return e.Message
	}

	if e.Err != nil {
		return e.Err.Error()
	}

	return string(e.Code)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

func Wrap(code Code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func CodeOf(err error) Code {
	var typed *Error
	if !errors.As(err, &typed) {
		return ""
	}
	return typed.Code
}

func IsCode(err error, code Code) bool {
	var typed *Error
	if !errors.As(err, &typed) {
		return false
	}
	return typed.Code == code
}

// IsInternalCode reports errors that point at a defect in configuration or
// data rather than a user action.
func IsInternalCode(err error) bool {
	return IsCode(err, CodeUnknown) ||
		IsCode(err, CodeStorageUnavailable) ||
		IsCode(err, CodeInvalidConfig) ||
		IsCode(err, CodeUnknownRole) ||
		IsCode(err, CodeUnknownResource) ||
		IsCode(err, CodeMalformedPermissionValue)
}
