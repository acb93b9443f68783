package common

import "errors"

// AppError is a service error carrying the API error code and the HTTP
// status it should render with. Codes are stable identifiers such as
// PINCODE_NOT_SERVICEABLE or PAYMENT_REJECTED that clients match on.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
}

// NewAppError wraps err with a client-facing code, message and status.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap exposes the cause to errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsAppError reports whether err or anything it wraps is an AppError.
func IsAppError(err error) bool {
	var target *AppError
	return errors.As(err, &target)
}
