package gateway

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes returned by the gateway. The first four are definitive
// rejections: retrying them cannot succeed and risks duplicate side effects
// on the gateway side.
const (
	CodeBadRequest      = "BAD_REQUEST"
	CodeInvalidMerchant = "INVALID_MERCHANT"
	CodeDuplicateTxn    = "DUPLICATE_TRANSACTION"
	CodeInvalidRequest  = "INVALID_REQUEST"
	// CodeUnavailable marks an exhausted transient failure. The true outcome
	// is unknown; callers must surface "payment could not be confirmed", not
	// "payment failed".
	CodeUnavailable = "GATEWAY_UNAVAILABLE"
)

// Error is a classified gateway failure.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return fmt.Sprintf("gateway: %s: %s", e.Code, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("gateway: %s: %v", e.Code, e.Err)
	}
	return "gateway: " + e.Code
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Retryable reports whether a fresh attempt with the same input could
// succeed.
func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	switch e.Code {
	case CodeBadRequest, CodeInvalidMerchant, CodeDuplicateTxn, CodeInvalidRequest:
		return false
	default:
		return true
	}
}

// IsDefinitiveRejection reports whether err is a non-retryable gateway error.
func IsDefinitiveRejection(err error) bool {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return !gwErr.Retryable()
	}
	return false
}

func classifyCode(code string) string {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "BAD_REQUEST":
		return CodeBadRequest
	case "INVALID_MERCHANT", "MERCHANT_NOT_FOUND", "KEY_NOT_CONFIGURED":
		return CodeInvalidMerchant
	case "DUPLICATE_TRANSACTION", "DUPLICATE_TXN_REQUEST":
		return CodeDuplicateTxn
	case "INVALID_REQUEST", "INVALID_TRANSACTION_ID":
		return CodeInvalidRequest
	default:
		return strings.ToUpper(strings.TrimSpace(code))
	}
}
