package domain

import (
	"errors"
	"fmt"
)

// ErrorCode represents a machine-readable error code
type ErrorCode string

const (
	// Validation Errors (VALIDATION_*)
	ErrorCodeValidationFailed        ErrorCode = "VALIDATION_FAILED"
	ErrorCodeValidationAmountInvalid ErrorCode = "VALIDATION_AMOUNT_INVALID"
	ErrorCodeValidationMissingField  ErrorCode = "VALIDATION_MISSING_FIELD"

	// Merchant Errors (MERCHANT_*)
	ErrorCodeMerchantNotFound ErrorCode = "MERCHANT_NOT_FOUND"
	ErrorCodeMerchantInactive ErrorCode = "MERCHANT_INACTIVE"

	// Transaction Errors (TXN_*)
	ErrorCodeTxnNotFound     ErrorCode = "TXN_NOT_FOUND"
	ErrorCodeTxnInvalidState ErrorCode = "TXN_INVALID_STATE"
	ErrorCodeTxnConflict     ErrorCode = "TXN_VERSION_CONFLICT"

	// Provider Errors (PROVIDER_*)
	ErrorCodeProviderUnsupported ErrorCode = "PROVIDER_UNSUPPORTED"
	ErrorCodeProviderError       ErrorCode = "PROVIDER_ERROR"

	// Webhook Errors (WEBHOOK_*)
	ErrorCodeSignatureInvalid ErrorCode = "WEBHOOK_SIGNATURE_INVALID"

	// Internal Errors (INTERNAL_*)
	ErrorCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrorCodeDatabaseError ErrorCode = "INTERNAL_DATABASE_ERROR"
)

// DomainError represents a structured domain error with error code and context
type DomainError struct {
	Err     error
	Details map[string]interface{}
	Code    ErrorCode
	Message string
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *DomainError) Unwrap() error {
	return e.Err
}

// WithDetail adds a detail field to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(code ErrorCode, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with a domain error code
func WrapError(code ErrorCode, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Err:     err,
	}
}

// NewProviderError wraps an upstream PSP failure, keeping the provider's own
// error type and message for diagnostics. Connectors never surface raw
// transport errors to callers above them.
func NewProviderError(provider, providerType, message string, err error) *DomainError {
	e := WrapError(ErrorCodeProviderError, message, err)
	e.Details["provider"] = provider
	if providerType != "" {
		e.Details["provider_error_type"] = providerType
	}
	return e
}

// IsDomainError checks if an error is a DomainError with the given code
func IsDomainError(err error, code ErrorCode) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error, returns empty string if not a DomainError
func GetErrorCode(err error) ErrorCode {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}

// IsNotFoundError checks if an error represents a "not found" condition
func IsNotFoundError(err error) bool {
	code := GetErrorCode(err)
	return code == ErrorCodeMerchantNotFound || code == ErrorCodeTxnNotFound
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	code := GetErrorCode(err)
	return code == ErrorCodeValidationFailed ||
		code == ErrorCodeValidationAmountInvalid ||
		code == ErrorCodeValidationMissingField
}

// IsProviderError checks if an error originated from an upstream PSP call
func IsProviderError(err error) bool {
	return GetErrorCode(err) == ErrorCodeProviderError
}

// Structured error instances
var (
	ErrValidationFailed        = NewDomainError(ErrorCodeValidationFailed, "validation failed")
	ErrValidationAmountInvalid = NewDomainError(ErrorCodeValidationAmountInvalid, "invalid amount")
	ErrValidationMissingField  = NewDomainError(ErrorCodeValidationMissingField, "required field missing")

	ErrMerchantNotFound = NewDomainError(ErrorCodeMerchantNotFound, "merchant not found")
	ErrMerchantInactive = NewDomainError(ErrorCodeMerchantInactive, "merchant is not active")

	ErrTransactionNotFound = NewDomainError(ErrorCodeTxnNotFound, "transaction not found")
	ErrTxnInvalidState     = NewDomainError(ErrorCodeTxnInvalidState, "transaction is in invalid state for this operation")
	ErrTxnVersionConflict  = NewDomainError(ErrorCodeTxnConflict, "transaction was modified concurrently")

	ErrProviderUnsupported = NewDomainError(ErrorCodeProviderUnsupported, "no connector registered for selected provider")

	ErrSignatureInvalid = NewDomainError(ErrorCodeSignatureInvalid, "webhook signature verification failed")

	ErrInternalError = NewDomainError(ErrorCodeInternalError, "internal server error")
	ErrDatabaseError = NewDomainError(ErrorCodeDatabaseError, "database error")
)
