// Package respond centralizes JSON response writing and the mapping from
// domain error codes to HTTP status codes.
package respond

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/wadipay/payment-orchestrator/internal/domain"
)

// errorBody is the error envelope returned to API callers.
type errorBody struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// Error maps a domain error to its HTTP status and writes the error
// envelope.
func Error(w http.ResponseWriter, err error) {
	var domainErr *domain.DomainError
	if !errors.As(err, &domainErr) {
		JSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error"})
		return
	}

	JSON(w, statusFor(domainErr.Code), errorBody{
		Error:   domainErr.Message,
		Code:    string(domainErr.Code),
		Details: domainErr.Details,
	})
}

func statusFor(code domain.ErrorCode) int {
	switch code {
	case domain.ErrorCodeValidationFailed,
		domain.ErrorCodeValidationAmountInvalid,
		domain.ErrorCodeValidationMissingField,
		domain.ErrorCodeTxnInvalidState:
		return http.StatusBadRequest
	case domain.ErrorCodeSignatureInvalid:
		return http.StatusUnauthorized
	case domain.ErrorCodeMerchantInactive:
		return http.StatusForbidden
	case domain.ErrorCodeTxnNotFound, domain.ErrorCodeMerchantNotFound:
		return http.StatusNotFound
	case domain.ErrorCodeTxnConflict:
		return http.StatusConflict
	case domain.ErrorCodeProviderError, domain.ErrorCodeProviderUnsupported:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
