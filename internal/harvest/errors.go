package harvest

import (
	"errors"
	"fmt"
)

// ErrorCode classifies failures surfaced by the engine and the provider.
type ErrorCode string

// Error codes carried in PageResult and provider errors.
const (
	CodeRateLimit         ErrorCode = "RATE_LIMIT"
	CodeQuotaExceeded     ErrorCode = "QUOTA_EXCEEDED"
	CodeInvalidCredential ErrorCode = "INVALID_CREDENTIAL"
	CodeInvalidRequest    ErrorCode = "INVALID_REQUEST"
	CodeUnknown           ErrorCode = "UNKNOWN_ERROR"
	CodeNetwork           ErrorCode = "NETWORK_ERROR"
	CodeAlreadyInProgress ErrorCode = "ALREADY_IN_PROGRESS"
)

// Sentinel errors shared across the engine boundary.
var (
	// ErrNotFound signals a missing combination, dork, link, or credential.
	ErrNotFound = errors.New("record not found")
	// ErrInvalidTransition signals an illegal lifecycle action for the current status.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrAlreadyInProgress signals that the execution lock is held for the combination.
	ErrAlreadyInProgress = errors.New("execution already in progress")
	// ErrDecryption signals that a stored credential could not be decrypted.
	ErrDecryption = errors.New("credential decryption failed")
	// ErrValidation signals a malformed operator request.
	ErrValidation = errors.New("validation failed")
)

// ProviderError is a classified failure returned by the search provider.
type ProviderError struct {
	Code       ErrorCode
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider error %s (http %d): %s", e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider error %s: %s", e.Code, e.Message)
}

// AsProviderError unwraps err into a ProviderError if one is present.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
