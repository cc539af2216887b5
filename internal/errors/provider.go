package errors

import "net/http"

var (
	ErrProviderUnavailable = &DomainError{
		Code:      "PROVIDER_UNAVAILABLE",
		Message:   "provider did not return a definitive result",
		Status:    http.StatusBadGateway,
		Retryable: true,
	}
	ErrProviderRejected = &DomainError{
		Code:    "PROVIDER_REJECTED",
		Message: "provider declined the request",
		Status:  http.StatusUnprocessableEntity,
	}
	ErrInvalidSignature = &DomainError{
		Code:    "INVALID_SIGNATURE",
		Message: "invalid signature",
		Status:  http.StatusUnauthorized,
	}
	// ErrDuplicateEvent marks an already-applied provider event. It is an
	// outcome, not a failure: callers acknowledge it.
	ErrDuplicateEvent = &DomainError{
		Code:    "DUPLICATE_EVENT",
		Message: "event already processed",
		Status:  http.StatusOK,
	}
	ErrAmountMismatch = &DomainError{
		Code:    "AMOUNT_MISMATCH",
		Message: "event amount does not match the verified amount",
		Status:  http.StatusUnprocessableEntity,
	}
	ErrStoreUnavailable = &DomainError{
		Code:      "STORE_UNAVAILABLE",
		Message:   "temporary storage unavailable",
		Status:    http.StatusServiceUnavailable,
		Retryable: true,
	}
)
