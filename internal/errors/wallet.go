package errors

import "net/http"

var (
	ErrInsufficientBalance = &DomainError{
		Code:    "INSUFFICIENT_BALANCE",
		Message: "insufficient wallet balance",
		Status:  http.StatusBadRequest,
	}
	ErrInvalidAmount = &DomainError{
		Code:    "INVALID_AMOUNT",
		Message: "invalid amount",
		Status:  http.StatusBadRequest,
	}
	ErrWalletNotFound = &DomainError{
		Code:    "WALLET_NOT_FOUND",
		Message: "wallet not found",
		Status:  http.StatusNotFound,
	}
	ErrRecipientNotFound = &DomainError{
		Code:    "RECIPIENT_NOT_FOUND",
		Message: "recipient not found",
		Status:  http.StatusNotFound,
	}
	ErrSelfTransferNotAllowed = &DomainError{
		Code:    "SELF_TRANSFER_NOT_ALLOWED",
		Message: "cannot transfer to your own wallet",
		Status:  http.StatusBadRequest,
	}
	ErrLockHeld = &DomainError{
		Code:      "LOCK_HELD",
		Message:   "another operation is in progress on this wallet, retry shortly",
		Status:    http.StatusTooManyRequests,
		Retryable: true,
	}
	ErrTransactionNotFound = &DomainError{
		Code:    "TRANSACTION_NOT_FOUND",
		Message: "transaction not found",
		Status:  http.StatusNotFound,
	}
	ErrInvalidTransition = &DomainError{
		Code:    "INVALID_STATUS_TRANSITION",
		Message: "transaction cannot move to the requested status",
		Status:  http.StatusConflict,
	}
	ErrPlanNotFound = &DomainError{
		Code:    "PLAN_NOT_FOUND",
		Message: "data plan not found",
		Status:  http.StatusNotFound,
	}
)

var ErrAccountSuspended = &DomainError{
	Code:    "ACCOUNT_SUSPENDED",
	Message: "account is suspended",
	Status:  http.StatusForbidden,
}

var ErrInvalidRequest = &DomainError{
	Code:    "INVALID_REQUEST",
	Message: "invalid request",
	Status:  http.StatusBadRequest,
}
