package errors

import "net/http"

var (
	ErrInvalidOrRevokedToken = &DomainError{
		Code:    "INVALID_OR_REVOKED_TOKEN",
		Message: "invalid or revoked token",
		Status:  http.StatusUnauthorized,
	}
	ErrInvalidCredentials = &DomainError{
		Code:    "INVALID_CREDENTIALS",
		Message: "invalid credentials",
		Status:  http.StatusUnauthorized,
	}
	ErrInvalidOTP = &DomainError{
		Code:    "INVALID_OTP",
		Message: "invalid or expired code",
		Status:  http.StatusBadRequest,
	}
	ErrUserNotFound = &DomainError{
		Code:    "USER_NOT_FOUND",
		Message: "user not found",
		Status:  http.StatusNotFound,
	}
	ErrWeakPassword = &DomainError{
		Code:    "WEAK_PASSWORD",
		Message: "password must be at least 8 characters and contain special characters",
		Status:  http.StatusBadRequest,
	}
	ErrUserExists = &DomainError{
		Code:    "USER_EXISTS",
		Message: "email, phone or handle already taken",
		Status:  http.StatusConflict,
	}
)
