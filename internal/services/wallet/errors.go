package wallet

import (
	"errors"

	apperrors "vtupay/internal/errors"
	"vtupay/internal/models"
	"vtupay/internal/repositories"
)

// translate maps repository sentinels onto the domain taxonomy. Errors
// that are already domain errors, or unknown ones, pass through.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperrors.As(err); ok {
		return err
	}
	switch {
	case errors.Is(err, repositories.ErrInsufficientFunds):
		return apperrors.ErrInsufficientBalance
	case errors.Is(err, repositories.ErrWalletNotFound):
		return apperrors.ErrWalletNotFound
	case errors.Is(err, repositories.ErrTransactionNotFound):
		return apperrors.ErrTransactionNotFound
	case errors.Is(err, repositories.ErrStaleTransaction),
		errors.Is(err, repositories.ErrIllegalTransition):
		return apperrors.ErrInvalidTransition.WithCause(err)
	case errors.Is(err, repositories.ErrDuplicateReference):
		return apperrors.ErrDuplicateEvent
	case errors.Is(err, repositories.ErrPlanNotFound):
		return apperrors.ErrPlanNotFound
	case errors.Is(err, models.ErrNonPositiveAmount):
		return apperrors.ErrInvalidAmount
	}
	return err
}

// errorCode labels an error for metrics.
func errorCode(err error) string {
	if de, ok := apperrors.As(err); ok {
		return de.Code
	}
	return "INTERNAL"
}
