package repositories

import (
	"context"
	"errors"
	"time"

	"vtupay/internal/models"

	"gorm.io/datatypes"
)

var (
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrDuplicateReference means a row with the same (provider, reference) exists.
	ErrDuplicateReference = errors.New("duplicate provider reference")
	// ErrStaleTransaction means the row was not in the expected status when
	// the conditional update ran.
	ErrStaleTransaction  = errors.New("transaction status changed concurrently")
	ErrIllegalTransition = errors.New("illegal transaction status transition")
)

// StatusUpdate carries the optional columns written alongside a status change.
type StatusUpdate struct {
	ProviderResponse datatypes.JSON
	Metadata         *models.Metadata
}

// WalletRepository is the ledger store: wallet balances on users and the
// transactions table. Balance mutations are conditional single statements.
type WalletRepository interface {
	// ExecuteInTransaction runs fn in one database transaction. fn must use
	// the repository it is given, not the outer one.
	ExecuteInTransaction(ctx context.Context, fn func(WalletRepository) error) error

	GetWallet(ctx context.Context, ownerID uint) (*models.Wallet, error)
	// DebitBalance subtracts amount only if the balance covers it.
	DebitBalance(ctx context.Context, ownerID uint, amount int64) error
	CreditBalance(ctx context.Context, ownerID uint, amount int64) error

	CreateTransaction(ctx context.Context, tx *models.Transaction) error
	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)
	GetByProviderReference(ctx context.Context, provider, reference string) (*models.Transaction, error)
	// TransitionStatus moves id from one status to another, failing with
	// ErrStaleTransaction if the row is no longer in from.
	TransitionStatus(ctx context.Context, id string, from, to models.TransactionStatus, update StatusUpdate) error

	// SumCompleted totals completed credits and debits for an owner.
	SumCompleted(ctx context.Context, ownerID uint) (credits, debits int64, err error)
	ListTransactions(ctx context.Context, ownerID uint, limit, offset int) ([]models.Transaction, int64, error)
	// ListStalePending returns third-party debits still pending since before olderThan.
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.Transaction, error)
}
