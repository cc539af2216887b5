package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vtupay/internal/models"

	"gorm.io/gorm"
)

type walletRepository struct {
	db *gorm.DB
}

func NewWalletRepository(db *gorm.DB) WalletRepository {
	return &walletRepository{
		db: db,
	}
}

func (r *walletRepository) ExecuteInTransaction(ctx context.Context, fn func(WalletRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&walletRepository{db: tx})
	})
}

func (r *walletRepository) GetWallet(ctx context.Context, ownerID uint) (*models.Wallet, error) {
	var user models.User
	err := r.db.WithContext(ctx).
		Select("id", "wallet_balance_minor", "wallet_currency", "wallet_status").
		First(&user, ownerID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return &user.Wallet, nil
}

func (r *walletRepository) DebitBalance(ctx context.Context, ownerID uint, amount int64) error {
	if amount <= 0 {
		return models.ErrNonPositiveAmount
	}
	result := r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND wallet_balance_minor >= ?", ownerID, amount).
		UpdateColumn("wallet_balance_minor", gorm.Expr("wallet_balance_minor - ?", amount))
	if result.Error != nil {
		return fmt.Errorf("failed to debit wallet: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetWallet(ctx, ownerID); err != nil {
			return err
		}
		return ErrInsufficientFunds
	}
	return nil
}

func (r *walletRepository) CreditBalance(ctx context.Context, ownerID uint, amount int64) error {
	if amount <= 0 {
		return models.ErrNonPositiveAmount
	}
	result := r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", ownerID).
		UpdateColumn("wallet_balance_minor", gorm.Expr("wallet_balance_minor + ?", amount))
	if result.Error != nil {
		return fmt.Errorf("failed to credit wallet: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrWalletNotFound
	}
	return nil
}

func (r *walletRepository) CreateTransaction(ctx context.Context, tx *models.Transaction) error {
	if err := r.db.WithContext(ctx).Create(tx).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateReference
		}
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

func (r *walletRepository) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	var tx models.Transaction
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&tx).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return &tx, nil
}

func (r *walletRepository) GetByProviderReference(ctx context.Context, provider, reference string) (*models.Transaction, error) {
	var tx models.Transaction
	err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_reference = ?", provider, reference).
		First(&tx).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get transaction by reference: %w", err)
	}
	return &tx, nil
}

func (r *walletRepository) TransitionStatus(ctx context.Context, id string, from, to models.TransactionStatus, update StatusUpdate) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}

	now := time.Now()
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": now,
	}
	if to == models.TransactionStatusCompleted {
		updates["processed_at"] = now
	}
	if len(update.ProviderResponse) > 0 {
		updates["provider_response"] = update.ProviderResponse
	}
	if update.Metadata != nil {
		updates["metadata"] = *update.Metadata
	}

	result := r.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ? AND status = ?", id, from).
		UpdateColumns(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update transaction status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetTransaction(ctx, id); err != nil {
			return err
		}
		return ErrStaleTransaction
	}
	return nil
}

func (r *walletRepository) SumCompleted(ctx context.Context, ownerID uint) (int64, int64, error) {
	var totals struct {
		Credits int64
		Debits  int64
	}
	err := r.db.WithContext(ctx).Model(&models.Transaction{}).
		Select("COALESCE(SUM(CASE WHEN direction = ? THEN amount_minor ELSE 0 END), 0) AS credits, "+
			"COALESCE(SUM(CASE WHEN direction = ? THEN amount_minor ELSE 0 END), 0) AS debits",
			models.DirectionCredit, models.DirectionDebit).
		Where("owner_id = ? AND status = ?", ownerID, models.TransactionStatusCompleted).
		Scan(&totals).Error
	if err != nil {
		return 0, 0, fmt.Errorf("failed to sum transactions: %w", err)
	}
	return totals.Credits, totals.Debits, nil
}

func (r *walletRepository) ListTransactions(ctx context.Context, ownerID uint, limit, offset int) ([]models.Transaction, int64, error) {
	var txs []models.Transaction
	var total int64

	db := r.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("owner_id = ?", ownerID).
		Session(&gorm.Session{})
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	if err := db.Order("created_at DESC").Limit(limit).Offset(offset).Find(&txs).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txs, total, nil
}

func (r *walletRepository) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.Transaction, error) {
	var txs []models.Transaction
	err := r.db.WithContext(ctx).
		Where("status = ? AND channel = ? AND direction = ? AND created_at < ?",
			models.TransactionStatusPending, models.ChannelThirdParty, models.DirectionDebit, olderThan).
		Order("created_at").
		Limit(limit).
		Find(&txs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list pending transactions: %w", err)
	}
	return txs, nil
}
