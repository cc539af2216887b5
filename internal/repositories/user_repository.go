package repositories

import (
	"context"
	"errors"
	"time"

	"vtupay/internal/models"
)

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrUserExists        = errors.New("email, phone or handle already taken")
	ErrDatabaseOperation = errors.New("database operation failed")
)

// UserRepository defines the interface for user-related database operations.
// Wallet columns are never written here; only the ledger moves balances.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id uint) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByPhone(ctx context.Context, phone string) (*models.User, error)
	GetByHandle(ctx context.Context, handle string) (*models.User, error)

	// GetByGatewayIdentity resolves a dedicated-account owner by customer
	// code or virtual account number.
	GetByGatewayIdentity(ctx context.Context, customerCode, accountNumber string) (*models.User, error)

	// UpdateProfile writes non-financial profile fields.
	UpdateProfile(ctx context.Context, user *models.User) error
	UpdatePassword(ctx context.Context, userID uint, hashedPassword string) error
	MarkEmailVerified(ctx context.Context, userID uint) error
	TouchLastLogin(ctx context.Context, userID uint, at time.Time) error
	UpdateStatus(ctx context.Context, userID uint, status string) error
	List(ctx context.Context, offset, limit int) ([]*models.User, int64, error)
}
