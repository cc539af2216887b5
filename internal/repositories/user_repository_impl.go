package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"vtupay/internal/models"

	"gorm.io/gorm"
)

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new instance of UserRepository
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	user.Handle = strings.ToLower(strings.TrimSpace(user.Handle))
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrUserExists
		}
		return fmt.Errorf("%w: create user: %v", ErrDatabaseOperation, err)
	}
	return nil
}

func (r *userRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.first(ctx, "email = ?", strings.ToLower(strings.TrimSpace(email)))
}

func (r *userRepository) GetByPhone(ctx context.Context, phone string) (*models.User, error) {
	return r.first(ctx, "phone = ?", strings.TrimSpace(phone))
}

func (r *userRepository) GetByHandle(ctx context.Context, handle string) (*models.User, error) {
	return r.first(ctx, "handle = ?", strings.ToLower(strings.TrimPrefix(strings.TrimSpace(handle), "@")))
}

func (r *userRepository) GetByGatewayIdentity(ctx context.Context, customerCode, accountNumber string) (*models.User, error) {
	switch {
	case customerCode != "" && accountNumber != "":
		return r.first(ctx, "customer_code = ? OR virtual_account_number = ?", customerCode, accountNumber)
	case customerCode != "":
		return r.first(ctx, "customer_code = ?", customerCode)
	case accountNumber != "":
		return r.first(ctx, "virtual_account_number = ?", accountNumber)
	default:
		return nil, ErrUserNotFound
	}
}

func (r *userRepository) first(ctx context.Context, query string, args ...interface{}) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where(query, args...).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrDatabaseOperation, err)
	}
	return &user, nil
}

func (r *userRepository) UpdateProfile(ctx context.Context, user *models.User) error {
	result := r.db.WithContext(ctx).Model(user).
		Select("name", "phone", "customer_code", "virtual_account_number").
		Updates(user)
	if result.Error != nil {
		if isUniqueViolation(result.Error) {
			return ErrUserExists
		}
		return fmt.Errorf("%w: %v", ErrDatabaseOperation, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *userRepository) UpdatePassword(ctx context.Context, userID uint, hashedPassword string) error {
	return r.updateColumn(ctx, userID, "password", hashedPassword)
}

func (r *userRepository) MarkEmailVerified(ctx context.Context, userID uint) error {
	return r.updateColumn(ctx, userID, "email_verified", true)
}

func (r *userRepository) TouchLastLogin(ctx context.Context, userID uint, at time.Time) error {
	return r.updateColumn(ctx, userID, "last_login_at", at)
}

func (r *userRepository) UpdateStatus(ctx context.Context, userID uint, status string) error {
	return r.updateColumn(ctx, userID, "status", status)
}

func (r *userRepository) updateColumn(ctx context.Context, userID uint, column string, value interface{}) error {
	result := r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Update(column, value)
	if result.Error != nil {
		return fmt.Errorf("%w: update %s: %v", ErrDatabaseOperation, column, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *userRepository) List(ctx context.Context, offset, limit int) ([]*models.User, int64, error) {
	var users []*models.User
	var total int64

	db := r.db.WithContext(ctx)
	if err := db.Model(&models.User{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrDatabaseOperation, err)
	}
	if err := db.Order("id").Offset(offset).Limit(limit).Find(&users).Error; err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrDatabaseOperation, err)
	}
	return users, total, nil
}
