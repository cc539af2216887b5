// Package testutil builds throwaway backing stores for package tests: an
// in-memory SQLite database behind gorm and an in-process Redis server.
package testutil

import (
	"testing"

	"vtupay/internal/models"
	"vtupay/internal/repositories"
	"vtupay/internal/repositories/cache"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDB opens a private in-memory database with the production schema.
// A single connection serialises writers the way row locks would.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared&_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), repositories.GormConfig())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := repositories.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// NewStore starts miniredis and returns a store bound to it.
func NewStore(t testing.TB) (*cache.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return cache.NewStore(client), mr
}

// CreateUser inserts a user and, when balance > 0, seeds the wallet
// directly since wallets always open empty.
func CreateUser(t testing.TB, db *gorm.DB, handle string, balance int64) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(TestPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	u := &models.User{
		Email:    handle + "@example.com",
		Phone:    "080" + uuid.NewString()[:8],
		Handle:   handle,
		Password: string(hash),
		Name:     handle,
		Role:     models.RoleUser,
	}
	if err := db.Create(u).Error; err != nil {
		t.Fatalf("create user %s: %v", handle, err)
	}
	if balance > 0 {
		err := db.Model(&models.User{}).Where("id = ?", u.ID).
			UpdateColumn("wallet_balance_minor", balance).Error
		if err != nil {
			t.Fatalf("seed balance: %v", err)
		}
		u.Wallet.BalanceMinor = balance
	}
	return u
}

// TestPassword is the plaintext password CreateUser assigns.
const TestPassword = "Passw0rd!"
