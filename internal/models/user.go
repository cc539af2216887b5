package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"

	UserStatusActive    = "active"
	UserStatusSuspended = "suspended"
)

type User struct {
	gorm.Model
	Email         string `gorm:"uniqueIndex;not null"`
	Phone         string `gorm:"uniqueIndex;not null"`
	Handle        string `gorm:"uniqueIndex;size:40;not null"` // public username used as transfer target
	Password      string `gorm:"not null" json:"-"`
	Name          string `gorm:"not null"`
	Role          string `gorm:"default:'user'"`
	Status        string `gorm:"default:'active'"`
	EmailVerified bool   `gorm:"default:false"`
	LastLoginAt   *time.Time

	// Gateway identifiers used to attribute dedicated-account funding.
	CustomerCode         string `gorm:"index"`
	VirtualAccountNumber string `gorm:"index"`

	Wallet Wallet `gorm:"embedded;embeddedPrefix:wallet_"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	// Wallets always open empty; funds only arrive through the ledger.
	u.Wallet.BalanceMinor = 0
	if u.Wallet.Currency == "" {
		u.Wallet.Currency = DefaultCurrency
	}
	if u.Wallet.Status == "" {
		u.Wallet.Status = WalletStatusActive
	}
	return nil
}

func (u *User) IsActive() bool {
	return u.Status == "" || u.Status == UserStatusActive
}
