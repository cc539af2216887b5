package models

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

const (
	DefaultCurrency = "NGN"

	WalletStatusActive = "active"
	WalletStatusLocked = "locked"
)

// minorUnitExponent is the number of decimal places between major and
// minor currency units (naira/kobo).
const minorUnitExponent = 2

// Wallet is embedded in User; its columns live on the users table with a
// wallet_ prefix.
type Wallet struct {
	BalanceMinor int64  `gorm:"not null;default:0;check:wallet_balance_minor >= 0"`
	Currency     string `gorm:"size:3;not null;default:'NGN'"`
	Status       string `gorm:"default:'active'"`
}

func (w Wallet) IsActive() bool {
	return w.Status == "" || w.Status == WalletStatusActive
}

// MinorToMajor converts an integer minor-unit amount into a decimal major-unit value.
func MinorToMajor(amount int64) decimal.Decimal {
	return decimal.New(amount, -minorUnitExponent)
}

var (
	maxMinor = decimal.NewFromInt(math.MaxInt64)
	minMinor = decimal.NewFromInt(math.MinInt64)
)

// MajorToMinor converts a major-unit decimal into minor units, rejecting
// values with more precision than the currency allows or that do not fit
// in an int64.
func MajorToMinor(amount decimal.Decimal) (int64, error) {
	scaled := amount.Shift(minorUnitExponent)
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("amount %s has more than %d decimal places", amount, minorUnitExponent)
	}
	if scaled.GreaterThan(maxMinor) || scaled.LessThan(minMinor) {
		return 0, fmt.Errorf("amount %s is out of range", amount)
	}
	return scaled.IntPart(), nil
}

// FormatMinor renders an amount for humans, e.g. "NGN 1500.00".
func FormatMinor(amount int64, currency string) string {
	return fmt.Sprintf("%s %s", currency, MinorToMajor(amount).StringFixed(minorUnitExponent))
}
