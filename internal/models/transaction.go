package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
	TransactionStatusCancelled TransactionStatus = "cancelled"
	TransactionStatusRefunded  TransactionStatus = "refunded"
)

var allowedTransitions = map[TransactionStatus][]TransactionStatus{
	TransactionStatusPending: {
		TransactionStatusCompleted,
		TransactionStatusFailed,
		TransactionStatusCancelled,
	},
	TransactionStatusCompleted: {TransactionStatusRefunded},
}

// CanTransitionTo reports whether moving from s to next is a legal state change.
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	for _, allowed := range allowedTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s TransactionStatus) IsTerminal() bool {
	return len(allowedTransitions[s]) == 0
}

type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

type Channel string

// Gateway top-ups and VTU purchases are both third_party; the gateway
// event that funded a top-up is kept in Metadata.Event.
const (
	ChannelInApp      Channel = "in_app"
	ChannelThirdParty Channel = "third_party"
)

// Purposes
const (
	PurposeWalletFunding = "wallet_funding"
	PurposeAirtime       = "airtime"
	PurposeData          = "data"
	PurposeRefund        = "refund"
)

func TransferOutPurpose(recipientHandle string) string { return "transfer:to:" + recipientHandle }
func TransferInPurpose(senderHandle string) string     { return "transfer:from:" + senderHandle }

var ErrNonPositiveAmount = errors.New("transaction amount must be positive")

// Transaction is one ledger entry against a single owner's wallet.
type Transaction struct {
	ID          string            `gorm:"type:varchar(36);primaryKey" json:"id"`
	OwnerID     uint              `gorm:"not null;index" json:"owner_id"`
	Direction   Direction         `gorm:"size:10;not null" json:"direction"`
	Channel     Channel           `gorm:"size:20;not null" json:"channel"`
	Purpose     string            `gorm:"size:100;not null" json:"purpose"`
	AmountMinor int64             `gorm:"not null" json:"amount_minor"`
	Currency    string            `gorm:"size:3;not null" json:"currency"`
	Status      TransactionStatus `gorm:"size:20;not null;default:'pending';index" json:"status"`

	// (Provider, ProviderReference) is unique when both are set; it is the
	// idempotency key for externally originated entries.
	Provider          *string `gorm:"size:50;uniqueIndex:ux_provider_reference" json:"provider,omitempty"`
	ProviderReference *string `gorm:"size:128;uniqueIndex:ux_provider_reference" json:"provider_reference,omitempty"`

	Metadata         Metadata       `json:"metadata"`
	ProviderResponse datatypes.JSON `json:"provider_response,omitempty"`
	ProcessedAt      *time.Time     `json:"processed_at,omitempty"`
	CreatedAt        time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

func (t *Transaction) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.AmountMinor <= 0 {
		return ErrNonPositiveAmount
	}
	if t.Status == "" {
		t.Status = TransactionStatusPending
	}
	if t.Status == TransactionStatusCompleted && t.ProcessedAt == nil {
		now := time.Now()
		t.ProcessedAt = &now
	}
	return nil
}

// SignedAmount is the balance effect of the entry: positive for credits.
func (t *Transaction) SignedAmount() int64 {
	if t.Direction == DirectionDebit {
		return -t.AmountMinor
	}
	return t.AmountMinor
}

func (t *Transaction) ProviderName() string {
	if t.Provider == nil {
		return ""
	}
	return *t.Provider
}

func (t *Transaction) Reference() string {
	if t.ProviderReference == nil {
		return ""
	}
	return *t.ProviderReference
}

// StrPtr is a small helper for the optional provider columns.
func StrPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
