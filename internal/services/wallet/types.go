package wallet

import (
	"time"

	"vtupay/internal/models"
	"vtupay/internal/services/vtu"

	"gorm.io/datatypes"
)

// TransferRequest moves money between two wallets by recipient handle.
type TransferRequest struct {
	SenderID        uint
	RecipientHandle string
	AmountMinor     int64
	Note            string
}

type TransferResult struct {
	TransferID         string              `json:"transfer_id"`
	Debit              *models.Transaction `json:"debit"`
	Credit             *models.Transaction `json:"credit"`
	SenderBalanceMinor int64               `json:"sender_balance_minor"`
}

// PurchaseRequest is an airtime or data order. Data orders are priced
// from the plan; AmountMinor is ignored for them.
type PurchaseRequest struct {
	UserID      uint
	Kind        vtu.Kind
	Network     string
	Phone       string
	AmountMinor int64
	PlanCode    string
}

// ProviderCredit is an externally confirmed credit, identified by
// (Provider, Reference).
type ProviderCredit struct {
	OwnerID     uint
	Provider    string
	Reference   string
	AmountMinor int64
	Currency    string
	Purpose     string
	Event       string
	Response    datatypes.JSON
}

type HistoryPage struct {
	Items  []models.Transaction `json:"items"`
	Total  int64                `json:"total"`
	Limit  int                  `json:"limit"`
	Offset int                  `json:"offset"`
}

// BalanceReport compares the stored balance with one recomputed from
// completed transactions.
type BalanceReport struct {
	OwnerID       uint  `json:"owner_id"`
	StoredMinor   int64 `json:"stored_minor"`
	CreditsMinor  int64 `json:"credits_minor"`
	DebitsMinor   int64 `json:"debits_minor"`
	ComputedMinor int64 `json:"computed_minor"`
	Consistent    bool  `json:"consistent"`
}

// ReconcileSummary counts what a stale-pending sweep did.
type ReconcileSummary struct {
	Checked   int `json:"checked"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Pending   int `json:"pending"`
	Errors    int `json:"errors"`
}

// Config holds ledger limits and timings.
type Config struct {
	Currency        string
	LockTTL         time.Duration
	ProviderTimeout time.Duration
	MinAmountMinor  int64
	MaxAmountMinor  int64
	PendingMaxAge   time.Duration
	HistoryPageSize int
}

// MetricsCollector defines the interface for collecting ledger metrics
type MetricsCollector interface {
	RecordOperationDuration(operation string, duration time.Duration)
	RecordOperationResult(operation, result string)
	RecordError(operation, errType string)
	RecordTransactionVolume(purpose string, amountMinor int64)
	RecordAuditMismatch(driftMinor int64)
}
