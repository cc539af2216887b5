package wallet

import (
	"context"

	"vtupay/internal/models"
	"vtupay/internal/services/vtu"
)

// Service defines the ledger operations
type Service interface {
	Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
	Purchase(ctx context.Context, req PurchaseRequest) (*models.Transaction, error)

	// Externally confirmed events
	CreditFromProvider(ctx context.Context, credit ProviderCredit) (*models.Transaction, error)
	RecordRejectedEvent(ctx context.Context, credit ProviderCredit, reason string) (*models.Transaction, error)

	// Reconciliation
	ReconcilePurchase(ctx context.Context, txID string) (*models.Transaction, error)
	ReconcileStale(ctx context.Context) (*ReconcileSummary, error)
	Refund(ctx context.Context, txID string) (*models.Transaction, error)
	Cancel(ctx context.Context, txID string) (*models.Transaction, error)

	// Reads
	FindByProviderReference(ctx context.Context, provider, reference string) (*models.Transaction, error)
	GetBalance(ctx context.Context, ownerID uint) (*models.Wallet, error)
	History(ctx context.Context, ownerID uint, limit, offset int) (*HistoryPage, error)
	AuditBalance(ctx context.Context, ownerID uint) (*BalanceReport, error)
	ListPlans(ctx context.Context, network string) ([]models.DataPlan, error)
}

// Provider is the VTU purchase API.
type Provider interface {
	Name() string
	Purchase(ctx context.Context, order vtu.Order) (*vtu.Result, error)
	CheckStatus(ctx context.Context, reference string) (*vtu.Result, error)
}
