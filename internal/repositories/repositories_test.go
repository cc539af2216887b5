package repositories_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"vtupay/internal/config"
	"vtupay/internal/models"
	"vtupay/internal/repositories"
	"vtupay/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWalletRepository_DebitIsConditional(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	repo := repositories.NewWalletRepository(db)
	alice := testutil.CreateUser(t, db, "alice", 1000)

	require.NoError(t, repo.DebitBalance(ctx, alice.ID, 600))

	err := repo.DebitBalance(ctx, alice.ID, 600)
	assert.ErrorIs(t, err, repositories.ErrInsufficientFunds)

	w, err := repo.GetWallet(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(400), w.BalanceMinor)

	assert.ErrorIs(t, repo.DebitBalance(ctx, 9999, 1), repositories.ErrWalletNotFound)
	assert.ErrorIs(t, repo.CreditBalance(ctx, 9999, 1), repositories.ErrWalletNotFound)
}

func TestWalletRepository_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	repo := repositories.NewWalletRepository(db)
	alice := testutil.CreateUser(t, db, "alice", 1000)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := repo.DebitBalance(ctx, alice.ID, 300); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	w, err := repo.GetWallet(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, succeeded)
	assert.Equal(t, int64(100), w.BalanceMinor)
}

func TestWalletRepository_DuplicateProviderReference(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	repo := repositories.NewWalletRepository(db)
	alice := testutil.CreateUser(t, db, "alice", 0)

	newCredit := func() *models.Transaction {
		return &models.Transaction{
			OwnerID:           alice.ID,
			Direction:         models.DirectionCredit,
			Channel:           models.ChannelThirdParty,
			Purpose:           models.PurposeWalletFunding,
			AmountMinor:       5000,
			Currency:          "NGN",
			Status:            models.TransactionStatusCompleted,
			Provider:          models.StrPtr("paystack"),
			ProviderReference: models.StrPtr("ref-1"),
		}
	}

	first := newCredit()
	require.NoError(t, repo.CreateTransaction(ctx, first))
	assert.NotEmpty(t, first.ID)
	assert.NotNil(t, first.ProcessedAt)

	err := repo.CreateTransaction(ctx, newCredit())
	assert.ErrorIs(t, err, repositories.ErrDuplicateReference)

	found, err := repo.GetByProviderReference(ctx, "paystack", "ref-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)

	// Internal entries have no provider reference and never collide.
	for i := 0; i < 2; i++ {
		require.NoError(t, repo.CreateTransaction(ctx, &models.Transaction{
			OwnerID:     alice.ID,
			Direction:   models.DirectionCredit,
			Channel:     models.ChannelInApp,
			Purpose:     models.TransferInPurpose("bob"),
			AmountMinor: 100,
			Currency:    "NGN",
			Status:      models.TransactionStatusCompleted,
		}))
	}
}

func TestWalletRepository_TransitionStatus(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	repo := repositories.NewWalletRepository(db)
	alice := testutil.CreateUser(t, db, "alice", 0)

	tx := &models.Transaction{
		OwnerID:     alice.ID,
		Direction:   models.DirectionDebit,
		Channel:     models.ChannelThirdParty,
		Purpose:     models.PurposeAirtime,
		AmountMinor: 500,
		Currency:    "NGN",
	}
	require.NoError(t, repo.CreateTransaction(ctx, tx))
	assert.Equal(t, models.TransactionStatusPending, tx.Status)
	assert.Nil(t, tx.ProcessedAt)

	err := repo.TransitionStatus(ctx, tx.ID, models.TransactionStatusPending, models.TransactionStatusCompleted,
		repositories.StatusUpdate{ProviderResponse: []byte(`{"status":"success"}`)})
	require.NoError(t, err)

	got, err := repo.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusCompleted, got.Status)
	assert.NotNil(t, got.ProcessedAt)
	assert.JSONEq(t, `{"status":"success"}`, string(got.ProviderResponse))

	err = repo.TransitionStatus(ctx, tx.ID, models.TransactionStatusPending, models.TransactionStatusFailed, repositories.StatusUpdate{})
	assert.ErrorIs(t, err, repositories.ErrStaleTransaction)

	err = repo.TransitionStatus(ctx, tx.ID, models.TransactionStatusCompleted, models.TransactionStatusPending, repositories.StatusUpdate{})
	assert.ErrorIs(t, err, repositories.ErrIllegalTransition)

	err = repo.TransitionStatus(ctx, "missing", models.TransactionStatusPending, models.TransactionStatusFailed, repositories.StatusUpdate{})
	assert.ErrorIs(t, err, repositories.ErrTransactionNotFound)
}

func TestWalletRepository_ExecuteInTransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	repo := repositories.NewWalletRepository(db)
	alice := testutil.CreateUser(t, db, "alice", 1000)
	boom := errors.New("boom")

	err := repo.ExecuteInTransaction(ctx, func(tx repositories.WalletRepository) error {
		if err := tx.DebitBalance(ctx, alice.ID, 400); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	w, err := repo.GetWallet(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), w.BalanceMinor)
}

func TestWalletRepository_SumsAndListing(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	repo := repositories.NewWalletRepository(db)
	alice := testutil.CreateUser(t, db, "alice", 0)

	entries := []struct {
		dir    models.Direction
		amount int64
		status models.TransactionStatus
	}{
		{models.DirectionCredit, 1000, models.TransactionStatusCompleted},
		{models.DirectionCredit, 500, models.TransactionStatusCompleted},
		{models.DirectionDebit, 300, models.TransactionStatusCompleted},
		{models.DirectionDebit, 200, models.TransactionStatusPending},
		{models.DirectionDebit, 900, models.TransactionStatusFailed},
	}
	for _, e := range entries {
		require.NoError(t, repo.CreateTransaction(ctx, &models.Transaction{
			OwnerID:     alice.ID,
			Direction:   e.dir,
			Channel:     models.ChannelThirdParty,
			Purpose:     models.PurposeAirtime,
			AmountMinor: e.amount,
			Currency:    "NGN",
			Status:      e.status,
		}))
	}

	credits, debits, err := repo.SumCompleted(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), credits)
	assert.Equal(t, int64(300), debits)

	page, total, err := repo.ListTransactions(ctx, alice.ID, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, page, 2)

	stale, err := repo.ListStalePending(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, int64(200), stale[0].AmountMinor)
}

func TestUserRepository_Lookups(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	repo := repositories.NewUserRepository(db)

	u := &models.User{
		Email:        "Alice@Example.com",
		Phone:        "08011111111",
		Handle:       "Alice",
		Password:     "x",
		Name:         "Alice",
		CustomerCode: "CUS_123",
	}
	require.NoError(t, repo.Create(ctx, u))
	assert.Equal(t, int64(0), u.Wallet.BalanceMinor)
	assert.Equal(t, models.DefaultCurrency, u.Wallet.Currency)

	byHandle, err := repo.GetByHandle(ctx, "@alice")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byHandle.ID)

	byEmail, err := repo.GetByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byEmail.ID)

	byCode, err := repo.GetByGatewayIdentity(ctx, "CUS_123", "")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byCode.ID)

	_, err = repo.GetByHandle(ctx, "nobody")
	assert.ErrorIs(t, err, repositories.ErrUserNotFound)

	dup := &models.User{Email: "alice@example.com", Phone: "08022222222", Handle: "other", Password: "x", Name: "x"}
	assert.ErrorIs(t, repo.Create(ctx, dup), repositories.ErrUserExists)
}

func TestUserRepository_ProfileUpdateLeavesWalletAlone(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	repo := repositories.NewUserRepository(db)
	alice := testutil.CreateUser(t, db, "alice", 700)

	alice.Name = "Alice A."
	alice.Wallet.BalanceMinor = 1_000_000
	require.NoError(t, repo.UpdateProfile(ctx, alice))

	got, err := repo.GetByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice A.", got.Name)
	assert.Equal(t, int64(700), got.Wallet.BalanceMinor)
}

func TestPlanRepository_Upsert(t *testing.T) {
	ctx := context.Background()
	repo := repositories.NewPlanRepository(testutil.NewDB(t))

	require.NoError(t, repo.Upsert(ctx, []models.DataPlan{
		{Code: "mtn-1gb", Network: "mtn", Name: "1GB", PriceMinor: 30000, Active: true},
		{Code: "glo-2gb", Network: "glo", Name: "2GB", PriceMinor: 50000, Active: true},
	}))
	require.NoError(t, repo.Upsert(ctx, []models.DataPlan{
		{Code: "mtn-1gb", Network: "mtn", Name: "1GB", PriceMinor: 35000, Active: true},
	}))

	plan, err := repo.GetByCode(ctx, "mtn-1gb")
	require.NoError(t, err)
	assert.Equal(t, int64(35000), plan.PriceMinor)

	mtn, err := repo.ListByNetwork(ctx, "MTN")
	require.NoError(t, err)
	assert.Len(t, mtn, 1)

	_, err = repo.GetByCode(ctx, "nope")
	assert.ErrorIs(t, err, repositories.ErrPlanNotFound)
}

func TestConnect_RetriesThenFails(t *testing.T) {
	cfg := config.DatabaseConfig{
		Host:             "127.0.0.1",
		Port:             "1",
		User:             "nobody",
		Name:             "none",
		SSLMode:          "disable",
		ConnectAttempts:  2,
		ConnectBaseDelay: 10 * time.Millisecond,
		ConnectMaxDelay:  20 * time.Millisecond,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := repositories.Connect(ctx, cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
}
