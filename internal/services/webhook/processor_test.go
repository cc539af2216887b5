package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	apperrors "vtupay/internal/errors"
	"vtupay/internal/models"
	"vtupay/internal/repositories"
	"vtupay/internal/services/gateway"
	"vtupay/internal/services/lock"
	"vtupay/internal/services/vtu"
	"vtupay/internal/services/wallet"
	"vtupay/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testSecret = "whsec_test"

type stubVerifier struct {
	v   *gateway.Verification
	err error
}

func (s *stubVerifier) Verify(_ context.Context, reference string) (*gateway.Verification, error) {
	if s.err != nil {
		return nil, s.err
	}
	v := *s.v
	v.Reference = reference
	return &v, nil
}

type noProvider struct{}

func (noProvider) Name() string { return "none" }

func (noProvider) Purchase(context.Context, vtu.Order) (*vtu.Result, error) {
	return nil, apperrors.ErrProviderUnavailable
}

func (noProvider) CheckStatus(context.Context, string) (*vtu.Result, error) {
	return nil, apperrors.ErrProviderUnavailable
}

type fixture struct {
	db     *gorm.DB
	ledger wallet.Service
	users  repositories.UserRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	store, _ := testutil.NewStore(t)
	users := repositories.NewUserRepository(db)
	ledger := wallet.NewService(wallet.Dependencies{
		Repo:     repositories.NewWalletRepository(db),
		Users:    users,
		Plans:    repositories.NewPlanRepository(db),
		Locks:    lock.NewManager(store, nil),
		Provider: noProvider{},
	}, wallet.Config{Currency: "NGN", LockTTL: 5 * time.Second})
	return &fixture{db: db, ledger: ledger, users: users}
}

func (f *fixture) processor(v Verifier) *Processor {
	return NewProcessor(f.ledger, f.users, v, Config{Provider: "gw1", Secret: testSecret, Currency: "NGN"}, nil)
}

func (f *fixture) balance(t *testing.T, id uint) int64 {
	t.Helper()
	w, err := f.ledger.GetBalance(context.Background(), id)
	require.NoError(t, err)
	return w.BalanceMinor
}

func (f *fixture) rows(t *testing.T, reference string) []models.Transaction {
	t.Helper()
	var out []models.Transaction
	require.NoError(t, f.db.Where("provider = ? AND provider_reference = ?", "gw1", reference).Find(&out).Error)
	return out
}

func chargeBody(t *testing.T, reference string, amount int64, metadata interface{}) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"event": EventChargeSuccess,
		"data": map[string]interface{}{
			"reference": reference,
			"amount":    amount,
			"currency":  "NGN",
			"status":    "success",
			"customer":  map[string]interface{}{"email": "someone@example.com"},
			"metadata":  metadata,
		},
	})
	require.NoError(t, err)
	return body
}

func TestHandleProviderEvent_InvalidSignature(t *testing.T) {
	f := newFixture(t)
	p := f.processor(nil)
	u := testutil.CreateUser(t, f.db, "ada", 0)
	body := chargeBody(t, "ref-1", 5000, map[string]interface{}{"user_id": u.ID, "purpose": "wallet_funding"})

	for name, sig := range map[string]string{
		"missing":   "",
		"wrong key": Sign("other", body),
		"tampered":  Sign(testSecret, append([]byte(nil), body[:len(body)-1]...)),
		"not hex":   "zz",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := p.HandleProviderEvent(context.Background(), body, sig)
			assert.ErrorIs(t, err, apperrors.ErrInvalidSignature)
		})
	}
	assert.Empty(t, f.rows(t, "ref-1"))
	assert.Equal(t, int64(0), f.balance(t, u.ID))
}

func TestHandleProviderEvent_DuplicateDeliveriesCreditOnce(t *testing.T) {
	f := newFixture(t)
	p := f.processor(nil)
	u := testutil.CreateUser(t, f.db, "ada", 0)
	body := chargeBody(t, "ref-42", 100000, map[string]interface{}{"user_id": u.ID, "purpose": "wallet_funding"})
	sig := Sign(testSecret, body)

	outcome, err := p.HandleProviderEvent(context.Background(), body, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome)

	for i := 0; i < 3; i++ {
		outcome, err := p.HandleProviderEvent(context.Background(), body, sig)
		require.NoError(t, err)
		assert.Equal(t, OutcomeDuplicate, outcome)
	}

	assert.Equal(t, int64(100000), f.balance(t, u.ID))
	rows := f.rows(t, "ref-42")
	require.Len(t, rows, 1)
	assert.Equal(t, models.TransactionStatusCompleted, rows[0].Status)
	assert.Equal(t, models.ChannelThirdParty, rows[0].Channel)
	assert.Equal(t, EventChargeSuccess, rows[0].Metadata.Event)
}

func TestHandleProviderEvent_ConcurrentDeliveries(t *testing.T) {
	f := newFixture(t)
	p := f.processor(nil)
	u := testutil.CreateUser(t, f.db, "ada", 0)
	body := chargeBody(t, "ref-race", 2500, map[string]interface{}{"user_id": fmt.Sprint(u.ID), "purpose": "wallet_funding"})
	sig := Sign(testSecret, body)

	const n = 10
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = map[Outcome]int{}
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var (
				outcome Outcome
				err     error
			)
			// A delivery that finds the wallet lock held is retried by
			// the gateway; emulate that.
			for attempt := 0; attempt < 500; attempt++ {
				outcome, err = p.HandleProviderEvent(context.Background(), body, sig)
				if !errors.Is(err, apperrors.ErrLockHeld) {
					break
				}
				time.Sleep(2 * time.Millisecond)
			}
			assert.NoError(t, err)
			mu.Lock()
			outcomes[outcome]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, outcomes[OutcomeProcessed])
	assert.Equal(t, n-1, outcomes[OutcomeDuplicate])
	assert.Equal(t, int64(2500), f.balance(t, u.ID))
	assert.Len(t, f.rows(t, "ref-race"), 1)
}

// contendedLedger reports the wallet lock as held. When commitFirst is set
// the first refused call commits the credit underneath, as a concurrent
// delivery of the same event would.
type contendedLedger struct {
	wallet.Service
	commitFirst bool
	calls       int
}

func (l *contendedLedger) CreditFromProvider(ctx context.Context, credit wallet.ProviderCredit) (*models.Transaction, error) {
	l.calls++
	if l.commitFirst && l.calls == 1 {
		if _, err := l.Service.CreditFromProvider(ctx, credit); err != nil {
			return nil, err
		}
	}
	return nil, apperrors.ErrLockHeld
}

func TestHandleProviderEvent_LockLoserSeesDuplicate(t *testing.T) {
	f := newFixture(t)
	ledger := &contendedLedger{Service: f.ledger, commitFirst: true}
	p := NewProcessor(ledger, f.users, nil, Config{Provider: "gw1", Secret: testSecret, LockRetryDelay: time.Millisecond}, nil)
	u := testutil.CreateUser(t, f.db, "ada", 0)
	body := chargeBody(t, "ref-held", 1500, map[string]interface{}{"user_id": u.ID, "purpose": "wallet_funding"})

	outcome, err := p.HandleProviderEvent(context.Background(), body, Sign(testSecret, body))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Equal(t, 1, ledger.calls)
	assert.Equal(t, int64(1500), f.balance(t, u.ID))
	assert.Len(t, f.rows(t, "ref-held"), 1)
}

func TestHandleProviderEvent_BusyWalletIsRetryable(t *testing.T) {
	f := newFixture(t)
	ledger := &contendedLedger{Service: f.ledger}
	p := NewProcessor(ledger, f.users, nil, Config{
		Provider: "gw1", Secret: testSecret, LockRetries: 3, LockRetryDelay: time.Millisecond,
	}, nil)
	u := testutil.CreateUser(t, f.db, "ada", 0)
	body := chargeBody(t, "ref-busy", 1500, map[string]interface{}{"user_id": u.ID, "purpose": "wallet_funding"})

	_, err := p.HandleProviderEvent(context.Background(), body, Sign(testSecret, body))
	require.ErrorIs(t, err, apperrors.ErrLockHeld)
	assert.True(t, apperrors.IsRetryable(err))
	assert.Equal(t, 3, ledger.calls)
	assert.Empty(t, f.rows(t, "ref-busy"))
	assert.Equal(t, int64(0), f.balance(t, u.ID))
}

func TestHandleProviderEvent_Ignored(t *testing.T) {
	f := newFixture(t)
	p := f.processor(nil)
	u := testutil.CreateUser(t, f.db, "ada", 0)

	bodies := map[string][]byte{
		"other purpose":  chargeBody(t, "ref-a", 5000, map[string]interface{}{"user_id": u.ID, "purpose": "order"}),
		"empty metadata": chargeBody(t, "ref-b", 5000, ""),
		"unknown event":  []byte(`{"event":"subscription.create","data":{"reference":"ref-c","amount":5000}}`),
		"failed charge":  []byte(`{"event":"charge.success","data":{"reference":"ref-d","amount":5000,"status":"failed","metadata":{"purpose":"wallet_funding"}}}`),
		"malformed":      []byte(`{"event":`),
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			outcome, err := p.HandleProviderEvent(context.Background(), body, Sign(testSecret, body))
			require.NoError(t, err)
			assert.Equal(t, OutcomeIgnored, outcome)
		})
	}
	assert.Equal(t, int64(0), f.balance(t, u.ID))
}

func TestHandleProviderEvent_DedicatedAccountResolvesOwner(t *testing.T) {
	f := newFixture(t)
	p := f.processor(nil)
	u := testutil.CreateUser(t, f.db, "ada", 0)
	require.NoError(t, f.db.Model(&models.User{}).Where("id = ?", u.ID).
		Updates(map[string]interface{}{"customer_code": "CUS_abc", "virtual_account_number": "9930001111"}).Error)

	body := []byte(`{"event":"dedicatedaccount.received","data":{"reference":"ref-dva","amount":750000,"currency":"NGN","status":"success",` +
		`"customer":{"customer_code":"CUS_abc"},"dedicated_account":{"account_number":"9930001111"},"metadata":""}}`)

	outcome, err := p.HandleProviderEvent(context.Background(), body, Sign(testSecret, body))
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome)
	assert.Equal(t, int64(750000), f.balance(t, u.ID))

	rows := f.rows(t, "ref-dva")
	require.Len(t, rows, 1)
	assert.Equal(t, models.ChannelThirdParty, rows[0].Channel)
	assert.Equal(t, EventDedicatedAccount, rows[0].Metadata.Event)
}

func TestHandleProviderEvent_FallsBackToEmail(t *testing.T) {
	f := newFixture(t)
	p := f.processor(nil)
	u := testutil.CreateUser(t, f.db, "someone", 0)

	body := []byte(`{"event":"transfer.success","data":{"reference":"ref-email","amount":1200,"currency":"NGN",` +
		`"customer":{"email":"Someone@Example.com","customer_code":"CUS_unknown"}}}`)
	outcome, err := p.HandleProviderEvent(context.Background(), body, Sign(testSecret, body))
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome)
	assert.Equal(t, int64(1200), f.balance(t, u.ID))
}

func TestHandleProviderEvent_UnknownOwner(t *testing.T) {
	f := newFixture(t)
	p := f.processor(nil)

	body := chargeBody(t, "ref-ghost", 5000, map[string]interface{}{"user_id": 999, "purpose": "wallet_funding"})
	outcome, err := p.HandleProviderEvent(context.Background(), body, Sign(testSecret, body))
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, outcome)
	assert.Empty(t, f.rows(t, "ref-ghost"))
}

func TestHandleProviderEvent_ExpectedAmountMismatch(t *testing.T) {
	f := newFixture(t)
	p := f.processor(nil)
	u := testutil.CreateUser(t, f.db, "ada", 0)

	body := chargeBody(t, "ref-short", 4000, map[string]interface{}{
		"user_id": u.ID, "purpose": "wallet_funding", "expected_amount": 5000,
	})
	sig := Sign(testSecret, body)

	outcome, err := p.HandleProviderEvent(context.Background(), body, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, outcome)
	assert.Equal(t, int64(0), f.balance(t, u.ID))

	rows := f.rows(t, "ref-short")
	require.Len(t, rows, 1)
	assert.Equal(t, models.TransactionStatusFailed, rows[0].Status)
	assert.Contains(t, rows[0].Metadata.FailureReason, "expected 5000")

	// Replays of a rejected event stay rejected and are not re-recorded.
	outcome, err = p.HandleProviderEvent(context.Background(), body, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Len(t, f.rows(t, "ref-short"), 1)
}

func TestHandleProviderEvent_Verifier(t *testing.T) {
	tests := []struct {
		name        string
		verifier    *stubVerifier
		wantOutcome Outcome
		wantErr     error
		wantBalance int64
		wantRows    int
	}{
		{
			name:        "confirmed",
			verifier:    &stubVerifier{v: &gateway.Verification{Status: "success", AmountMinor: 5000, Currency: "NGN"}},
			wantOutcome: OutcomeProcessed,
			wantBalance: 5000,
			wantRows:    1,
		},
		{
			name:        "amount differs",
			verifier:    &stubVerifier{v: &gateway.Verification{Status: "success", AmountMinor: 500, Currency: "NGN"}},
			wantOutcome: OutcomeRejected,
			wantRows:    1,
		},
		{
			name:        "not settled",
			verifier:    &stubVerifier{v: &gateway.Verification{Status: "abandoned", AmountMinor: 5000, Currency: "NGN"}},
			wantOutcome: OutcomeRejected,
			wantRows:    1,
		},
		{
			name:        "unknown reference",
			verifier:    &stubVerifier{err: apperrors.ErrProviderRejected.WithMessage("gateway: not found")},
			wantOutcome: OutcomeRejected,
			wantRows:    1,
		},
		{
			name:     "gateway down",
			verifier: &stubVerifier{err: apperrors.ErrProviderUnavailable},
			wantErr:  apperrors.ErrProviderUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			p := f.processor(tt.verifier)
			u := testutil.CreateUser(t, f.db, "ada", 0)
			body := chargeBody(t, "ref-v", 5000, map[string]interface{}{"user_id": u.ID, "purpose": "wallet_funding"})

			outcome, err := p.HandleProviderEvent(context.Background(), body, Sign(testSecret, body))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantOutcome, outcome)
			}
			assert.Equal(t, tt.wantBalance, f.balance(t, u.ID))
			assert.Len(t, f.rows(t, "ref-v"), tt.wantRows)
		})
	}
}

func TestEventMetadata_UnmarshalJSON(t *testing.T) {
	var m eventMetadata
	require.NoError(t, json.Unmarshal([]byte(`{"user_id":"17","purpose":"wallet_funding","expected_amount":"900"}`), &m))
	assert.Equal(t, uint(17), m.UserID)
	assert.Equal(t, int64(900), m.ExpectedAmount)

	m = eventMetadata{}
	require.NoError(t, json.Unmarshal([]byte(`{"user_id":23}`), &m))
	assert.Equal(t, uint(23), m.UserID)

	m = eventMetadata{}
	require.NoError(t, json.Unmarshal([]byte(`""`), &m))
	assert.Zero(t, m)

	assert.Error(t, json.Unmarshal([]byte(`{"user_id":"abc"}`), &m))
}
