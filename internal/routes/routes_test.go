package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"vtupay/internal/handlers"
	"vtupay/internal/models"
	"vtupay/internal/repositories"
	"vtupay/internal/services/auth"
	"vtupay/internal/services/gateway"
	"vtupay/internal/services/lock"
	"vtupay/internal/services/notification"
	"vtupay/internal/services/otp"
	"vtupay/internal/services/vtu"
	"vtupay/internal/services/wallet"
	"vtupay/internal/services/webhook"
	"vtupay/internal/testutil"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const webhookSecret = "whsec_routes"

type stubProvider struct {
	mu     sync.Mutex
	result *vtu.Result
	err    error
}

func (p *stubProvider) Name() string { return "otapay" }

func (p *stubProvider) Purchase(context.Context, vtu.Order) (*vtu.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.result, p.err
}

func (p *stubProvider) CheckStatus(context.Context, string) (*vtu.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.result, p.err
}

func (p *stubProvider) set(result *vtu.Result, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.result, p.err = result, err
}

type stubGateway struct{}

func (stubGateway) InitializeFunding(_ context.Context, req gateway.FundingRequest) (*gateway.Authorization, error) {
	return &gateway.Authorization{AuthorizationURL: "https://pay.example/" + req.Reference, Reference: req.Reference}, nil
}

type nopNotifier struct{}

func (nopNotifier) Send(context.Context, notification.Message) error { return nil }

type testApp struct {
	app      *fiber.App
	db       *gorm.DB
	auth     auth.Service
	provider *stubProvider
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	db := testutil.NewDB(t)
	store, _ := testutil.NewStore(t)
	users := repositories.NewUserRepository(db)
	provider := &stubProvider{}
	limits := wallet.Config{Currency: "NGN", LockTTL: 5 * time.Second, ProviderTimeout: time.Second, MinAmountMinor: 100, MaxAmountMinor: 10_000_000}

	otpSvc := otp.NewService(store, otp.Config{TTL: 5 * time.Minute, MaxAttempts: 3, BcryptCost: bcrypt.MinCost}, nil)
	authSvc := auth.NewService(users, store, otpSvc, nopNotifier{}, auth.Config{
		AccessSecret:        "access",
		RefreshSecret:       "refresh",
		RotateRefreshTokens: true,
		BcryptCost:          bcrypt.MinCost,
	}, nil)
	walletSvc := wallet.NewService(wallet.Dependencies{
		Repo:     repositories.NewWalletRepository(db),
		Users:    users,
		Plans:    repositories.NewPlanRepository(db),
		Locks:    lock.NewManager(store, nil),
		Provider: provider,
	}, limits)
	processor := webhook.NewProcessor(walletSvc, users, nil, webhook.Config{Provider: "gw1", Secret: webhookSecret}, nil)

	app := fiber.New()
	SetupRoutes(app, Dependencies{
		Auth:     authSvc,
		OTP:      otpSvc,
		Notifier: nopNotifier{},
		Wallet:   walletSvc,
		Users:    users,
		Gateway:  stubGateway{},
		Webhooks: processor,
		Limits:   limits,
		Health: map[string]handlers.HealthCheck{
			"database": func(context.Context) error { return nil },
		},
	})
	return &testApp{app: app, db: db, auth: authSvc, provider: provider}
}

func (a *testApp) do(t *testing.T, method, path, token string, body interface{}, headers ...string) (int, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if raw, ok := body.([]byte); ok {
		reader = bytes.NewReader(raw)
	} else if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func (a *testApp) login(t *testing.T, user *models.User) string {
	t.Helper()
	_, pair, err := a.auth.Login(context.Background(), user.Email, testutil.TestPassword, "test")
	require.NoError(t, err)
	return pair.AccessToken
}

func (a *testApp) fund(t *testing.T, user *models.User, reference string, amount int64) {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"event": webhook.EventChargeSuccess,
		"data": map[string]interface{}{
			"reference": reference,
			"amount":    amount,
			"currency":  "NGN",
			"status":    "success",
			"metadata":  map[string]interface{}{"user_id": user.ID, "purpose": models.PurposeWalletFunding},
		},
	})
	require.NoError(t, err)
	status, out := a.do(t, http.MethodPost, "/api/webhooks/gateway", "", body,
		webhook.SignatureHeader, webhook.Sign(webhookSecret, body))
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, string(webhook.OutcomeProcessed), out["status"])
}

func balanceOf(t *testing.T, out map[string]interface{}) int64 {
	t.Helper()
	data, ok := out["data"].(map[string]interface{})
	require.True(t, ok, "response has no data: %v", out)
	return int64(data["balance_minor"].(float64))
}

func TestRegisterLoginAndWallet(t *testing.T) {
	a := newTestApp(t)

	status, _ := a.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": "Ada Obi", "email": "ada@example.com", "phone": "08030000001", "handle": "ada", "password": "Sup3r$ecret",
	})
	require.Equal(t, http.StatusCreated, status)

	status, out := a.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"identifier": "@ada", "password": "Sup3r$ecret",
	})
	require.Equal(t, http.StatusOK, status)
	token, _ := out["access_token"].(string)
	require.NotEmpty(t, token)

	status, out = a.do(t, http.MethodGet, "/api/wallet", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(0), balanceOf(t, out))

	status, out = a.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"identifier": "@ada", "password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "INVALID_CREDENTIALS", out["code"])
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	a := newTestApp(t)

	status, _ := a.do(t, http.MethodGet, "/api/wallet", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, out := a.do(t, http.MethodGet, "/api/wallet", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "INVALID_OR_REVOKED_TOKEN", out["code"])
}

func cookieNamed(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestLogoutExpiresCookiesOnTheirOwnPaths(t *testing.T) {
	a := newTestApp(t)
	u := testutil.CreateUser(t, a.db, "ada", 0)

	body, err := json.Marshal(map[string]string{"identifier": u.Email, "password": testutil.TestPassword})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	refresh := cookieNamed(resp, "refresh_token")
	require.NotNil(t, refresh)
	require.NotEmpty(t, refresh.Value)
	assert.Equal(t, "/api/auth", refresh.Path)

	req = httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: refresh.Value})
	resp, err = a.app.Test(req, -1)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	for name, path := range map[string]string{"access_token": "/", "refresh_token": "/api/auth"} {
		c := cookieNamed(resp, name)
		require.NotNil(t, c, name)
		assert.Empty(t, c.Value, name)
		assert.Equal(t, path, c.Path, name)
		assert.True(t, c.Expires.Before(time.Now()), name)
	}

	// The revoked refresh token no longer works.
	status, _ := a.do(t, http.MethodPost, "/api/auth/refresh", "", map[string]string{"refresh_token": refresh.Value})
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestSuspendedAccountIsTurnedAway(t *testing.T) {
	a := newTestApp(t)
	u := testutil.CreateUser(t, a.db, "ada", 0)
	token := a.login(t, u)

	require.NoError(t, a.db.Model(&models.User{}).Where("id = ?", u.ID).Update("status", models.UserStatusSuspended).Error)

	status, out := a.do(t, http.MethodGet, "/api/wallet", token, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "ACCOUNT_SUSPENDED", out["code"])
}

func TestWebhookFundingAndTransfer(t *testing.T) {
	a := newTestApp(t)
	alice := testutil.CreateUser(t, a.db, "alice", 0)
	bob := testutil.CreateUser(t, a.db, "bob", 0)
	a.fund(t, alice, "ref-42", 100000)

	aliceToken := a.login(t, alice)
	status, out := a.do(t, http.MethodPost, "/api/wallet/transfer", aliceToken, map[string]interface{}{
		"recipient": "@bob", "amount": "250.50", "note": "rent",
	})
	require.Equal(t, http.StatusOK, status, out)

	_, out = a.do(t, http.MethodGet, "/api/wallet", aliceToken, nil)
	assert.Equal(t, int64(100000-25050), balanceOf(t, out))
	_, out = a.do(t, http.MethodGet, "/api/wallet", a.login(t, bob), nil)
	assert.Equal(t, int64(25050), balanceOf(t, out))

	status, out = a.do(t, http.MethodPost, "/api/wallet/transfer", aliceToken, map[string]interface{}{
		"recipient": "@bob", "amount": "900",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INSUFFICIENT_BALANCE", out["code"])

	// Would wrap to 1 kobo if the conversion overflowed.
	status, out = a.do(t, http.MethodPost, "/api/wallet/transfer", aliceToken, map[string]interface{}{
		"recipient": "@bob", "amount": "184467440737095516.17",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_AMOUNT", out["code"])
	_, out = a.do(t, http.MethodGet, "/api/wallet", aliceToken, nil)
	assert.Equal(t, int64(100000-25050), balanceOf(t, out))

	status, out = a.do(t, http.MethodGet, "/api/wallet/audit", aliceToken, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, out["data"].(map[string]interface{})["consistent"])
}

func TestWebhookEndpoint(t *testing.T) {
	a := newTestApp(t)
	u := testutil.CreateUser(t, a.db, "ada", 0)
	body := []byte(`{"event":"charge.success","data":{"reference":"ref-x","amount":5000,"currency":"NGN","status":"success",` +
		`"metadata":{"user_id":` + strconv.FormatUint(uint64(u.ID), 10) + `,"purpose":"wallet_funding"}}}`)

	status, _ := a.do(t, http.MethodPost, "/api/webhooks/gateway", "", body, webhook.SignatureHeader, "deadbeef")
	assert.Equal(t, http.StatusUnauthorized, status)

	sig := webhook.Sign(webhookSecret, body)
	status, out := a.do(t, http.MethodPost, "/api/webhooks/gateway", "", body, webhook.SignatureHeader, sig)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "processed", out["status"])

	status, out = a.do(t, http.MethodPost, "/api/webhooks/gateway", "", body, webhook.SignatureHeader, sig)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "duplicate", out["status"])

	_, out = a.do(t, http.MethodGet, "/api/wallet", a.login(t, u), nil)
	assert.Equal(t, int64(5000), balanceOf(t, out))
}

func TestAirtimePurchaseOutcomes(t *testing.T) {
	a := newTestApp(t)
	u := testutil.CreateUser(t, a.db, "ada", 0)
	a.fund(t, u, "ref-seed", 50000)
	token := a.login(t, u)
	order := map[string]interface{}{"network": "MTN", "phone": "08031234567", "amount": "100"}

	a.provider.set(&vtu.Result{Status: vtu.StatusSuccess, ProviderReference: "p-1"}, nil)
	status, out := a.do(t, http.MethodPost, "/api/vtu/airtime", token, order)
	require.Equal(t, http.StatusOK, status, out)
	assert.Equal(t, string(models.TransactionStatusCompleted), out["data"].(map[string]interface{})["status"])

	a.provider.set(nil, context.DeadlineExceeded)
	status, out = a.do(t, http.MethodPost, "/api/vtu/airtime", token, order)
	require.Equal(t, http.StatusAccepted, status, out)
	assert.Equal(t, string(models.TransactionStatusPending), out["data"].(map[string]interface{})["status"])

	a.provider.set(&vtu.Result{Status: vtu.StatusFailed, Message: "invalid number"}, nil)
	status, out = a.do(t, http.MethodPost, "/api/vtu/airtime", token, order)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "PROVIDER_REJECTED", out["code"])

	_, out = a.do(t, http.MethodGet, "/api/wallet", token, nil)
	assert.Equal(t, int64(50000-10000), balanceOf(t, out))
}

func TestAdminRoutes(t *testing.T) {
	a := newTestApp(t)
	user := testutil.CreateUser(t, a.db, "ada", 0)
	admin := testutil.CreateUser(t, a.db, "root", 0)
	require.NoError(t, a.db.Model(&models.User{}).Where("id = ?", admin.ID).Update("role", models.RoleAdmin).Error)

	status, _ := a.do(t, http.MethodGet, "/api/admin/users", a.login(t, user), nil)
	assert.Equal(t, http.StatusForbidden, status)

	adminToken := a.login(t, admin)
	status, out := a.do(t, http.MethodGet, "/api/admin/users?limit=1", adminToken, nil)
	require.Equal(t, http.StatusOK, status)
	meta := out["meta"].(map[string]interface{})
	assert.Equal(t, float64(2), meta["total_items"])
	assert.Equal(t, float64(2), meta["total_pages"])

	status, out = a.do(t, http.MethodPost, "/api/admin/transactions/missing/refund", adminToken, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "TRANSACTION_NOT_FOUND", out["code"])
}

func TestHealthAndNotFound(t *testing.T) {
	a := newTestApp(t)

	status, out := a.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", out["status"])

	status, _ = a.do(t, http.MethodGet, "/nowhere", "", nil)
	assert.Equal(t, http.StatusNotFound, status)
}
