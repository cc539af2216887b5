package vtu

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apperrors "vtupay/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc, timeout time.Duration) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL, APIKey: "key", Timeout: timeout}, nil)
}

func TestPurchase_Airtime(t *testing.T) {
	var got map[string]interface{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/airtime/", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"status":"success","message":"ok","data":{"reference":"OTA-1","status":"successful"}}`))
	}, time.Second)

	res, err := c.Purchase(context.Background(), Order{
		Reference: "tx-1", Kind: KindAirtime, Network: "mtn", Phone: "08012345678", AmountMinor: 50000,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, "OTA-1", res.ProviderReference)
	assert.NotEmpty(t, res.Raw)

	assert.Equal(t, "500.00", got["amount"])
	assert.Equal(t, "tx-1", got["ref"])
	assert.Equal(t, "mtn", got["network"])
}

func TestPurchase_Data(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/data/", r.URL.Path)
		var body dataRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "MTN-1GB", body.DataPlan)
		_, _ = w.Write([]byte(`{"status":"failed","message":"plan unavailable"}`))
	}, time.Second)

	res, err := c.Purchase(context.Background(), Order{
		Reference: "tx-2", Kind: KindData, Network: "mtn", Phone: "08012345678", AmountMinor: 30000, PlanCode: "MTN-1GB",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, "plan unavailable", res.Message)
}

func TestPurchase_ClientErrorIsExplicitFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"invalid phone"}`))
	}, time.Second)

	res, err := c.Purchase(context.Background(), Order{Reference: "tx-3", Kind: KindAirtime, AmountMinor: 100})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, "invalid phone", res.Message)
}

func TestPurchase_ServerErrorIsUnavailable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}, time.Second)

	_, err := c.Purchase(context.Background(), Order{Reference: "tx-4", Kind: KindAirtime, AmountMinor: 100})
	assert.ErrorIs(t, err, apperrors.ErrProviderUnavailable)
	assert.True(t, apperrors.IsRetryable(err))
}

func TestPurchase_TimeoutIsUnavailable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}, 50*time.Millisecond)

	_, err := c.Purchase(context.Background(), Order{Reference: "tx-5", Kind: KindAirtime, AmountMinor: 100})
	assert.ErrorIs(t, err, apperrors.ErrProviderUnavailable)
}

func TestPurchase_GarbageBodyIsUnavailable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>maintenance</html>`))
	}, time.Second)

	_, err := c.Purchase(context.Background(), Order{Reference: "tx-6", Kind: KindAirtime, AmountMinor: 100})
	assert.ErrorIs(t, err, apperrors.ErrProviderUnavailable)
}

func TestCheckStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "tx-7", r.URL.Query().Get("reference"))
		_, _ = w.Write([]byte(`{"status":"success","data":{"reference":"OTA-7","status":"processing"}}`))
	}, time.Second)

	res, err := c.CheckStatus(context.Background(), "tx-7")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, res.Status)
}

func TestPurchase_ThrottledOrUnauthorizedIsUnavailable(t *testing.T) {
	for _, code := range []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusRequestTimeout, http.StatusTooManyRequests} {
		t.Run(http.StatusText(code), func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(code)
				_, _ = w.Write([]byte(`{"message":"slow down"}`))
			}, time.Second)

			res, err := c.Purchase(context.Background(), Order{Reference: "tx-8", Kind: KindAirtime, AmountMinor: 100})
			assert.Nil(t, res)
			assert.ErrorIs(t, err, apperrors.ErrProviderUnavailable)
		})
	}
}

func TestCheckStatus_ClientErrors(t *testing.T) {
	tests := []struct {
		name        string
		code        int
		body        string
		unavailable bool
	}{
		{"unauthorized", http.StatusUnauthorized, `{"message":"bad key"}`, true},
		{"rate limited", http.StatusTooManyRequests, `{"message":"slow down"}`, true},
		{"timeout", http.StatusRequestTimeout, ``, true},
		{"not found without status", http.StatusNotFound, `{"message":"not found"}`, true},
		{"bad request garbage", http.StatusBadRequest, `<html></html>`, true},
		{"explicit failure", http.StatusNotFound, `{"message":"order failed","data":{"status":"failed"}}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
				_, _ = w.Write([]byte(tt.body))
			}, time.Second)

			res, err := c.CheckStatus(context.Background(), "tx-1")
			if tt.unavailable {
				assert.Nil(t, res)
				assert.ErrorIs(t, err, apperrors.ErrProviderUnavailable)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, StatusFailed, res.Status)
		})
	}
}

func TestNormalizeStatus(t *testing.T) {
	assert.Equal(t, StatusSuccess, normalizeStatus(" Delivered "))
	assert.Equal(t, StatusFailed, normalizeStatus("REVERSED"))
	assert.Equal(t, StatusPending, normalizeStatus(""))
}
