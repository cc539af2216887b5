// Package gateway talks to the card/bank payment gateway used to fund
// wallets: it starts hosted checkouts and verifies transactions by reference.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "vtupay/internal/errors"
	"vtupay/internal/logger"
	"vtupay/internal/models"

	"go.uber.org/zap"
)

const maxResponseBytes = 1 << 20

// StatusSuccess is the gateway's status for a settled charge.
const StatusSuccess = "success"

type Config struct {
	Name        string
	BaseURL     string
	SecretKey   string
	CallbackURL string
	Timeout     time.Duration
}

type Client struct {
	name        string
	baseURL     string
	secretKey   string
	callbackURL string
	httpClient  *http.Client
	logger      *zap.Logger
}

func NewClient(cfg Config, log *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Name == "" {
		cfg.Name = "paystack"
	}
	return &Client{
		name:        cfg.Name,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		secretKey:   cfg.SecretKey,
		callbackURL: cfg.CallbackURL,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		logger:      logger.OrNop(log),
	}
}

func (c *Client) Name() string { return c.name }

type FundingRequest struct {
	Email       string
	AmountMinor int64
	Reference   string
	UserID      uint
}

type Authorization struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// Verification is the gateway's authoritative view of a charge.
type Verification struct {
	Reference   string
	Status      string
	AmountMinor int64
	Currency    string
	Raw         json.RawMessage
}

func (v *Verification) Succeeded() bool { return v.Status == StatusSuccess }

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// InitializeFunding starts a hosted checkout for a wallet top-up. The
// metadata marks the charge as wallet funding so the webhook can route it.
func (c *Client) InitializeFunding(ctx context.Context, req FundingRequest) (*Authorization, error) {
	body := map[string]interface{}{
		"email":     req.Email,
		"amount":    req.AmountMinor,
		"reference": req.Reference,
		"metadata": map[string]interface{}{
			"user_id":         req.UserID,
			"purpose":         models.PurposeWalletFunding,
			"expected_amount": req.AmountMinor,
		},
	}
	if c.callbackURL != "" {
		body["callback_url"] = c.callbackURL
	}

	var auth Authorization
	if _, err := c.do(ctx, http.MethodPost, "/transaction/initialize", body, &auth); err != nil {
		return nil, err
	}
	c.logger.Info("funding initialized",
		zap.String("reference", req.Reference), zap.Uint("user_id", req.UserID), zap.Int64("amount_minor", req.AmountMinor))
	return &auth, nil
}

// Verify fetches a transaction by reference.
func (c *Client) Verify(ctx context.Context, reference string) (*Verification, error) {
	var data struct {
		Reference string `json:"reference"`
		Status    string `json:"status"`
		Amount    int64  `json:"amount"`
		Currency  string `json:"currency"`
	}
	raw, err := c.do(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, &data)
	if err != nil {
		return nil, err
	}
	return &Verification{
		Reference:   data.Reference,
		Status:      strings.ToLower(data.Status),
		AmountMinor: data.Amount,
		Currency:    strings.ToUpper(data.Currency),
		Raw:         raw,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.ErrProviderUnavailable.WithCause(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, apperrors.ErrProviderUnavailable.WithCause(err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, apperrors.ErrProviderUnavailable.WithCause(fmt.Errorf("gateway returned %d", resp.StatusCode))
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, apperrors.ErrProviderUnavailable.WithCause(fmt.Errorf("unreadable gateway response: %w", err))
	}
	if resp.StatusCode >= http.StatusBadRequest || !env.Status {
		msg := env.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, apperrors.ErrProviderRejected.WithMessage("gateway: %s", msg)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return nil, fmt.Errorf("failed to decode gateway data: %w", err)
		}
	}
	return env.Data, nil
}
