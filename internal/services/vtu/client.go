// Package vtu is the HTTP client for the airtime/data (VTU) provider.
//
// A purchase has three outcomes. Success and an explicit provider failure
// come back as a Result. Anything ambiguous (transport error, timeout, 5xx,
// unreadable body) is ErrProviderUnavailable: the order may or may not have
// gone through and must be settled later with CheckStatus.
package vtu

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

type Kind string

const (
	KindAirtime Kind = "airtime"
	KindData    Kind = "data"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusPending Status = "pending"
)

const maxResponseBytes = 1 << 20

// Order is one airtime or data purchase. Reference is our transaction id
// and is sent as the provider-side idempotency key.
type Order struct {
	Reference   string
	Kind        Kind
	Network     string
	Phone       string
	AmountMinor int64
	PlanCode    string
}

type Result struct {
	Status            Status
	ProviderReference string
	Message           string
	Raw               json.RawMessage
}

type Config struct {
	Name    string
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type Client struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(cfg Config, log *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.Name == "" {
		cfg.Name = "otapay"
	}
	return &Client{
		name:       cfg.Name,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.OrNop(log),
	}
}

// Name is the provider identifier stored on transactions.
func (c *Client) Name() string { return c.name }

type airtimeRequest struct {
	Network      string `json:"network"`
	Phone        string `json:"phone"`
	Ref          string `json:"ref"`
	Amount       string `json:"amount"`
	AirtimeType  string `json:"airtime_type"`
	PortedNumber bool   `json:"ported_number"`
}

type dataRequest struct {
	Network      string `json:"network"`
	Phone        string `json:"phone"`
	Ref          string `json:"ref"`
	DataPlan     string `json:"data_plan"`
	PortedNumber bool   `json:"ported_number"`
}

// envelope covers the fields we read from provider responses.
type envelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Reference string `json:"reference"`
		Status    string `json:"status"`
	} `json:"data"`
}

func (c *Client) Purchase(ctx context.Context, o Order) (*Result, error) {
	var (
		path string
		body interface{}
	)
	switch o.Kind {
	case KindAirtime:
		path = "/airtime/"
		body = airtimeRequest{
			Network:      o.Network,
			Phone:        o.Phone,
			Ref:          o.Reference,
			Amount:       models.MinorToMajor(o.AmountMinor).StringFixed(2),
			AirtimeType:  "VTU",
			PortedNumber: true,
		}
	case KindData:
		path = "/data/"
		body = dataRequest{
			Network:      o.Network,
			Phone:        o.Phone,
			Ref:          o.Reference,
			DataPlan:     o.PlanCode,
			PortedNumber: true,
		}
	default:
		return nil, fmt.Errorf("unknown purchase kind %q", o.Kind)
	}

	result, err := c.do(ctx, http.MethodPost, path, body, false)
	if err != nil {
		c.logger.Warn("vtu purchase outcome unknown",
			zap.String("reference", o.Reference), zap.String("kind", string(o.Kind)), zap.Error(err))
		return nil, err
	}
	c.logger.Info("vtu purchase",
		zap.String("reference", o.Reference),
		zap.String("status", string(result.Status)),
		zap.String("provider_reference", result.ProviderReference))
	return result, nil
}

// CheckStatus asks the provider for the current state of an order.
func (c *Client) CheckStatus(ctx context.Context, reference string) (*Result, error) {
	return c.do(ctx, http.MethodGet, "/transaction/status/?reference="+url.QueryEscape(reference), nil, true)
}

// retryableClientError reports 4xx codes that say nothing about the order
// itself.
func retryableClientError(code int) bool {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return false
}

// do sends one request. A rejected lookup only settles an order when the
// body carries an explicit failed status; any other 4xx on a lookup is
// treated as the provider being unavailable.
func (c *Client) do(ctx context.Context, method, path string, body interface{}, lookup bool) (*Result, error) {
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
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

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
		return nil, apperrors.ErrProviderUnavailable.WithCause(fmt.Errorf("provider returned %d", resp.StatusCode))
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode >= http.StatusBadRequest {
		unavailable := apperrors.ErrProviderUnavailable.WithCause(fmt.Errorf("provider returned %d", resp.StatusCode))
		if retryableClientError(resp.StatusCode) {
			return nil, unavailable
		}
		if lookup && (decodeErr != nil || normalizeStatus(env.Data.Status) != StatusFailed) {
			return nil, unavailable
		}
		msg := env.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &Result{Status: StatusFailed, Message: msg, Raw: jsonOrNil(raw)}, nil
	}
	if decodeErr != nil {
		return nil, apperrors.ErrProviderUnavailable.WithCause(fmt.Errorf("unreadable provider response: %w", decodeErr))
	}

	status := env.Data.Status
	if status == "" {
		status = env.Status
	}
	return &Result{
		Status:            normalizeStatus(status),
		ProviderReference: env.Data.Reference,
		Message:           env.Message,
		Raw:               jsonOrNil(raw),
	}, nil
}

func normalizeStatus(s string) Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "success", "successful", "completed", "delivered", "true":
		return StatusSuccess
	case "failed", "fail", "error", "reversed", "cancelled", "false":
		return StatusFailed
	default:
		return StatusPending
	}
}

func jsonOrNil(b []byte) json.RawMessage {
	if !json.Valid(b) {
		return nil
	}
	return json.RawMessage(b)
}
