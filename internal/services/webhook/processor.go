// Package webhook authenticates payment gateway callbacks and turns the
// ones that fund wallets into ledger credits, exactly once per event.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	apperrors "vtupay/internal/errors"
	"vtupay/internal/logger"
	"vtupay/internal/models"
	"vtupay/internal/repositories"
	"vtupay/internal/services/gateway"
	"vtupay/internal/services/wallet"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// SignatureHeader carries the hex HMAC-SHA512 of the raw request body.
const SignatureHeader = "X-Provider-Signature"

// Outcome is how an authenticated event was handled. Every outcome is
// acknowledged to the provider.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeRejected  Outcome = "rejected"
)

const (
	EventChargeSuccess    = "charge.success"
	EventDedicatedAccount = "dedicatedaccount.received"
	EventTransferSuccess  = "transfer.success"
)

var eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vtupay_webhook_events_total",
	Help: "Gateway webhook deliveries by outcome.",
}, []string{"outcome"})

// Ledger is the part of the ledger engine the processor drives.
type Ledger interface {
	FindByProviderReference(ctx context.Context, provider, reference string) (*models.Transaction, error)
	CreditFromProvider(ctx context.Context, credit wallet.ProviderCredit) (*models.Transaction, error)
	RecordRejectedEvent(ctx context.Context, credit wallet.ProviderCredit, reason string) (*models.Transaction, error)
}

// UserLookup resolves the wallet owner an event belongs to.
type UserLookup interface {
	GetByID(ctx context.Context, id uint) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByGatewayIdentity(ctx context.Context, customerCode, accountNumber string) (*models.User, error)
}

// Verifier re-fetches a transaction from the gateway by reference.
type Verifier interface {
	Verify(ctx context.Context, reference string) (*gateway.Verification, error)
}

type Config struct {
	Provider string
	Secret   string
	Currency string

	// LockRetries bounds how often a delivery waits out a held wallet lock
	// before handing the retry back to the gateway.
	LockRetries    int
	LockRetryDelay time.Duration
}

type Processor struct {
	ledger   Ledger
	users    UserLookup
	verifier Verifier
	config   Config
	logger   *zap.Logger
}

// NewProcessor builds a processor. verifier may be nil, in which case the
// signed event amount is trusted as is.
func NewProcessor(ledger Ledger, users UserLookup, verifier Verifier, cfg Config, log *zap.Logger) *Processor {
	if ledger == nil || users == nil {
		panic("ledger and user lookup are required")
	}
	if cfg.Secret == "" {
		panic("webhook secret is required")
	}
	if cfg.Currency == "" {
		cfg.Currency = models.DefaultCurrency
	}
	if cfg.LockRetries <= 0 {
		cfg.LockRetries = 5
	}
	if cfg.LockRetryDelay <= 0 {
		cfg.LockRetryDelay = 20 * time.Millisecond
	}
	return &Processor{
		ledger:   ledger,
		users:    users,
		verifier: verifier,
		config:   cfg,
		logger:   logger.OrNop(log),
	}
}

type event struct {
	Event string    `json:"event"`
	Data  eventData `json:"data"`
}

type eventData struct {
	Reference     string        `json:"reference"`
	Amount        int64         `json:"amount"`
	Currency      string        `json:"currency"`
	Status        string        `json:"status"`
	AccountNumber string        `json:"account_number"`
	Customer      eventCustomer `json:"customer"`
	Metadata      eventMetadata `json:"metadata"`

	DedicatedAccount struct {
		AccountNumber string `json:"account_number"`
	} `json:"dedicated_account"`
}

type eventCustomer struct {
	Email        string `json:"email"`
	CustomerCode string `json:"customer_code"`
}

// eventMetadata tolerates the gateway sending metadata as an empty string
// and user ids as either numbers or strings.
type eventMetadata struct {
	UserID         uint
	Purpose        string
	ExpectedAmount int64
}

func (m *eventMetadata) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || b[0] != '{' {
		return nil
	}
	var aux struct {
		UserID         json.RawMessage `json:"user_id"`
		Purpose        string          `json:"purpose"`
		ExpectedAmount json.Number     `json:"expected_amount"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	m.Purpose = aux.Purpose
	if aux.ExpectedAmount != "" {
		n, err := aux.ExpectedAmount.Int64()
		if err != nil {
			return fmt.Errorf("expected_amount: %w", err)
		}
		m.ExpectedAmount = n
	}
	if len(aux.UserID) > 0 && string(aux.UserID) != "null" {
		raw := strings.Trim(string(aux.UserID), `"`)
		if raw != "" {
			id, err := strconv.ParseUint(raw, 10, 64)
			if err != nil {
				return fmt.Errorf("user_id: %w", err)
			}
			m.UserID = uint(id)
		}
	}
	return nil
}

// Sign returns the hex HMAC-SHA512 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (p *Processor) verifySignature(body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	expected := Sign(p.config.Secret, body)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature))))
}

// HandleProviderEvent authenticates and applies one webhook delivery. A
// returned error means the provider should retry; ErrInvalidSignature
// means it should not have sent it at all.
func (p *Processor) HandleProviderEvent(ctx context.Context, rawBody []byte, signature string) (outcome Outcome, err error) {
	defer func() {
		switch {
		case errors.Is(err, apperrors.ErrInvalidSignature):
			eventsTotal.WithLabelValues("invalid_signature").Inc()
		case err != nil:
			eventsTotal.WithLabelValues("error").Inc()
		default:
			eventsTotal.WithLabelValues(string(outcome)).Inc()
		}
	}()

	if !p.verifySignature(rawBody, signature) {
		p.logger.Warn("webhook signature mismatch", zap.Int("body_bytes", len(rawBody)))
		return "", apperrors.ErrInvalidSignature
	}

	var evt event
	if err := json.Unmarshal(rawBody, &evt); err != nil {
		p.logger.Warn("unreadable webhook payload", zap.Error(err))
		return OutcomeIgnored, nil
	}

	if !p.actionable(evt) {
		p.logger.Info("webhook event ignored",
			zap.String("event", evt.Event), zap.String("purpose", evt.Data.Metadata.Purpose))
		return OutcomeIgnored, nil
	}

	log := p.logger.With(
		zap.String("event", evt.Event),
		zap.String("provider", p.config.Provider),
		zap.String("reference", evt.Data.Reference))

	if existing, err := p.ledger.FindByProviderReference(ctx, p.config.Provider, evt.Data.Reference); err == nil {
		log.Info("duplicate webhook delivery",
			zap.String("transaction_id", existing.ID), zap.String("status", string(existing.Status)))
		return OutcomeDuplicate, nil
	} else if !errors.Is(err, apperrors.ErrTransactionNotFound) {
		return "", err
	}

	owner, err := p.resolveOwner(ctx, evt.Data)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			// Nothing to attach a row to; needs manual follow-up.
			log.Error("webhook owner not found",
				zap.Uint("user_id", evt.Data.Metadata.UserID),
				zap.String("customer_code", evt.Data.Customer.CustomerCode),
				zap.String("account_number", p.accountNumber(evt.Data)),
				zap.Int64("amount_minor", evt.Data.Amount))
			return OutcomeRejected, nil
		}
		return "", err
	}

	credit := wallet.ProviderCredit{
		OwnerID:     owner.ID,
		Provider:    p.config.Provider,
		Reference:   evt.Data.Reference,
		AmountMinor: evt.Data.Amount,
		Currency:    strings.ToUpper(evt.Data.Currency),
		Purpose:     models.PurposeWalletFunding,
		Event:       evt.Event,
		Response:    datatypes.JSON(rawBody),
	}
	if credit.Currency == "" {
		credit.Currency = p.config.Currency
	}

	reason, err := p.crossCheck(ctx, evt, &credit)
	if err != nil {
		return "", err
	}
	if reason != "" {
		_, rerr := p.withWalletLock(ctx, credit.Reference, func() (*models.Transaction, error) {
			return p.ledger.RecordRejectedEvent(ctx, credit, reason)
		})
		if errors.Is(rerr, apperrors.ErrDuplicateEvent) {
			return OutcomeDuplicate, nil
		}
		if rerr != nil {
			return "", rerr
		}
		log.Warn("webhook event rejected", zap.Uint("owner_id", owner.ID), zap.String("reason", reason))
		return OutcomeRejected, nil
	}

	tx, err := p.withWalletLock(ctx, credit.Reference, func() (*models.Transaction, error) {
		return p.ledger.CreditFromProvider(ctx, credit)
	})
	if errors.Is(err, apperrors.ErrDuplicateEvent) {
		log.Info("duplicate webhook delivery lost the race")
		return OutcomeDuplicate, nil
	}
	if err != nil {
		log.Error("webhook credit failed", zap.Uint("owner_id", owner.ID), zap.Error(err))
		return "", err
	}

	log.Info("webhook credit applied",
		zap.String("transaction_id", tx.ID),
		zap.Uint("owner_id", owner.ID),
		zap.Int64("amount_minor", tx.AmountMinor))
	return OutcomeProcessed, nil
}

// withWalletLock runs apply, waiting out a held wallet lock a few times.
// A concurrent delivery of the same event usually holds it; once that one
// has committed its row this delivery is reported as ErrDuplicateEvent so
// the gateway is not asked to redeliver. ErrLockHeld is only returned when
// the wallet stays busy with something else.
func (p *Processor) withWalletLock(ctx context.Context, reference string, apply func() (*models.Transaction, error)) (*models.Transaction, error) {
	for attempt := 0; ; attempt++ {
		tx, err := apply()
		if !errors.Is(err, apperrors.ErrLockHeld) {
			return tx, err
		}
		existing, ferr := p.ledger.FindByProviderReference(ctx, p.config.Provider, reference)
		if ferr == nil {
			return existing, apperrors.ErrDuplicateEvent
		}
		if !errors.Is(ferr, apperrors.ErrTransactionNotFound) {
			return nil, ferr
		}
		if attempt+1 >= p.config.LockRetries {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.config.LockRetryDelay * time.Duration(attempt+1)):
		}
	}
}

// actionable reports whether evt is a settled wallet top-up.
func (p *Processor) actionable(evt event) bool {
	if evt.Data.Reference == "" {
		return false
	}
	if evt.Data.Status != "" && !strings.EqualFold(evt.Data.Status, gateway.StatusSuccess) {
		return false
	}
	switch evt.Event {
	case EventChargeSuccess:
		return evt.Data.Metadata.Purpose == models.PurposeWalletFunding
	case EventDedicatedAccount, EventTransferSuccess:
		return true
	}
	return false
}

func (p *Processor) accountNumber(d eventData) string {
	if d.AccountNumber != "" {
		return d.AccountNumber
	}
	return d.DedicatedAccount.AccountNumber
}

func (p *Processor) resolveOwner(ctx context.Context, d eventData) (*models.User, error) {
	if d.Metadata.UserID != 0 {
		return p.users.GetByID(ctx, d.Metadata.UserID)
	}
	if code, acct := d.Customer.CustomerCode, p.accountNumber(d); code != "" || acct != "" {
		user, err := p.users.GetByGatewayIdentity(ctx, code, acct)
		if err == nil || !errors.Is(err, repositories.ErrUserNotFound) || d.Customer.Email == "" {
			return user, err
		}
	}
	if d.Customer.Email != "" {
		return p.users.GetByEmail(ctx, d.Customer.Email)
	}
	return nil, repositories.ErrUserNotFound
}

// crossCheck compares the event with the gateway's own record and any
// amount the client declared. A non-empty reason means reject. The credit
// amount is set from the gateway's record when one is available.
func (p *Processor) crossCheck(ctx context.Context, evt event, credit *wallet.ProviderCredit) (string, error) {
	if credit.AmountMinor <= 0 {
		return "non-positive amount", nil
	}

	if p.verifier != nil {
		v, err := p.verifier.Verify(ctx, evt.Data.Reference)
		switch {
		case errors.Is(err, apperrors.ErrProviderRejected):
			return "reference unknown to gateway", nil
		case err != nil:
			return "", err
		}
		if !v.Succeeded() {
			return fmt.Sprintf("gateway reports status %q", v.Status), nil
		}
		if v.AmountMinor != credit.AmountMinor {
			return fmt.Sprintf("%s: event %d, gateway %d", apperrors.ErrAmountMismatch.Message, credit.AmountMinor, v.AmountMinor), nil
		}
		if v.Currency != "" && v.Currency != credit.Currency {
			return fmt.Sprintf("currency mismatch: event %s, gateway %s", credit.Currency, v.Currency), nil
		}
		credit.AmountMinor = v.AmountMinor
	}

	if expected := evt.Data.Metadata.ExpectedAmount; expected > 0 && expected != credit.AmountMinor {
		return fmt.Sprintf("%s: expected %d, paid %d", apperrors.ErrAmountMismatch.Message, expected, credit.AmountMinor), nil
	}
	if credit.Currency != p.config.Currency {
		return fmt.Sprintf("unsupported currency %s", credit.Currency), nil
	}
	return "", nil
}
