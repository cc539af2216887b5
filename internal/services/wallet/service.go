package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "vtupay/internal/errors"
	"vtupay/internal/logger"
	"vtupay/internal/models"
	"vtupay/internal/repositories"
	"vtupay/internal/services/lock"
	"vtupay/internal/services/notification"
	"vtupay/internal/services/vtu"
	"vtupay/internal/validation"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// Dependencies are the collaborators of the ledger service. Notifier and
// Metrics are optional.
type Dependencies struct {
	Repo     repositories.WalletRepository
	Users    repositories.UserRepository
	Plans    repositories.PlanRepository
	Locks    *lock.Manager
	Provider Provider
	Notifier notification.Notifier
	Metrics  MetricsCollector
	Logger   *zap.Logger
}

type service struct {
	repo     repositories.WalletRepository
	users    repositories.UserRepository
	plans    repositories.PlanRepository
	locks    *lock.Manager
	provider Provider
	notifier notification.Notifier
	config   Config
	metrics  MetricsCollector
	logger   *zap.Logger
}

// NewService creates a new ledger service
func NewService(deps Dependencies, config Config) Service {
	if deps.Repo == nil {
		panic("wallet repository is required")
	}
	if deps.Users == nil {
		panic("user repository is required")
	}
	if deps.Locks == nil {
		panic("lock manager is required")
	}
	if deps.Provider == nil {
		panic("vtu provider is required")
	}

	if config.Currency == "" {
		config.Currency = models.DefaultCurrency
	}
	if config.LockTTL <= 0 {
		config.LockTTL = DefaultLockTTL
	}
	if config.ProviderTimeout <= 0 {
		config.ProviderTimeout = DefaultProviderTimeout
	}
	if config.PendingMaxAge <= 0 {
		config.PendingMaxAge = DefaultPendingMaxAge
	}
	if config.HistoryPageSize <= 0 {
		config.HistoryPageSize = DefaultHistoryPageSize
	}

	// Metrics is optional, create no-op collector if nil
	if deps.Metrics == nil {
		deps.Metrics = &NoopMetricsCollector{}
	}

	return &service{
		repo:     deps.Repo,
		users:    deps.Users,
		plans:    deps.Plans,
		locks:    deps.Locks,
		provider: deps.Provider,
		notifier: deps.Notifier,
		config:   config,
		metrics:  deps.Metrics,
		logger:   logger.OrNop(deps.Logger),
	}
}

func (s *service) Transfer(ctx context.Context, req TransferRequest) (res *TransferResult, err error) {
	defer s.observe("transfer", time.Now(), &err)

	if err := s.checkAmount(req.AmountMinor); err != nil {
		return nil, err
	}
	if len(req.Note) > validation.MaxNoteLength {
		return nil, apperrors.ErrInvalidRequest.WithMessage("note must not exceed %d characters", validation.MaxNoteLength)
	}

	sender, err := s.users.GetByID(ctx, req.SenderID)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return nil, apperrors.ErrWalletNotFound
		}
		return nil, err
	}
	if !sender.IsActive() {
		return nil, apperrors.ErrAccountSuspended
	}

	recipient, err := s.users.GetByHandle(ctx, req.RecipientHandle)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return nil, apperrors.ErrRecipientNotFound
		}
		return nil, err
	}
	if recipient.ID == sender.ID {
		return nil, apperrors.ErrSelfTransferNotAllowed
	}
	if !recipient.IsActive() {
		return nil, apperrors.ErrRecipientNotFound.WithMessage("recipient account is not active")
	}

	transferID := uuid.NewString()
	debit := &models.Transaction{
		OwnerID:     sender.ID,
		Direction:   models.DirectionDebit,
		Channel:     models.ChannelInApp,
		Purpose:     models.TransferOutPurpose(recipient.Handle),
		AmountMinor: req.AmountMinor,
		Currency:    s.config.Currency,
		Status:      models.TransactionStatusCompleted,
		Metadata: models.Metadata{
			TransferID:         transferID,
			CounterpartyID:     recipient.ID,
			CounterpartyHandle: recipient.Handle,
			Note:               req.Note,
		},
	}
	credit := &models.Transaction{
		OwnerID:     recipient.ID,
		Direction:   models.DirectionCredit,
		Channel:     models.ChannelInApp,
		Purpose:     models.TransferInPurpose(sender.Handle),
		AmountMinor: req.AmountMinor,
		Currency:    s.config.Currency,
		Status:      models.TransactionStatusCompleted,
		Metadata: models.Metadata{
			TransferID:         transferID,
			CounterpartyID:     sender.ID,
			CounterpartyHandle: sender.Handle,
			Note:               req.Note,
		},
	}

	var balance int64
	keys := []string{lock.WalletKey(sender.ID), lock.WalletKey(recipient.ID)}
	err = s.locks.WithLock(ctx, keys, s.config.LockTTL, func(ctx context.Context) error {
		return s.repo.ExecuteInTransaction(ctx, func(tx repositories.WalletRepository) error {
			if err := tx.DebitBalance(ctx, sender.ID, req.AmountMinor); err != nil {
				return err
			}
			if err := tx.CreditBalance(ctx, recipient.ID, req.AmountMinor); err != nil {
				return err
			}
			if err := tx.CreateTransaction(ctx, debit); err != nil {
				return err
			}
			if err := tx.CreateTransaction(ctx, credit); err != nil {
				return err
			}
			w, err := tx.GetWallet(ctx, sender.ID)
			if err != nil {
				return err
			}
			balance = w.BalanceMinor
			return nil
		})
	})
	if err != nil {
		err = translate(err)
		s.logFailure("transfer failed", err,
			zap.String("transfer_id", transferID),
			zap.Uint("owner_id", sender.ID),
			zap.Uint("recipient_id", recipient.ID),
			zap.Int64("amount_minor", req.AmountMinor))
		return nil, err
	}

	s.logger.Info("transfer completed",
		zap.String("transfer_id", transferID),
		zap.String("debit_id", debit.ID),
		zap.String("credit_id", credit.ID),
		zap.Uint("owner_id", sender.ID),
		zap.Uint("recipient_id", recipient.ID),
		zap.Int64("amount_minor", req.AmountMinor))
	s.metrics.RecordTransactionVolume("transfer", req.AmountMinor)

	amount := models.FormatMinor(req.AmountMinor, s.config.Currency)
	s.notify(ctx, notification.Email(notification.KindTransferSent, sender.Email, "Transfer sent",
		fmt.Sprintf("You sent %s to @%s.", amount, recipient.Handle)))
	s.notify(ctx, notification.Email(notification.KindTransferReceived, recipient.Email, "Transfer received",
		fmt.Sprintf("You received %s from @%s.", amount, sender.Handle)))

	return &TransferResult{
		TransferID:         transferID,
		Debit:              debit,
		Credit:             credit,
		SenderBalanceMinor: balance,
	}, nil
}

// Purchase buys airtime or data. The pending row is written before the
// provider is called; the balance is debited only after the provider
// confirms success. An unknown outcome leaves the row pending.
func (s *service) Purchase(ctx context.Context, req PurchaseRequest) (tx *models.Transaction, err error) {
	defer s.observe("purchase", time.Now(), &err)

	order, purpose, meta, err := s.preparePurchase(ctx, req)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return nil, apperrors.ErrWalletNotFound
		}
		return nil, err
	}
	if !user.IsActive() {
		return nil, apperrors.ErrAccountSuspended
	}

	err = s.locks.WithLock(ctx, []string{lock.WalletKey(user.ID)}, s.config.LockTTL, func(ctx context.Context) error {
		w, err := s.repo.GetWallet(ctx, user.ID)
		if err != nil {
			return err
		}
		if w.BalanceMinor < order.AmountMinor {
			return apperrors.ErrInsufficientBalance
		}

		id := uuid.NewString()
		order.Reference = id
		tx = &models.Transaction{
			ID:                id,
			OwnerID:           user.ID,
			Direction:         models.DirectionDebit,
			Channel:           models.ChannelThirdParty,
			Purpose:           purpose,
			AmountMinor:       order.AmountMinor,
			Currency:          s.config.Currency,
			Status:            models.TransactionStatusPending,
			Provider:          models.StrPtr(s.provider.Name()),
			ProviderReference: models.StrPtr(id),
			Metadata:          meta,
		}
		if err := s.repo.CreateTransaction(ctx, tx); err != nil {
			return err
		}

		pctx, cancel := context.WithTimeout(ctx, s.config.ProviderTimeout)
		result, perr := s.provider.Purchase(pctx, order)
		cancel()

		// The provider may have acted; record the outcome even if the
		// caller has gone away.
		return s.applyProviderResult(context.WithoutCancel(ctx), tx, result, perr)
	})
	if err != nil {
		err = translate(err)
		fields := []zap.Field{zap.Uint("owner_id", req.UserID), zap.Int64("amount_minor", order.AmountMinor)}
		if tx != nil {
			fields = append(fields, zap.String("transaction_id", tx.ID))
		}
		s.logFailure("purchase failed", err, fields...)
		return tx, err
	}

	if tx.Status == models.TransactionStatusCompleted {
		s.metrics.RecordTransactionVolume(purpose, order.AmountMinor)
		s.notify(ctx, notification.SMS(notification.KindPurchase, req.Phone,
			fmt.Sprintf("%s %s purchase of %s successful. Ref %s.",
				strings.ToUpper(req.Network), purpose, models.FormatMinor(order.AmountMinor, s.config.Currency), tx.ID)))
	}
	return tx, nil
}

func (s *service) preparePurchase(ctx context.Context, req PurchaseRequest) (vtu.Order, string, models.Metadata, error) {
	v := validation.New()
	v.Network("network", req.Network)
	v.Phone("phone", req.Phone)

	order := vtu.Order{Kind: req.Kind, Network: req.Network, Phone: req.Phone}
	meta := models.Metadata{Network: req.Network, Phone: req.Phone}
	var purpose string

	switch req.Kind {
	case vtu.KindAirtime:
		purpose = models.PurposeAirtime
		if err := s.checkAmount(req.AmountMinor); err != nil {
			return order, "", meta, err
		}
		order.AmountMinor = req.AmountMinor
	case vtu.KindData:
		purpose = models.PurposeData
		if s.plans == nil {
			return order, "", meta, apperrors.ErrPlanNotFound
		}
		plan, err := s.plans.GetByCode(ctx, req.PlanCode)
		if err != nil {
			return order, "", meta, translate(err)
		}
		if !strings.EqualFold(plan.Network, req.Network) {
			return order, "", meta, apperrors.ErrPlanNotFound.WithMessage("plan %s is not sold on %s", plan.Code, req.Network)
		}
		order.AmountMinor = plan.PriceMinor
		order.PlanCode = plan.Code
		meta.PlanCode = plan.Code
	default:
		v.AddError("kind", "must be airtime or data")
	}

	if !v.Valid() {
		return order, "", meta, apperrors.ErrInvalidRequest.WithMessage("invalid purchase: %s", v.Error())
	}
	return order, purpose, meta, nil
}

// applyProviderResult settles a pending purchase from a provider answer.
// A nil result with an error is an unknown outcome and changes nothing.
func (s *service) applyProviderResult(ctx context.Context, tx *models.Transaction, result *vtu.Result, perr error) error {
	if perr != nil {
		s.logger.Warn("provider outcome unknown, leaving transaction pending",
			zap.String("transaction_id", tx.ID),
			zap.String("reference", tx.Reference()),
			zap.Error(perr))
		if _, ok := apperrors.As(perr); ok {
			return perr
		}
		return apperrors.ErrProviderUnavailable.WithCause(perr)
	}

	update := repositories.StatusUpdate{ProviderResponse: datatypes.JSON(result.Raw)}

	switch result.Status {
	case vtu.StatusSuccess:
		err := s.repo.ExecuteInTransaction(ctx, func(r repositories.WalletRepository) error {
			if err := r.DebitBalance(ctx, tx.OwnerID, tx.AmountMinor); err != nil {
				return err
			}
			return r.TransitionStatus(ctx, tx.ID, models.TransactionStatusPending, models.TransactionStatusCompleted, update)
		})
		if err != nil {
			if errors.Is(err, repositories.ErrInsufficientFunds) {
				// Only reachable if the lock was lost; the provider has
				// delivered but the wallet cannot cover it.
				s.logger.Error("provider delivered but balance no longer covers purchase",
					zap.String("transaction_id", tx.ID), zap.Uint("owner_id", tx.OwnerID), zap.Int64("amount_minor", tx.AmountMinor))
				meta := tx.Metadata
				meta.FailureReason = "insufficient balance at settlement"
				update.Metadata = &meta
				if terr := s.repo.TransitionStatus(ctx, tx.ID, models.TransactionStatusPending, models.TransactionStatusFailed, update); terr != nil {
					s.logger.Error("failed to mark purchase failed", zap.String("transaction_id", tx.ID), zap.Error(terr))
				}
			}
			return err
		}
		s.refresh(ctx, tx)
		s.logger.Info("purchase completed",
			zap.String("transaction_id", tx.ID),
			zap.Uint("owner_id", tx.OwnerID),
			zap.Int64("amount_minor", tx.AmountMinor),
			zap.String("provider_reference", result.ProviderReference))
		return nil

	case vtu.StatusFailed:
		meta := tx.Metadata
		meta.FailureReason = result.Message
		update.Metadata = &meta
		if err := s.repo.TransitionStatus(ctx, tx.ID, models.TransactionStatusPending, models.TransactionStatusFailed, update); err != nil {
			return err
		}
		s.refresh(ctx, tx)
		msg := result.Message
		if msg == "" {
			msg = "purchase was declined by the provider"
		}
		return apperrors.ErrProviderRejected.WithMessage("%s", msg)

	default:
		s.logger.Info("purchase still processing at provider", zap.String("transaction_id", tx.ID))
		return nil
	}
}

// CreditFromProvider applies an externally confirmed credit exactly once.
// The unique (provider, reference) index decides races between concurrent
// deliveries; the loser gets ErrDuplicateEvent and the existing row.
func (s *service) CreditFromProvider(ctx context.Context, c ProviderCredit) (tx *models.Transaction, err error) {
	defer s.observe("provider_credit", time.Now(), &err)

	if c.Provider == "" || c.Reference == "" {
		return nil, fmt.Errorf("provider credit requires provider and reference")
	}
	if c.AmountMinor <= 0 {
		return nil, apperrors.ErrInvalidAmount
	}
	if existing, err := s.repo.GetByProviderReference(ctx, c.Provider, c.Reference); err == nil {
		return existing, apperrors.ErrDuplicateEvent
	} else if !errors.Is(err, repositories.ErrTransactionNotFound) {
		return nil, err
	}

	tx = s.providerRow(c, models.TransactionStatusCompleted)
	err = s.locks.WithLock(ctx, []string{lock.WalletKey(c.OwnerID)}, s.config.LockTTL, func(ctx context.Context) error {
		return s.repo.ExecuteInTransaction(ctx, func(r repositories.WalletRepository) error {
			if err := r.CreateTransaction(ctx, tx); err != nil {
				return err
			}
			return r.CreditBalance(ctx, c.OwnerID, c.AmountMinor)
		})
	})
	if err != nil {
		if errors.Is(err, repositories.ErrDuplicateReference) {
			s.logger.Info("duplicate provider credit",
				zap.String("provider", c.Provider), zap.String("reference", c.Reference))
			existing, gerr := s.repo.GetByProviderReference(ctx, c.Provider, c.Reference)
			if gerr != nil {
				return nil, apperrors.ErrDuplicateEvent
			}
			return existing, apperrors.ErrDuplicateEvent
		}
		err = translate(err)
		s.logFailure("provider credit failed", err,
			zap.String("provider", c.Provider),
			zap.String("reference", c.Reference),
			zap.Uint("owner_id", c.OwnerID),
			zap.Int64("amount_minor", c.AmountMinor))
		return nil, err
	}

	s.logger.Info("wallet credited",
		zap.String("transaction_id", tx.ID),
		zap.String("provider", c.Provider),
		zap.String("reference", c.Reference),
		zap.Uint("owner_id", c.OwnerID),
		zap.Int64("amount_minor", c.AmountMinor))
	s.metrics.RecordTransactionVolume(tx.Purpose, c.AmountMinor)

	if user, err := s.users.GetByID(ctx, c.OwnerID); err == nil {
		s.notify(ctx, notification.Email(notification.KindWalletFunded, user.Email, "Wallet funded",
			fmt.Sprintf("Your wallet was credited with %s.", models.FormatMinor(c.AmountMinor, tx.Currency))))
	}
	return tx, nil
}

// RecordRejectedEvent stores an authenticated event that failed
// verification as a failed row. It has no balance effect but occupies the
// (provider, reference) key so replays are recognised.
func (s *service) RecordRejectedEvent(ctx context.Context, c ProviderCredit, reason string) (*models.Transaction, error) {
	if c.Provider == "" || c.Reference == "" {
		return nil, fmt.Errorf("rejected event requires provider and reference")
	}
	if c.AmountMinor <= 0 {
		// Keep the row valid; the real amount is in the raw response.
		c.AmountMinor = 1
	}

	tx := s.providerRow(c, models.TransactionStatusFailed)
	tx.Metadata.FailureReason = reason
	if err := s.repo.CreateTransaction(ctx, tx); err != nil {
		if errors.Is(err, repositories.ErrDuplicateReference) {
			existing, gerr := s.repo.GetByProviderReference(ctx, c.Provider, c.Reference)
			if gerr != nil {
				return nil, apperrors.ErrDuplicateEvent
			}
			return existing, apperrors.ErrDuplicateEvent
		}
		return nil, translate(err)
	}
	s.logger.Warn("provider event rejected",
		zap.String("transaction_id", tx.ID),
		zap.String("provider", c.Provider),
		zap.String("reference", c.Reference),
		zap.Uint("owner_id", c.OwnerID),
		zap.String("reason", reason))
	return tx, nil
}

func (s *service) providerRow(c ProviderCredit, status models.TransactionStatus) *models.Transaction {
	currency := strings.ToUpper(c.Currency)
	if currency == "" {
		currency = s.config.Currency
	}
	purpose := c.Purpose
	if purpose == "" {
		purpose = models.PurposeWalletFunding
	}
	return &models.Transaction{
		OwnerID:           c.OwnerID,
		Direction:         models.DirectionCredit,
		Channel:           models.ChannelThirdParty,
		Purpose:           purpose,
		AmountMinor:       c.AmountMinor,
		Currency:          currency,
		Status:            status,
		Provider:          models.StrPtr(c.Provider),
		ProviderReference: models.StrPtr(c.Reference),
		Metadata:          models.Metadata{Event: c.Event},
		ProviderResponse:  c.Response,
	}
}

// ReconcilePurchase asks the provider about a pending purchase and
// settles it if the provider has a final answer.
func (s *service) ReconcilePurchase(ctx context.Context, txID string) (tx *models.Transaction, err error) {
	defer s.observe("reconcile", time.Now(), &err)

	tx, err = s.repo.GetTransaction(ctx, txID)
	if err != nil {
		return nil, translate(err)
	}
	if tx.Channel != models.ChannelThirdParty || tx.Direction != models.DirectionDebit {
		return tx, apperrors.ErrInvalidTransition.WithMessage("only third-party purchases can be reconciled")
	}
	if tx.Status != models.TransactionStatusPending {
		return tx, apperrors.ErrInvalidTransition.WithMessage("transaction is already %s", tx.Status)
	}

	err = s.locks.WithLock(ctx, []string{lock.WalletKey(tx.OwnerID)}, s.config.LockTTL, func(ctx context.Context) error {
		// Re-read under the lock; another reconciler may have settled it.
		current, err := s.repo.GetTransaction(ctx, txID)
		if err != nil {
			return err
		}
		*tx = *current
		if tx.Status != models.TransactionStatusPending {
			return nil
		}

		pctx, cancel := context.WithTimeout(ctx, s.config.ProviderTimeout)
		result, perr := s.provider.CheckStatus(pctx, tx.ID)
		cancel()
		return s.applyProviderResult(context.WithoutCancel(ctx), tx, result, perr)
	})
	if err != nil {
		err = translate(err)
		// A provider-side failure is a settled outcome, not a reconcile error.
		if errors.Is(err, apperrors.ErrProviderRejected) && tx.Status == models.TransactionStatusFailed {
			return tx, nil
		}
		s.logFailure("reconcile failed", err, zap.String("transaction_id", txID))
		return tx, err
	}
	return tx, nil
}

// ReconcileStale sweeps purchases pending longer than PendingMaxAge.
func (s *service) ReconcileStale(ctx context.Context) (*ReconcileSummary, error) {
	stale, err := s.repo.ListStalePending(ctx, time.Now().Add(-s.config.PendingMaxAge), staleSweepBatch)
	if err != nil {
		return nil, err
	}

	summary := &ReconcileSummary{}
	for i := range stale {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		summary.Checked++
		tx, err := s.ReconcilePurchase(ctx, stale[i].ID)
		if err != nil {
			summary.Errors++
			continue
		}
		switch tx.Status {
		case models.TransactionStatusCompleted:
			summary.Completed++
		case models.TransactionStatusFailed:
			summary.Failed++
		default:
			summary.Pending++
		}
	}
	if summary.Checked > 0 {
		s.logger.Info("stale purchases reconciled",
			zap.Int("checked", summary.Checked),
			zap.Int("completed", summary.Completed),
			zap.Int("failed", summary.Failed),
			zap.Int("pending", summary.Pending),
			zap.Int("errors", summary.Errors))
	}
	return summary, nil
}

// Refund reverses a completed transaction's balance effect and marks it
// refunded in the same unit of work.
func (s *service) Refund(ctx context.Context, txID string) (tx *models.Transaction, err error) {
	defer s.observe("refund", time.Now(), &err)

	tx, err = s.repo.GetTransaction(ctx, txID)
	if err != nil {
		return nil, translate(err)
	}
	if !tx.Status.CanTransitionTo(models.TransactionStatusRefunded) {
		return tx, apperrors.ErrInvalidTransition.WithMessage("cannot refund a %s transaction", tx.Status)
	}
	if tx.Metadata.TransferID != "" {
		// Refunding one leg would create money; reverse with a new transfer.
		return tx, apperrors.ErrInvalidTransition.WithMessage("in-app transfers cannot be refunded")
	}

	meta := tx.Metadata
	meta.RefundOf = tx.ID
	err = s.locks.WithLock(ctx, []string{lock.WalletKey(tx.OwnerID)}, s.config.LockTTL, func(ctx context.Context) error {
		return s.repo.ExecuteInTransaction(ctx, func(r repositories.WalletRepository) error {
			if err := r.TransitionStatus(ctx, tx.ID, models.TransactionStatusCompleted, models.TransactionStatusRefunded,
				repositories.StatusUpdate{Metadata: &meta}); err != nil {
				return err
			}
			if tx.Direction == models.DirectionDebit {
				return r.CreditBalance(ctx, tx.OwnerID, tx.AmountMinor)
			}
			return r.DebitBalance(ctx, tx.OwnerID, tx.AmountMinor)
		})
	})
	if err != nil {
		err = translate(err)
		s.logFailure("refund failed", err, zap.String("transaction_id", tx.ID), zap.Uint("owner_id", tx.OwnerID))
		return tx, err
	}

	s.refresh(ctx, tx)
	s.logger.Info("transaction refunded",
		zap.String("transaction_id", tx.ID),
		zap.Uint("owner_id", tx.OwnerID),
		zap.Int64("amount_minor", tx.AmountMinor),
		zap.String("direction", string(tx.Direction)))

	if user, err := s.users.GetByID(ctx, tx.OwnerID); err == nil {
		s.notify(ctx, notification.Email(notification.KindRefund, user.Email, "Transaction refunded",
			fmt.Sprintf("Your %s transaction %s of %s was refunded.", tx.Purpose, tx.ID, models.FormatMinor(tx.AmountMinor, tx.Currency))))
	}
	return tx, nil
}

// Cancel abandons a pending transaction. It never touches the balance.
func (s *service) Cancel(ctx context.Context, txID string) (tx *models.Transaction, err error) {
	defer s.observe("cancel", time.Now(), &err)

	tx, err = s.repo.GetTransaction(ctx, txID)
	if err != nil {
		return nil, translate(err)
	}
	if !tx.Status.CanTransitionTo(models.TransactionStatusCancelled) {
		return tx, apperrors.ErrInvalidTransition.WithMessage("cannot cancel a %s transaction", tx.Status)
	}

	err = s.locks.WithLock(ctx, []string{lock.WalletKey(tx.OwnerID)}, s.config.LockTTL, func(ctx context.Context) error {
		return s.repo.TransitionStatus(ctx, tx.ID, models.TransactionStatusPending, models.TransactionStatusCancelled, repositories.StatusUpdate{})
	})
	if err != nil {
		return tx, translate(err)
	}
	s.refresh(ctx, tx)
	s.logger.Info("transaction cancelled", zap.String("transaction_id", tx.ID), zap.Uint("owner_id", tx.OwnerID))
	return tx, nil
}

func (s *service) FindByProviderReference(ctx context.Context, provider, reference string) (*models.Transaction, error) {
	tx, err := s.repo.GetByProviderReference(ctx, provider, reference)
	if err != nil {
		return nil, translate(err)
	}
	return tx, nil
}

func (s *service) GetBalance(ctx context.Context, ownerID uint) (*models.Wallet, error) {
	w, err := s.repo.GetWallet(ctx, ownerID)
	if err != nil {
		return nil, translate(err)
	}
	return w, nil
}

func (s *service) History(ctx context.Context, ownerID uint, limit, offset int) (*HistoryPage, error) {
	if limit <= 0 {
		limit = s.config.HistoryPageSize
	}
	if limit > MaxHistoryPageSize {
		limit = MaxHistoryPageSize
	}
	if offset < 0 {
		offset = 0
	}
	items, total, err := s.repo.ListTransactions(ctx, ownerID, limit, offset)
	if err != nil {
		return nil, err
	}
	return &HistoryPage{Items: items, Total: total, Limit: limit, Offset: offset}, nil
}

// AuditBalance recomputes the balance from completed rows. It holds the
// wallet lock so no mutation lands between the two reads.
func (s *service) AuditBalance(ctx context.Context, ownerID uint) (*BalanceReport, error) {
	report := &BalanceReport{OwnerID: ownerID}
	err := s.locks.WithLock(ctx, []string{lock.WalletKey(ownerID)}, s.config.LockTTL, func(ctx context.Context) error {
		return s.repo.ExecuteInTransaction(ctx, func(r repositories.WalletRepository) error {
			w, err := r.GetWallet(ctx, ownerID)
			if err != nil {
				return err
			}
			credits, debits, err := r.SumCompleted(ctx, ownerID)
			if err != nil {
				return err
			}
			report.StoredMinor = w.BalanceMinor
			report.CreditsMinor = credits
			report.DebitsMinor = debits
			return nil
		})
	})
	if err != nil {
		return nil, translate(err)
	}

	report.ComputedMinor = report.CreditsMinor - report.DebitsMinor
	report.Consistent = report.ComputedMinor == report.StoredMinor
	if !report.Consistent {
		drift := report.StoredMinor - report.ComputedMinor
		s.metrics.RecordAuditMismatch(drift)
		s.logger.Error("wallet balance disagrees with ledger",
			zap.Uint("owner_id", ownerID),
			zap.Int64("stored_minor", report.StoredMinor),
			zap.Int64("computed_minor", report.ComputedMinor),
			zap.Int64("drift_minor", drift))
	}
	return report, nil
}

func (s *service) ListPlans(ctx context.Context, network string) ([]models.DataPlan, error) {
	if s.plans == nil {
		return nil, nil
	}
	return s.plans.ListByNetwork(ctx, network)
}

func (s *service) checkAmount(amountMinor int64) error {
	v := validation.New()
	v.Amount("amount", amountMinor, s.config.MinAmountMinor, s.config.MaxAmountMinor)
	if !v.Valid() {
		return apperrors.ErrInvalidAmount.WithMessage("amount %s", v.Errors["amount"])
	}
	return nil
}

// refresh reloads tx after a status change; on failure the stale copy is kept.
func (s *service) refresh(ctx context.Context, tx *models.Transaction) {
	current, err := s.repo.GetTransaction(ctx, tx.ID)
	if err != nil {
		s.logger.Warn("failed to reload transaction", zap.String("transaction_id", tx.ID), zap.Error(err))
		return
	}
	*tx = *current
}

func (s *service) notify(ctx context.Context, msg notification.Message) {
	if s.notifier == nil || msg.To == "" {
		return
	}
	if err := s.notifier.Send(context.WithoutCancel(ctx), msg); err != nil {
		s.logger.Warn("failed to queue notification", zap.String("kind", msg.Kind), zap.Error(err))
	}
}

func (s *service) observe(op string, start time.Time, errp *error) {
	s.metrics.RecordOperationDuration(op, time.Since(start))
	if *errp == nil || errors.Is(*errp, apperrors.ErrDuplicateEvent) {
		s.metrics.RecordOperationResult(op, "success")
		return
	}
	s.metrics.RecordOperationResult(op, "error")
	s.metrics.RecordError(op, errorCode(*errp))
}

// logFailure logs client errors at Info and everything else at Error.
func (s *service) logFailure(msg string, err error, fields ...zap.Field) {
	fields = append(fields, zap.Error(err))
	if de, ok := apperrors.As(err); ok && de.Status < 500 {
		s.logger.Info(msg, fields...)
		return
	}
	s.logger.Error(msg, fields...)
}
