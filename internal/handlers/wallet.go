package handlers

import (
	"context"

	apperrors "vtupay/internal/errors"
	"vtupay/internal/logger"
	"vtupay/internal/middleware"
	"vtupay/internal/models"
	"vtupay/internal/services/gateway"
	"vtupay/internal/services/wallet"
	"vtupay/internal/utils/response"
	"vtupay/internal/validation"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// FundingGateway starts hosted checkouts for wallet top-ups.
type FundingGateway interface {
	InitializeFunding(ctx context.Context, req gateway.FundingRequest) (*gateway.Authorization, error)
}

type WalletHandler struct {
	walletService wallet.Service
	gateway       FundingGateway
	limits        wallet.Config
	logger        *zap.Logger
}

func NewWalletHandler(walletService wallet.Service, gw FundingGateway, limits wallet.Config, log *zap.Logger) *WalletHandler {
	return &WalletHandler{
		walletService: walletService,
		gateway:       gw,
		limits:        limits,
		logger:        logger.OrNop(log),
	}
}

// extractUserClaims is a helper function to reduce duplication
func extractUserClaims(c *fiber.Ctx) (*models.UserClaims, error) {
	claims, ok := middleware.Claims(c)
	if !ok {
		return nil, fiber.ErrUnauthorized
	}
	return claims, nil
}

// parseAmount reads a major-unit decimal ("1500.50") into minor units.
func parseAmount(amount decimal.Decimal) (int64, error) {
	minor, err := models.MajorToMinor(amount)
	if err != nil {
		return 0, apperrors.ErrInvalidAmount.WithCause(err)
	}
	if minor <= 0 {
		return 0, apperrors.ErrInvalidAmount
	}
	return minor, nil
}

func (h *WalletHandler) GetWallet(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}

	w, err := h.walletService.GetBalance(c.UserContext(), claims.UserID)
	if err != nil {
		return response.FromError(c, err)
	}

	return response.Success(c, "Wallet retrieved", fiber.Map{
		"balance_minor": w.BalanceMinor,
		"balance":       models.MinorToMajor(w.BalanceMinor).StringFixed(2),
		"currency":      w.Currency,
		"status":        w.Status,
	})
}

func (h *WalletHandler) GetTransactions(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}

	page, err := h.walletService.History(c.UserContext(), claims.UserID, c.QueryInt("limit", 0), c.QueryInt("offset", 0))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Transactions retrieved", page)
}

// AuditWallet recomputes the caller's balance from the ledger.
func (h *WalletHandler) AuditWallet(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}

	report, err := h.walletService.AuditBalance(c.UserContext(), claims.UserID)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Audit complete", report)
}

func (h *WalletHandler) Transfer(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}

	var input struct {
		Recipient string          `json:"recipient"`
		Amount    decimal.Decimal `json:"amount"`
		Note      string          `json:"note"`
	}
	if err := c.BodyParser(&input); err != nil {
		return response.BadRequest(c, "Invalid request format")
	}

	v := validation.New()
	v.Handle("recipient", input.Recipient)
	v.MaxLength("note", input.Note, validation.MaxNoteLength)
	if !v.Valid() {
		return response.ValidationError(c, "Invalid transfer request", v.Errors)
	}

	amount, err := parseAmount(input.Amount)
	if err != nil {
		return response.FromError(c, err)
	}

	res, err := h.walletService.Transfer(c.UserContext(), wallet.TransferRequest{
		SenderID:        claims.UserID,
		RecipientHandle: input.Recipient,
		AmountMinor:     amount,
		Note:            input.Note,
	})
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Transfer successful", res)
}

// FundWallet starts a gateway checkout. The wallet is credited later, when
// the gateway's webhook arrives.
func (h *WalletHandler) FundWallet(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}

	var input struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if err := c.BodyParser(&input); err != nil {
		return response.BadRequest(c, "Invalid request format")
	}

	amount, err := parseAmount(input.Amount)
	if err != nil {
		return response.FromError(c, err)
	}
	v := validation.New()
	v.Amount("amount", amount, h.limits.MinAmountMinor, h.limits.MaxAmountMinor)
	if !v.Valid() {
		return response.ValidationError(c, "Invalid amount", v.Errors)
	}

	reference := "fund_" + uuid.NewString()
	auth, err := h.gateway.InitializeFunding(c.UserContext(), gateway.FundingRequest{
		Email:       claims.Email,
		AmountMinor: amount,
		Reference:   reference,
		UserID:      claims.UserID,
	})
	if err != nil {
		h.logger.Warn("funding initialization failed",
			zap.Uint("user_id", claims.UserID), zap.String("reference", reference), zap.Error(err))
		return response.FromError(c, err)
	}

	return response.Success(c, "Funding initialized", fiber.Map{
		"authorization_url": auth.AuthorizationURL,
		"access_code":       auth.AccessCode,
		"reference":         reference,
		"amount_minor":      amount,
	})
}
