package handlers

import (
	"errors"
	"strings"

	apperrors "vtupay/internal/errors"
	"vtupay/internal/logger"
	"vtupay/internal/models"
	"vtupay/internal/services/vtu"
	"vtupay/internal/services/wallet"
	"vtupay/internal/utils/response"
	"vtupay/internal/validation"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type VTUHandler struct {
	walletService wallet.Service
	logger        *zap.Logger
}

func NewVTUHandler(walletService wallet.Service, log *zap.Logger) *VTUHandler {
	return &VTUHandler{walletService: walletService, logger: logger.OrNop(log)}
}

func (h *VTUHandler) BuyAirtime(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}

	var input struct {
		Network string          `json:"network"`
		Phone   string          `json:"phone"`
		Amount  decimal.Decimal `json:"amount"`
	}
	if err := c.BodyParser(&input); err != nil {
		return response.BadRequest(c, "Invalid request format")
	}

	amount, err := parseAmount(input.Amount)
	if err != nil {
		return response.FromError(c, err)
	}
	return h.purchase(c, wallet.PurchaseRequest{
		UserID:      claims.UserID,
		Kind:        vtu.KindAirtime,
		Network:     input.Network,
		Phone:       input.Phone,
		AmountMinor: amount,
	})
}

func (h *VTUHandler) BuyData(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}

	var input struct {
		Network  string `json:"network"`
		Phone    string `json:"phone"`
		PlanCode string `json:"plan_code"`
	}
	if err := c.BodyParser(&input); err != nil {
		return response.BadRequest(c, "Invalid request format")
	}

	v := validation.New()
	v.Required("plan_code", input.PlanCode)
	if !v.Valid() {
		return response.ValidationError(c, "Invalid data purchase", v.Errors)
	}
	return h.purchase(c, wallet.PurchaseRequest{
		UserID:   claims.UserID,
		Kind:     vtu.KindData,
		Network:  input.Network,
		Phone:    input.Phone,
		PlanCode: input.PlanCode,
	})
}

// purchase maps the three provider outcomes to HTTP. An order whose
// outcome is unknown is reported as accepted so the client does not retry
// and buy twice.
func (h *VTUHandler) purchase(c *fiber.Ctx, req wallet.PurchaseRequest) error {
	req.Network = strings.ToLower(strings.TrimSpace(req.Network))

	tx, err := h.walletService.Purchase(c.UserContext(), req)
	switch {
	case err == nil && tx.Status == models.TransactionStatusPending:
		return response.Accepted(c, "Purchase is processing", tx)
	case err == nil:
		return response.Success(c, "Purchase successful", tx)
	case errors.Is(err, apperrors.ErrProviderUnavailable) && tx != nil:
		h.logger.Warn("purchase outcome unknown",
			zap.String("transaction_id", tx.ID), zap.Uint("user_id", req.UserID), zap.Error(err))
		return response.Accepted(c, "Purchase is processing", tx)
	default:
		return response.FromError(c, err)
	}
}

func (h *VTUHandler) ListPlans(c *fiber.Ctx) error {
	plans, err := h.walletService.ListPlans(c.UserContext(), strings.ToLower(c.Query("network")))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Plans retrieved", plans)
}
