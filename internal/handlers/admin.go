package handlers

import (
	"errors"
	"strconv"

	apperrors "vtupay/internal/errors"
	"vtupay/internal/logger"
	"vtupay/internal/models"
	"vtupay/internal/repositories"
	"vtupay/internal/services/wallet"
	"vtupay/internal/utils/pagination"
	"vtupay/internal/utils/response"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// AdminHandler exposes reconciliation and account operations to admins.
type AdminHandler struct {
	walletService wallet.Service
	users         repositories.UserRepository
	logger        *zap.Logger
}

func NewAdminHandler(walletService wallet.Service, users repositories.UserRepository, log *zap.Logger) *AdminHandler {
	return &AdminHandler{walletService: walletService, users: users, logger: logger.OrNop(log)}
}

func (h *AdminHandler) GetUsersPaginated(c *fiber.Ctx) error {
	p := pagination.ParseFromRequest(c)

	users, total, err := h.users.List(c.UserContext(), p.Offset, p.Limit)
	if err != nil {
		h.logger.Error("failed to list users", zap.Error(err))
		return response.ServerError(c, "Failed to fetch users")
	}

	p.Total = total
	return c.JSON(pagination.Response(p, users))
}

// SetUserStatus suspends or reactivates an account.
func (h *AdminHandler) SetUserStatus(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return response.BadRequest(c, "Invalid user ID")
	}

	var input struct {
		Status string `json:"status"`
	}
	if err := c.BodyParser(&input); err != nil {
		return response.BadRequest(c, "Invalid request format")
	}
	if input.Status != models.UserStatusActive && input.Status != models.UserStatusSuspended {
		return response.BadRequest(c, "Status must be active or suspended")
	}

	if err := h.users.UpdateStatus(c.UserContext(), uint(id), input.Status); err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return response.FromError(c, apperrors.ErrUserNotFound)
		}
		return response.ServerError(c, "Failed to update user")
	}

	h.logger.Info("user status changed", zap.Uint64("user_id", id), zap.String("status", input.Status))
	return response.Success(c, "User status updated", fiber.Map{"id": id, "status": input.Status})
}

func (h *AdminHandler) AuditUserWallet(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return response.BadRequest(c, "Invalid user ID")
	}

	report, err := h.walletService.AuditBalance(c.UserContext(), uint(id))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Audit complete", report)
}

func (h *AdminHandler) ReconcileTransaction(c *fiber.Ctx) error {
	tx, err := h.walletService.ReconcilePurchase(c.UserContext(), c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Transaction reconciled", tx)
}

func (h *AdminHandler) RefundTransaction(c *fiber.Ctx) error {
	tx, err := h.walletService.Refund(c.UserContext(), c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Transaction refunded", tx)
}

func (h *AdminHandler) CancelTransaction(c *fiber.Ctx) error {
	tx, err := h.walletService.Cancel(c.UserContext(), c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Transaction cancelled", tx)
}

// ReconcileStale runs the stale-pending sweep on demand.
func (h *AdminHandler) ReconcileStale(c *fiber.Ctx) error {
	summary, err := h.walletService.ReconcileStale(c.UserContext())
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Sweep complete", summary)
}
