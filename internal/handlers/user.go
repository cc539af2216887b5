package handlers

import (
	"vtupay/internal/models"
	"vtupay/internal/services/auth"
	"vtupay/internal/utils/response"

	"github.com/gofiber/fiber/v2"
)

type UserHandler struct {
	authService auth.Service
}

func NewUserHandler(authService auth.Service) *UserHandler {
	return &UserHandler{authService: authService}
}

func (h *UserHandler) RegisterUser(c *fiber.Ctx) error {
	var input auth.Registration
	if err := c.BodyParser(&input); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}

	user, err := h.authService.Register(c.UserContext(), input)
	if err != nil {
		return response.FromError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "User registered successfully",
		"user":    profile(user),
	})
}

func (h *UserHandler) GetProfile(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}

	user, err := h.authService.GetUserByID(c.UserContext(), claims.UserID)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Profile retrieved", profile(user))
}

func profile(u *models.User) fiber.Map {
	return fiber.Map{
		"id":             u.ID,
		"name":           u.Name,
		"email":          u.Email,
		"phone":          u.Phone,
		"handle":         u.Handle,
		"role":           u.Role,
		"status":         u.Status,
		"email_verified": u.EmailVerified,
		"wallet": fiber.Map{
			"balance_minor": u.Wallet.BalanceMinor,
			"currency":      u.Wallet.Currency,
		},
	}
}
