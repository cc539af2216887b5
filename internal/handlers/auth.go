package handlers

import (
	"fmt"
	"strings"
	"time"

	"vtupay/internal/config"
	apperrors "vtupay/internal/errors"
	"vtupay/internal/logger"
	"vtupay/internal/models"
	"vtupay/internal/services/auth"
	"vtupay/internal/services/notification"
	"vtupay/internal/services/otp"
	"vtupay/internal/utils/response"
	"vtupay/internal/validation"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type AuthHandler struct {
	authService auth.Service
	otpService  otp.Service
	notifier    notification.Notifier
	logger      *zap.Logger
}

func NewAuthHandler(authService auth.Service, otpService otp.Service, notifier notification.Notifier, log *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		otpService:  otpService,
		notifier:    notifier,
		logger:      logger.OrNop(log),
	}
}

// LoginUser handles user authentication and returns JWT tokens
func (h *AuthHandler) LoginUser(c *fiber.Ctx) error {
	var input struct {
		Identifier string `json:"identifier"`
		Email      string `json:"email"`
		Phone      string `json:"phone"`
		Password   string `json:"password"`
		DeviceID   string `json:"device_id"`
	}
	if err := c.BodyParser(&input); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}

	identifier := firstNonEmpty(input.Identifier, input.Email, input.Phone)
	if identifier == "" || input.Password == "" {
		return response.BadRequest(c, "Email/phone/handle and password are required")
	}

	user, pair, err := h.authService.Login(c.UserContext(), identifier, input.Password, input.DeviceID)
	if err != nil {
		return response.FromError(c, err)
	}

	h.setAuthCookies(c, pair)
	return c.JSON(fiber.Map{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"expires_at":    pair.AccessExpiresAt,
		"user": fiber.Map{
			"id":          user.ID,
			"email":       user.Email,
			"handle":      user.Handle,
			"role":        user.Role,
			"permissions": models.GetDefaultPermissions(user.Role),
		},
	})
}

// RefreshToken handles token refresh requests
func (h *AuthHandler) RefreshToken(c *fiber.Ctx) error {
	refreshToken := h.presentedRefreshToken(c)
	if refreshToken == "" {
		return response.Error(c, fiber.StatusUnauthorized, "Refresh token not provided")
	}

	pair, err := h.authService.Refresh(c.UserContext(), refreshToken)
	if err != nil {
		return response.FromError(c, err)
	}

	h.setAuthCookies(c, pair)
	return response.Success(c, "Token refreshed", pair)
}

// LogoutUser revokes the presented refresh token and clears cookies.
func (h *AuthHandler) LogoutUser(c *fiber.Ctx) error {
	if refreshToken := h.presentedRefreshToken(c); refreshToken != "" {
		if err := h.authService.RevokeRefreshToken(c.UserContext(), refreshToken); err != nil {
			return response.FromError(c, err)
		}
	}

	// Paths must match setAuthCookies or the browser keeps the cookie.
	for name, path := range authCookiePaths {
		c.Cookie(&fiber.Cookie{
			Name:     name,
			Value:    "",
			Expires:  time.Now().Add(-time.Hour),
			HTTPOnly: true,
			Secure:   config.IsProduction(),
			Path:     path,
			SameSite: "Strict",
		})
	}
	return response.Success(c, "Successfully logged out", nil)
}

// ChangePassword handles password change requests
func (h *AuthHandler) ChangePassword(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}

	var input struct {
		OldPassword string `json:"old_password"`
		NewPassword string `json:"new_password"`
	}
	if err := c.BodyParser(&input); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}

	if err := h.authService.ChangePassword(c.UserContext(), claims.UserID, input.OldPassword, input.NewPassword); err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Password changed successfully", nil)
}

// RequestOTP sends a one-time code to a phone number.
func (h *AuthHandler) RequestOTP(c *fiber.Ctx) error {
	var input struct {
		Phone string `json:"phone"`
	}
	if err := c.BodyParser(&input); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}

	v := validation.New()
	v.Phone("phone", input.Phone)
	if !v.Valid() {
		return response.ValidationError(c, "Invalid phone number", v.Errors)
	}

	code, err := h.otpService.IssueOTP(c.UserContext(), phoneIdentifier(input.Phone))
	if err != nil {
		return response.FromError(c, err)
	}

	msg := notification.SMS(notification.KindOTP, input.Phone,
		fmt.Sprintf("Your verification code is %s. It expires in 5 minutes.", code))
	if err := h.notifier.Send(c.UserContext(), msg); err != nil {
		h.logger.Error("failed to queue otp", zap.String("phone", input.Phone), zap.Error(err))
		return response.FromError(c, apperrors.ErrStoreUnavailable.WithCause(err))
	}
	return response.Success(c, "Verification code sent", nil)
}

// VerifyOTP checks a code issued by RequestOTP.
func (h *AuthHandler) VerifyOTP(c *fiber.Ctx) error {
	var input struct {
		Phone string `json:"phone"`
		Code  string `json:"code"`
	}
	if err := c.BodyParser(&input); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if input.Phone == "" || input.Code == "" {
		return response.BadRequest(c, "Phone and code are required")
	}

	ok, err := h.otpService.VerifyOTP(c.UserContext(), input.Code, phoneIdentifier(input.Phone))
	if err != nil {
		return response.FromError(c, err)
	}
	if !ok {
		return response.FromError(c, apperrors.ErrInvalidOTP)
	}
	return response.Success(c, "Phone verified", fiber.Map{"verified": true})
}

// RequestEmailVerification sends a code and link token to the caller's email.
func (h *AuthHandler) RequestEmailVerification(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}
	if err := h.authService.RequestEmailVerification(c.UserContext(), claims.UserID); err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Verification email sent", nil)
}

// VerifyEmail accepts either the emailed code or the link token.
func (h *AuthHandler) VerifyEmail(c *fiber.Ctx) error {
	var input struct {
		Email string `json:"email"`
		Code  string `json:"code"`
		Token string `json:"token"`
	}
	if err := c.BodyParser(&input); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if input.Email == "" || (input.Code == "" && input.Token == "") {
		return response.BadRequest(c, "Email and a code or token are required")
	}

	if err := h.authService.VerifyEmail(c.UserContext(), input.Email, input.Code, input.Token); err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Email verified", nil)
}

// ForgotPassword always answers the same way whether or not the email exists.
func (h *AuthHandler) ForgotPassword(c *fiber.Ctx) error {
	var input struct {
		Email string `json:"email"`
	}
	if err := c.BodyParser(&input); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if input.Email == "" {
		return response.BadRequest(c, "Email is required")
	}

	if err := h.authService.ForgotPassword(c.UserContext(), input.Email); err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "If the account exists, a reset code has been sent", nil)
}

func (h *AuthHandler) ResetPassword(c *fiber.Ctx) error {
	var input struct {
		Email       string `json:"email"`
		Code        string `json:"code"`
		NewPassword string `json:"new_password"`
	}
	if err := c.BodyParser(&input); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if input.Email == "" || input.Code == "" {
		return response.BadRequest(c, "Email and code are required")
	}

	if err := h.authService.ResetPassword(c.UserContext(), input.Email, input.Code, input.NewPassword); err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Password reset successfully", nil)
}

// Helper methods

func (h *AuthHandler) presentedRefreshToken(c *fiber.Ctx) string {
	if token := c.Cookies("refresh_token"); token != "" {
		return token
	}
	var input struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.BodyParser(&input); err != nil {
		return ""
	}
	return strings.TrimSpace(input.RefreshToken)
}

var authCookiePaths = map[string]string{
	"access_token":  "/",
	"refresh_token": "/api/auth",
}

func (h *AuthHandler) setAuthCookies(c *fiber.Ctx, pair *auth.TokenPair) {
	c.Cookie(&fiber.Cookie{
		Name:     "access_token",
		Value:    pair.AccessToken,
		HTTPOnly: true,
		Secure:   config.IsProduction(),
		Path:     authCookiePaths["access_token"],
		SameSite: "Strict",
		Expires:  pair.AccessExpiresAt,
	})

	c.Cookie(&fiber.Cookie{
		Name:     "refresh_token",
		Value:    pair.RefreshToken,
		HTTPOnly: true,
		Secure:   config.IsProduction(),
		Path:     authCookiePaths["refresh_token"],
		SameSite: "Strict",
		Expires:  pair.RefreshExpiresAt,
	})
}

func phoneIdentifier(phone string) string {
	return "phone:" + strings.TrimSpace(phone)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
