// Package middleware provides HTTP middleware components for the application.
// It includes authentication and authorization middleware for the fiber
// web framework.
package middleware

import (
	"context"
	"errors"
	"strings"

	apperrors "vtupay/internal/errors"
	"vtupay/internal/logger"
	"vtupay/internal/models"
	"vtupay/internal/utils/response"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const (
	claimsKey = "claims"
	userIDKey = "userID"
)

// TokenVerifier is the part of the auth service the middleware needs.
type TokenVerifier interface {
	ParseAccessToken(token string) (*models.UserClaims, error)
}

// UserLoader resolves the account behind a token.
type UserLoader interface {
	GetUserByID(ctx context.Context, id uint) (*models.User, error)
}

// AuthMiddleware handles JWT token validation and user authentication.
// It extracts the bearer token from the Authorization header, validates it,
// and adds the user claims to the request context.
type AuthMiddleware struct {
	tokens TokenVerifier
	users  UserLoader
	logger *zap.Logger
}

// NewAuthMiddleware builds the middleware. users may be nil, in which
// case a valid signature is enough; otherwise suspended and deleted
// accounts are turned away even with an unexpired token.
func NewAuthMiddleware(tokens TokenVerifier, users UserLoader, log *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		tokens: tokens,
		users:  users,
		logger: logger.OrNop(log),
	}
}

// Handler validates access tokens and stores the claims in c.Locals.
func (m *AuthMiddleware) Handler(c *fiber.Ctx) error {
	authHeader := c.Get(fiber.HeaderAuthorization)
	if authHeader == "" {
		return response.Error(c, fiber.StatusUnauthorized, "missing authorization header")
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return response.Error(c, fiber.StatusUnauthorized, "invalid authorization format")
	}
	tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))

	claims, err := m.tokens.ParseAccessToken(tokenString)
	if err != nil {
		m.logger.Debug("access token rejected", zap.String("path", c.Path()), zap.Error(err))
		return response.FromError(c, apperrors.ErrInvalidOrRevokedToken)
	}

	if m.users != nil {
		user, err := m.users.GetUserByID(c.UserContext(), claims.UserID)
		switch {
		case errors.Is(err, apperrors.ErrUserNotFound):
			return response.FromError(c, apperrors.ErrInvalidOrRevokedToken)
		case err != nil:
			m.logger.Error("account lookup failed", zap.Uint("user_id", claims.UserID), zap.Error(err))
			return response.FromError(c, err)
		case !user.IsActive():
			return response.FromError(c, apperrors.ErrAccountSuspended)
		}
	}

	c.Locals(claimsKey, claims)
	c.Locals(userIDKey, claims.UserID)
	return c.Next()
}

// Claims returns the claims stored by Handler.
func Claims(c *fiber.Ctx) (*models.UserClaims, bool) {
	claims, ok := c.Locals(claimsKey).(*models.UserClaims)
	return claims, ok && claims != nil
}

// AdminOnly rejects requests whose token does not carry the admin role.
func AdminOnly(c *fiber.Ctx) error {
	claims, ok := Claims(c)
	if !ok {
		return response.Unauthorized(c)
	}
	if claims.Role != models.RoleAdmin {
		return response.Forbidden(c)
	}
	return c.Next()
}

// HasPermission returns a middleware that checks for a specific permission.
func HasPermission(permission string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, ok := Claims(c)
		if !ok {
			return response.Unauthorized(c)
		}
		if claims.Role == models.RoleAdmin || claims.HasPermission(permission) {
			return c.Next()
		}
		return response.Forbidden(c)
	}
}
